package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-stars/pkg/domain"
)

var goalRowColumns = []string{"id", "group_id", "user_id", "target_stars", "target_categories", "current_stars", "reward", "completed", "completed_at", "created_at", "updated_at"}

func TestGoalsRepository_CreateActiveGoalExists(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGoalsRepository(db)

	mock.ExpectExec("INSERT INTO goals").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "goals_one_active"})

	err := repo.Create(context.Background(), &domain.Goal{ID: uuid.New(), UserID: uuid.New(), GroupID: uuid.New(), TargetStars: 10})
	if !errors.Is(err, domain.ErrActiveGoalExists) {
		t.Errorf("Create() error = %v, want ErrActiveGoalExists", err)
	}
	expectationsMet(t, mock)
}

func TestGoalsRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGoalsRepository(db)
	now := time.Now()
	g := &domain.Goal{
		ID:               uuid.New(),
		GroupID:          uuid.New(),
		UserID:           uuid.New(),
		TargetStars:      30,
		TargetCategories: []string{"chores"},
		Reward:           "pizza",
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	mock.ExpectExec("INSERT INTO goals").
		WithArgs(g.ID, g.GroupID, g.UserID, 30, sqlmock.AnyArg(), 0, "pizza", false, nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), g); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestGoalsRepository_GetActive(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGoalsRepository(db)
	id, userID, groupID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM goals .+ completed = FALSE").
		WithArgs(userID, groupID).
		WillReturnRows(sqlmock.NewRows(goalRowColumns).
			AddRow(id.String(), groupID.String(), userID.String(), 30, "{chores,homework}", 12, "", false, nil, now, now))

	g, err := repo.GetActive(context.Background(), userID, groupID)
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if g.ID != id || g.CurrentStars != 12 || len(g.TargetCategories) != 2 {
		t.Errorf("GetActive() = %+v", g)
	}
	if !g.Counts("homework") || g.Counts("reading") {
		t.Errorf("category filter = %v, want chores and homework only", g.TargetCategories)
	}
	expectationsMet(t, mock)
}

func TestGoalsRepository_GetActiveEmptyCategories(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGoalsRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM goals").
		WillReturnRows(sqlmock.NewRows(goalRowColumns).
			AddRow(uuid.NewString(), uuid.NewString(), uuid.NewString(), 30, "{}", 0, "", false, nil, now, now))

	g, err := repo.GetActive(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if g.TargetCategories != nil || !g.Counts("anything") {
		t.Errorf("TargetCategories = %#v, want nil counting everything", g.TargetCategories)
	}
	expectationsMet(t, mock)
}

func TestGoalsRepository_AddProgress(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGoalsRepository(db)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("UPDATE goals SET current_stars = current_stars \\+ \\$2").
		WithArgs(id, 10, now).
		WillReturnRows(sqlmock.NewRows(goalRowColumns).
			AddRow(id.String(), uuid.NewString(), uuid.NewString(), 30, "{}", 32, "", true, now, now, now))

	g, err := repo.AddProgress(context.Background(), id, 10, now)
	if err != nil {
		t.Fatalf("AddProgress() error = %v", err)
	}
	if !g.Completed || g.CompletedAt == nil {
		t.Errorf("AddProgress() = %+v, want completed", g)
	}
	expectationsMet(t, mock)
}

func TestGoalsRepository_AddProgressCompletedGoal(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGoalsRepository(db)

	mock.ExpectQuery("UPDATE goals").WillReturnError(sql.ErrNoRows)

	_, err := repo.AddProgress(context.Background(), uuid.New(), 10, time.Now())
	if !errors.Is(err, domain.ErrGoalNotFound) {
		t.Errorf("AddProgress() error = %v, want ErrGoalNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestGoalsRepository_ListByMembershipDefaultLimit(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGoalsRepository(db)
	userID, groupID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM goals .+ ORDER BY created_at DESC LIMIT").
		WithArgs(userID, groupID, defaultGoalHistory).
		WillReturnRows(sqlmock.NewRows(goalRowColumns).
			AddRow(uuid.NewString(), groupID.String(), userID.String(), 30, "{}", 30, "", true, now, now, now).
			AddRow(uuid.NewString(), groupID.String(), userID.String(), 10, "{}", 10, "", true, now, now, now))

	goals, err := repo.ListByMembership(context.Background(), userID, groupID, 0)
	if err != nil {
		t.Fatalf("ListByMembership() error = %v", err)
	}
	if len(goals) != 2 {
		t.Errorf("len(goals) = %d, want 2", len(goals))
	}
	expectationsMet(t, mock)
}
