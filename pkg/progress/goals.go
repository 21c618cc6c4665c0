package progress

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/notify"
)

// GoalStore persists goals.
type GoalStore interface {
	// Create inserts a goal. It returns domain.ErrActiveGoalExists when the
	// user already has an incomplete goal in the group.
	Create(ctx context.Context, g *domain.Goal) error
	GetActive(ctx context.Context, userID, groupID uuid.UUID) (*domain.Goal, error)
	// AddProgress atomically adds stars to an incomplete goal and completes it
	// when the target is reached. It returns domain.ErrGoalNotFound when the
	// goal is missing or already completed.
	AddProgress(ctx context.Context, goalID uuid.UUID, stars int, at time.Time) (*domain.Goal, error)
	ListByMembership(ctx context.Context, userID, groupID uuid.UUID, limit int) ([]*domain.Goal, error)
}

// CelebrationMarker records celebrations as seen on the membership.
type CelebrationMarker interface {
	MarkCelebrationSeen(ctx context.Context, userID, groupID uuid.UUID, celebrationID string) error
}

// GoalUpdate is the outcome of UpdateProgress.
type GoalUpdate struct {
	Goal       *domain.Goal
	Counted    bool
	Completed  bool
	Celebrated bool
}

// GoalTracker accumulates task stars toward the user's active goal.
//
// At most one active goal per user and group is assumed here; the store
// enforces it when goals are created.
type GoalTracker struct {
	store       GoalStore
	seen        CelebrationMarker
	bus         *notify.Bus
	logger      *slog.Logger
	now         func() time.Time
	locks       keyedMutex
	unsubscribe func()

	mu     sync.Mutex
	gen    uint64
	active map[domain.MembershipKey]*domain.Goal
}

// NewGoalTracker creates a goal tracker. seen may be nil.
func NewGoalTracker(store GoalStore, seen CelebrationMarker, bus *notify.Bus, logger *slog.Logger) *GoalTracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &GoalTracker{
		store:  store,
		seen:   seen,
		bus:    bus,
		logger: logger,
		now:    time.Now,
		active: map[domain.MembershipKey]*domain.Goal{},
	}
	if bus != nil {
		origin := bus.Origin()
		t.unsubscribe = bus.Subscribe(
			notify.All(
				notify.Kinds(notify.GoalChanged, notify.MembershipChanged),
				func(s notify.Signal) bool { return s.Origin != origin },
			),
			func(s notify.Signal) { t.drop(s.Key()) },
		)
	}
	return t
}

// Close detaches the tracker from the bus.
func (t *GoalTracker) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
}

// Create starts a new goal. Category ids are trimmed and deduplicated; an
// empty list means every category counts.
func (t *GoalTracker) Create(ctx context.Context, userID, groupID uuid.UUID, targetStars int, categories []string, reward string) (*domain.Goal, error) {
	if targetStars <= 0 {
		return nil, domain.ErrInvalidGoalTarget
	}
	now := t.now()
	g := &domain.Goal{
		ID:               uuid.New(),
		GroupID:          groupID,
		UserID:           userID,
		TargetStars:      targetStars,
		TargetCategories: normalizeCategories(categories),
		Reward:           strings.TrimSpace(reward),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := t.store.Create(ctx, g); err != nil {
		return nil, err
	}

	key := domain.MembershipKey{UserID: userID, GroupID: groupID}
	t.put(key, g)
	t.publish(notify.Goal(key))
	return g.Clone(), nil
}

// Active returns the user's active goal, or domain.ErrGoalNotFound.
func (t *GoalTracker) Active(ctx context.Context, userID, groupID uuid.UUID) (*domain.Goal, error) {
	key := domain.MembershipKey{UserID: userID, GroupID: groupID}
	if g, ok := t.cached(key); ok {
		return g, nil
	}
	t.mu.Lock()
	start := t.gen
	t.mu.Unlock()
	g, err := t.store.GetActive(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	return t.fill(key, g, start), nil
}

// History lists the user's goals in the group, newest first.
func (t *GoalTracker) History(ctx context.Context, userID, groupID uuid.UUID, limit int) ([]*domain.Goal, error) {
	return t.store.ListByMembership(ctx, userID, groupID, limit)
}

// UpdateProgress adds stars from a completed task in categoryID to the active
// goal. Without an active goal, or when the goal's categories exclude
// categoryID, nothing changes. Reaching the target completes the goal and
// enqueues a celebration. A failed write leaves the goal untouched and fires
// no celebration.
func (t *GoalTracker) UpdateProgress(ctx context.Context, userID, groupID uuid.UUID, categoryID string, stars int, sink celebration.Sink) (*GoalUpdate, error) {
	if stars <= 0 {
		return &GoalUpdate{}, nil
	}
	if sink == nil {
		sink = celebration.Discard
	}
	key := domain.MembershipKey{UserID: userID, GroupID: groupID}

	unlock := t.locks.Lock(key)
	defer unlock()

	goal, err := t.Active(ctx, userID, groupID)
	if errors.Is(err, domain.ErrGoalNotFound) {
		return &GoalUpdate{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !goal.Counts(categoryID) {
		return &GoalUpdate{Goal: goal}, nil
	}

	updated, err := Mutate(ctx, Mutation[*domain.Goal]{
		Optimistic: func() {
			guess := goal.Clone()
			guess.CurrentStars += stars
			t.put(key, guess)
		},
		Persist: func(ctx context.Context) (*domain.Goal, error) {
			return t.store.AddProgress(ctx, goal.ID, stars, t.now())
		},
		Adopt: func(g *domain.Goal) {
			if g.Completed {
				t.drop(key)
				return
			}
			t.put(key, g)
		},
		Rollback: func() { t.put(key, goal) },
	})
	if errors.Is(err, domain.ErrGoalNotFound) {
		// Completed or removed elsewhere since we loaded it.
		t.drop(key)
		return &GoalUpdate{}, nil
	}
	if err != nil {
		t.logger.Error("failed to update goal progress",
			"error", err,
			"user_id", userID,
			"group_id", groupID,
			"goal_id", goal.ID,
		)
		return nil, err
	}
	t.publish(notify.Goal(key))

	res := &GoalUpdate{Goal: updated, Counted: true}
	if updated.Completed {
		res.Completed = true
		res.Celebrated = t.celebrate(ctx, updated, sink)
	}
	return res, nil
}

// Replay celebrates completed goals whose celebration was never seen.
func (t *GoalTracker) Replay(ctx context.Context, m *domain.Membership, sink celebration.Sink) (int, error) {
	goals, err := t.store.ListByMembership(ctx, m.UserID, m.GroupID, 10)
	if err != nil {
		return 0, err
	}
	shown := 0
	for i := len(goals) - 1; i >= 0; i-- {
		g := goals[i]
		if !g.Completed || m.HasSeenCelebration(celebration.GoalEventID(g.ID)) {
			continue
		}
		if t.celebrate(ctx, g, sink) {
			shown++
		}
	}
	return shown, nil
}

func (t *GoalTracker) celebrate(ctx context.Context, g *domain.Goal, sink celebration.Sink) bool {
	if !sink.Enqueue(celebration.GoalCompleted(g)) {
		return false
	}
	if t.seen != nil {
		if err := t.seen.MarkCelebrationSeen(ctx, g.UserID, g.GroupID, celebration.GoalEventID(g.ID)); err != nil {
			t.logger.Error("failed to mark goal celebration seen", "error", err, "goal_id", g.ID)
		}
	}
	return true
}

func (t *GoalTracker) cached(key domain.MembershipKey) (*domain.Goal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.active[key]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

func (t *GoalTracker) put(key domain.MembershipKey, g *domain.Goal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.active[key] = g.Clone()
}

func (t *GoalTracker) drop(key domain.MembershipKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	delete(t.active, key)
}

// fill caches g, loaded when the generation was start, unless the cache was
// written since. A newer entry wins over g.
func (t *GoalTracker) fill(key domain.MembershipKey, g *domain.Goal, start uint64) *domain.Goal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.active[key]; ok {
		return cur.Clone()
	}
	if t.gen == start {
		t.active[key] = g.Clone()
	}
	return g.Clone()
}

func (t *GoalTracker) publish(s notify.Signal) {
	if t.bus != nil {
		t.bus.Publish(s)
	}
}

func normalizeCategories(categories []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
