package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/notify"
)

func TestLedger_Join(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	m, err := f.ledger.Join(ctx, f.key.UserID, f.key.GroupID)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if m.TotalStars != 0 || m.CurrentStage != 1 {
		t.Errorf("Join() = %d stars stage %d, want 0 stars stage 1", m.TotalStars, m.CurrentStage)
	}

	// Joining again keeps the existing record.
	f.memberships.rows[f.key].TotalStars = 30
	m, err = f.ledger.Join(ctx, f.key.UserID, f.key.GroupID)
	if err != nil {
		t.Fatalf("second Join() error = %v", err)
	}
	if m.TotalStars != 30 {
		t.Errorf("second Join() TotalStars = %d, want 30", m.TotalStars)
	}
}

func TestLedger_ApplyDelta(t *testing.T) {
	tests := []struct {
		name      string
		start     int
		delta     int
		wantTotal int
		wantStage int
	}{
		{"increment", 10, 5, 15, 1},
		{"enters next stage", 45, 10, 55, 2},
		{"clamps at zero", 5, -10, 0, 1},
		{"drops a stage", 60, -20, 40, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.join(t, tt.start)

			change, err := f.ledger.ApplyDelta(context.Background(), domain.StarDelta{
				UserID: f.key.UserID, GroupID: f.key.GroupID, Delta: tt.delta,
			})
			if err != nil {
				t.Fatalf("ApplyDelta() error = %v", err)
			}
			if change.PreviousTotal != tt.start || change.Total != tt.wantTotal || change.Stage != tt.wantStage {
				t.Errorf("ApplyDelta() = %+v, want %d -> %d stage %d", change, tt.start, tt.wantTotal, tt.wantStage)
			}
			m, _ := f.ledger.Get(context.Background(), f.key.UserID, f.key.GroupID)
			if m.TotalStars != tt.wantTotal || m.CurrentStage != tt.wantStage {
				t.Errorf("Get() = %d stars stage %d, want %d stage %d", m.TotalStars, m.CurrentStage, tt.wantTotal, tt.wantStage)
			}
		})
	}
}

func TestLedger_ApplyDeltaRejectsZero(t *testing.T) {
	f := newFixture(t, nil)
	f.join(t, 10)

	_, err := f.ledger.ApplyDelta(context.Background(), domain.StarDelta{UserID: f.key.UserID, GroupID: f.key.GroupID})
	if !errors.Is(err, domain.ErrInvalidDelta) {
		t.Errorf("ApplyDelta(0) error = %v, want ErrInvalidDelta", err)
	}
	if f.memberships.applyCalls != 0 {
		t.Errorf("store called %d times, want 0", f.memberships.applyCalls)
	}
}

func TestLedger_ApplyDeltaNotMember(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.ledger.ApplyDelta(context.Background(), domain.StarDelta{UserID: f.key.UserID, GroupID: f.key.GroupID, Delta: 3})
	if !IsNotMember(err) {
		t.Errorf("ApplyDelta() error = %v, want not a member", err)
	}
}

func TestLedger_ApplyDeltaRollsBackOnFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.join(t, 10)
	ctx := context.Background()
	// Warm the directory so the optimistic update has something to replace.
	if _, err := f.ledger.Get(ctx, f.key.UserID, f.key.GroupID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	var signals int
	f.bus.Subscribe(notify.Kinds(notify.ProgressChanged), func(notify.Signal) { signals++ })

	f.memberships.shouldFail = true
	_, err := f.ledger.ApplyDelta(ctx, domain.StarDelta{UserID: f.key.UserID, GroupID: f.key.GroupID, Delta: 5})
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("ApplyDelta() error = %v, want %v", err, errStoreDown)
	}

	m, ok := f.ledger.dir.Peek(f.key)
	if !ok || m.TotalStars != 10 {
		t.Errorf("directory after rollback = %+v, want 10 stars", m)
	}
	if signals != 0 {
		t.Errorf("published %d progress signals, want 0", signals)
	}
}

func TestLedger_ApplyDeltaIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.join(t, 10)
	ctx := context.Background()
	d := domain.StarDelta{UserID: f.key.UserID, GroupID: f.key.GroupID, Delta: 5, OperationID: "op-1"}

	first, err := f.ledger.ApplyDelta(ctx, d)
	if err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}
	second, err := f.ledger.ApplyDelta(ctx, d)
	if err != nil {
		t.Fatalf("replayed ApplyDelta() error = %v", err)
	}

	if first.Replayed || !second.Replayed {
		t.Errorf("Replayed = %v, %v, want false, true", first.Replayed, second.Replayed)
	}
	if second.PreviousTotal != 10 || second.Total != 15 {
		t.Errorf("replayed change = %d -> %d, want 10 -> 15", second.PreviousTotal, second.Total)
	}
	if got := f.memberships.total(f.key); got != 15 {
		t.Errorf("stored total = %d, want 15", got)
	}
	m, _ := f.ledger.Get(ctx, f.key.UserID, f.key.GroupID)
	if m.TotalStars != 15 {
		t.Errorf("Get() TotalStars = %d, want 15", m.TotalStars)
	}
}

func TestLedger_ResetAfterMilestoneIsConditional(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.join(t, 500)
	m, err := f.ledger.ResetAfterMilestone(ctx, f.key.UserID, f.key.GroupID)
	if err != nil {
		t.Fatalf("ResetAfterMilestone() error = %v", err)
	}
	if m.TotalStars != 500 {
		t.Errorf("below ceiling TotalStars = %d, want 500 untouched", m.TotalStars)
	}

	m, err = f.ledger.Reset(ctx, f.key.UserID, f.key.GroupID)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if m.TotalStars != 0 || m.CurrentStage != 1 {
		t.Errorf("Reset() = %d stars stage %d, want 0 stage 1", m.TotalStars, m.CurrentStage)
	}
}

func TestLedger_MarkCelebrationSeen(t *testing.T) {
	f := newFixture(t, nil)
	f.join(t, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.ledger.MarkCelebrationSeen(ctx, f.key.UserID, f.key.GroupID, "goal:x"); err != nil {
			t.Fatalf("MarkCelebrationSeen() error = %v", err)
		}
	}
	m, _ := f.memberships.GetByUserAndGroup(ctx, f.key.UserID, f.key.GroupID)
	if len(m.SeenCelebrations) != 1 || m.SeenCelebrations[0] != "goal:x" {
		t.Errorf("SeenCelebrations = %v, want [goal:x]", m.SeenCelebrations)
	}
}

func TestLedger_Leave(t *testing.T) {
	f := newFixture(t, nil)
	f.join(t, 20)
	ctx := context.Background()

	if err := f.ledger.Leave(ctx, f.key.UserID, f.key.GroupID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if _, err := f.ledger.Get(ctx, f.key.UserID, f.key.GroupID); !IsNotMember(err) {
		t.Errorf("Get() after Leave error = %v, want not a member", err)
	}
}

func TestLedger_ApplyDeltaRejectsReusedOperation(t *testing.T) {
	f := newFixture(t, nil)
	f.join(t, 10)
	ctx := context.Background()

	if _, err := f.ledger.ApplyDelta(ctx, domain.StarDelta{UserID: f.key.UserID, GroupID: f.key.GroupID, Delta: 5, OperationID: "op-1"}); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}
	_, err := f.ledger.ApplyDelta(ctx, domain.StarDelta{UserID: f.key.UserID, GroupID: f.key.GroupID, Delta: 7, OperationID: "op-1"})
	if !errors.Is(err, domain.ErrOperationConflict) {
		t.Fatalf("ApplyDelta() error = %v, want ErrOperationConflict", err)
	}

	m, _ := f.ledger.Get(ctx, f.key.UserID, f.key.GroupID)
	if m.TotalStars != 15 {
		t.Errorf("cached total = %d, want 15", m.TotalStars)
	}
}
