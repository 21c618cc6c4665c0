package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/notify"
)

// LedgerStore persists memberships.
type LedgerStore interface {
	MembershipReader
	// CreateOrGet inserts the membership, or returns the existing one.
	CreateOrGet(ctx context.Context, m *domain.Membership) (*domain.Membership, error)
	// ApplyDelta atomically increments total stars (clamped at zero) and stores
	// the stage derived by stageFor from the new total.
	ApplyDelta(ctx context.Context, d domain.StarDelta, stageFor func(int) int) (*domain.StarChange, error)
	// ResetProgress zeroes stars and stage and clears badge seen markers when
	// total stars are at least minStars. It returns the membership afterwards.
	ResetProgress(ctx context.Context, userID, groupID uuid.UUID, minStars int) (*domain.Membership, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]*domain.Membership, error)
	MarkRead(ctx context.Context, userID, groupID uuid.UUID, at time.Time) error
	AddSeenCelebration(ctx context.Context, userID, groupID uuid.UUID, celebrationID string) error
	Delete(ctx context.Context, userID, groupID uuid.UUID) error
}

// Ledger applies star deltas to memberships and derives stages.
//
// Every mutation goes through Mutate: the directory is updated with a local
// guess, the store performs an atomic write, and the stored result replaces
// the guess. Failed writes restore the directory entry.
type Ledger struct {
	catalog *Catalog
	store   LedgerStore
	dir     *Directory
	bus     *notify.Bus
	logger  *slog.Logger
	now     func() time.Time
	locks   keyedMutex
}

// NewLedger creates a ledger.
func NewLedger(catalog *Catalog, store LedgerStore, dir *Directory, bus *notify.Bus, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		catalog: catalog,
		store:   store,
		dir:     dir,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// Catalog returns the stage and badge catalog.
func (l *Ledger) Catalog() *Catalog {
	return l.catalog
}

// Get returns the membership through the directory.
func (l *Ledger) Get(ctx context.Context, userID, groupID uuid.UUID) (*domain.Membership, error) {
	return l.dir.Get(ctx, domain.MembershipKey{UserID: userID, GroupID: groupID})
}

// ListGroup returns every membership of a group, straight from persistence.
func (l *Ledger) ListGroup(ctx context.Context, groupID uuid.UUID) ([]*domain.Membership, error) {
	return l.store.ListByGroup(ctx, groupID)
}

// Join creates the membership with zero stars at stage 1. Joining twice
// returns the existing membership.
func (l *Ledger) Join(ctx context.Context, userID, groupID uuid.UUID) (*domain.Membership, error) {
	m, err := l.store.CreateOrGet(ctx, domain.NewMembership(userID, groupID, l.now()))
	if err != nil {
		return nil, err
	}
	l.dir.Put(m)
	l.publish(notify.Membership(m.Key()))
	return m, nil
}

// Leave removes the membership.
func (l *Ledger) Leave(ctx context.Context, userID, groupID uuid.UUID) error {
	key := domain.MembershipKey{UserID: userID, GroupID: groupID}
	if err := l.store.Delete(ctx, userID, groupID); err != nil {
		return err
	}
	l.dir.Invalidate(key)
	l.publish(notify.Membership(key))
	return nil
}

// ApplyDelta adds delta stars to the membership. The returned change holds
// the persisted before and after totals. On error nothing was recorded and
// callers must not award badges or goal progress for the delta.
func (l *Ledger) ApplyDelta(ctx context.Context, d domain.StarDelta) (*domain.StarChange, error) {
	if d.Delta == 0 {
		return nil, domain.ErrInvalidDelta
	}
	key := domain.MembershipKey{UserID: d.UserID, GroupID: d.GroupID}

	unlock := l.locks.Lock(key)
	defer unlock()

	prev, err := l.dir.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	change, err := Mutate(ctx, Mutation[*domain.StarChange]{
		Optimistic: func() {
			guess := prev.Clone()
			guess.TotalStars = max(0, prev.TotalStars+d.Delta)
			guess.CurrentStage = l.catalog.StageNumber(guess.TotalStars)
			l.dir.Put(guess)
		},
		Persist: func(ctx context.Context) (*domain.StarChange, error) {
			return l.store.ApplyDelta(ctx, d, l.catalog.StageNumber)
		},
		Adopt: func(c *domain.StarChange) {
			if c.Replayed {
				// Totals recorded for an old operation say nothing about now.
				l.dir.Invalidate(key)
				return
			}
			truth := prev.Clone()
			truth.TotalStars = c.Total
			truth.CurrentStage = c.Stage
			truth.UpdatedAt = l.now()
			l.dir.Put(truth)
		},
		Rollback: func() {
			l.dir.Put(prev)
		},
	})
	if err != nil {
		l.logger.Error("failed to apply star delta",
			"error", err,
			"user_id", d.UserID,
			"group_id", d.GroupID,
			"delta", d.Delta,
		)
		return nil, err
	}

	if !change.Replayed {
		l.publish(notify.Progress(key))
	}
	return change, nil
}

// Reset zeroes the membership's progress unconditionally.
func (l *Ledger) Reset(ctx context.Context, userID, groupID uuid.UUID) (*domain.Membership, error) {
	return l.reset(ctx, userID, groupID, 0)
}

// ResetAfterMilestone zeroes progress only if the membership is still at or
// above the milestone ceiling, so several devices dismissing the same
// milestone reset once.
func (l *Ledger) ResetAfterMilestone(ctx context.Context, userID, groupID uuid.UUID) (*domain.Membership, error) {
	return l.reset(ctx, userID, groupID, l.catalog.Ceiling())
}

func (l *Ledger) reset(ctx context.Context, userID, groupID uuid.UUID, minStars int) (*domain.Membership, error) {
	key := domain.MembershipKey{UserID: userID, GroupID: groupID}

	unlock := l.locks.Lock(key)
	defer unlock()

	prev, err := l.dir.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	m, err := Mutate(ctx, Mutation[*domain.Membership]{
		Optimistic: func() {
			if prev.TotalStars < minStars {
				return
			}
			guess := prev.Clone()
			guess.TotalStars = 0
			guess.CurrentStage = 1
			guess.SeenCelebrations = nil
			l.dir.Put(guess)
		},
		Persist: func(ctx context.Context) (*domain.Membership, error) {
			return l.store.ResetProgress(ctx, userID, groupID, minStars)
		},
		Adopt:    l.dir.Put,
		Rollback: func() { l.dir.Put(prev) },
	})
	if err != nil {
		l.logger.Error("failed to reset progress", "error", err, "user_id", userID, "group_id", groupID)
		return nil, err
	}

	l.logger.Info("progress reset", "user_id", userID, "group_id", groupID, "total_stars", m.TotalStars)
	l.publish(notify.Progress(key))
	l.publish(notify.Badges(key))
	return m, nil
}

// MarkRead records when the user last looked at the group.
func (l *Ledger) MarkRead(ctx context.Context, userID, groupID uuid.UUID) error {
	key := domain.MembershipKey{UserID: userID, GroupID: groupID}
	at := l.now()

	unlock := l.locks.Lock(key)
	defer unlock()

	prev, err := l.dir.Get(ctx, key)
	if err != nil {
		return err
	}
	_, err = Mutate(ctx, Mutation[struct{}]{
		Optimistic: func() {
			guess := prev.Clone()
			guess.LastReadAt = &at
			l.dir.Put(guess)
		},
		Persist: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, l.store.MarkRead(ctx, userID, groupID, at)
		},
		Rollback: func() { l.dir.Put(prev) },
	})
	if err == nil {
		l.publish(notify.Membership(key))
	}
	return err
}

// MarkCelebrationSeen adds a celebration id to the membership's seen set.
func (l *Ledger) MarkCelebrationSeen(ctx context.Context, userID, groupID uuid.UUID, celebrationID string) error {
	key := domain.MembershipKey{UserID: userID, GroupID: groupID}

	unlock := l.locks.Lock(key)
	defer unlock()

	prev, err := l.dir.Get(ctx, key)
	if err != nil {
		return err
	}
	if prev.HasSeenCelebration(celebrationID) {
		return nil
	}
	_, err = Mutate(ctx, Mutation[struct{}]{
		Optimistic: func() {
			guess := prev.Clone()
			guess.SeenCelebrations = append(guess.SeenCelebrations, celebrationID)
			l.dir.Put(guess)
		},
		Persist: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, l.store.AddSeenCelebration(ctx, userID, groupID, celebrationID)
		},
		Rollback: func() { l.dir.Put(prev) },
	})
	return err
}

func (l *Ledger) publish(s notify.Signal) {
	if l.bus != nil {
		l.bus.Publish(s)
	}
}

// IsNotMember reports whether err means the user has no membership in the group.
func IsNotMember(err error) bool {
	return errors.Is(err, domain.ErrMembershipNotFound)
}

// keyedMutex serialises mutations per membership within the process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.MembershipKey]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key domain.MembershipKey) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[domain.MembershipKey]*keyedEntry{}
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
