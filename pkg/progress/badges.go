package progress

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/notify"
)

// BadgeStore persists unlocked badges.
type BadgeStore interface {
	// InsertOrGet inserts the unlock as unseen, or returns the existing row.
	// created reports whether this call inserted it.
	InsertOrGet(ctx context.Context, b *domain.UnlockedBadge) (row *domain.UnlockedBadge, created bool, err error)
	MarkSeen(ctx context.Context, userID, groupID uuid.UUID, badgeIDs []string) error
	ListByMembership(ctx context.Context, userID, groupID uuid.UUID) ([]*domain.UnlockedBadge, error)
}

// BadgeEngine awards badges for star totals crossing their thresholds.
type BadgeEngine struct {
	catalog *Catalog
	store   BadgeStore
	bus     *notify.Bus
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewBadgeEngine creates a badge engine.
func NewBadgeEngine(catalog *Catalog, store BadgeStore, bus *notify.Bus, logger *slog.Logger) *BadgeEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgeEngine{
		catalog:  catalog,
		store:    store,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
		inFlight: map[string]struct{}{},
	}
}

// CurrentBucketBadges returns the unlocked badges of the bucket containing totalStars.
func (e *BadgeEngine) CurrentBucketBadges(totalStars int) []domain.Badge {
	return e.catalog.CurrentBucketBadges(totalStars)
}

// NewlyUnlocked returns every badge with threshold in (oldStars, newStars].
func (e *BadgeEngine) NewlyUnlocked(oldStars, newStars int) []domain.Badge {
	return e.catalog.NewlyUnlocked(oldStars, newStars)
}

// Unlocked lists the badges the user has unlocked in the group.
func (e *BadgeEngine) Unlocked(ctx context.Context, userID, groupID uuid.UUID) ([]*domain.UnlockedBadge, error) {
	return e.store.ListByMembership(ctx, userID, groupID)
}

// CheckAndAward records every badge crossed between oldStars and newStars and
// celebrates the ones not yet seen. Rows are marked seen only after their
// celebrations were accepted by sink. It returns the celebrated badges.
//
// Insert failures are logged and skipped: the check is idempotent, so the
// badge is awarded on the next triggering change.
func (e *BadgeEngine) CheckAndAward(ctx context.Context, userID, groupID uuid.UUID, oldStars, newStars int, sink celebration.Sink) ([]domain.Badge, error) {
	crossed := e.catalog.NewlyUnlocked(oldStars, newStars)
	if len(crossed) == 0 {
		return nil, nil
	}
	return e.award(ctx, userID, groupID, crossed, sink, true)
}

// Replay celebrates unlocked badges at or below totalStars that were never
// shown, e.g. because no session was attached when they were awarded.
func (e *BadgeEngine) Replay(ctx context.Context, userID, groupID uuid.UUID, totalStars int, sink celebration.Sink) ([]domain.Badge, error) {
	rows, err := e.store.ListByMembership(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	var pending []domain.Badge
	for _, row := range rows {
		if row.Seen {
			continue
		}
		b, ok := e.catalog.Badge(row.BadgeID)
		if !ok || b.UnlockStars > totalStars {
			continue
		}
		pending = append(pending, b)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return e.award(ctx, userID, groupID, sortedByThreshold(pending), sink, false)
}

func (e *BadgeEngine) award(ctx context.Context, userID, groupID uuid.UUID, badges []domain.Badge, sink celebration.Sink, insert bool) ([]domain.Badge, error) {
	if sink == nil {
		sink = celebration.Discard
	}
	key := domain.MembershipKey{UserID: userID, GroupID: groupID}

	claimed := e.claim(key, badges)
	defer e.release(key, claimed)

	var (
		celebrated []domain.Badge
		inserted   int
	)
	for _, b := range claimed {
		if insert {
			row, created, err := e.store.InsertOrGet(ctx, &domain.UnlockedBadge{
				UserID:     userID,
				GroupID:    groupID,
				BadgeID:    b.ID,
				UnlockedAt: e.now(),
			})
			if err != nil {
				e.logger.Error("failed to record badge unlock",
					"error", err,
					"user_id", userID,
					"group_id", groupID,
					"badge_id", b.ID,
				)
				continue
			}
			if created {
				inserted++
			}
			if row.Seen {
				continue
			}
		}
		if sink.Enqueue(celebration.BadgeUnlocked(groupID, b)) {
			celebrated = append(celebrated, b)
		}
	}

	if inserted > 0 || len(celebrated) > 0 {
		defer e.publish(notify.Badges(key))
	}
	if len(celebrated) == 0 {
		return nil, nil
	}

	ids := make([]string, len(celebrated))
	for i, b := range celebrated {
		ids[i] = b.ID
	}
	if err := e.store.MarkSeen(ctx, userID, groupID, ids); err != nil {
		e.logger.Error("failed to mark badges seen", "error", err, "user_id", userID, "group_id", groupID)
		return celebrated, err
	}
	return celebrated, nil
}

// claim reserves badges for this call. Badges already being awarded by a
// concurrent call for the same membership are skipped.
func (e *BadgeEngine) claim(key domain.MembershipKey, badges []domain.Badge) []domain.Badge {
	e.mu.Lock()
	defer e.mu.Unlock()
	var claimed []domain.Badge
	for _, b := range badges {
		k := key.String() + "/" + b.ID
		if _, busy := e.inFlight[k]; busy {
			continue
		}
		e.inFlight[k] = struct{}{}
		claimed = append(claimed, b)
	}
	return claimed
}

func (e *BadgeEngine) release(key domain.MembershipKey, badges []domain.Badge) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range badges {
		delete(e.inFlight, key.String()+"/"+b.ID)
	}
}

func (e *BadgeEngine) publish(s notify.Signal) {
	if e.bus != nil {
		e.bus.Publish(s)
	}
}

func sortedByThreshold(badges []domain.Badge) []domain.Badge {
	out := append([]domain.Badge(nil), badges...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UnlockStars < out[j].UnlockStars })
	return out
}
