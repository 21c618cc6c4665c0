package progress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/notify"
)

var errStoreDown = errors.New("store unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type appliedOp struct {
	delta  domain.StarDelta
	change domain.StarChange
}

// memMemberships is an in-memory LedgerStore.
type memMemberships struct {
	mu         sync.Mutex
	rows       map[domain.MembershipKey]*domain.Membership
	ops        map[string]appliedOp
	badges     *memBadges
	shouldFail bool
	applyCalls int
}

func newMemMemberships(badges *memBadges) *memMemberships {
	return &memMemberships{
		rows:   map[domain.MembershipKey]*domain.Membership{},
		ops:    map[string]appliedOp{},
		badges: badges,
	}
}

func (s *memMemberships) GetByUserAndGroup(_ context.Context, userID, groupID uuid.UUID) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[domain.MembershipKey{UserID: userID, GroupID: groupID}]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	return m.Clone(), nil
}

func (s *memMemberships) CreateOrGet(_ context.Context, m *domain.Membership) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail {
		return nil, errStoreDown
	}
	if existing, ok := s.rows[m.Key()]; ok {
		return existing.Clone(), nil
	}
	s.rows[m.Key()] = m.Clone()
	return m.Clone(), nil
}

func (s *memMemberships) ApplyDelta(_ context.Context, d domain.StarDelta, stageFor func(int) int) (*domain.StarChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	if s.shouldFail {
		return nil, errStoreDown
	}
	if d.OperationID != "" {
		if op, ok := s.ops[d.OperationID]; ok {
			if op.delta.UserID != d.UserID || op.delta.GroupID != d.GroupID || op.delta.Delta != d.Delta {
				return nil, domain.ErrOperationConflict
			}
			c := op.change
			c.Replayed = true
			return &c, nil
		}
	}
	m, ok := s.rows[domain.MembershipKey{UserID: d.UserID, GroupID: d.GroupID}]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	c := domain.StarChange{PreviousTotal: m.TotalStars, PreviousStage: m.CurrentStage}
	m.TotalStars = max(0, m.TotalStars+d.Delta)
	m.CurrentStage = stageFor(m.TotalStars)
	c.Total = m.TotalStars
	c.Stage = m.CurrentStage
	if d.OperationID != "" {
		s.ops[d.OperationID] = appliedOp{delta: d, change: c}
	}
	return &c, nil
}

func (s *memMemberships) ResetProgress(_ context.Context, userID, groupID uuid.UUID, minStars int) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail {
		return nil, errStoreDown
	}
	m, ok := s.rows[domain.MembershipKey{UserID: userID, GroupID: groupID}]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	if m.TotalStars >= minStars {
		m.TotalStars = 0
		m.CurrentStage = 1
		m.SeenCelebrations = nil
		if s.badges != nil {
			s.badges.clearSeen(userID, groupID)
		}
	}
	return m.Clone(), nil
}

func (s *memMemberships) ListByGroup(_ context.Context, groupID uuid.UUID) ([]*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Membership
	for k, m := range s.rows {
		if k.GroupID == groupID {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (s *memMemberships) MarkRead(_ context.Context, userID, groupID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail {
		return errStoreDown
	}
	m, ok := s.rows[domain.MembershipKey{UserID: userID, GroupID: groupID}]
	if !ok {
		return domain.ErrMembershipNotFound
	}
	m.LastReadAt = &at
	return nil
}

func (s *memMemberships) AddSeenCelebration(_ context.Context, userID, groupID uuid.UUID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail {
		return errStoreDown
	}
	m, ok := s.rows[domain.MembershipKey{UserID: userID, GroupID: groupID}]
	if !ok {
		return domain.ErrMembershipNotFound
	}
	if !m.HasSeenCelebration(id) {
		m.SeenCelebrations = append(m.SeenCelebrations, id)
	}
	return nil
}

func (s *memMemberships) Delete(_ context.Context, userID, groupID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.MembershipKey{UserID: userID, GroupID: groupID}
	if _, ok := s.rows[key]; !ok {
		return domain.ErrMembershipNotFound
	}
	delete(s.rows, key)
	return nil
}

func (s *memMemberships) total(key domain.MembershipKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[key].TotalStars
}

// memBadges is an in-memory BadgeStore.
type memBadges struct {
	mu         sync.Mutex
	rows       map[string]*domain.UnlockedBadge
	failInsert map[string]bool
	failSeen   bool
	inserts    int
}

func newMemBadges() *memBadges {
	return &memBadges{rows: map[string]*domain.UnlockedBadge{}, failInsert: map[string]bool{}}
}

func badgeRowKey(userID, groupID uuid.UUID, badgeID string) string {
	return userID.String() + "/" + groupID.String() + "/" + badgeID
}

func (s *memBadges) InsertOrGet(_ context.Context, b *domain.UnlockedBadge) (*domain.UnlockedBadge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert[b.BadgeID] {
		return nil, false, errStoreDown
	}
	k := badgeRowKey(b.UserID, b.GroupID, b.BadgeID)
	if row, ok := s.rows[k]; ok {
		c := *row
		return &c, false, nil
	}
	row := *b
	row.Seen = false
	s.rows[k] = &row
	s.inserts++
	c := row
	return &c, true, nil
}

func (s *memBadges) MarkSeen(_ context.Context, userID, groupID uuid.UUID, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSeen {
		return errStoreDown
	}
	for _, id := range ids {
		if row, ok := s.rows[badgeRowKey(userID, groupID, id)]; ok {
			row.Seen = true
		}
	}
	return nil
}

func (s *memBadges) ListByMembership(_ context.Context, userID, groupID uuid.UUID) ([]*domain.UnlockedBadge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.UnlockedBadge
	for _, row := range s.rows {
		if row.UserID == userID && row.GroupID == groupID {
			c := *row
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BadgeID < out[j].BadgeID })
	return out, nil
}

func (s *memBadges) clearSeen(userID, groupID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.UserID == userID && row.GroupID == groupID {
			row.Seen = false
		}
	}
}

func (s *memBadges) seen(userID, groupID uuid.UUID, id string) (seen, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[badgeRowKey(userID, groupID, id)]
	if !ok {
		return false, false
	}
	return row.Seen, true
}

// memGoals is an in-memory GoalStore.
type memGoals struct {
	mu         sync.Mutex
	goals      []*domain.Goal
	shouldFail bool
}

func (s *memGoals) Create(_ context.Context, g *domain.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.goals {
		if existing.UserID == g.UserID && existing.GroupID == g.GroupID && !existing.Completed {
			return domain.ErrActiveGoalExists
		}
	}
	s.goals = append(s.goals, g.Clone())
	return nil
}

func (s *memGoals) GetActive(_ context.Context, userID, groupID uuid.UUID) (*domain.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.goals {
		if g.UserID == userID && g.GroupID == groupID && !g.Completed {
			return g.Clone(), nil
		}
	}
	return nil, domain.ErrGoalNotFound
}

func (s *memGoals) AddProgress(_ context.Context, goalID uuid.UUID, stars int, at time.Time) (*domain.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail {
		return nil, errStoreDown
	}
	for _, g := range s.goals {
		if g.ID != goalID || g.Completed {
			continue
		}
		g.CurrentStars += stars
		g.UpdatedAt = at
		if g.CurrentStars >= g.TargetStars {
			g.Completed = true
			g.CompletedAt = &at
		}
		return g.Clone(), nil
	}
	return nil, domain.ErrGoalNotFound
}

func (s *memGoals) ListByMembership(_ context.Context, userID, groupID uuid.UUID, limit int) ([]*domain.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Goal
	for i := len(s.goals) - 1; i >= 0; i-- {
		g := s.goals[i]
		if g.UserID == userID && g.GroupID == groupID {
			out = append(out, g.Clone())
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// recordingSink records every enqueued event.
type recordingSink struct {
	mu     sync.Mutex
	events []celebration.Event
	reject bool
}

func (s *recordingSink) Enqueue(e celebration.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.events = append(s.events, e)
	return true
}

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.events))
	for i, e := range s.events {
		ids[i] = e.ID
	}
	return ids
}

type fixture struct {
	catalog     *Catalog
	memberships *memMemberships
	badgeRows   *memBadges
	goalRows    *memGoals
	bus         *notify.Bus
	ledger      *Ledger
	badges      *BadgeEngine
	goals       *GoalTracker
	progression *Progression
	key         domain.MembershipKey
}

func newFixture(t testing.TB, catalog *Catalog) *fixture {
	t.Helper()
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	logger := discardLogger()
	f := &fixture{
		catalog:   catalog,
		badgeRows: newMemBadges(),
		goalRows:  &memGoals{},
		bus:       notify.New(notify.WithLogger(logger)),
		key:       domain.MembershipKey{UserID: uuid.New(), GroupID: uuid.New()},
	}
	f.memberships = newMemMemberships(f.badgeRows)
	dir, err := NewDirectory(f.memberships, 16, f.bus)
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	f.ledger = NewLedger(catalog, f.memberships, dir, f.bus, logger)
	f.badges = NewBadgeEngine(catalog, f.badgeRows, f.bus, logger)
	f.goals = NewGoalTracker(f.goalRows, f.ledger, f.bus, logger)
	f.progression = NewProgression(f.ledger, f.badges, f.goals, logger)
	return f
}

// join creates the membership with total stars already recorded.
func (f *fixture) join(t testing.TB, total int) {
	t.Helper()
	if _, err := f.ledger.Join(context.Background(), f.key.UserID, f.key.GroupID); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if total > 0 {
		f.memberships.mu.Lock()
		m := f.memberships.rows[f.key]
		m.TotalStars = total
		m.CurrentStage = f.catalog.StageNumber(total)
		f.memberships.mu.Unlock()
		f.ledger.dir.Invalidate(f.key)
	}
}

func thresholdCatalog(t testing.TB, thresholds ...int) *Catalog {
	t.Helper()
	badges := make([]domain.Badge, len(thresholds))
	for i, n := range thresholds {
		badges[i] = domain.Badge{ID: "b" + strconv.Itoa(n), Name: "Badge", UnlockStars: n}
	}
	c, err := NewCatalog([]Stage{
		{Threshold: 0, Name: "Egg"},
		{Threshold: 50, Name: "Hatchling"},
		{Threshold: 200, Name: "Chick"},
		{Threshold: 1000, Name: "Phoenix"},
	}, badges)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return c
}

func celebrationDiscard() celebration.Sink {
	return celebration.Discard
}
