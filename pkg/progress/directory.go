package progress

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/notify"
)

const defaultDirectorySize = 4096

// MembershipReader loads memberships from persistence.
type MembershipReader interface {
	GetByUserAndGroup(ctx context.Context, userID, groupID uuid.UUID) (*domain.Membership, error)
}

// Directory is the process-wide read-through cache of memberships.
//
// It doubles as the local view that ledger mutations update optimistically.
// Entries are invalidated only through the notification bus when another
// instance reports a change, or explicitly when a membership is removed.
type Directory struct {
	cache       *lru.Cache[domain.MembershipKey, *domain.Membership]
	store       MembershipReader
	unsubscribe func()

	// gen counts writes; a store read only fills the cache when no write
	// happened while it was in flight.
	mu  sync.Mutex
	gen uint64
}

// NewDirectory creates a directory of at most size entries. When bus is not
// nil, progress and membership signals from other origins evict the entry.
func NewDirectory(store MembershipReader, size int, bus *notify.Bus) (*Directory, error) {
	if size <= 0 {
		size = defaultDirectorySize
	}
	cache, err := lru.New[domain.MembershipKey, *domain.Membership](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create membership cache: %w", err)
	}

	d := &Directory{cache: cache, store: store}
	if bus != nil {
		origin := bus.Origin()
		d.unsubscribe = bus.Subscribe(
			notify.All(
				notify.Kinds(notify.ProgressChanged, notify.MembershipChanged),
				func(s notify.Signal) bool { return s.Origin != origin },
			),
			func(s notify.Signal) { d.Invalidate(s.Key()) },
		)
	}
	return d, nil
}

// Get returns a copy of the membership, loading it on a miss.
func (d *Directory) Get(ctx context.Context, key domain.MembershipKey) (*domain.Membership, error) {
	if m, ok := d.cache.Get(key); ok {
		return m.Clone(), nil
	}
	start := d.generation()
	m, err := d.store.GetByUserAndGroup(ctx, key.UserID, key.GroupID)
	if err != nil {
		return nil, err
	}
	return d.fill(key, m, start), nil
}

func (d *Directory) generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// fill caches m, read from the store when the generation was start. An entry
// written in the meantime wins over m.
func (d *Directory) fill(key domain.MembershipKey, m *domain.Membership, start uint64) *domain.Membership {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == start {
		if prev, ok, _ := d.cache.PeekOrAdd(key, m.Clone()); ok {
			return prev.Clone()
		}
		return m
	}
	if cur, ok := d.cache.Peek(key); ok {
		return cur.Clone()
	}
	return m
}

// Peek returns the cached membership without loading.
func (d *Directory) Peek(key domain.MembershipKey) (*domain.Membership, bool) {
	m, ok := d.cache.Peek(key)
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Put installs m as the current local view.
func (d *Directory) Put(m *domain.Membership) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.cache.Add(m.Key(), m.Clone())
}

// Invalidate drops the entry so the next Get re-fetches.
func (d *Directory) Invalidate(key domain.MembershipKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.cache.Remove(key)
}

// Close detaches the directory from the bus.
func (d *Directory) Close() {
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
}
