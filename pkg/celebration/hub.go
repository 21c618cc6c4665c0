package celebration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
)

// HubConfig configures a Hub.
type HubConfig struct {
	Queue   QueueConfig
	IdleTTL time.Duration
	Logger  *slog.Logger
}

// Hub tracks the live celebration queues of client sessions.
type Hub struct {
	mu       sync.Mutex
	cfg      HubConfig
	clock    clock.Clock
	sessions map[string]*session
	byUser   map[uuid.UUID]map[string]*session
}

type session struct {
	id       string
	userID   uuid.UUID
	queue    *Queue
	lastSeen time.Time
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig) *Hub {
	cfg.Queue = cfg.Queue.withDefaults()
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		cfg:      cfg,
		clock:    cfg.Queue.Clock,
		sessions: map[string]*session{},
		byUser:   map[uuid.UUID]map[string]*session{},
	}
}

// Attach returns the queue of sessionID, creating it for userID when new.
// created is true when a new session was registered. A session id reused by
// a different user replaces the old session.
func (h *Hub) Attach(sessionID string, userID uuid.UUID) (q *Queue, created bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	if s, ok := h.sessions[sessionID]; ok {
		if s.userID == userID {
			s.lastSeen = now
			return s.queue, false
		}
		h.removeLocked(s)
	}

	s := &session{
		id:       sessionID,
		userID:   userID,
		queue:    NewQueue(h.cfg.Queue),
		lastSeen: now,
	}
	h.sessions[sessionID] = s
	if h.byUser[userID] == nil {
		h.byUser[userID] = map[string]*session{}
	}
	h.byUser[userID][sessionID] = s
	return s.queue, true
}

// Detach closes and forgets a session.
func (h *Hub) Detach(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		h.removeLocked(s)
	}
}

func (h *Hub) removeLocked(s *session) {
	s.queue.Close()
	delete(h.sessions, s.id)
	if users := h.byUser[s.userID]; users != nil {
		delete(users, s.id)
		if len(users) == 0 {
			delete(h.byUser, s.userID)
		}
	}
}

// Sessions returns the number of live sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Sink returns a sink delivering to every live session of userID. A dismiss
// hook runs at most once no matter how many sessions show the event.
func (h *Hub) Sink(userID uuid.UUID) Sink {
	return userSink{hub: h, userID: userID}
}

type userSink struct {
	hub    *Hub
	userID uuid.UUID
}

func (s userSink) Enqueue(e Event) bool {
	s.hub.mu.Lock()
	queues := make([]*Queue, 0, len(s.hub.byUser[s.userID]))
	for _, sess := range s.hub.byUser[s.userID] {
		queues = append(queues, sess.queue)
	}
	s.hub.mu.Unlock()

	if e.OnDismissed != nil {
		var once sync.Once
		hook := e.OnDismissed
		e.OnDismissed = func() { once.Do(hook) }
	}

	accepted := false
	for _, q := range queues {
		if q.Enqueue(e) {
			accepted = true
		}
	}
	return accepted
}

// Evict removes sessions idle for longer than the configured TTL.
func (h *Hub) Evict() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.clock.Now().Add(-h.cfg.IdleTTL)
	evicted := 0
	for _, s := range h.sessions {
		if s.lastSeen.Before(cutoff) {
			h.removeLocked(s)
			evicted++
		}
	}
	return evicted
}

// Run evicts idle sessions every interval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := h.clock.Ticker(interval)
	defer ticker.Stop()
	h.cfg.Logger.Info("celebration session sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			h.cfg.Logger.Info("celebration session sweeper stopped")
			return
		case <-ticker.C:
			if n := h.Evict(); n > 0 {
				h.cfg.Logger.Info("evicted idle celebration sessions", "count", n)
			}
		}
	}
}
