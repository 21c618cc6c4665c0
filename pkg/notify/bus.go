package notify

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const defaultStreamCapacity = 64

// Option customizes Bus construction.
type Option func(*Bus)

// WithLogger sets the logger used for dropped-signal diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithOrigin overrides the instance identifier stamped on local signals.
func WithOrigin(origin string) Option {
	return func(b *Bus) {
		if origin != "" {
			b.origin = origin
		}
	}
}

// WithStreamCapacity overrides the buffered channel size of streams.
func WithStreamCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// Bus broadcasts signals to in-process subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[*handler]struct{}
	streams  map[*stream]struct{}
	capacity int
	origin   string
	logger   *slog.Logger
}

type handler struct {
	filter Filter
	fn     func(Signal)
}

type stream struct {
	filter Filter
	ch     chan Signal
	once   sync.Once
}

// Subscription is a channel-based subscription.
type Subscription struct {
	C      <-chan Signal
	cancel func()
}

// Close ends the subscription and closes C.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// New creates a bus with a random origin.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: map[*handler]struct{}{},
		streams:  map[*stream]struct{}{},
		capacity: defaultStreamCapacity,
		origin:   uuid.NewString(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Origin returns the identifier stamped on locally published signals.
func (b *Bus) Origin() string {
	return b.origin
}

// Subscribe registers fn for signals accepted by filter. fn runs synchronously
// on the publishing goroutine and must not block. Call the returned function
// to unsubscribe.
func (b *Bus) Subscribe(filter Filter, fn func(Signal)) func() {
	h := &handler{filter: filter, fn: fn}
	b.mu.Lock()
	b.handlers[h] = struct{}{}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, h)
		b.mu.Unlock()
	}
}

// Stream registers a buffered channel subscription. When the subscriber falls
// behind, signals are dropped: the next signal causes the same re-fetch.
func (b *Bus) Stream(filter Filter) Subscription {
	s := &stream{filter: filter, ch: make(chan Signal, b.capacity)}
	b.mu.Lock()
	b.streams[s] = struct{}{}
	b.mu.Unlock()
	return Subscription{
		C: s.ch,
		cancel: func() {
			b.mu.Lock()
			delete(b.streams, s)
			b.mu.Unlock()
			s.once.Do(func() { close(s.ch) })
		},
	}
}

// Publish delivers sig to every matching subscriber.
func (b *Bus) Publish(sig Signal) {
	if !sig.Kind.Valid() {
		b.logger.Warn("dropping signal with unknown kind", "kind", sig.Kind)
		return
	}
	if sig.Origin == "" {
		sig.Origin = b.origin
	}

	b.mu.RLock()
	handlers := make([]*handler, 0, len(b.handlers))
	for h := range b.handlers {
		if h.filter == nil || h.filter(sig) {
			handlers = append(handlers, h)
		}
	}
	for s := range b.streams {
		if s.filter != nil && !s.filter(sig) {
			continue
		}
		select {
		case s.ch <- sig:
		default:
			b.logger.Warn("signal stream full, dropping", "kind", sig.Kind, "user_id", sig.UserID, "group_id", sig.GroupID)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h.fn(sig)
	}
}
