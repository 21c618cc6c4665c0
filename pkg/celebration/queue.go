package celebration

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Default presentation timing.
const (
	DefaultVisibleFor = 2 * time.Second
	DefaultFadeFor    = 300 * time.Millisecond
)

// QueueConfig holds queue timing.
type QueueConfig struct {
	VisibleFor time.Duration
	FadeFor    time.Duration
	Clock      clock.Clock
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.VisibleFor <= 0 {
		c.VisibleFor = DefaultVisibleFor
	}
	if c.FadeFor <= 0 {
		c.FadeFor = DefaultFadeFor
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// Queue is an ordered, single-consumer celebration queue for one client session.
//
// One event is current at a time. It is visible for VisibleFor, then fades for
// FadeFor, then is dismissed and the next event is popped. The queue does not
// deduplicate.
type Queue struct {
	mu      sync.Mutex
	cfg     QueueConfig
	pending []Event
	current *Event
	visible bool
	timer   *clock.Timer
	closed  bool
}

// NewQueue creates an empty queue.
func NewQueue(cfg QueueConfig) *Queue {
	return &Queue{cfg: cfg.withDefaults()}
}

// Enqueue appends e and starts presenting it when nothing is showing.
// It returns false once the queue is closed.
func (q *Queue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, e)
	q.tickLocked()
	return true
}

// Tick pops the next event when nothing is showing. It reports whether an event was popped.
func (q *Queue) Tick() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tickLocked()
}

func (q *Queue) tickLocked() bool {
	if q.closed || q.current != nil || len(q.pending) == 0 {
		return false
	}
	next := q.pending[0]
	q.pending[0] = Event{}
	q.pending = q.pending[1:]

	q.current = &next
	q.visible = true
	q.timer = q.cfg.Clock.AfterFunc(q.cfg.VisibleFor, q.hide)
	return true
}

func (q *Queue) hide() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.current == nil {
		return
	}
	q.visible = false
	q.timer = q.cfg.Clock.AfterFunc(q.cfg.FadeFor, q.dismiss)
}

func (q *Queue) dismiss() {
	q.mu.Lock()
	if q.closed || q.current == nil {
		q.mu.Unlock()
		return
	}
	done := *q.current
	q.current = nil
	q.timer = nil
	q.tickLocked()
	q.mu.Unlock()

	if done.OnDismissed != nil {
		done.OnDismissed()
	}
}

// Current returns the event being presented and whether it is still visible
// (false while it fades out).
func (q *Queue) Current() (e Event, visible bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Event{}, false, false
	}
	return *q.current, q.visible, true
}

// Len returns the number of events waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops presentation and drops pending events. Dismiss hooks of dropped
// events do not run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.current = nil
	q.pending = nil
}
