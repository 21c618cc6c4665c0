package celebration

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/tendant/simple-stars/pkg/domain"
)

func newTestQueue() (*Queue, *clock.Mock) {
	mock := clock.NewMock()
	q := NewQueue(QueueConfig{
		VisibleFor: 2 * time.Second,
		FadeFor:    300 * time.Millisecond,
		Clock:      mock,
	})
	return q, mock
}

func badgeEvent(id string) Event {
	return BadgeUnlocked(uuid.Nil, domain.Badge{ID: id, Name: id, UnlockStars: 10})
}

func currentID(t *testing.T, q *Queue) (string, bool) {
	t.Helper()
	e, visible, ok := q.Current()
	if !ok {
		return "", false
	}
	return e.ID, visible
}

func TestQueue_ShowsOneAtATimeInOrder(t *testing.T) {
	q, mock := newTestQueue()

	q.Enqueue(badgeEvent("a"))
	q.Enqueue(badgeEvent("b"))
	q.Enqueue(badgeEvent("c"))

	for _, want := range []string{"badge:a", "badge:b", "badge:c"} {
		id, visible := currentID(t, q)
		if id != want || !visible {
			t.Fatalf("current = %q (visible=%v), want %q visible", id, visible, want)
		}

		// Still the same event just before the visible period ends.
		mock.Add(1999 * time.Millisecond)
		if id, _ := currentID(t, q); id != want {
			t.Fatalf("current = %q before visible period ended, want %q", id, want)
		}

		// Hidden but not yet dismissed during the fade.
		mock.Add(1 * time.Millisecond)
		id, visible = currentID(t, q)
		if id != want || visible {
			t.Fatalf("current = %q (visible=%v), want %q fading", id, visible, want)
		}

		mock.Add(300 * time.Millisecond)
	}

	if _, _, ok := q.Current(); ok {
		t.Error("queue should be idle after all events were shown")
	}
}

func TestQueue_TickWhileShowingDoesNothing(t *testing.T) {
	q, _ := newTestQueue()
	q.Enqueue(badgeEvent("a"))
	q.Enqueue(badgeEvent("b"))

	if q.Tick() {
		t.Error("Tick should not pop while an event is showing")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestQueue_DoesNotDeduplicate(t *testing.T) {
	q, mock := newTestQueue()
	q.Enqueue(badgeEvent("a"))
	q.Enqueue(badgeEvent("a"))

	mock.Add(2300 * time.Millisecond)
	if id, _ := currentID(t, q); id != "badge:a" {
		t.Errorf("second copy should be shown, current = %q", id)
	}
}

func TestQueue_OnDismissedRunsAfterFade(t *testing.T) {
	q, mock := newTestQueue()
	dismissed := 0
	q.Enqueue(MilestoneReached(uuid.Nil, 1000, func() { dismissed++ }))

	mock.Add(2 * time.Second)
	if dismissed != 0 {
		t.Fatal("hook ran before fade finished")
	}
	mock.Add(300 * time.Millisecond)
	if dismissed != 1 {
		t.Errorf("hook ran %d times, want 1", dismissed)
	}
}

func TestQueue_Close(t *testing.T) {
	q, mock := newTestQueue()
	ran := false
	q.Enqueue(MilestoneReached(uuid.Nil, 1000, func() { ran = true }))
	q.Close()

	mock.Add(5 * time.Second)
	if ran {
		t.Error("hook should not run after close")
	}
	if q.Enqueue(badgeEvent("a")) {
		t.Error("closed queue should reject events")
	}
}
