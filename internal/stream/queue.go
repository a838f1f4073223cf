package stream

import (
	"context"
	"sync"
)

// Queue is a bounded, single-consumer event queue for one research session.
// The pipeline is the sole producer, the transport layer the sole consumer.
// When full, the oldest droppable event is discarded; error, final_result and
// end_of_stream are never dropped. After the terminal event is accepted all
// further pushes are ignored, so end_of_stream is delivered exactly once.
type Queue struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	done     bool // terminal event accepted
	notify   chan struct{}
}

// DefaultQueueCapacity bounds a session queue when no capacity is configured.
const DefaultQueueCapacity = 256

// NewQueue creates a queue holding at most capacity pending events.
func NewQueue(capacity int) *Queue {
	if capacity < 2 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Emit appends an event, applying the drop-oldest-status overflow policy.
// Implements Sink.
func (q *Queue) Emit(ev Event) {
	q.mu.Lock()
	if q.done {
		q.mu.Unlock()
		return
	}
	if ev.Terminal() {
		q.done = true
	}
	if len(q.events) >= q.capacity {
		q.dropOldestDroppable()
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// dropOldestDroppable removes the first droppable pending event. If every
// pending event is undroppable the queue is allowed to exceed its capacity;
// terminal and error events are rare enough that this cannot grow unbounded.
func (q *Queue) dropOldestDroppable() {
	for i, ev := range q.events {
		if ev.droppable() {
			q.events = append(q.events[:i], q.events[i+1:]...)
			return
		}
	}
}

// Next blocks until an event is available or ctx is cancelled. ok is false
// once the stream is exhausted (terminal event already delivered) or the
// context ended.
func (q *Queue) Next(ctx context.Context) (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events = q.events[1:]
			q.mu.Unlock()
			return ev, true
		}
		exhausted := q.done
		q.mu.Unlock()
		if exhausted {
			return Event{}, false
		}

		select {
		case <-ctx.Done():
			return Event{}, false
		case <-q.notify:
		}
	}
}

// Pending returns the number of undelivered events.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether the terminal event has been accepted.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}
