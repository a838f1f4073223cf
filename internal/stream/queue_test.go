package stream

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func drain(t *testing.T, q *Queue) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var out []Event
	for {
		ev, ok := q.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, ev)
		if ev.Terminal() {
			return out
		}
	}
}

func TestQueueDeliversInOrder(t *testing.T) {
	q := NewQueue(16)
	q.Emit(Status("init", "starting"))
	q.Emit(Status("search", "searching"))
	q.Emit(EndOfStream())

	events := drain(t, q)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Message != "starting" || events[1].Message != "searching" {
		t.Fatalf("events out of order: %v", events)
	}
	if !events[2].Terminal() {
		t.Fatalf("last event not terminal")
	}
}

func TestQueueOverflowDropsOldestDroppable(t *testing.T) {
	q := NewQueue(2)
	q.Emit(Status("init", "first"))
	q.Emit(Status("search", "second"))
	q.Emit(Status("search", "third"))
	q.Emit(EndOfStream())

	events := drain(t, q)
	for _, ev := range events {
		if ev.Message == "first" {
			t.Fatalf("oldest droppable event survived overflow")
		}
	}
	if events[len(events)-1].Type != TypeEndOfStream {
		t.Fatalf("terminal event missing after overflow")
	}
}

func TestQueueNeverDropsErrorOrFinal(t *testing.T) {
	q := NewQueue(2)
	q.Emit(Error("boom"))
	q.Emit(Final(map[string]string{"k": "v"}))
	// Overflow pressure: only droppable events may go.
	for i := 0; i < 10; i++ {
		q.Emit(Status("s", fmt.Sprintf("status %d", i)))
	}
	q.Emit(EndOfStream())

	events := drain(t, q)
	var sawError, sawFinal bool
	for _, ev := range events {
		switch ev.Type {
		case TypeError:
			sawError = true
		case TypeFinalResult:
			sawFinal = true
		}
	}
	if !sawError || !sawFinal {
		t.Fatalf("undroppable events lost under backpressure (error=%v final=%v)", sawError, sawFinal)
	}
}

func TestQueueEndOfStreamExactlyOnce(t *testing.T) {
	q := NewQueue(16)
	q.Emit(EndOfStream())
	q.Emit(EndOfStream())
	q.Emit(Status("late", "after terminal"))

	events := drain(t, q)
	if len(events) != 1 || events[0].Type != TypeEndOfStream {
		t.Fatalf("expected exactly one terminal event, got %v", events)
	}
	if !q.Closed() {
		t.Fatalf("queue not closed after terminal event")
	}
}

func TestQueueNextUnblocksOnEmit(t *testing.T) {
	q := NewQueue(16)
	got := make(chan Event, 1)
	go func() {
		ev, ok := q.Next(context.Background())
		if ok {
			got <- ev
		}
	}()
	time.Sleep(10 * time.Millisecond)
	q.Emit(Status("init", "hello"))

	select {
	case ev := <-got:
		if ev.Message != "hello" {
			t.Fatalf("unexpected event %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("Next did not unblock on Emit")
	}
}

func TestQueueNextRespectsContext(t *testing.T) {
	q := NewQueue(16)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Next(ctx); ok {
		t.Fatalf("Next returned an event from an empty queue with a dead context")
	}
}

func TestEnvelopeValidateBasic(t *testing.T) {
	valid := Envelope{
		EventID:   "e1",
		SessionID: "s1",
		EventType: TypeStatus,
		Data:      []byte(`{"type":"status"}`),
	}
	if err := valid.ValidateBasic(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}
	if valid.OccurredAt.IsZero() {
		t.Fatalf("ValidateBasic should default occurred_at")
	}

	cases := []Envelope{
		{SessionID: "s1", EventType: TypeStatus, Data: []byte(`{}`)},
		{EventID: "e1", EventType: TypeStatus, Data: []byte(`{}`)},
		{EventID: "e1", SessionID: "s1", Data: []byte(`{}`)},
		{EventID: "e1", SessionID: "s1", EventType: TypeStatus},
	}
	for i, env := range cases {
		if err := env.ValidateBasic(); err == nil {
			t.Fatalf("case %d: incomplete envelope accepted", i)
		}
	}
}
