package stream

import "encoding/json"

// Type identifies the kind of progress event emitted during a research run.
type Type string

const (
	TypeStatus        Type = "status"
	TypePartialResult Type = "partial_result"
	TypeSummaryToken  Type = "summary_token"
	TypeFinalResult   Type = "final_result"
	TypeError         Type = "error"
	TypeEndOfStream   Type = "end_of_stream"
)

// Event is a single progress message for a research session. The stream for
// any run is terminated by exactly one end_of_stream event; final_result may
// be absent when the run errored.
type Event struct {
	Type    Type   `json:"type"`
	Message string `json:"message,omitempty"`
	Step    string `json:"step,omitempty"`
	Token   string `json:"token,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool { return e.Type == TypeEndOfStream }

// droppable events may be discarded under backpressure. Error, final result
// and end-of-stream must always reach the consumer.
func (e Event) droppable() bool {
	switch e.Type {
	case TypeStatus, TypePartialResult, TypeSummaryToken:
		return true
	}
	return false
}

// Marshal returns the JSON encoding of the event.
func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

// Status builds a status event.
func Status(step, message string) Event {
	return Event{Type: TypeStatus, Step: step, Message: message}
}

// Partial builds a partial_result event carrying intermediate data.
func Partial(step string, data any) Event {
	return Event{Type: TypePartialResult, Step: step, Data: data}
}

// SummaryToken builds a summary_token event for incremental summary delivery.
func SummaryToken(token string) Event {
	return Event{Type: TypeSummaryToken, Token: token}
}

// Final builds the final_result event.
func Final(data any) Event { return Event{Type: TypeFinalResult, Data: data} }

// Error builds an error event.
func Error(message string) Event { return Event{Type: TypeError, Message: message} }

// EndOfStream builds the terminal event.
func EndOfStream() Event { return Event{Type: TypeEndOfStream} }

// Sink receives session events from the pipeline. Implementations must be
// safe for use from a single producer goroutine and must tolerate events
// arriving after the terminal event (they are ignored).
type Sink interface {
	Emit(Event)
}
