package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Envelope is the canonical wrapper for session events mirrored to Redis
// Streams for external consumers.
type Envelope struct {
	EventID    string          `json:"event_id"`
	SessionID  string          `json:"session_id"`
	EventType  Type            `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// ValidateBasic ensures mandatory envelope fields are present.
func (e *Envelope) ValidateBasic() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	return nil
}

// Publisher appends session event envelopes to Redis Streams.
type Publisher struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewPublisher creates a Publisher. maxLen bounds each stream approximately;
// zero disables trimming.
func NewPublisher(client *redis.Client, prefix string, maxLen int64) *Publisher {
	if prefix == "" {
		prefix = "polyview:events:"
	}
	return &Publisher{client: client, prefix: prefix, maxLen: maxLen}
}

// Publish wraps the event in an envelope and appends it to the session's
// stream.
func (p *Publisher) Publish(ctx context.Context, sessionID string, ev Event) (string, error) {
	data, err := ev.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		SessionID:  sessionID,
		EventType:  ev.Type,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	if err := env.ValidateBasic(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.prefix + sessionID,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Fanout delivers events to the in-memory queue and, best effort, mirrors
// them to Redis. Mirror failures are logged and never affect the run.
type Fanout struct {
	sessionID string
	primary   Sink
	mirror    *Publisher
	logger    *log.Logger
}

// NewFanout wraps primary with an optional Redis mirror. mirror may be nil.
func NewFanout(sessionID string, primary Sink, mirror *Publisher, logger *log.Logger) *Fanout {
	if logger == nil {
		logger = log.New(log.Writer(), "[STREAM] ", log.LstdFlags)
	}
	return &Fanout{sessionID: sessionID, primary: primary, mirror: mirror, logger: logger}
}

// Emit implements Sink.
func (f *Fanout) Emit(ev Event) {
	f.primary.Emit(ev)
	if f.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := f.mirror.Publish(ctx, f.sessionID, ev); err != nil {
		f.logger.Printf("mirror publish failed for session %s: %v", f.sessionID, err)
	}
}
