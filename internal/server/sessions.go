package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/polyview/internal/research"
	"github.com/mohammad-safakhou/polyview/internal/stream"
)

// Session status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Session is one in-flight or finished research run. The pipeline goroutine
// is the sole producer on the queue; the stream handler is the sole consumer.
type Session struct {
	ID        string
	Topic     string
	CreatedAt time.Time

	queue  *stream.Queue
	cancel context.CancelFunc

	mu         sync.RWMutex
	status     string
	finishedAt time.Time
	result     *research.Report
	errMessage string
}

// Queue returns the session's event queue.
func (s *Session) Queue() *stream.Queue { return s.queue }

// Cancel requests cancellation of the run. Safe to call multiple times.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.status == StatusRunning {
		s.status = StatusCancelled
	}
	s.mu.Unlock()
	s.cancel()
}

// Finish records the run outcome.
func (s *Session) Finish(result *research.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedAt = time.Now()
	if err != nil {
		if s.status == StatusRunning {
			s.status = StatusFailed
		}
		s.errMessage = err.Error()
		return
	}
	s.status = StatusSucceeded
	s.result = result
}

// SessionView is the JSON snapshot of a session.
type SessionView struct {
	SessionID  string           `json:"session_id"`
	Topic      string           `json:"topic"`
	Status     string           `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Result     *research.Report `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// View returns a race-free snapshot of the session.
func (s *Session) View() SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := SessionView{
		SessionID: s.ID,
		Topic:     s.Topic,
		Status:    s.status,
		CreatedAt: s.CreatedAt,
		Result:    s.result,
		Error:     s.errMessage,
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		v.FinishedAt = &t
	}
	return v
}

// SessionManager tracks research sessions in memory for the lifetime of the
// process. Finished sessions are evicted after the configured TTL.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	capacity int
	ttl      time.Duration
}

func NewSessionManager(queueCapacity int, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	m := &SessionManager{
		sessions: make(map[string]*Session),
		capacity: queueCapacity,
		ttl:      ttl,
	}
	go m.evictLoop()
	return m
}

// Create registers a new running session and returns it with its cancellable
// context.
func (m *SessionManager) Create(parent context.Context, topic string) (*Session, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:        uuid.NewString(),
		Topic:     topic,
		CreatedAt: time.Now(),
		queue:     stream.NewQueue(m.capacity),
		cancel:    cancel,
		status:    StatusRunning,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, ctx
}

// Get returns the session for id.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *SessionManager) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-m.ttl)
		m.mu.Lock()
		for id, s := range m.sessions {
			v := s.View()
			if v.Status != StatusRunning && v.FinishedAt != nil && v.FinishedAt.Before(cutoff) {
				delete(m.sessions, id)
			}
		}
		m.mu.Unlock()
	}
}
