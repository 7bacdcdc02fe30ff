// Package broadcast fans freshly written call records out to the
// dashboard sessions whose step filter matches them.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/costwise/aitrace/internal/record"
)

const (
	MsgHello      = "hello"
	MsgSubscribe  = "subscribe"
	MsgSubscribed = "subscribed"
	MsgPing       = "ping"
	MsgPong       = "pong"
	MsgLogCreated = "ai_log_created"
	MsgError      = "error"
)

// ServerMessage is every server→client frame on the real-time channel.
type ServerMessage struct {
	Type       string             `json:"type"`
	ServerTime string             `json:"serverTime,omitempty"`
	Steps      []string           `json:"steps,omitempty"`
	Data       *record.CallRecord `json:"data,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// ClientMessage is every client→server frame.
type ClientMessage struct {
	Type  string   `json:"type"`
	Steps []string `json:"steps,omitempty"`
}

// Mirror republishes events to an external bus. Optional.
type Mirror interface {
	Publish(step record.Step, payload []byte) error
}

// session is one open dashboard connection. Outbound frames go through a
// bounded queue with drop-oldest, so one stalled reader never blocks the
// fan-out loop.
type session struct {
	id      string
	out     chan ServerMessage
	mu      sync.Mutex
	steps   map[record.Step]struct{}
	dropped atomic.Int64
}

// setSteps replaces the filter wholesale; re-subscribing never merges.
func (s *session) setSteps(steps []string) {
	next := make(map[record.Step]struct{}, len(steps))
	for _, st := range steps {
		next[record.Step(st)] = struct{}{}
	}
	s.mu.Lock()
	s.steps = next
	s.mu.Unlock()
}

func (s *session) wants(step record.Step) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.steps[step]
	return ok
}

// enqueue never blocks: when the queue is full the oldest frame is
// dropped to make room. Dashboards reconcile missed events via polling.
func (s *session) enqueue(msg ServerMessage) {
	for {
		select {
		case s.out <- msg:
			return
		default:
		}
		select {
		case <-s.out:
			s.dropped.Add(1)
		default:
		}
	}
}

type Hub struct {
	logger    *slog.Logger
	queueSize int
	mirror    Mirror

	mu       sync.RWMutex
	sessions map[string]*session

	published atomic.Int64
	delivered atomic.Int64
}

func NewHub(logger *slog.Logger, queueSize int, mirror Mirror) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		logger:    logger,
		queueSize: queueSize,
		mirror:    mirror,
		sessions:  make(map[string]*session),
	}
}

func (h *Hub) register() *session {
	s := &session{
		id:    uuid.NewString(),
		out:   make(chan ServerMessage, h.queueSize),
		steps: map[record.Step]struct{}{},
	}
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	if n := s.dropped.Load(); n > 0 {
		h.logger.Debug("session closed with dropped frames", "session", s.id, "dropped", n)
	}
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) EventsPublished() int64 { return h.published.Load() }
func (h *Hub) EventsDelivered() int64 { return h.delivered.Load() }

// Publish fans one committed record out to every matching session and,
// when configured, mirrors it to the external bus. Per-session delivery
// failures are isolated; the loop always completes.
func (h *Hub) Publish(rec record.CallRecord) {
	h.published.Add(1)
	msg := ServerMessage{Type: MsgLogCreated, Data: &rec}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.wants(rec.Step) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(msg)
		h.delivered.Add(1)
	}

	if h.mirror != nil {
		payload, err := json.Marshal(msg)
		if err == nil {
			err = h.mirror.Publish(rec.Step, payload)
		}
		if err != nil {
			h.logger.Warn("event mirror publish failed", "step", string(rec.Step), "error", err)
		}
	}
}

func serverTime() string {
	return time.Now().UTC().Format(time.RFC3339)
}
