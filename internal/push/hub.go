package push

import (
	"sync"
	"sync/atomic"
	"time"
)

const sessionChannelBuffer = 64

// Message is one real-time notification delivered to a session's client:
// tool lifecycle, streamed tool output, and workflow progress.
type Message struct {
	Type          string         `json:"type"`
	SessionID     string         `json:"session_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Pusher is the write side of per-session delivery. Implementations must
// never block the caller: executors and the workflow engine push from hot
// paths and a slow client cannot be allowed to stall them.
type Pusher interface {
	Push(sessionID string, msg Message)
}

// Hub routes messages to the live connections of each session. A session may
// hold several connections (two browser tabs, a CLI tail); each gets its own
// buffered channel and slow ones drop messages independently.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]chan Message
	seq  atomic.Uint64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]chan Message)}
}

// Push delivers msg to every connection attached for the session.
// Non-blocking: full channels drop the message.
func (h *Hub) Push(sessionID string, msg Message) {
	if sessionID == "" {
		return
	}
	msg.SessionID = sessionID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[sessionID] {
		select {
		case ch <- msg:
		default:
			// backpressure: drop message for slow connection
		}
	}
}

// Attach registers a connection for the session and returns its message
// channel plus a detach function. Detach is idempotent.
func (h *Hub) Attach(sessionID string) (<-chan Message, func()) {
	id := h.seq.Add(1)
	ch := make(chan Message, sessionChannelBuffer)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[uint64]chan Message)
	}
	h.subs[sessionID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	detach := func() {
		once.Do(func() {
			h.mu.Lock()
			if conns, ok := h.subs[sessionID]; ok {
				delete(conns, id)
				if len(conns) == 0 {
					delete(h.subs, sessionID)
				}
			}
			h.mu.Unlock()
		})
	}
	return ch, detach
}

// Connections reports the number of live connections for a session.
func (h *Hub) Connections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Sessions reports the number of sessions with at least one connection.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
