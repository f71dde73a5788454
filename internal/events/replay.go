package events

import (
	"container/list"
	"sync"
	"time"
)

// ReplayEntry is one row of the per-correlation debugging trail.
type ReplayEntry struct {
	CorrelationID string         `json:"correlation_id"`
	Sequence      int64          `json:"sequence"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ReplayLogConfig bounds the replay registry.
type ReplayLogConfig struct {
	// MaxCorrelations caps distinct correlation IDs; the least recently
	// appended-to is evicted beyond the cap.
	MaxCorrelations int
	// MaxEntries caps entries per correlation; oldest entries are dropped
	// beyond the cap. Sequences keep climbing so truncation is detectable.
	MaxEntries int
	// MaxAge prunes correlations whose newest entry is older than this.
	MaxAge time.Duration
}

// DefaultReplayLogConfig returns the default bounds.
func DefaultReplayLogConfig() ReplayLogConfig {
	return ReplayLogConfig{
		MaxCorrelations: 256,
		MaxEntries:      512,
		MaxAge:          time.Hour,
	}
}

// correlationLog holds the ordered entries for a single correlation ID.
type correlationLog struct {
	entries    []ReplayEntry
	seq        int64
	lastAppend time.Time
	elem       *list.Element
}

// ReplayLog is an in-memory, bounded, per-correlation-id ordered event trail.
// It is a debugging aid, not a system of record: entries are evicted by count
// and age, and nothing is persisted. Each correlation carries a contiguous
// sequence starting at 1; after eviction the first retained sequence is > 1,
// which readers can use to detect truncation.
type ReplayLog struct {
	mu     sync.Mutex
	config ReplayLogConfig
	logs   map[string]*correlationLog
	order  *list.List // correlation IDs, least recently appended first
}

// NewReplayLog creates a bounded replay log. Zero config fields fall back to
// defaults.
func NewReplayLog(config ReplayLogConfig) *ReplayLog {
	def := DefaultReplayLogConfig()
	if config.MaxCorrelations <= 0 {
		config.MaxCorrelations = def.MaxCorrelations
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = def.MaxEntries
	}
	if config.MaxAge <= 0 {
		config.MaxAge = def.MaxAge
	}
	return &ReplayLog{
		config: config,
		logs:   make(map[string]*correlationLog),
		order:  list.New(),
	}
}

// Append records an event for the correlation ID and returns its sequence.
// An empty correlation ID is ignored.
func (r *ReplayLog) Append(correlationID, eventType string, payload map[string]any) int64 {
	if correlationID == "" {
		return 0
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneAgedLocked(now)

	cl, ok := r.logs[correlationID]
	if !ok {
		r.evictOverCapLocked()
		cl = &correlationLog{}
		cl.elem = r.order.PushBack(correlationID)
		r.logs[correlationID] = cl
	} else {
		r.order.MoveToBack(cl.elem)
	}

	cl.seq++
	cl.lastAppend = now
	cl.entries = append(cl.entries, ReplayEntry{
		CorrelationID: correlationID,
		Sequence:      cl.seq,
		Type:          eventType,
		Payload:       payload,
		Timestamp:     now,
	})
	if over := len(cl.entries) - r.config.MaxEntries; over > 0 {
		cl.entries = append(cl.entries[:0], cl.entries[over:]...)
	}
	return cl.seq
}

// Entries returns an ordered copy of the trail for one correlation ID.
// A nil slice means the correlation is unknown (or fully evicted).
func (r *ReplayLog) Entries(correlationID string) []ReplayEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneAgedLocked(time.Now().UTC())

	cl, ok := r.logs[correlationID]
	if !ok {
		return nil
	}
	out := make([]ReplayEntry, len(cl.entries))
	copy(out, cl.entries)
	return out
}

// Truncated reports whether older entries for the correlation ID were evicted.
func (r *ReplayLog) Truncated(correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cl, ok := r.logs[correlationID]
	if !ok || len(cl.entries) == 0 {
		return false
	}
	return cl.entries[0].Sequence > 1
}

// Correlations returns the number of correlation IDs currently retained.
func (r *ReplayLog) Correlations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}

// evictOverCapLocked drops least recently appended correlations until a new
// one fits under MaxCorrelations.
func (r *ReplayLog) evictOverCapLocked() {
	for len(r.logs) >= r.config.MaxCorrelations {
		front := r.order.Front()
		if front == nil {
			return
		}
		id := front.Value.(string)
		r.order.Remove(front)
		delete(r.logs, id)
	}
}

// pruneAgedLocked drops correlations whose newest entry is past MaxAge.
func (r *ReplayLog) pruneAgedLocked(now time.Time) {
	cutoff := now.Add(-r.config.MaxAge)
	for e := r.order.Front(); e != nil; {
		next := e.Next()
		id := e.Value.(string)
		if cl, ok := r.logs[id]; ok && cl.lastAppend.Before(cutoff) {
			r.order.Remove(e)
			delete(r.logs, id)
		}
		e = next
	}
}
