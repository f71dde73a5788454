package events

import (
	"context"
	"time"
)

// Event is the stable envelope published for every state transition: sandbox
// and session lifecycle, tool start/complete/error, rate-limit denials,
// workflow and rollback progress, and task queue activity.
type Event struct {
	Type          string         `json:"type"`
	CorrelationID string         `json:"correlation_id"`
	SandboxID     string         `json:"sandbox_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Publisher is the write side of the event bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Filter specifies which events a subscriber wants to receive.
type Filter struct {
	CorrelationID string   `json:"correlation_id,omitempty"`
	SandboxID     string   `json:"sandbox_id,omitempty"`
	Types         []string `json:"types,omitempty"`
}

// Bus is a publish/subscribe event bus.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}

// matchFilter returns true if the event passes the filter criteria.
func matchFilter(f Filter, e Event) bool {
	if f.CorrelationID != "" && f.CorrelationID != e.CorrelationID {
		return false
	}
	if f.SandboxID != "" && f.SandboxID != e.SandboxID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
