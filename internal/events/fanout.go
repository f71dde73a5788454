package events

import (
	"context"
	"log/slog"
)

// Fanout publishes every event to all configured publishers. A failing
// publisher is logged and does not stop the others; the first error is
// returned so callers can decide how loudly to complain.
type Fanout struct {
	publishers []Publisher
	logger     *slog.Logger
}

// NewFanout composes publishers behind a single Publisher.
func NewFanout(logger *slog.Logger, publishers ...Publisher) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{publishers: publishers, logger: logger}
}

func (f *Fanout) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			f.logger.WarnContext(ctx, "event publish failed",
				"type", event.Type, "correlation_id", event.CorrelationID, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
