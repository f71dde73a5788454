package events

import "context"

// PublishCounter counts published events, usually backed by Prometheus.
type PublishCounter interface {
	RecordEventPublished(eventType string)
}

// Metered wraps a Publisher and counts every successful publish.
type Metered struct {
	inner   Publisher
	counter PublishCounter
}

// NewMetered decorates inner with the counter. A nil counter passes through.
func NewMetered(inner Publisher, counter PublishCounter) Publisher {
	if counter == nil {
		return inner
	}
	return &Metered{inner: inner, counter: counter}
}

func (m *Metered) Publish(ctx context.Context, event Event) error {
	if err := m.inner.Publish(ctx, event); err != nil {
		return err
	}
	m.counter.RecordEventPublished(event.Type)
	return nil
}
