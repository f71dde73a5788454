package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func TestFanoutPublishesToAll(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{}
	fan := NewFanout(nil, a, b)

	err := fan.Publish(context.Background(), Event{Type: "SANDBOX_CREATED", SandboxID: "sbx-1"})
	require.NoError(t, err)

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, "SANDBOX_CREATED", a.events[0].Type)
}

func TestFanoutFailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("bus down")
	a := &recordingPublisher{err: boom}
	b := &recordingPublisher{}
	fan := NewFanout(nil, a, b)

	err := fan.Publish(context.Background(), Event{Type: "TASK_FAILED"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, b.events, 1)
}

type countingCounter struct {
	types []string
}

func (c *countingCounter) RecordEventPublished(eventType string) {
	c.types = append(c.types, eventType)
}

func TestMeteredCountsSuccessfulPublishes(t *testing.T) {
	inner := &recordingPublisher{}
	counter := &countingCounter{}
	pub := NewMetered(inner, counter)

	require.NoError(t, pub.Publish(context.Background(), Event{Type: "TOOL_EXECUTION_STARTED"}))
	require.NoError(t, pub.Publish(context.Background(), Event{Type: "TOOL_EXECUTION_COMPLETED"}))

	assert.Equal(t, []string{"TOOL_EXECUTION_STARTED", "TOOL_EXECUTION_COMPLETED"}, counter.types)
	assert.Len(t, inner.events, 2)
}

func TestMeteredSkipsFailedPublishes(t *testing.T) {
	inner := &recordingPublisher{err: errors.New("bus down")}
	counter := &countingCounter{}
	pub := NewMetered(inner, counter)

	assert.Error(t, pub.Publish(context.Background(), Event{Type: "TASK_QUEUED"}))
	assert.Empty(t, counter.types)
}

func TestMeteredNilCounterPassesThrough(t *testing.T) {
	inner := &recordingPublisher{}
	pub := NewMetered(inner, nil)
	assert.Same(t, inner, pub)
}
