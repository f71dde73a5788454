package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedisBus(t *testing.T) (*miniredis.Miniredis, *RedisBus) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	bus, err := NewRedisBus(mr.Addr(), "driveline.events", nil)
	require.NoError(t, err)
	return mr, bus
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr, bus := setupTestRedisBus(t)
	defer mr.Close()
	defer bus.Close()

	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	event := Event{
		Type:          "CAMPAIGN_CREATED",
		CorrelationID: "corr-1",
		SandboxID:     "sbx-1",
		Payload:       map[string]any{"campaign_id": "cmp-1"},
	}
	err = bus.Publish(ctx, event)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "CAMPAIGN_CREATED", got.Type)
		assert.Equal(t, "corr-1", got.CorrelationID)
		assert.Equal(t, "sbx-1", got.SandboxID)
		assert.Equal(t, "cmp-1", got.Payload["campaign_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisBusFilter(t *testing.T) {
	mr, bus := setupTestRedisBus(t)
	defer mr.Close()
	defer bus.Close()

	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, Filter{Types: []string{"TASK_COMPLETED"}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bus.Publish(ctx, Event{Type: "TASK_STARTED", CorrelationID: "corr-1"}))
	require.NoError(t, bus.Publish(ctx, Event{Type: "TASK_COMPLETED", CorrelationID: "corr-1"}))

	select {
	case got := <-ch:
		assert.Equal(t, "TASK_COMPLETED", got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisBusUnreachable(t *testing.T) {
	_, err := NewRedisBus("localhost:1", "driveline.events", nil)
	assert.Error(t, err)
}

func TestRedisBusSubscribeCancelledContext(t *testing.T) {
	mr, bus := setupTestRedisBus(t)
	defer mr.Close()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := bus.Subscribe(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}
