package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	event := Event{
		Type:          "TOOL_EXECUTION_COMPLETED",
		CorrelationID: "corr-1",
		SandboxID:     "sbx-1",
		Payload:       map[string]any{"tool": "dealer.search_inventory"},
	}

	err = bus.Publish(ctx, event)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, event.Type, got.Type)
		assert.Equal(t, event.CorrelationID, got.CorrelationID)
		assert.Equal(t, event.SandboxID, got.SandboxID)
		assert.False(t, got.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterByCorrelationID(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, Filter{CorrelationID: "corr-1"})
	require.NoError(t, err)
	defer cancel()

	// Should be received (matching correlation)
	err = bus.Publish(ctx, Event{Type: "TOOL_EXECUTION_STARTED", CorrelationID: "corr-1"})
	require.NoError(t, err)

	// Should be dropped (different correlation)
	err = bus.Publish(ctx, Event{Type: "TOOL_EXECUTION_STARTED", CorrelationID: "corr-2"})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "corr-1", got.CorrelationID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	// Channel should be empty -- the corr-2 event was filtered out.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}

func TestFilterBySandboxID(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, Filter{SandboxID: "sbx-1"})
	require.NoError(t, err)
	defer cancel()

	err = bus.Publish(ctx, Event{Type: "SESSION_CREATED", SandboxID: "sbx-2"})
	require.NoError(t, err)
	err = bus.Publish(ctx, Event{Type: "SESSION_CREATED", SandboxID: "sbx-1"})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "sbx-1", got.SandboxID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterByEventType(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, Filter{
		Types: []string{"TOOL_EXECUTION_COMPLETED", "ORCHESTRATION_SEQUENCE_FAILED"},
	})
	require.NoError(t, err)
	defer cancel()

	// Should be received
	err = bus.Publish(ctx, Event{Type: "TOOL_EXECUTION_COMPLETED", CorrelationID: "corr-1"})
	require.NoError(t, err)

	// Should be dropped
	err = bus.Publish(ctx, Event{Type: "TOOL_EXECUTION_STARTED", CorrelationID: "corr-1"})
	require.NoError(t, err)

	// Should be received
	err = bus.Publish(ctx, Event{Type: "ORCHESTRATION_SEQUENCE_FAILED", CorrelationID: "corr-1"})
	require.NoError(t, err)

	var received []string
	for i := 0; i < 2; i++ {
		select {
		case got := <-ch:
			received = append(received, got.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []string{"TOOL_EXECUTION_COMPLETED", "ORCHESTRATION_SEQUENCE_FAILED"}, received)

	// No more events
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	ch1, cancel1, err := bus.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel1()

	ch2, cancel2, err := bus.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel2()

	event := Event{Type: "SANDBOX_CREATED", SandboxID: "sbx-1"}
	err = bus.Publish(ctx, event)
	require.NoError(t, err)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "SANDBOX_CREATED", got.Type)
			assert.Equal(t, "sbx-1", got.SandboxID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestCancelSubscription(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	// Cancel removes the subscriber
	cancel()

	err = bus.Publish(ctx, Event{Type: "SANDBOX_CREATED", SandboxID: "sbx-1"})
	require.NoError(t, err)

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event after cancel: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected: subscriber was removed
	}

	// Verify subscriber map is empty
	bus.mu.RLock()
	assert.Empty(t, bus.subs)
	bus.mu.RUnlock()
}

func TestBackpressure(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	// Fill the channel buffer (64) then publish some more.
	// None of these should block.
	for i := 0; i < defaultChannelBuffer+10; i++ {
		err = bus.Publish(ctx, Event{Type: "TASK_QUEUED", CorrelationID: "corr-1"})
		require.NoError(t, err)
	}

	// We should be able to drain exactly defaultChannelBuffer events.
	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			goto done
		}
	}
done:
	assert.Equal(t, defaultChannelBuffer, drained)
}

func TestConcurrentAccess(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()
	const goroutines = 20
	const eventsPerGoroutine = 50

	var wg sync.WaitGroup

	// Start subscribers
	cancels := make([]func(), goroutines)
	for i := 0; i < goroutines; i++ {
		_, cancel, err := bus.Subscribe(ctx, Filter{})
		require.NoError(t, err)
		cancels[i] = cancel
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	// Concurrent publishers
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = bus.Publish(ctx, Event{
					Type:          "TASK_QUEUED",
					CorrelationID: "corr-concurrent",
				})
			}
		}()
	}

	// Concurrent subscribers being added/removed
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel, err := bus.Subscribe(ctx, Filter{})
			if err != nil {
				return
			}
			// drain a few then cancel
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}

	wg.Wait()
}

func TestPublishCancelledContext(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Publish(ctx, Event{Type: "TASK_QUEUED"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubscribeCancelledContext(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := bus.Subscribe(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}
