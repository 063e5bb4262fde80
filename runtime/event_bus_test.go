package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leeforge/lifecycle/plugin"
	"go.uber.org/zap"
)

func TestEventBus_PublishAndSubscribe(t *testing.T) {
	bus := NewEventBus(1024, zap.NewNop())
	defer bus.Close()

	received := make(chan plugin.Event, 1)
	bus.Subscribe(plugin.EventPluginLoaded, func(ctx context.Context, e plugin.Event) error {
		received <- e
		return nil
	})

	err := bus.Publish(context.Background(), plugin.Event{Name: plugin.EventPluginLoaded, PluginID: "alpha"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.PluginID != "alpha" {
			t.Fatalf("expected plugin alpha, got %q", e.PluginID)
		}
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Fatalf("expected id and timestamp to be filled, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not called")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(1024, zap.NewNop())
	defer bus.Close()

	var count atomic.Int32
	bus.Subscribe("evt", func(ctx context.Context, e plugin.Event) error {
		count.Add(1)
		return nil
	})
	bus.Subscribe("evt", func(ctx context.Context, e plugin.Event) error {
		count.Add(1)
		return nil
	})

	bus.Publish(context.Background(), plugin.Event{Name: "evt"})
	time.Sleep(100 * time.Millisecond)

	if got := count.Load(); got != 2 {
		t.Fatalf("expected 2 handler calls, got %d", got)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(1024, zap.NewNop())
	defer bus.Close()

	var count atomic.Int32
	sub := bus.Subscribe("evt", func(ctx context.Context, e plugin.Event) error {
		count.Add(1)
		return nil
	})

	bus.Publish(context.Background(), plugin.Event{Name: "evt"})
	time.Sleep(100 * time.Millisecond)

	sub.Unsubscribe()

	bus.Publish(context.Background(), plugin.Event{Name: "evt"})
	time.Sleep(100 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Fatalf("expected 1 call (unsubscribed before second), got %d", got)
	}
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	bus := NewEventBus(1024, zap.NewNop())
	bus.Close()

	err := bus.Publish(context.Background(), plugin.Event{Name: "evt"})
	if err != plugin.ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestEventBus_CloseWaitsForInFlight(t *testing.T) {
	bus := NewEventBus(1024, zap.NewNop())

	done := make(chan struct{})
	bus.Subscribe("slow", func(ctx context.Context, e plugin.Event) error {
		time.Sleep(200 * time.Millisecond)
		close(done)
		return nil
	})

	bus.Publish(context.Background(), plugin.Event{Name: "slow"})
	time.Sleep(50 * time.Millisecond) // let dispatcher pick it up

	bus.Close() // should block until handler finishes

	select {
	case <-done:
		// good -- handler completed before Close returned
	default:
		t.Fatal("Close returned before in-flight handler completed")
	}
}

func TestEventBus_NoMatchingSubscriber(t *testing.T) {
	bus := NewEventBus(1024, zap.NewNop())
	defer bus.Close()

	// Should not error -- just no-op
	err := bus.Publish(context.Background(), plugin.Event{Name: "no.listeners"})
	if err != nil {
		t.Fatalf("Publish with no subscribers should not error: %v", err)
	}
}

func TestEventBus_ContextCancellation(t *testing.T) {
	// Small buffer to force backpressure
	bus := NewEventBus(1, zap.NewNop())
	defer bus.Close()

	bus.Subscribe("fill", func(ctx context.Context, e plugin.Event) error {
		time.Sleep(5 * time.Second) // intentionally slow
		return nil
	})

	// Fill the buffer
	bus.Publish(context.Background(), plugin.Event{Name: "fill"})

	// Now try with a cancelled context
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := bus.Publish(ctx, plugin.Event{Name: "fill"})
	// Should either succeed (if buffer drained) or timeout
	if err != nil && err != plugin.ErrPublishTimeout {
		t.Fatalf("expected nil or ErrPublishTimeout, got %v", err)
	}
}

func TestEventBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus(16, zap.NewNop())

	var after atomic.Int32
	bus.Subscribe("evt", func(ctx context.Context, e plugin.Event) error {
		panic("handler bug")
	})
	bus.Subscribe("evt", func(ctx context.Context, e plugin.Event) error {
		after.Add(1)
		return nil
	})

	bus.Publish(context.Background(), plugin.Event{Name: "evt"})
	bus.Close()

	if got := after.Load(); got != 1 {
		t.Fatalf("expected the second handler to run, got %d", got)
	}
}

func TestTrackingBus_UnsubscribeAll(t *testing.T) {
	bus := NewEventBus(16, zap.NewNop())
	defer bus.Close()

	tracked := newTrackingBus(bus)
	var count atomic.Int32
	tracked.Subscribe("evt", func(ctx context.Context, e plugin.Event) error {
		count.Add(1)
		return nil
	})
	tracked.Subscribe("other", func(ctx context.Context, e plugin.Event) error {
		count.Add(1)
		return nil
	})

	if err := tracked.Close(); err != nil {
		t.Fatalf("tracking bus close: %v", err)
	}
	tracked.unsubscribeAll()
	tracked.unsubscribeAll()

	if err := tracked.Publish(context.Background(), plugin.Event{Name: "evt"}); err != nil {
		t.Fatalf("publish through tracking bus after its Close: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Fatalf("expected no calls after unsubscribeAll, got %d", got)
	}

	var nilBus *trackingBus
	nilBus.unsubscribeAll()
}
