package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubscribeAndEmit(t *testing.T) {
	eb := NewEventBus()
	received := make(chan Event, 1)

	eb.Subscribe(EventTurnEnded, "test", func(ctx context.Context, e Event) error {
		received <- e
		return nil
	})

	eb.Emit(context.Background(), Event{
		Type:    EventTurnEnded,
		Source:  "test",
		Payload: TurnPayload{TurnNumber: 3},
	})

	select {
	case e := <-received:
		p, ok := e.Payload.(TurnPayload)
		if !ok || p.TurnNumber != 3 {
			t.Errorf("payload = %+v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestEmitOnlyMatchingType(t *testing.T) {
	eb := NewEventBus()
	var calls int32
	eb.Subscribe(EventTurnEnded, "test", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	if err := eb.EmitSync(context.Background(), Event{Type: EventTurnStarted}); err != nil {
		t.Fatalf("EmitSync failed: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("handler ran %d times for a foreign event type", n)
	}
}

func TestEmitSyncReturnsHandlerError(t *testing.T) {
	eb := NewEventBus()
	boom := errors.New("boom")
	eb.Subscribe(EventGameSaved, "failing", func(ctx context.Context, e Event) error {
		return boom
	})

	if err := eb.EmitSync(context.Background(), Event{Type: EventGameSaved}); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want the handler's", err)
	}
}

func TestEmitSyncRecoversPanic(t *testing.T) {
	eb := NewEventBus()
	var survived int32
	eb.Subscribe(EventGameSaved, "panicking", func(ctx context.Context, e Event) error {
		panic("handler exploded")
	})
	eb.Subscribe(EventGameSaved, "healthy", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&survived, 1)
		return nil
	})

	if err := eb.EmitSync(context.Background(), Event{Type: EventGameSaved}); err != nil {
		t.Fatalf("EmitSync failed: %v", err)
	}
	if atomic.LoadInt32(&survived) != 1 {
		t.Error("healthy handler starved by the panicking one")
	}
}

func TestUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	var calls int32
	handler := func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	eb.Subscribe(EventTurnEnded, "a", handler)
	eb.Subscribe(EventTurnEnded, "b", handler)
	if got := eb.HandlerCount(EventTurnEnded); got != 2 {
		t.Fatalf("handlers = %d, want 2", got)
	}

	eb.Unsubscribe(EventTurnEnded, "a")
	if got := eb.HandlerCount(EventTurnEnded); got != 1 {
		t.Fatalf("handlers = %d after unsubscribe, want 1", got)
	}

	if err := eb.EmitSync(context.Background(), Event{Type: EventTurnEnded}); err != nil {
		t.Fatalf("EmitSync failed: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want only the remaining handler", n)
	}
}

func TestEmitAfterStopDropped(t *testing.T) {
	eb := NewEventBus()
	var calls int32
	eb.Subscribe(EventShutdown, "test", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	eb.Stop()
	eb.Emit(context.Background(), Event{Type: EventShutdown})
	if err := eb.EmitSync(context.Background(), Event{Type: EventShutdown}); err != nil {
		t.Fatalf("EmitSync failed: %v", err)
	}

	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("stopped bus delivered %d events", n)
	}
	select {
	case <-eb.StopCh():
	default:
		t.Error("stop channel not closed")
	}
}
