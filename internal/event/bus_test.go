package event

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe(TypePhaseAdvanced, func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_SubscribeUniqueIDs(t *testing.T) {
	bus := NewBus()
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := bus.Subscribe("x", func(Event) {})
		if seen[id] {
			t.Fatalf("duplicate subscription ID %q", id)
		}
		seen[id] = true
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(TypeItemHandoff, func(e Event) {
		received = e
	})

	bus.Publish(NewItemHandoffEvent("run-1", "processor", "MID", OpPut, 4, "PROCESSED", 2, 3))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	handoff, ok := received.(ItemHandoffEvent)
	if !ok {
		t.Fatalf("received %T, want ItemHandoffEvent", received)
	}
	if handoff.Channel != "MID" || handoff.ItemID != 4 || handoff.Len != 2 || handoff.Cap != 3 {
		t.Errorf("unexpected payload: %+v", handoff)
	}
	if handoff.Timestamp().IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestBus_PublishOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "wildcard") })
	bus.Subscribe(TypeWorkerStarted, func(e Event) { order = append(order, "first") })
	bus.Subscribe(TypeWorkerStarted, func(e Event) { order = append(order, "second") })

	bus.Publish(NewWorkerStartedEvent("run-1", "supplier", "supplier"))

	want := []string{"first", "second", "wildcard"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestBus_PublishIgnoresOtherTypes(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe(TypePipelineStarted, func(e Event) { calls++ })
	bus.Publish(NewPipelineStoppedEvent("run-1", 0, nil))

	if calls != 0 {
		t.Errorf("handler called %d times for unrelated event", calls)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	id := bus.Subscribe(TypePhaseAdvanced, func(e Event) { calls++ })
	other := bus.Subscribe(TypePhaseAdvanced, func(e Event) {})

	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return true for existing subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return false for removed subscription")
	}

	bus.Publish(NewPhaseAdvancedEvent("run-1", 0, "SUPPLY", 6))
	if calls != 0 {
		t.Errorf("unsubscribed handler called %d times", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}

	bus.Unsubscribe(other)
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", bus.SubscriptionCount())
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus()

	var reported string
	bus.OnPanic(func(eventType string, recovered any, stack []byte) {
		reported = eventType
	})

	delivered := false
	bus.Subscribe(TypeWorkerStopped, func(e Event) { panic("boom") })
	bus.Subscribe(TypeWorkerStopped, func(e Event) { delivered = true })

	bus.Publish(NewWorkerStoppedEvent("run-1", "packer", "packer", 3, "stopped"))

	if !delivered {
		t.Error("handlers after a panicking handler should still run")
	}
	if reported != TypeWorkerStopped {
		t.Errorf("panic reporter got %q, want %q", reported, TypeWorkerStopped)
	}
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus
	bus.Publish(NewPipelineStartedEvent("run-1", 6, nil))

	NewBus().Publish(nil)
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", func(Event) {})
	bus.SubscribeAll(func(Event) {})
	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Clear", bus.SubscriptionCount())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var count atomic.Int64
	bus.SubscribeAll(func(Event) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(NewPhaseAdvancedEvent("run-1", j, "PACK", 6))
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := bus.Subscribe(TypeItemHandoff, func(Event) {})
			bus.Unsubscribe(id)
		}()
	}
	wg.Wait()

	if got := count.Load(); got != 800 {
		t.Errorf("wildcard handler saw %d events, want 800", got)
	}
}
