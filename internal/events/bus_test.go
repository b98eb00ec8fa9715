package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	received := []Event{}

	unsub := bus.Subscribe(EventCaseFinished, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	defer unsub()

	bus.Publish(EventCaseFinished, map[string]interface{}{
		"case":   "suite/login.md",
		"status": "pass",
	})

	// Wait for async delivery
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != EventCaseFinished {
		t.Errorf("expected type %s, got %s", EventCaseFinished, received[0].Type)
	}
	if c, ok := received[0].Data["case"].(string); !ok || c != "suite/login.md" {
		t.Errorf("expected case suite/login.md, got %v", received[0].Data["case"])
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	counts := map[int]int{}

	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(EventCaseStarted, func(e Event) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		})
	}

	bus.Publish(EventCaseStarted, map[string]interface{}{"case": "a.md"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 3; i++ {
		if counts[i] != 1 {
			t.Errorf("subscriber %d: expected 1 event, got %d", i, counts[i])
		}
	}
}

func TestBus_TypeIsolation(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	got := 0
	bus.Subscribe(EventRunCompleted, func(e Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	bus.Publish(EventCaseStarted, map[string]interface{}{})
	bus.Publish(EventCaseFinished, map[string]interface{}{})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got != 0 {
		t.Errorf("expected no events for other types, got %d", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	got := 0
	unsub := bus.Subscribe(EventCaseFinished, func(e Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	bus.Publish(EventCaseFinished, map[string]interface{}{})
	time.Sleep(50 * time.Millisecond)
	unsub()
	bus.Publish(EventCaseFinished, map[string]interface{}{})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", got)
	}
}

func TestBus_PanickingSubscriberDoesNotDisruptOthers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	bus.Subscribe(EventCaseFinished, func(e Event) {
		panic("subscriber bug")
	})

	var mu sync.Mutex
	got := 0
	bus.Subscribe(EventCaseFinished, func(e Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	bus.Publish(EventCaseFinished, map[string]interface{}{})
	bus.Publish(EventCaseFinished, map[string]interface{}{})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got != 2 {
		t.Errorf("expected healthy subscriber to get 2 events, got %d", got)
	}
}

func TestBus_NonBlockingWhenBufferFull(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(EventCaseFinished, func(e Event) {
		<-block
	})

	// Publishes beyond the buffer must not block the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(EventCaseFinished, map[string]interface{}{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
	close(block)
}
