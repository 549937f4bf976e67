package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(PipelineStarted, func(e Event) {
		received <- e
	})

	bus.Publish(PipelineStarted, map[string]any{"run_id": "r1"})

	select {
	case e := <-received:
		if e.Type != PipelineStarted {
			t.Errorf("event type = %s, want %s", e.Type, PipelineStarted)
		}
		if e.Data["run_id"] != "r1" {
			t.Errorf("run_id = %v, want r1", e.Data["run_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		bus.Subscribe(RouterModelSelected, func(Event) {
			wg.Done()
		})
	}

	bus.Publish(RouterModelSelected, nil)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all subscribers received the event")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan Event, 10)
	unsubscribe := bus.Subscribe(PipelineCompleted, func(e Event) {
		received <- e
	})
	unsubscribe()

	bus.Publish(PipelineCompleted, nil)

	select {
	case <-received:
		t.Error("received event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan EventType, 2)
	bus.SubscribeAll(func(e Event) {
		received <- e.Type
	})

	bus.Publish(PipelineStarted, nil)
	bus.Publish(RegistryHealthChecked, nil)

	got := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case et := <-received:
			got[et] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for wildcard events")
		}
	}
	if !got[PipelineStarted] || !got[RegistryHealthChecked] {
		t.Errorf("wildcard subscriber missed events: %v", got)
	}
}

func TestBusSubscriberPanicIsolated(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	bus.Subscribe(PipelineError, func(Event) {
		panic("subscriber bug")
	})
	received := make(chan Event, 1)
	bus.Subscribe(PipelineError, func(e Event) {
		received <- e
	})

	bus.Publish(PipelineError, nil)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber starved by panicking one")
	}
}

func TestBusNonBlockingPublish(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	// Subscriber that never drains.
	block := make(chan struct{})
	bus.Subscribe(RouterBudgetWarning, func(Event) {
		<-block
	})
	defer close(block)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(RouterBudgetWarning, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
