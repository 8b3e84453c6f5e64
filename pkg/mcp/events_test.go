package mcp

import (
	"testing"
	"time"
)

func TestEventBus_FanOut(t *testing.T) {
	bus := newEventBus()
	a, unsubA := bus.subscribe(4)
	b, unsubB := bus.subscribe(4)
	defer unsubA()
	defer unsubB()

	bus.publish(Event{Kind: EventToolsChanged, ServerID: "s1"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Kind != EventToolsChanged || ev.ServerID != "s1" {
				t.Errorf("subscriber %s got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received", name)
		}
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := newEventBus()
	ch, unsub := bus.subscribe(4)
	unsub()

	if _, open := <-ch; open {
		t.Error("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or deliver.
	bus.publish(Event{Kind: EventStateChanged})

	// A second unsubscribe is a no-op.
	unsub()
}

func TestEventBus_SlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := newEventBus()
	ch, unsub := bus.subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.publish(Event{Kind: EventServerLog, ServerID: "s1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// The buffer held exactly one event; the rest were dropped.
	if ev := <-ch; ev.Kind != EventServerLog {
		t.Errorf("kind = %v, want %v", ev.Kind, EventServerLog)
	}
	select {
	case _, open := <-ch:
		if open {
			t.Error("more than one event was buffered")
		}
	default:
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := newEventBus()
	ch, _ := bus.subscribe(4)

	bus.close()

	if _, open := <-ch; open {
		t.Error("channel should be closed after bus close")
	}

	// Subscribing after close yields a closed channel.
	late, unsub := bus.subscribe(4)
	if _, open := <-late; open {
		t.Error("late subscription should be closed immediately")
	}
	unsub()
}

func TestEventKindString(t *testing.T) {
	kinds := []EventKind{
		EventStateChanged, EventToolsChanged, EventResourcesChanged,
		EventResourceUpdated, EventPromptsChanged, EventServerLog,
		EventExecutionStarted, EventExecutionFinished, EventReconnectExhausted,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		if s == "" || s == "unknown" {
			t.Errorf("kind %d has no name", k)
		}
		if seen[s] {
			t.Errorf("duplicate name %q", s)
		}
		seen[s] = true
	}
}
