package mcp

import (
	"encoding/json"
	"sync"
)

// EventKind is the closed set of registry and connection events.
type EventKind int

const (
	// EventStateChanged fires on every connection state transition.
	EventStateChanged EventKind = iota
	// EventToolsChanged fires when a server pushes tools/list_changed and
	// the cached tool set has been invalidated.
	EventToolsChanged
	// EventResourcesChanged fires on resources/list_changed.
	EventResourcesChanged
	// EventResourceUpdated fires on resources/updated; Params carries the
	// raw notification payload.
	EventResourceUpdated
	// EventPromptsChanged fires on prompts/list_changed.
	EventPromptsChanged
	// EventServerLog fires for notifications/message pushes.
	EventServerLog
	// EventExecutionStarted fires when a tool execution record is created.
	EventExecutionStarted
	// EventExecutionFinished fires when a tool execution reaches a terminal state.
	EventExecutionFinished
	// EventReconnectExhausted fires once when a connection uses up its
	// reconnect budget. Terminal until a manual reconnect.
	EventReconnectExhausted
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventToolsChanged:
		return "tools_changed"
	case EventResourcesChanged:
		return "resources_changed"
	case EventResourceUpdated:
		return "resource_updated"
	case EventPromptsChanged:
		return "prompts_changed"
	case EventServerLog:
		return "server_log"
	case EventExecutionStarted:
		return "execution_started"
	case EventExecutionFinished:
		return "execution_finished"
	case EventReconnectExhausted:
		return "reconnect_exhausted"
	default:
		return "unknown"
	}
}

// Event is one registry-level occurrence, tagged by server.
type Event struct {
	Kind     EventKind
	ServerID string

	// State and Attempt are set for EventStateChanged.
	State   ConnectionState
	Attempt int

	// Err is set for failure events (state transitions into error,
	// reconnect exhaustion).
	Err error

	// Execution is a copy of the record for execution events.
	Execution *ToolExecution

	// Params carries raw notification payloads where the event has one.
	Params json.RawMessage
}

// eventBus fans Events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses that event.
type eventBus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

// subscribe returns a receive channel and an unsubscribe func. The channel
// is closed on unsubscribe or bus close.
func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// publish delivers ev to every subscriber with room in its buffer.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default: // subscriber is behind; drop rather than block the publisher
		}
	}
}

// close shuts the bus down and closes all subscriber channels.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
