package game

import (
	"sync"
	"time"
)

// EventType identifies what happened to a match session.
type EventType int

const (
	// EventStateChanged fires after a local engine operation mutated the board.
	EventStateChanged EventType = iota
	// EventUndone fires after a history entry was restored.
	EventUndone
	// EventRemoteApplied fires after a state received from the room replaced the board.
	EventRemoteApplied
	// EventTimelineRestored fires after a bookmark or autosave replaced the board.
	EventTimelineRestored
	// EventTimelineChanged fires when bookmarks or autosaves are added, edited or removed.
	EventTimelineChanged
	// EventImported fires after a session document was loaded.
	EventImported
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventUndone:
		return "undone"
	case EventRemoteApplied:
		return "remote_applied"
	case EventTimelineRestored:
		return "timeline_restored"
	case EventTimelineChanged:
		return "timeline_changed"
	case EventImported:
		return "imported"
	default:
		return "unknown"
	}
}

// Event describes a change to a match session. Observers re-read the
// session state when they receive one.
type Event struct {
	Type        EventType
	TargetID    string // bookmark or card id, when relevant
	Turn        int
	Timestamp   time.Time
	Description string
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType, turn int, targetID, description string) Event {
	return Event{
		Type:        eventType,
		TargetID:    targetID,
		Turn:        turn,
		Timestamp:   time.Now(),
		Description: description,
	}
}

// Listener defines a callback that reacts to incoming events.
type Listener func(Event)

type typedListener struct {
	handle   int
	callback Listener
}

// EventBus provides a synchronous publish/subscribe implementation with type filtering.
type EventBus struct {
	mu             sync.RWMutex
	listeners      map[int]Listener
	typedListeners map[EventType][]typedListener
	nextHandle     int
}

// NewEventBus constructs a fresh event bus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		listeners:      make(map[int]Listener),
		typedListeners: make(map[EventType][]typedListener),
	}
}

// Subscribe registers a listener for all events and returns a handle.
func (bus *EventBus) Subscribe(listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.listeners[handle] = listener
	return handle
}

// SubscribeTyped registers a listener for a single event type.
func (bus *EventBus) SubscribeTyped(eventType EventType, listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.typedListeners[eventType] = append(bus.typedListeners[eventType], typedListener{handle: handle, callback: listener})
	return handle
}

// Unsubscribe removes the listener identified by the provided handle.
func (bus *EventBus) Unsubscribe(handle int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.listeners, handle)
	for eventType, listeners := range bus.typedListeners {
		for i := len(listeners) - 1; i >= 0; i-- {
			if listeners[i].handle == handle {
				bus.typedListeners[eventType] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to all registered listeners synchronously.
func (bus *EventBus) Publish(event Event) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, listener := range bus.listeners {
		listener(event)
	}
	for _, listener := range bus.typedListeners[event.Type] {
		listener.callback(event)
	}
}
