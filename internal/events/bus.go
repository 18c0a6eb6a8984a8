package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	// Optimisation run lifecycle
	RunStarted     EventType = "RUN_STARTED"
	RoundCompleted EventType = "ROUND_COMPLETED"
	RunCompleted   EventType = "RUN_COMPLETED"
	RunFailed      EventType = "RUN_FAILED"

	// Maintenance
	CleanupCompleted EventType = "CLEANUP_COMPLETED"
	BackupCompleted  EventType = "BACKUP_COMPLETED"

	// System
	SystemStatusChanged EventType = "SYSTEM_STATUS_CHANGED"

	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type published by the service.
var AllTypes = []EventType{
	RunStarted,
	RoundCompleted,
	RunCompleted,
	RunFailed,
	CleanupCompleted,
	BackupCompleted,
	SystemStatusChanged,
	ErrorOccurred,
}

// Event represents a system event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(event *Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventType][]subscription
	log    zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType][]subscription),
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler for the given event types and returns a function
// that removes the subscription again.
func (b *Bus) Subscribe(handler Handler, types ...EventType) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	for _, t := range types {
		b.subs[t] = append(b.subs[t], subscription{id: id, handler: handler})
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, t := range types {
				subs := b.subs[t]
				kept := subs[:0:0]
				for _, s := range subs {
					if s.id != id {
						kept = append(kept, s)
					}
				}
				if len(kept) == 0 {
					delete(b.subs, t)
				} else {
					b.subs[t] = kept
				}
			}
		})
	}
}

// Publish delivers data to every subscriber of its event type
func (b *Bus) Publish(module string, data EventData) {
	event := &Event{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[event.Type]...)
	b.mu.RUnlock()

	b.log.Debug().
		Str("event_type", string(event.Type)).
		Str("module", module).
		Int("subscribers", len(subs)).
		Msg("Event published")

	for _, s := range subs {
		s.handler(event)
	}
}

// PublishError publishes an ErrorOccurred event
func (b *Bus) PublishError(module string, err error, context map[string]interface{}) {
	b.Publish(module, &ErrorEventData{Error: err.Error(), Context: context})
}

// Subscribers returns the number of handlers registered for t
func (b *Bus) Subscribers(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}
