// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"keyboard-service/internal/model"
)

const (
	eventBufferSize      = 1000
	subscriberBufferSize = 100
)

// EventBus fans session events out to subscribers. Publish never blocks: when
// the bus or a subscriber is full the event is dropped for it.
type EventBus struct {
	subscribers map[int]chan model.SessionEvent
	nextID      int
	events      chan model.SessionEvent
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan model.SessionEvent),
		events:      make(chan model.SessionEvent, eventBufferSize),
		done:        make(chan struct{}),
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// Start distributes events until Close is called
func (eb *EventBus) Start() {
	for {
		select {
		case event := <-eb.events:
			eb.distributeEvent(event)
		case <-eb.done:
			eb.mutex.Lock()
			for id, ch := range eb.subscribers {
				close(ch)
				delete(eb.subscribers, id)
			}
			eb.mutex.Unlock()
			return
		}
	}
}

// Close stops the bus and closes every subscription
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() { close(eb.done) })
}

// Publish queues an event
func (eb *EventBus) Publish(event model.SessionEvent) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("session_id", event.SessionID.String()),
		)
	}
}

// Subscribe returns a channel receiving every event and a function ending the subscription
func (eb *EventBus) Subscribe() (<-chan model.SessionEvent, func()) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	id := eb.nextID
	eb.nextID++
	subscriber := make(chan model.SessionEvent, subscriberBufferSize)
	eb.subscribers[id] = subscriber

	return subscriber, func() {
		eb.mutex.Lock()
		defer eb.mutex.Unlock()
		if ch, ok := eb.subscribers[id]; ok {
			close(ch)
			delete(eb.subscribers, id)
		}
	}
}

func (eb *EventBus) distributeEvent(event model.SessionEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, subscriber := range eb.subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
