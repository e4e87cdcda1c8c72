package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventJobCreated = "job_created"
	EventJobUpdated = "job_updated"
	EventJobDeleted = "job_deleted"
)

// JobEventPayload is the job snapshot carried by job events.
type JobEventPayload struct {
	JobID    int64      `json:"job_id"`
	No       string     `json:"no"`
	Date     *time.Time `json:"date,omitempty"`
	Category string     `json:"category"`
	Status   string     `json:"status"`
}

// Event is an in-process domain event with a JSON payload.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// DecodeJobPayload unmarshals the payload of a job event.
func DecodeJobPayload(event *Event) (JobEventPayload, error) {
	var p JobEventPayload
	if event == nil {
		return p, errors.New("nil event")
	}
	err := json.Unmarshal(event.Payload, &p)
	return p, err
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus is a synchronous in-process pub/sub. Handler errors are logged and
// never reach the publisher.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]EventHandler
	logger      zerolog.Logger
}

func NewEventBus(logger *zerolog.Logger) *EventBus {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "events").Logger()
	}
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		logger:      l,
	}
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish runs every handler subscribed to the event type, in order.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Error().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes it. A nil bus drops it.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
