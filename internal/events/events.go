package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/model"
)

const (
	BookingCreated    = "booking.created"
	BookingCancelled  = "booking.cancelled"
	BookingNoShow     = "booking.no_show"
	BookingWaitlisted = "booking.waitlisted"
	WaitlistPromoted  = "waitlist.promoted"
)

// Event is a booking lifecycle notification. Payload is the booking as JSON.
type Event struct {
	Type         string
	BookingID    int64
	RestaurantID int64
	Payload      []byte
	CreatedAt    time.Time
}

// NewBookingEvent snapshots b into an event of the given type.
func NewBookingEvent(eventType string, b *model.Booking) Event {
	payload, _ := json.Marshal(b)
	return Event{
		Type:         eventType,
		BookingID:    b.ID,
		RestaurantID: b.RestaurantID,
		Payload:      payload,
	}
}

// Booking decodes the payload.
func (e Event) Booking() (*model.Booking, error) {
	var b model.Booking
	if err := json.Unmarshal(e.Payload, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      zerolog.Logger
}

func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs the subscribers of the event type synchronously. Handler
// errors are logged and never reach the publisher.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("type", event.Type).Int64("booking_id", event.BookingID).Msg("event handler failed")
		}
	}
}
