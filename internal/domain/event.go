package domain

import (
	"fmt"
	"time"
)

// EventType identifies the kind of domain event flowing between services.
// The set is closed; constructing an Event with an unknown type fails.
type EventType string

const (
	// Auth events
	UserCreated EventType = "user.created"
	UserUpdated EventType = "user.updated"
	UserDeleted EventType = "user.deleted"

	// Task events
	TaskCreated   EventType = "task.created"
	TaskUpdated   EventType = "task.updated"
	TaskDeleted   EventType = "task.deleted"
	TaskAssigned  EventType = "task.assigned"
	TaskCompleted EventType = "task.completed"

	// Notification events
	NotificationSent   EventType = "notification.sent"
	NotificationFailed EventType = "notification.failed"
)

var eventTypes = map[EventType]struct{}{
	UserCreated:        {},
	UserUpdated:        {},
	UserDeleted:        {},
	TaskCreated:        {},
	TaskUpdated:        {},
	TaskDeleted:        {},
	TaskAssigned:       {},
	TaskCompleted:      {},
	NotificationSent:   {},
	NotificationFailed: {},
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

func (t EventType) String() string {
	return string(t)
}

// ParseEventType converts a wire string into an EventType, rejecting
// anything outside the closed set.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// Event is a fact that has happened in one of the services. The payload is
// opaque to the bus. Events are immutable after construction; the delivery
// retry counter lives on the stored entry, not here.
type Event struct {
	Type          EventType      `json:"event_type"`
	AggregateID   string         `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	Data          map[string]any `json:"data"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NewEvent builds an Event, stamping the creation time. An invalid event
// type is rejected here rather than propagating as an opaque string.
func NewEvent(t EventType, aggregateID, aggregateType string, data map[string]any) (Event, error) {
	if !t.Valid() {
		return Event{}, fmt.Errorf("unknown event type %q", t)
	}
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Type:          t,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}, nil
}
