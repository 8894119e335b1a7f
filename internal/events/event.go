// Package events implements the in-process dispatch engine that carries trading-day
// lifecycle events from the timetable to registered handlers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a class of events. Handlers are registered per type.
type EventType string

const (
	BeforeTrade EventType = "before_trade"
	OnOpen      EventType = "on_open"
	OnTick      EventType = "on_tick"
	OnIPO       EventType = "on_ipo"
	PreClose    EventType = "pre_close"
	OnClose     EventType = "on_close"
	AfterClose  EventType = "after_close"
	Keepalive   EventType = "keepalive"
)

// LifecycleTypes lists the trading-day events in the order they occur.
var LifecycleTypes = []EventType{
	BeforeTrade,
	OnOpen,
	OnTick,
	OnIPO,
	PreClose,
	OnClose,
	AfterClose,
}

// IsLifecycle reports whether t is one of the trading-day lifecycle types.
func IsLifecycle(t EventType) bool {
	for _, lt := range LifecycleTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// Event is an immutable (type, payload) pair. Two events built from the same
// arguments are still distinct instances with distinct IDs.
type Event struct {
	id        uuid.UUID
	typ       EventType
	payload   any
	timestamp time.Time
}

// New creates an event of the given type carrying payload. payload may be nil.
func New(typ EventType, payload any) Event {
	return Event{
		id:        uuid.New(),
		typ:       typ,
		payload:   payload,
		timestamp: time.Now(),
	}
}

func (e Event) ID() uuid.UUID        { return e.id }
func (e Event) Type() EventType      { return e.typ }
func (e Event) Payload() any         { return e.payload }
func (e Event) Timestamp() time.Time { return e.timestamp }

// IsZero reports whether e is the zero Event, i.e. not an event at all.
func (e Event) IsZero() bool {
	return e.typ == ""
}

func (e Event) String() string {
	return fmt.Sprintf("%s[%s]", e.typ, e.id)
}

// MarshalJSON renders the event for the live stream and manual-trigger responses.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string    `json:"id"`
		Type      EventType `json:"type"`
		Payload   any       `json:"payload,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}{
		ID:        e.id.String(),
		Type:      e.typ,
		Payload:   e.payload,
		Timestamp: e.timestamp,
	})
}
