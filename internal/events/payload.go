package events

import "time"

// EventData is implemented by typed payloads that know which event they belong to.
type EventData interface {
	EventType() EventType
}

// FromData builds an event whose type is taken from the payload itself.
func FromData(data EventData) Event {
	return New(data.EventType(), data)
}

// KeepaliveData is the payload of a keepalive event fired for one trader session.
type KeepaliveData struct {
	Trader  string    `json:"trader"`
	FiredAt time.Time `json:"fired_at"`
}

// EventType returns the event type for KeepaliveData
func (d *KeepaliveData) EventType() EventType {
	return Keepalive
}

// ManualTriggerData wraps an event raised from the HTTP API rather than the timetable.
type ManualTriggerData struct {
	Type   EventType      `json:"type"`
	Source string         `json:"source"`
	Params map[string]any `json:"params,omitempty"`
}

// EventType returns the requested event type for ManualTriggerData
func (d *ManualTriggerData) EventType() EventType {
	return d.Type
}
