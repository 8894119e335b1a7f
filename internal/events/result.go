package events

// Result is what a handler hands back to the engine: nothing, one follow-up event,
// or several. Every contained event is re-submitted through Trigger.
type Result struct {
	events []Event
}

// None is the empty result.
func None() Result {
	return Result{}
}

// One wraps a single follow-up event.
func One(ev Event) Result {
	return Result{events: []Event{ev}}
}

// Many wraps any number of follow-up events, in order.
func Many(evs ...Event) Result {
	if len(evs) == 0 {
		return Result{}
	}
	out := make([]Event, len(evs))
	copy(out, evs)
	return Result{events: out}
}

// Events returns the follow-up events, skipping zero values.
func (r Result) Events() []Event {
	if len(r.events) == 0 {
		return nil
	}
	out := make([]Event, 0, len(r.events))
	for _, ev := range r.events {
		if ev.IsZero() {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Empty reports whether the result carries no usable event.
func (r Result) Empty() bool {
	return len(r.Events()) == 0
}
