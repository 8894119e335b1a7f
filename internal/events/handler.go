package events

import (
	"context"
	"fmt"
	"reflect"
)

// Handler reacts to a dispatched event. Returning an error marks this invocation as
// failed; it never stops the remaining handlers for the same event.
type Handler interface {
	Handle(ctx context.Context, ev Event) (Result, error)
}

// Named is implemented by handlers that want a readable name in logs.
type Named interface {
	Name() string
}

// FuncHandler adapts a plain function to Handler. It is used through a pointer so
// that the same handler can later be found again by Unregister.
type FuncHandler struct {
	name string
	fn   func(ctx context.Context, ev Event) (Result, error)
}

// NewHandler wraps fn under the given name.
func NewHandler(name string, fn func(ctx context.Context, ev Event) (Result, error)) *FuncHandler {
	return &FuncHandler{name: name, fn: fn}
}

// NewSink wraps a function that never produces follow-up events.
func NewSink(name string, fn func(ctx context.Context, ev Event) error) *FuncHandler {
	return NewHandler(name, func(ctx context.Context, ev Event) (Result, error) {
		return None(), fn(ctx, ev)
	})
}

func (h *FuncHandler) Handle(ctx context.Context, ev Event) (Result, error) {
	return h.fn(ctx, ev)
}

func (h *FuncHandler) Name() string {
	return h.name
}

// HandlerName returns the name used for h in log lines.
func HandlerName(h Handler) string {
	if n, ok := h.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// sameHandler compares handler identity without panicking on non-comparable
// dynamic types (which are then never equal).
func sameHandler(a, b Handler) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
