package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/algorunner/internal/events"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// Registrar is the registration side of the event engine.
type Registrar interface {
	Register(typ events.EventType, h events.Handler)
	Unregister(typ events.EventType, h events.Handler)
}

// EventStream fans dispatched events out to websocket clients.
// Slow clients lose messages instead of blocking the engine's workers.
type EventStream struct {
	clients map[*streamClient]struct{}
	sink    *events.FuncHandler
	log     zerolog.Logger
	mu      sync.RWMutex
}

type streamClient struct {
	send  chan []byte
	types map[events.EventType]bool
	done  chan struct{}
	once  sync.Once
}

func (c *streamClient) wants(typ events.EventType) bool {
	return len(c.types) == 0 || c.types[typ]
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

// NewEventStream creates an event stream.
func NewEventStream(log zerolog.Logger) *EventStream {
	s := &EventStream{
		clients: make(map[*streamClient]struct{}),
		log:     log.With().Str("component", "events_stream").Logger(),
	}
	s.sink = events.NewSink("events_stream", s.handle)
	return s
}

// Attach registers the stream for every lifecycle event and keepalive.
func (s *EventStream) Attach(r Registrar) {
	for _, typ := range events.LifecycleTypes {
		r.Register(typ, s.sink)
	}
	r.Register(events.Keepalive, s.sink)
}

// Detach removes the stream from r.
func (s *EventStream) Detach(r Registrar) {
	for _, typ := range events.LifecycleTypes {
		r.Unregister(typ, s.sink)
	}
	r.Unregister(events.Keepalive, s.sink)
}

func (s *EventStream) handle(ctx context.Context, ev events.Event) error {
	s.Publish(ev)
	return nil
}

// Publish sends ev to every client subscribed to its type.
func (s *EventStream) Publish(ev events.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.clients) == 0 {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", string(ev.Type())).Msg("Failed to encode event for stream")
		return
	}

	for c := range s.clients {
		if !c.wants(ev.Type()) {
			continue
		}
		select {
		case c.send <- data:
		default:
			s.log.Debug().Str("event_type", string(ev.Type())).Msg("Stream client too slow, event dropped")
		}
	}
}

// Clients returns the number of connected clients.
func (s *EventStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// CloseAll disconnects every client.
func (s *EventStream) CloseAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.close()
	}
}

// ServeHTTP handles GET /api/events/stream?types=on_open,on_tick (websocket).
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c := &streamClient{
		send:  make(chan []byte, streamBuffer),
		types: parseTypes(r.URL.Query().Get("types")),
		done:  make(chan struct{}),
	}
	s.add(c)
	defer s.remove(c)

	s.log.Info().Int("clients", s.Clients()).Msg("Stream client connected")

	// Incoming messages are ignored; the returned context ends when the peer goes away
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Stream client disconnected")
			return
		case <-c.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("Stream write failed")
				return
			}
		}
	}
}

func (s *EventStream) add(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *EventStream) remove(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
	c.close()
}

func parseTypes(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	types := make(map[events.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[events.EventType(t)] = true
		}
	}
	return types
}
