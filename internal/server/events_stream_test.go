package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/aristath/algorunner/internal/events"
	"github.com/aristath/algorunner/internal/modules/market_hours"
)

func dialStream(t *testing.T, stream *EventStream, query string) (*websocket.Conn, context.Context) {
	t.Helper()
	ts := httptest.NewServer(stream)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + query
	before := stream.Clients()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return stream.Clients() == before+1 }, time.Second, 5*time.Millisecond)
	return conn, ctx
}

type streamed struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) streamed {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var msg streamed
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestEventStream_Publish(t *testing.T) {
	stream := NewEventStream(zerolog.Nop())
	conn, ctx := dialStream(t, stream, "")

	ev := events.New(events.OnOpen, market_hours.Phase{Status: market_hours.StatusTrading})
	stream.Publish(ev)

	msg := readEvent(t, ctx, conn)
	assert.Equal(t, ev.ID().String(), msg.ID)
	assert.Equal(t, "on_open", msg.Type)
	assert.Contains(t, string(msg.Payload), `"status":"trading"`)
}

func TestEventStream_TypeFilter(t *testing.T) {
	stream := NewEventStream(zerolog.Nop())
	conn, ctx := dialStream(t, stream, "?types=on_close,%20pre_close")

	stream.Publish(events.New(events.OnTick, nil))
	stream.Publish(events.New(events.PreClose, nil))

	msg := readEvent(t, ctx, conn)
	assert.Equal(t, "pre_close", msg.Type)
}

func TestEventStream_ThroughEngine(t *testing.T) {
	engine := events.NewEngine(events.Options{Workers: 2, PollTimeout: 10 * time.Millisecond}, zerolog.Nop())
	stream := NewEventStream(zerolog.Nop())
	stream.Attach(engine)

	for _, typ := range append(events.LifecycleTypes, events.Keepalive) {
		require.Len(t, engine.Handlers(typ), 1, typ)
	}

	engine.Start()
	defer engine.Stop()

	conn, ctx := dialStream(t, stream, "")
	engine.Trigger(events.New(events.OnIPO, nil))

	msg := readEvent(t, ctx, conn)
	assert.Equal(t, "on_ipo", msg.Type)

	stream.Detach(engine)
	for _, typ := range events.LifecycleTypes {
		assert.Empty(t, engine.Handlers(typ))
	}
}

func TestEventStream_DisconnectRemovesClient(t *testing.T) {
	stream := NewEventStream(zerolog.Nop())
	conn, _ := dialStream(t, stream, "")

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return stream.Clients() == 0 }, time.Second, 5*time.Millisecond)

	// Publishing without clients is a no-op
	stream.Publish(events.New(events.OnTick, nil))
}

func TestEventStream_CloseAll(t *testing.T) {
	stream := NewEventStream(zerolog.Nop())
	conn, ctx := dialStream(t, stream, "")

	stream.CloseAll()

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestParseTypes(t *testing.T) {
	assert.Nil(t, parseTypes(""))
	assert.Equal(t, map[events.EventType]bool{
		events.OnOpen: true,
		events.OnTick: true,
	}, parseTypes("on_open, on_tick,,"))
}
