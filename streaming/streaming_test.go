package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingSink 记录每次 Send 的负载
type recordingSink struct {
	payloads [][]byte
	failAt   int
}

func (s *recordingSink) Send(_ context.Context, payload []byte) error {
	if s.failAt > 0 && len(s.payloads)+1 == s.failAt {
		return errors.New("client gone")
	}
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func feed(events ...Event) <-chan Event {
	ch := make(chan Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func decode(t *testing.T, b []byte) Event {
	t.Helper()
	var ev Event
	require.NoError(t, json.Unmarshal(b, &ev))
	return ev
}

func TestReporter_PreservesOrder(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	err := NewReporter(zap.NewNop()).Stream(context.Background(), feed(
		Event{Type: EventToken, Data: "Hel"},
		Event{Type: EventToken, Data: "lo"},
		Event{Type: EventToolStart, Data: map[string]any{"name": "multiply"}},
		Event{Type: EventToolEnd, Data: map[string]any{"name": "multiply", "output": 6}},
		Event{Type: EventDone},
	), sink)
	require.NoError(t, err)

	require.Len(t, sink.payloads, 5)
	types := make([]EventType, 0, 5)
	for _, p := range sink.payloads {
		types = append(types, decode(t, p).Type)
	}
	assert.Equal(t, []EventType{EventToken, EventToken, EventToolStart, EventToolEnd, EventDone}, types)
	assert.Equal(t, "Hel", decode(t, sink.payloads[0]).Data)
}

func TestReporter_EarlyCloseEndsStream(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	require.NoError(t, NewReporter(nil).Stream(context.Background(), feed(), sink))
	assert.Empty(t, sink.payloads)
}

func TestReporter_OnSentOnlyForAcceptedEvents(t *testing.T) {
	t.Parallel()

	var sent []EventType
	sink := &recordingSink{failAt: 2}
	err := NewReporter(nil).Stream(context.Background(), feed(
		Event{Type: EventToken, Data: "a"},
		Event{Type: EventDone},
	), sink, OnSent(func(ev Event) { sent = append(sent, ev.Type) }))

	require.Error(t, err)
	assert.Equal(t, []EventType{EventToken}, sent)
}

func TestReporter_SinkFailure(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{failAt: 2}
	err := NewReporter(nil).Stream(context.Background(), feed(
		Event{Type: EventToken, Data: "a"},
		Event{Type: EventToken, Data: "b"},
		Event{Type: EventToken, Data: "c"},
	), sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client gone")
	assert.Len(t, sink.payloads, 1)
}

func TestReporter_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event)
	done := make(chan error, 1)
	go func() { done <- NewReporter(nil).Stream(ctx, events, &recordingSink{}) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

type badJSON struct{}

func (badJSON) MarshalJSON() ([]byte, error) { return nil, errors.New("nope") }

type panicJSON struct{}

func (panicJSON) MarshalJSON() ([]byte, error) { panic("boom") }

func TestEncode_Unserializable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data any
		want any
	}{
		{"channel", make(chan int), Unserializable},
		{"func", func() {}, Unserializable},
		{"failing marshaler", badJSON{}, "{}"},
		{"panicking marshaler", panicJSON{}, "{}"},
		{"plain", map[string]any{"a": 1.0}, map[string]any{"a": 1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev Event
			require.NotPanics(t, func() {
				ev = decode(t, Encode(Event{Type: EventToolEnd, Data: tt.data}))
			})
			assert.Equal(t, EventToolEnd, ev.Type)
			assert.Equal(t, tt.want, ev.Data)
		})
	}
}

func TestSSESink(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sink, err := NewSSESink(rec)
	require.NoError(t, err)

	err = NewReporter(nil).Stream(context.Background(), feed(
		Event{Type: EventToken, Data: "hi"},
		Event{Type: EventDone},
	), sink)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for sc.Scan() {
		if l := sc.Text(); l != "" {
			lines = append(lines, l)
		}
	}
	require.Len(t, lines, 2)
	for _, l := range lines {
		require.True(t, strings.HasPrefix(l, "data: "))
		decode(t, []byte(strings.TrimPrefix(l, "data: ")))
	}
}

type noFlushWriter struct{ http.ResponseWriter }

func TestSSESink_RequiresFlusher(t *testing.T) {
	t.Parallel()

	_, err := NewSSESink(noFlushWriter{})
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}

func TestWebSocketSink(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		sink := NewWebSocketSink(conn)
		defer sink.Close("done")
		_ = NewReporter(nil).Stream(r.Context(), feed(
			Event{Type: EventToken, Data: "a"},
			Event{Type: EventToken, Data: "b"},
			Event{Type: EventDone},
		), sink)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var got []Event
	for i := 0; i < 3; i++ {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageText, typ)
		got = append(got, decode(t, data))
	}
	assert.Equal(t, "a", got[0].Data)
	assert.Equal(t, "b", got[1].Data)
	assert.Equal(t, EventDone, got[2].Type)
}
