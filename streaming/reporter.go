package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// EventType identifies a streamed event.
type EventType string

const (
	EventToken     EventType = "token"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Unserializable replaces payloads that cannot be rendered at all.
const Unserializable = "<unserializable>"

// Event is one streamed message.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Sink delivers encoded events. Send must flush before returning.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
}

// Reporter forwards events to a sink in emission order.
type Reporter struct {
	logger *zap.Logger
}

// NewReporter creates a reporter.
func NewReporter(logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{logger: logger.With(zap.String("component", "stream_reporter"))}
}

// StreamOption configures one Stream call.
type StreamOption func(*streamOptions)

type streamOptions struct {
	onSent func(Event)
}

// OnSent is called after each event the sink accepted, in order.
func OnSent(fn func(Event)) StreamOption {
	return func(o *streamOptions) { o.onSent = fn }
}

// Stream forwards events until the channel closes, ctx is done, or the sink
// fails. A closed channel is a normal end of stream.
func (r *Reporter) Stream(ctx context.Context, events <-chan Event, sink Sink, opts ...StreamOption) error {
	var o streamOptions
	for _, opt := range opts {
		opt(&o)
	}
	sent := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("stream cancelled", zap.Int("events", sent))
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				r.logger.Debug("stream finished", zap.Int("events", sent))
				return nil
			}
			if err := sink.Send(ctx, Encode(ev)); err != nil {
				r.logger.Debug("sink closed", zap.Int("events", sent), zap.Error(err))
				return fmt.Errorf("send %s event: %w", ev.Type, err)
			}
			sent++
			if o.onSent != nil {
				o.onSent(ev)
			}
		}
	}
}

// Encode renders an event as JSON. It never fails: payloads that json cannot
// encode are replaced by their fmt rendering, or by Unserializable.
func Encode(ev Event) []byte {
	if b, err := safeMarshal(ev); err == nil {
		return b
	}
	ev.Data = coerce(ev.Data)
	if b, err := safeMarshal(ev); err == nil {
		return b
	}
	b, _ := json.Marshal(Event{Type: ev.Type, Data: Unserializable})
	return b
}

func safeMarshal(v any) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("marshal panicked: %v", r)
		}
	}()
	return json.Marshal(v)
}

func coerce(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = Unserializable
		}
	}()
	switch reflect.ValueOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return Unserializable
	}
	return fmt.Sprintf("%v", v)
}
