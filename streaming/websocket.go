package streaming

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketSink sends one text frame per event. Writes are serialized
// because a websocket connection does not support concurrent writers.
type WebSocketSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketSink wraps an accepted connection.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

// Send writes one text message.
func (s *WebSocketSink) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close closes the connection normally.
func (s *WebSocketSink) Close(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close(websocket.StatusNormalClosure, reason)
}
