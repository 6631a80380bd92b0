package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SSESink writes messages as text/event-stream frames. The event name is the message type.
type SSESink struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
}

// NewSSESink sets the event-stream headers and flushes them so the client's
// EventSource opens immediately.
func NewSSESink(w http.ResponseWriter, writeTimeout time.Duration) (*SSESink, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, fmt.Errorf("streaming unsupported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := &SSESink{w: w, rc: http.NewResponseController(w), writeTimeout: writeTimeout}
	// The server's WriteTimeout would cut a long-lived stream; deadlines are per message instead
	_ = sink.rc.SetWriteDeadline(time.Time{})
	if err := sink.rc.Flush(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *SSESink) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.writeTimeout > 0 {
		// Not every ResponseWriter supports deadlines
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer func() { _ = s.rc.SetWriteDeadline(time.Time{}) }()
	}

	if msg.Type == MessageKeepalive {
		if _, err := fmt.Fprintf(s.w, ": keepalive %d\n\n", msg.Timestamp.Unix()); err != nil {
			return err
		}
		return s.rc.Flush()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal stream message: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

// WebSocketSink writes messages as JSON text frames and keepalives as pings.
type WebSocketSink struct {
	conn         *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

func NewWebSocketSink(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSink {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WebSocketSink{conn: conn, writeTimeout: writeTimeout}
}

func (s *WebSocketSink) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(s.writeTimeout)
	if msg.Type == MessageKeepalive {
		return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
	}

	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// Close sends a normal closure frame; the caller still closes the connection
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"),
		time.Now().Add(time.Second),
	)
}
