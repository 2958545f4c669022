package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is one open connection to the peer. ReadMessage is called from a
// single goroutine; WriteMessage and Close may be called concurrently.
type Socket interface {
	// ReadMessage blocks until the next message or a read error.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one message.
	WriteMessage(data []byte) error

	// Close sends a normal close frame and releases the connection.
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}

// Credentials supplies opaque handshake headers. It is consulted on every
// dial so signed headers stay fresh.
type Credentials interface {
	Header(url string) (http.Header, error)
}

// WebSocketDialer dials gorilla WebSocket connections.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64 // Max inbound message size (0 = unlimited)
}

// NewWebSocketDialer creates a dialer using the timeouts and read limit from cfg.
func NewWebSocketDialer(cfg ChannelConfig) *WebSocketDialer {
	return &WebSocketDialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ReadLimit:        cfg.ReadLimit,
	}
}

// Dial establishes the WebSocket connection.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	return &wsSocket{
		conn:         conn,
		writeTimeout: d.WriteTimeout,
	}, nil
}

// wsSocket implements Socket over a gorilla connection.
type wsSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// Write serialization
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSocket) WriteMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// closeInfoFromError turns a read error into a CloseInfo. Peer-initiated
// closes are never clean from the channel's point of view.
func closeInfoFromError(err error) CloseInfo {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{Code: ce.Code, Reason: ce.Text}
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return CloseInfo{Code: CloseAbnormal, Reason: reason}
}
