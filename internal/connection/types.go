package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/livewire/internal/frame"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrClosed          = errors.New("channel closed")
	ErrStaleConnection = errors.New("connection stale (no inbound traffic)")
	ErrMissingType     = errors.New("frame type is required")
)

// State is the lifecycle state of a Manager. Exactly one value holds at any
// time.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is the value surfaced to statusChange subscribers. It mirrors State
// plus StatusError, which is reported when a transport failure occurs.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
	StatusClosed       Status = "closed"
)

// Status returns the status value for the state.
func (s State) Status() Status {
	return Status(s.String())
}

// ErrorKind classifies channel failures.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport" // Socket open/send/read failure or staleness
	KindProtocol  ErrorKind = "protocol"  // Malformed frame, inbound or outbound
	KindTimeout   ErrorKind = "timeout"   // Request not answered in time
	KindClosed    ErrorKind = "closed"    // Channel closed while the request was pending
	KindCanceled  ErrorKind = "canceled"  // Caller gave up on the request
)

// Error is a classified channel failure.
type Error struct {
	Kind ErrorKind
	Err  error
	Raw  []byte // Offending payload for protocol errors
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result is the outcome of a request, delivered once to its callback.
type Result struct {
	Frame frame.Frame // Response frame on success
	Err   error       // *Error on failure
}

// SendOptions controls how a frame is sent.
type SendOptions struct {
	// AwaitsResponse assigns a correlation id. Combined with a Callback the
	// frame is queued while disconnected and resent after reconnect.
	AwaitsResponse bool

	// Timeout overrides ChannelConfig.RequestTimeout for this request.
	Timeout time.Duration

	// Callback receives the response or failure. Supplying one registers a
	// pending entry before transmission.
	Callback func(Result)
}

// CloseInfo describes a socket close.
type CloseInfo struct {
	Code   int
	Reason string
	Clean  bool // True only for Close() initiated by the caller
}

// Close codes reported in CloseInfo.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
	CloseStale    = 4000
)

// ChannelConfig is the immutable configuration of a Manager.
type ChannelConfig struct {
	URL                  string        // ws:// or wss:// endpoint
	ReconnectBaseDelay   time.Duration // Delay before the first retry
	ReconnectMaxDelay    time.Duration // Backoff cap
	MaxReconnectAttempts int           // Connection attempts per reconnect cycle
	HeartbeatInterval    time.Duration // Ping and staleness check period (0 disables)
	HeartbeatStaleFactor float64       // Stale after HeartbeatInterval * factor without traffic
	RequestTimeout       time.Duration // Default per-request timeout
	WriteTimeout         time.Duration // Write deadline per frame
	HandshakeTimeout     time.Duration // WebSocket handshake deadline
	ReadLimit            int64         // Max inbound message size in bytes (0 = unlimited)
}

// DefaultChannelConfig returns sensible defaults.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatStaleFactor: 2,
		RequestTimeout:       10 * time.Second,
		WriteTimeout:         5 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		ReadLimit:            1 << 20,
	}
}

// Stats provides statistics about a Manager.
type Stats struct {
	State          State
	Pending        int
	Attempts       int
	FramesSent     int64
	FramesReceived int64
	Reconnects     int64
}
