package frame

import (
	"encoding/json"
	"time"
)

// TypeHeartbeat is the frame type used for liveness pings.
const TypeHeartbeat = "heartbeat"

// Frame is one JSON message unit exchanged over the socket.
type Frame struct {
	ID        string          `json:"id,omitempty"`      // Correlation id (empty on broadcasts)
	Type      string          `json:"type"`              // Open namespace, e.g. "chat.message"
	Payload   json.RawMessage `json:"payload,omitempty"` // Opaque to the channel
	Timestamp int64           `json:"timestamp"`         // Unix milliseconds at send time
}

// Outbound is what callers hand to the channel. The channel assigns the id
// and timestamp when the frame is built.
type Outbound struct {
	Type    string
	Payload any
}

// Kind discriminates inbound frames for dispatch.
type Kind int

const (
	// KindUnsolicited is a broadcast or server-initiated frame without an id.
	KindUnsolicited Kind = iota
	// KindHeartbeat is a liveness frame. It never reaches subscribers.
	KindHeartbeat
	// KindCorrelated carries an id and is matched against pending requests.
	KindCorrelated
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindUnsolicited:
		return "unsolicited"
	case KindHeartbeat:
		return "heartbeat"
	case KindCorrelated:
		return "correlated"
	default:
		return "unknown"
	}
}

// Kind classifies the frame. Heartbeat takes precedence over an id so a peer
// echoing our ping with its id intact is still treated as liveness traffic.
func (f Frame) Kind() Kind {
	switch {
	case f.Type == TypeHeartbeat:
		return KindHeartbeat
	case f.ID != "":
		return KindCorrelated
	default:
		return KindUnsolicited
	}
}

// Time returns the frame timestamp as a time.Time.
func (f Frame) Time() time.Time {
	return time.UnixMilli(f.Timestamp)
}

// Build turns an Outbound into a Frame stamped with id and now.
// An empty id produces a fire-and-forget frame.
func Build(out Outbound, id string, now time.Time) (Frame, error) {
	f := Frame{
		ID:        id,
		Type:      out.Type,
		Timestamp: now.UnixMilli(),
	}
	if out.Payload == nil {
		return f, nil
	}

	switch p := out.Payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return Frame{}, ErrInvalidPayload
		}
		f.Payload = p
	case []byte:
		if !json.Valid(p) {
			return Frame{}, ErrInvalidPayload
		}
		f.Payload = json.RawMessage(p)
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = data
	}
	return f, nil
}

// heartbeatPayload is the body of a ping frame.
type heartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// NewHeartbeat returns a ping frame carrying only a timestamp.
func NewHeartbeat(now time.Time) Frame {
	ms := now.UnixMilli()
	payload, _ := json.Marshal(heartbeatPayload{Timestamp: ms})
	return Frame{
		Type:      TypeHeartbeat,
		Payload:   payload,
		Timestamp: ms,
	}
}
