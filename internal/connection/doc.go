// Package connection implements the resilient message channel.
//
// The Manager:
//   - Owns the socket lifecycle (Disconnected, Connecting, Connected, Reconnecting, Closed)
//   - Reconnects with exponential backoff up to a per-cycle attempt cap
//   - Detects silent connection death through the heartbeat monitor
//   - Correlates requests and responses, resending unresolved requests after a reconnect
//   - Delivers open/message/close/error/statusChange events to subscribers in order
//
// Delivery is at-least-once for request/response traffic only. A request
// retransmitted after a reconnect may reach the peer twice; the channel
// guarantees only that its own callback fires once.
package connection
