// Package metrics exposes Prometheus metrics for message channels.
//
// Key metrics (all labelled by channel name):
//   - frames sent and received, protocol errors
//   - reconnect cycles and heartbeat staleness
//   - pending request count, timeouts and round-trip latency
//   - recorder flushes, inserts and failures
package metrics
