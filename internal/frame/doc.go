// Package frame implements the wire codec for the message channel.
//
// Every message on the socket is one JSON envelope:
//
//	{"id":"msg_1700000000000_1","type":"chat.message","payload":{...},"timestamp":1700000000000}
//
// The id is present on frames that expect a correlated response (and on the
// responses themselves) and omitted on fire-and-forget broadcasts. The type
// namespace is open: unknown types decode fine and are forwarded to generic
// subscribers.
package frame
