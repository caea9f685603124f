// Package transport defines the wire contracts the connection layer runs on:
// a JSON Frame envelope, the duplex Conn interface for persistent channels,
// and the Session interface for pooled request/response channels.
//
// # Frame Envelope
//
// Every payload is a Frame. Correlation works through the ID member:
//
//	request:      {"id": 7, "method": "orders.place", "params": {...}}
//	response:     {"id": 7, "result": {...}}
//	error:        {"id": 7, "error": {"code": 409, "message": "duplicate"}}
//	server push:  {"method": "ticker.update", "params": {...}}
//
// IDs are assigned by the connection layer from a per-channel counter and
// are never reused within a connection's lifetime.
//
// # Implementations
//
// Package ws provides a WebSocket Conn backed by gorilla/websocket. Package
// httprpc provides an HTTP Session where each session owns a dedicated
// http.Client pinned to one connection. Package transporttest provides
// scriptable in-memory fakes for both.
//
// # Concurrency Contract
//
// Conn mirrors the underlying WebSocket discipline: a single reader calls
// ReadFrame, while WriteFrame and Ping may be called from any goroutine and
// are serialized internally. Violating the single-reader rule corrupts
// frame order; the connection layer owns the one read loop.
package transport
