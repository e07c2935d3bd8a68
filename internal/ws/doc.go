// Package ws streams the kernel trace over WebSocket.
//
// Each connection gets its own buffered subscription to the trace
// hub; a client that falls behind loses events rather than stalling
// the kernel loop.
//
// Message Types (Client -> Server):
//   - ping: keep-alive ping
//
// Message Types (Server -> Client):
//   - system: connection established, carries the client id
//   - pong: keep-alive reply
//   - everything else: trace events, typed by their kind field
package ws
