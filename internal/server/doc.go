// Package server assembles the operator console over a running board.
//
// The HTTP server stacks recovery, request tracing, metrics, and CORS
// middleware over the REST handlers, the trace stream, and the
// Prometheus endpoint, all on one connection-limited listener. The
// optional serial console exposes the same lifecycle operations on a
// pseudo-terminal for operators who live in screen or minicom.
package server
