// Package config provides 12-factor configuration for the emberd
// daemon.
//
// Settings are read from EMBER_-prefixed environment variables with
// sensible defaults; the board itself (memory sizes, slots, apps) is
// described separately in a board file parsed by internal/board.
//
// Sections:
//   - Console: HTTP/WebSocket console listener settings
//   - Board: board file path and image directories
//   - Serial: pseudo-terminal serial console toggle
//   - Logging: log level and output format
//   - RateLimit: per-client limits on mutating console endpoints
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Console on %s:%s\n", cfg.Console.Host, cfg.Console.Port)
//
// Environment Variables:
//   - EMBER_PORT, EMBER_HOST, EMBER_MAX_CONNS
//   - EMBER_BOARD, EMBER_IMAGE_DIRS
//   - EMBER_SERIAL
//   - EMBER_LOG_LEVEL, EMBER_LOG_DEV
//   - EMBER_RATE_LIMIT_RPS, EMBER_RATE_LIMIT_BURST, EMBER_RATE_LIMIT_ENABLED
package config
