// Package http provides the console's REST handlers.
//
// Endpoints:
//   - Health: / and /health
//   - Kernel: /api/kernel
//   - Processes: /api/processes, /api/processes/:pid plus
//     start/stop/restart/uninstall actions
//   - Images: /api/images list and install
//
// Handlers read kernel state through snapshots and mutate it through
// the kernel's control operations, so they are safe from any
// goroutine whether or not the kernel loop is running yet.
package http
