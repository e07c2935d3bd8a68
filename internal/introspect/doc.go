// Package introspect renders kernel state into plain snapshot values.
//
// The kernel owns mutable structures (process table, MPU, queues) that
// only kernel context may touch. Build copies what the console and the
// trace stream need into a Snapshot of scalars, strings, and slices
// that is safe to hand to any goroutine and to encode as JSON.
package introspect
