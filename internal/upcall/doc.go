// Package upcall holds the bounded per-process queue of pending
// callback deliveries. Kernel context only; the queue is not safe for
// concurrent use.
package upcall
