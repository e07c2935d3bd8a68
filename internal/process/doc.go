// Package process implements the process control block store.
//
// Key Components:
//   - Process: one PCB; identity, state, saved registers, memory
//     layout, grant allocator, upcall queue, subscriptions, allowed
//     buffers, fault policy, lifetime counters
//   - Table: the fixed-capacity slot table with the load, stop,
//     restart, and remove lifecycle
//   - ID: slot plus generation; the generation rises on every reload
//     so stale handles are rejected everywhere
//
// The table is the single owner of every PCB. A failed load leaves no
// partial state: checks run first and the slot is claimed last.
// Everything here runs in kernel context; nothing is locked.
package process
