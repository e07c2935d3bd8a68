// Package kernel runs the board: one loop that owns every process
// structure and hands the core out one timeslice at a time.
//
// Key components:
//   - Kernel: loop state, process table, protection unit, dispatcher
//   - Options: board assembly inputs (memory, slot plan, policy)
//   - Do: runs a closure inside the loop between timeslices
//
// Everything mutable lives in kernel context. Other goroutines reach
// the kernel through Do, or read the last published Snapshot, which is
// immutable. Time is virtual: one executed instruction is one tick,
// and the clock jumps forward when every process is parked.
package kernel
