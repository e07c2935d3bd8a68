// Package exec implements the board's abstract CPU.
//
// Key Components:
//   - Instr/Program: the fixed 8-byte instruction set and its codec
//   - Registers: R0..R7, SP, PC
//   - Machine: runs one process for at most one timeslice and reports
//     why it stopped (syscall trap, fault, or budget exhausted)
//
// The machine owns no process state. Every fetch, load, and store goes
// through the region protection unit the kernel activated for the
// current process; the machine cannot reach memory the unit does not
// allow. The stack grows upward, and pushing past the grant break is a
// stack-overflow fault rather than a protection violation so the two
// conditions stay distinguishable to the fault handler.
package exec
