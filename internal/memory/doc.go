// Package memory models the board's physical memory and the region
// protection unit that stands in for an MMU.
//
// Key Components:
//   - Bank/Physical: flat byte-addressed flash and RAM banks
//   - Region: an address range with permission flags
//   - Layout: one process's flash image range, RAM range, and grant break
//   - Unit: the region protection unit programmed on every context switch
//
// The protection unit is the single gate between the executor and
// physical memory: every fetch, load, and store is checked against the
// regions programmed for the active process. ValidateAccess answers the
// same ownership question for syscall arguments before a driver ever
// sees a pointer.
package memory
