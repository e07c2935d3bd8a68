// Package fault classifies hardware-detected process faults and applies
// the per-process recovery policy.
//
// Key Components:
//   - Class: protection violation, invalid instruction, stack overflow,
//     explicit abort
//   - Policy: what to do with the faulting process (panic, restart, stop)
//   - Handler: applies the policy; a per-slot circuit breaker degrades
//     Restart to Stop during restart storms
//
// Recovery is whole-process only. The handler restarts or stops the
// process through the Lifecycle interface; it never attempts to resume
// the faulting instruction.
package fault
