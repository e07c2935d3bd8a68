// Package syscall decodes and executes the six system-call classes on
// behalf of the trapping process.
//
// Key components:
//   - Driver: the capsule-side contract; drivers see one call at a time
//     through a Scope scoped to the calling process and driver id
//   - Dispatcher: the driver table plus the central handling of
//     subscribe, allow, yield, and exit, which never reach drivers
//   - Post: the one path by which upcalls enter a process queue; it
//     resolves the subscription, enqueues, and wakes a parked process
//
// Everything here runs in kernel context between timeslices. Argument
// validation happens before a driver can observe the call, so a bad
// pointer is a clean error result for the caller, never a fault and
// never a driver's problem.
package syscall
