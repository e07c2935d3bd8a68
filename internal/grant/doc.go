// Package grant manages the kernel-owned grant sub-region of each
// process: lazily claimed, driver-exclusive storage carved downward
// from the top of process RAM. Allocation is idempotent per driver and
// refuses to descend into the process's live stack.
package grant
