// Package abi defines the system-call boundary shared by the executor,
// the dispatcher, and the capsule drivers.
//
// It pins down the numeric values that cross between application images
// and the kernel: syscall class numbers, yield modes, exit kinds, error
// codes, and the register encoding of syscall results. Nothing here
// allocates or touches kernel state; packages on both sides of the trap
// depend on abi and nothing in abi depends on them.
package abi
