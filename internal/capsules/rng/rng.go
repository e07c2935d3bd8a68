// Package rng is the entropy capsule: processes share a writable
// buffer, request a fill, and get an upcall when the bytes are ready.
package rng

import (
	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/syscall"
)

// DriverID is the rng capsule's ABI driver id.
const DriverID = 2

// SubReady is the fill-completion subscription slot; the upcall
// carries the byte count delivered.
const SubReady = 0

const (
	cmdExists = iota
	cmdFetch
)

// Rng serves deterministic pseudo-random bytes from a board-seeded
// xorshift64* stream, so a simulated run replays bit-for-bit. Kernel
// context only.
type Rng struct {
	state uint64
}

// New seeds the stream. A zero seed is replaced so the generator never
// sticks at zero.
func New(seed uint64) *Rng {
	if seed == 0 {
		seed = 0x9e3779b97f4a7c15
	}
	return &Rng{state: seed}
}

func (r *Rng) ID() uint32   { return DriverID }
func (r *Rng) Name() string { return "rng" }

func (r *Rng) Command(s syscall.Scope, num, arg0, _ uint32) abi.Return {
	switch num {
	case cmdExists:
		return abi.Success()
	case cmdFetch:
		return r.fetch(s, arg0)
	default:
		return abi.Failure(abi.CodeNoSupport)
	}
}

// fetch fills up to arg0 bytes of the shared buffer and reports the
// count through the ready upcall and the command result.
func (r *Rng) fetch(s syscall.Scope, count uint32) abi.Return {
	buf, ok := s.AllowedRW(0)
	if !ok {
		return abi.Failure(abi.CodeNoMemory)
	}
	if count > uint32(len(buf)) {
		count = uint32(len(buf))
	}
	for i := uint32(0); i < count; i++ {
		buf[i] = r.next()
	}
	s.Post(SubReady, [3]uint32{count, 0, 0})
	return abi.SuccessValue(count)
}

func (r *Rng) next() byte {
	r.state ^= r.state >> 12
	r.state ^= r.state << 25
	r.state ^= r.state >> 27
	return byte((r.state * 0x2545f4914f6cdd1d) >> 56)
}
