package grant

import (
	"errors"
	"fmt"

	"github.com/emberworks/emberos/internal/memory"
)

var (
	// ErrOutOfMemory means the allocation would cross the stack margin
	// or exhaust the process's RAM.
	ErrOutOfMemory = errors.New("grant region exhausted")
	// ErrBadRequest means a zero size or non-power-of-two alignment.
	ErrBadRequest = errors.New("bad grant request")
)

// DefaultStackMargin is the gap kept between the grant break and the
// process's stack pointer unless the board configures another.
const DefaultStackMargin = 64

// Grant records that a driver holds a slot of the process grant region.
type Grant struct {
	Driver uint32      `json:"driver"`
	Addr   memory.Addr `json:"addr"`
	Size   uint32      `json:"size"`
}

// Allocator hands out grant memory for a single process. Addresses are
// stable for the process lifetime; Reset discards everything on
// restart. Kernel context only.
type Allocator struct {
	layout *memory.Layout
	margin uint32
	grants []Grant
}

// NewAllocator builds the allocator over the process layout.
func NewAllocator(layout *memory.Layout, margin uint32) *Allocator {
	if margin == 0 {
		margin = DefaultStackMargin
	}
	return &Allocator{layout: layout, margin: margin}
}

// Allocate claims size bytes aligned to align for the driver, or
// returns the existing grant address if the driver already holds one.
// sp is the process's current stack pointer; the new grant break must
// stay above sp plus the safety margin.
func (a *Allocator) Allocate(driver, size, align uint32, sp memory.Addr) (memory.Addr, error) {
	if g, ok := a.Lookup(driver); ok {
		return g.Addr, nil
	}
	if size == 0 {
		return 0, fmt.Errorf("%w: zero size", ErrBadRequest)
	}
	if align == 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("%w: alignment %d not a power of two", ErrBadRequest, align)
	}

	brk := a.layout.GrantBreak()
	avail := uint32(brk - a.layout.RAM.Start)
	if size > avail {
		return 0, fmt.Errorf("%w: need %d, %d left", ErrOutOfMemory, size, avail)
	}
	newBrk := memory.AlignDown(brk-memory.Addr(size), align)
	if newBrk < a.layout.RAM.Start {
		return 0, fmt.Errorf("%w: alignment pushes break below ram", ErrOutOfMemory)
	}
	if uint64(newBrk) < uint64(sp)+uint64(a.margin) {
		return 0, fmt.Errorf("%w: break %s would cross stack %s+%d", ErrOutOfMemory, newBrk, sp, a.margin)
	}

	if err := a.layout.SetGrantBreak(newBrk); err != nil {
		return 0, fmt.Errorf("grant break: %w", err)
	}
	a.grants = append(a.grants, Grant{Driver: driver, Addr: newBrk, Size: size})
	return newBrk, nil
}

// Lookup returns the driver's grant, if it holds one.
func (a *Allocator) Lookup(driver uint32) (Grant, bool) {
	for _, g := range a.grants {
		if g.Driver == driver {
			return g, true
		}
	}
	return Grant{}, false
}

// Count returns how many drivers hold grants.
func (a *Allocator) Count() int {
	return len(a.grants)
}

// Grants returns a copy of the grant table for introspection.
func (a *Allocator) Grants() []Grant {
	out := make([]Grant, len(a.grants))
	copy(out, a.grants)
	return out
}

// Reset discards every grant and returns the region to the process.
func (a *Allocator) Reset() {
	a.grants = a.grants[:0]
	a.layout.ResetGrants()
}
