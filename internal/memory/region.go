package memory

import "fmt"

// Addr is a 32-bit physical address.
type Addr uint32

func (a Addr) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// Perm is a bitmask of access permissions on a region.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec

	PermRW  = PermRead | PermWrite
	PermRX  = PermRead | PermExec
	PermRWX = PermRead | PermWrite | PermExec
)

func (p Perm) String() string {
	buf := []byte("---")
	if p&PermRead != 0 {
		buf[0] = 'r'
	}
	if p&PermWrite != 0 {
		buf[1] = 'w'
	}
	if p&PermExec != 0 {
		buf[2] = 'x'
	}
	return string(buf)
}

// Region is a contiguous address range with permission flags. The zero
// Region is empty and contains nothing.
type Region struct {
	Start Addr
	Size  uint32
	Perms Perm
}

// NewRegion builds a region after checking that it does not wrap the
// address space.
func NewRegion(start Addr, size uint32, perms Perm) (Region, error) {
	if uint64(start)+uint64(size) > 1<<32 {
		return Region{}, fmt.Errorf("region %s+%d wraps the address space", start, size)
	}
	return Region{Start: start, Size: size, Perms: perms}, nil
}

// End returns the first address past the region.
func (r Region) End() Addr {
	return r.Start + Addr(r.Size)
}

// Empty reports whether the region covers no addresses.
func (r Region) Empty() bool {
	return r.Size == 0
}

// Contains reports whether [addr, addr+size) lies wholly inside the
// region. Size zero is contained anywhere inside or at the region end.
// The computation is overflow-safe: a range that wraps is never
// contained.
func (r Region) Contains(addr Addr, size uint32) bool {
	if r.Empty() {
		return false
	}
	end := uint64(addr) + uint64(size)
	return addr >= r.Start && end <= uint64(r.Start)+uint64(r.Size)
}

// Overlaps reports whether any address belongs to both regions.
func (r Region) Overlaps(o Region) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.Start < o.End() && o.Start < r.End()
}

// Allows reports whether the region grants every permission in want.
func (r Region) Allows(want Perm) bool {
	return r.Perms&want == want
}

func (r Region) String() string {
	return fmt.Sprintf("%s..%s %s", r.Start, r.End(), r.Perms)
}

// AlignUp rounds addr up to the next multiple of align. Align must be a
// power of two; zero and one leave addr unchanged.
func AlignUp(addr Addr, align uint32) Addr {
	if align <= 1 {
		return addr
	}
	return Addr((uint32(addr) + align - 1) &^ (align - 1))
}

// AlignDown rounds addr down to a multiple of align. Align must be a
// power of two; zero and one leave addr unchanged.
func AlignDown(addr Addr, align uint32) Addr {
	if align <= 1 {
		return addr
	}
	return Addr(uint32(addr) &^ (align - 1))
}
