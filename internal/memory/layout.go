package memory

import "fmt"

// Layout is one process's view of memory: the flash range holding its
// image (read/execute) and the RAM range it was assigned. The grant
// break splits RAM: [RAM.Start, grantBreak) belongs to the process,
// [grantBreak, RAM.End) is kernel-owned grant memory. The break starts
// at the top of RAM and descends as drivers allocate grants.
type Layout struct {
	Flash      Region
	RAM        Region
	grantBreak Addr
}

// NewLayout builds a process layout over disjoint flash and RAM ranges.
func NewLayout(flash, ram Region) (*Layout, error) {
	if flash.Empty() || ram.Empty() {
		return nil, fmt.Errorf("layout needs non-empty flash and ram, got flash=%v ram=%v", flash, ram)
	}
	if flash.Overlaps(ram) {
		return nil, fmt.Errorf("flash %v overlaps ram %v", flash, ram)
	}
	flash.Perms = PermRX
	ram.Perms = PermRW
	return &Layout{Flash: flash, RAM: ram, grantBreak: ram.End()}, nil
}

// GrantBreak returns the current boundary between process-accessible
// RAM and kernel-owned grant memory.
func (l *Layout) GrantBreak() Addr {
	return l.grantBreak
}

// SetGrantBreak moves the boundary. It only ever moves down, and never
// below the bottom of RAM.
func (l *Layout) SetGrantBreak(brk Addr) error {
	if brk > l.grantBreak {
		return fmt.Errorf("grant break may not rise: %s -> %s", l.grantBreak, brk)
	}
	if brk < l.RAM.Start {
		return fmt.Errorf("grant break %s below ram %v", brk, l.RAM)
	}
	l.grantBreak = brk
	return nil
}

// ResetGrants returns the whole RAM range to the process, discarding
// the grant region. Used on restart.
func (l *Layout) ResetGrants() {
	l.grantBreak = l.RAM.End()
}

// Accessible returns the RAM the process may read and write.
func (l *Layout) Accessible() Region {
	return Region{Start: l.RAM.Start, Size: uint32(l.grantBreak - l.RAM.Start), Perms: PermRW}
}

// GrantRegion returns the kernel-owned slice of RAM above the break.
func (l *Layout) GrantRegion() Region {
	return Region{Start: l.grantBreak, Size: uint32(l.RAM.End() - l.grantBreak), Perms: PermRW}
}

// Regions returns what the protection unit is programmed with while the
// process runs: its image (read/execute) and its accessible RAM
// (read/write). Grant memory is deliberately absent.
func (l *Layout) Regions() []Region {
	return []Region{l.Flash, l.Accessible()}
}

// ValidateAccess reports whether [ptr, ptr+size) lies wholly inside a
// region the process owns with every permission in want. A zero-length
// range and the null pointer are always valid; a range whose end
// computation overflows never is.
func (l *Layout) ValidateAccess(ptr Addr, size uint32, want Perm) bool {
	if ptr == 0 || size == 0 {
		return true
	}
	if uint64(ptr)+uint64(size) > 1<<32 {
		return false
	}
	for _, r := range l.Regions() {
		if r.Allows(want) && r.Contains(ptr, size) {
			return true
		}
	}
	return false
}
