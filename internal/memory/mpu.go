package memory

import (
	"errors"
	"fmt"
)

// ErrTooManyRegions is returned when a layout needs more regions than
// the protection unit has hardware slots.
var ErrTooManyRegions = errors.New("layout exceeds protection unit slots")

// DefaultUnitSlots matches the protection hardware this board models.
const DefaultUnitSlots = 8

// Unit models the region protection unit. While a process executes,
// the unit holds exactly that process's regions; Activate reprograms
// every slot from scratch, it never patches the previous owner's
// configuration.
type Unit struct {
	slots    int
	regions  []Region
	owner    string
	active   bool
	switches uint64
	refusals uint64
}

// NewUnit builds a unit with the given number of hardware slots.
func NewUnit(slots int) *Unit {
	if slots <= 0 {
		slots = DefaultUnitSlots
	}
	return &Unit{slots: slots}
}

// Activate programs the unit with the owner's regions. The previous
// configuration is discarded wholesale.
func (u *Unit) Activate(owner string, regions []Region) error {
	if len(regions) > u.slots {
		return fmt.Errorf("%w: %d > %d", ErrTooManyRegions, len(regions), u.slots)
	}
	u.regions = u.regions[:0]
	u.regions = append(u.regions, regions...)
	u.owner = owner
	u.active = true
	u.switches++
	return nil
}

// Deactivate clears the unit so no process memory is accessible.
// The kernel runs with the unit deactivated.
func (u *Unit) Deactivate() {
	u.regions = u.regions[:0]
	u.owner = ""
	u.active = false
}

// Owner returns who the unit is currently programmed for.
func (u *Unit) Owner() (string, bool) {
	return u.owner, u.active
}

// Check reports whether the active configuration permits the access.
// With no active owner every access is refused.
func (u *Unit) Check(addr Addr, size uint32, want Perm) bool {
	if !u.active {
		u.refusals++
		return false
	}
	for _, r := range u.regions {
		if r.Allows(want) && r.Contains(addr, size) {
			return true
		}
	}
	u.refusals++
	return false
}

// Programmed returns a copy of the regions currently in the unit.
func (u *Unit) Programmed() []Region {
	out := make([]Region, len(u.regions))
	copy(out, u.regions)
	return out
}

// Switches returns how many times the unit has been reprogrammed.
func (u *Unit) Switches() uint64 {
	return u.switches
}

// Refusals returns how many accesses the unit has refused.
func (u *Unit) Refusals() uint64 {
	return u.refusals
}
