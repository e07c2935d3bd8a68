package syscall

import (
	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/memory"
	"github.com/emberworks/emberos/internal/process"
)

// Scope is the view a driver gets of the calling process for the
// duration of one command. Buffer slices alias process RAM and must
// not be retained past the call.
type Scope interface {
	// Pid identifies the calling process.
	Pid() process.ID
	// Name returns the calling process's image name, for attribution.
	Name() string
	// Now returns the current virtual tick.
	Now() uint64
	// AllowedRO returns the read-only buffer the process shared under
	// buf, if any. The driver must treat the bytes as immutable.
	AllowedRO(buf uint32) ([]byte, bool)
	// AllowedRW returns the writable buffer shared under buf, if any.
	AllowedRW(buf uint32) ([]byte, bool)
	// Grant allocates (or finds) this driver's grant for the process.
	Grant(size, align uint32) (memory.Addr, error)
	// GrantBytes is Grant plus a byte view of the granted memory, for
	// drivers that keep per-process state there. The view aliases
	// kernel-owned RAM and survives across commands.
	GrantBytes(size, align uint32) ([]byte, error)
	// Post queues an upcall to the calling process on (driver, sub).
	// False when the process is not subscribed or its queue is full.
	Post(sub uint32, args [3]uint32) bool
}

// Driver handles the command class for one driver id. Subscribe and
// allow bookkeeping stays in the dispatcher; a driver reads shared
// buffers and posts upcalls through its Scope.
type Driver interface {
	ID() uint32
	Name() string
	Command(s Scope, num, arg0, arg1 uint32) abi.Return
}

// Poster is the upcall entry point handed to time-driven drivers.
type Poster interface {
	Post(id process.ID, driver, sub uint32, args [3]uint32) bool
}

// Ticker is implemented by drivers that act on the virtual clock. The
// kernel advances them once per loop pass, before scheduling.
type Ticker interface {
	Advance(now uint64, post Poster)
}

// Deadliner is implemented by clock-driven drivers that know the next
// tick they care about. When every process is parked the kernel jumps
// the clock straight to the earliest such tick instead of idling.
type Deadliner interface {
	NextDeadline() (uint64, bool)
}
