package fault

import (
	"fmt"

	"github.com/emberworks/emberos/internal/memory"
)

// Class identifies what the hardware detected.
type Class uint8

const (
	ProtectionViolation Class = iota
	InvalidInstruction
	StackOverflow
	ExplicitAbort
)

func (c Class) String() string {
	switch c {
	case ProtectionViolation:
		return "protection-violation"
	case InvalidInstruction:
		return "invalid-instruction"
	case StackOverflow:
		return "stack-overflow"
	case ExplicitAbort:
		return "explicit-abort"
	}
	return fmt.Sprintf("fault(%d)", uint8(c))
}

// Fault is one fault notification: the class, the program counter at
// the faulting instruction, and the offending address when the class
// has one.
type Fault struct {
	Class Class
	PC    uint32
	Addr  memory.Addr
}

func (f Fault) String() string {
	if f.Class == ProtectionViolation || f.Class == StackOverflow {
		return fmt.Sprintf("%s at pc=0x%08x addr=%s", f.Class, f.PC, f.Addr)
	}
	return fmt.Sprintf("%s at pc=0x%08x", f.Class, f.PC)
}

// Policy is the per-process recovery policy fixed at load time. The
// zero value is Stop: halting the whole board is never a default, it
// must be configured explicitly for kernel-critical slots.
type Policy uint8

const (
	PolicyStop Policy = iota
	PolicyRestart
	PolicyPanic
)

func (p Policy) String() string {
	switch p {
	case PolicyStop:
		return "stop"
	case PolicyRestart:
		return "restart"
	case PolicyPanic:
		return "panic"
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParsePolicy reads a policy name from board configuration.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "stop":
		return PolicyStop, nil
	case "restart":
		return PolicyRestart, nil
	case "panic":
		return PolicyPanic, nil
	}
	return PolicyStop, fmt.Errorf("unknown fault policy %q", s)
}
