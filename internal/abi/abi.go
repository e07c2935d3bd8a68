package abi

import "fmt"

// Class identifies one of the six system-call kinds. The class number is
// carried in the immediate field of the trapping instruction, so it is
// fixed for the life of the ABI.
type Class uint32

const (
	ClassYield Class = iota
	ClassSubscribe
	ClassCommand
	ClassAllowReadWrite
	ClassAllowReadOnly
	ClassExit
)

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", uint32(c))
}

var classNames = map[Class]string{
	ClassYield:          "yield",
	ClassSubscribe:      "subscribe",
	ClassCommand:        "command",
	ClassAllowReadWrite: "allow_readwrite",
	ClassAllowReadOnly:  "allow_readonly",
	ClassExit:           "exit",
}

// Valid reports whether c is a defined syscall class.
func (c Class) Valid() bool {
	_, ok := classNames[c]
	return ok
}

// YieldMode selects the blocking behavior of a yield call (arg0).
type YieldMode uint32

const (
	// YieldNoWait delivers a pending upcall if there is one and returns
	// immediately either way.
	YieldNoWait YieldMode = iota
	// YieldWait parks the process until an upcall arrives.
	YieldWait
	// YieldWaitTimeout parks the process until an upcall arrives or the
	// tick deadline in arg1 passes.
	YieldWaitTimeout
)

func (m YieldMode) String() string {
	switch m {
	case YieldNoWait:
		return "no-wait"
	case YieldWait:
		return "wait"
	case YieldWaitTimeout:
		return "wait-timeout"
	}
	return fmt.Sprintf("yield-mode(%d)", uint32(m))
}

// ExitKind selects what the process asks for when it exits (arg0).
type ExitKind uint32

const (
	// ExitTerminate ends the process with no restart.
	ExitTerminate ExitKind = iota
	// ExitRestart asks the kernel to reload the process from its image.
	ExitRestart
)

func (k ExitKind) String() string {
	switch k {
	case ExitTerminate:
		return "terminate"
	case ExitRestart:
		return "restart"
	}
	return fmt.Sprintf("exit-kind(%d)", uint32(k))
}

// ErrorCode is the failure code carried in a Failure result. Zero is
// reserved so that an uninitialized code is never a valid error.
type ErrorCode uint32

const (
	CodeFail ErrorCode = iota + 1
	CodeBusy
	CodeAlready
	CodeOff
	CodeInvalid
	CodeSize
	CodeCancelled
	CodeNoMemory
	CodeNoSupport
	CodeNoDevice
	CodeUninstalled
)

func (e ErrorCode) String() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("error(%d)", uint32(e))
}

var errorNames = map[ErrorCode]string{
	CodeFail:        "fail",
	CodeBusy:        "busy",
	CodeAlready:     "already",
	CodeOff:         "off",
	CodeInvalid:     "invalid",
	CodeSize:        "size",
	CodeCancelled:   "cancelled",
	CodeNoMemory:    "no-memory",
	CodeNoSupport:   "no-support",
	CodeNoDevice:    "no-device",
	CodeUninstalled: "uninstalled",
}
