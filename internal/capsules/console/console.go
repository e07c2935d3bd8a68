// Package console is the output capsule: processes print by sharing a
// read-only buffer and issuing a write command.
package console

import (
	"bytes"

	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/process"
	"github.com/emberworks/emberos/internal/syscall"
)

// DriverID is the console capsule's ABI driver id.
const DriverID = 1

// SubWritten is the write-completion subscription slot; the upcall
// carries the byte count.
const SubWritten = 0

const (
	cmdExists = iota
	cmdWrite
)

// lineBufSize is the per-process grant reserved for staging output,
// and the longest partial line held back waiting for its newline.
const lineBufSize = 256

// Sink receives completed output lines, newline stripped. The line
// bytes are only valid for the duration of the call.
type Sink func(now uint64, pid process.ID, name string, line []byte)

// Console splits process writes into lines for the sink. Partial
// tails wait for the rest in the per-process grant; a tail that
// outgrows the grant is flushed as-is. Kernel context only.
type Console struct {
	sink Sink
	// tails tracks how much of each process's grant holds a staged
	// tail. A restart bumps the generation, orphaning the old entry.
	tails map[process.ID]int
}

func New(sink Sink) *Console {
	if sink == nil {
		sink = func(uint64, process.ID, string, []byte) {}
	}
	return &Console{sink: sink, tails: make(map[process.ID]int)}
}

func (c *Console) ID() uint32   { return DriverID }
func (c *Console) Name() string { return "console" }

func (c *Console) Command(s syscall.Scope, num, arg0, _ uint32) abi.Return {
	switch num {
	case cmdExists:
		return abi.Success()
	case cmdWrite:
		return c.write(s, arg0)
	default:
		return abi.Failure(abi.CodeNoSupport)
	}
}

func (c *Console) write(s syscall.Scope, length uint32) abi.Return {
	buf, ok := s.AllowedRO(0)
	if !ok {
		return abi.Failure(abi.CodeNoMemory)
	}
	stage, err := s.GrantBytes(lineBufSize, 8)
	if err != nil {
		return abi.Failure(abi.CodeNoMemory)
	}
	if length > uint32(len(buf)) {
		length = uint32(len(buf))
	}

	pid := s.Pid()
	staged := c.tails[pid]
	tail := make([]byte, 0, staged+int(length))
	tail = append(tail, stage[:staged]...)
	tail = append(tail, buf[:length]...)
	for {
		i := bytes.IndexByte(tail, '\n')
		if i < 0 {
			break
		}
		c.sink(s.Now(), pid, s.Name(), tail[:i])
		tail = tail[i+1:]
	}
	if len(tail) > len(stage) {
		c.sink(s.Now(), pid, s.Name(), tail)
		tail = nil
	}
	c.tails[pid] = copy(stage, tail)

	s.Post(SubWritten, [3]uint32{length, 0, 0})
	return abi.SuccessValue(length)
}
