package exec

import (
	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/fault"
	"github.com/emberworks/emberos/internal/memory"
)

// Registers is one process's saved CPU context.
type Registers struct {
	R  [NumGeneral]uint32
	SP uint32
	PC uint32
}

func (r *Registers) reg(i uint8) (*uint32, bool) {
	switch {
	case i < NumGeneral:
		return &r.R[i], true
	case i == RegSP:
		return &r.SP, true
	}
	return nil, false
}

// Args returns the syscall argument registers R0..R3.
func (r *Registers) Args() [4]uint32 {
	return [4]uint32{r.R[0], r.R[1], r.R[2], r.R[3]}
}

// SetReturn writes a syscall result into R0..R3.
func (r *Registers) SetReturn(ret abi.Return) {
	regs := ret.Registers()
	r.R[0], r.R[1], r.R[2], r.R[3] = regs[0], regs[1], regs[2], regs[3]
}

// StopKind says why the machine gave the core back.
type StopKind uint8

const (
	StopSyscall StopKind = iota
	StopFault
	StopExpired
)

func (k StopKind) String() string {
	switch k {
	case StopSyscall:
		return "syscall"
	case StopFault:
		return "fault"
	case StopExpired:
		return "expired"
	}
	return "stop(?)"
}

// Stop reports one executor entry: why it ended, the syscall class for
// StopSyscall, the fault for StopFault, and how many ticks ran.
type Stop struct {
	Kind  StopKind
	Class abi.Class
	Fault fault.Fault
	Ticks uint64
}

// Machine executes instructions against physical memory through the
// region protection unit. It holds no per-process state; the kernel
// passes each process's registers and layout in.
type Machine struct {
	phys *memory.Physical
	unit *memory.Unit
}

// NewMachine builds the executor over the board's memory and unit.
func NewMachine(phys *memory.Physical, unit *memory.Unit) *Machine {
	return &Machine{phys: phys, unit: unit}
}

// Run executes at most budget instructions for the process whose
// regions are active in the protection unit. One instruction is one
// tick.
func (m *Machine) Run(regs *Registers, layout *memory.Layout, budget uint64) Stop {
	var ticks uint64
	for ticks < budget {
		pc := regs.PC
		if !m.unit.Check(memory.Addr(pc), InstrSize, memory.PermExec) {
			return Stop{Kind: StopFault, Ticks: ticks, Fault: fault.Fault{
				Class: fault.ProtectionViolation, PC: pc, Addr: memory.Addr(pc),
			}}
		}
		raw, err := m.phys.ReadBytes(memory.Addr(pc), InstrSize)
		if err != nil {
			return Stop{Kind: StopFault, Ticks: ticks, Fault: fault.Fault{
				Class: fault.ProtectionViolation, PC: pc, Addr: memory.Addr(pc),
			}}
		}
		ins, err := DecodeInstr(raw)
		if err != nil || !ins.Op.Valid() {
			return Stop{Kind: StopFault, Ticks: ticks, Fault: fault.Fault{
				Class: fault.InvalidInstruction, PC: pc,
			}}
		}

		regs.PC = pc + InstrSize
		ticks++

		if f := m.step(regs, layout, ins); f != nil {
			f.PC = pc
			return Stop{Kind: StopFault, Ticks: ticks, Fault: *f}
		}
		if ins.Op == OpEcall {
			return Stop{Kind: StopSyscall, Class: abi.Class(ins.Imm), Ticks: ticks}
		}
	}
	return Stop{Kind: StopExpired, Ticks: ticks}
}

func (m *Machine) step(regs *Registers, layout *memory.Layout, ins Instr) *fault.Fault {
	switch ins.Op {
	case OpNop, OpEcall:
		return nil

	case OpMovi:
		return m.setReg(regs, ins.A, ins.Imm)

	case OpMov:
		v, f := m.getReg(regs, ins.B)
		if f != nil {
			return f
		}
		return m.setReg(regs, ins.A, v)

	case OpAdd, OpSub:
		b, f := m.getReg(regs, ins.B)
		if f != nil {
			return f
		}
		c, f := m.getReg(regs, ins.C)
		if f != nil {
			return f
		}
		if ins.Op == OpSub {
			return m.setReg(regs, ins.A, b-c)
		}
		return m.setReg(regs, ins.A, b+c)

	case OpAddi:
		b, f := m.getReg(regs, ins.B)
		if f != nil {
			return f
		}
		return m.setReg(regs, ins.A, b+ins.Imm)

	case OpLoad:
		base, f := m.getReg(regs, ins.B)
		if f != nil {
			return f
		}
		addr := memory.Addr(base + ins.Imm)
		v, f := m.loadWord(addr)
		if f != nil {
			return f
		}
		return m.setReg(regs, ins.A, v)

	case OpStore:
		v, f := m.getReg(regs, ins.A)
		if f != nil {
			return f
		}
		base, f := m.getReg(regs, ins.B)
		if f != nil {
			return f
		}
		return m.storeWord(memory.Addr(base+ins.Imm), v)

	case OpJmp:
		regs.PC = ins.Imm
		return nil

	case OpJnz, OpJz:
		v, f := m.getReg(regs, ins.A)
		if f != nil {
			return f
		}
		if (ins.Op == OpJnz) == (v != 0) {
			regs.PC = ins.Imm
		}
		return nil

	case OpCall:
		if f := m.push(regs, layout, regs.PC); f != nil {
			return f
		}
		regs.PC = ins.Imm
		return nil

	case OpRet:
		v, f := m.pop(regs)
		if f != nil {
			return f
		}
		regs.PC = v
		return nil

	case OpPush:
		v, f := m.getReg(regs, ins.A)
		if f != nil {
			return f
		}
		return m.push(regs, layout, v)

	case OpPop:
		v, f := m.pop(regs)
		if f != nil {
			return f
		}
		return m.setReg(regs, ins.A, v)

	case OpRetu:
		for i := 3; i >= 0; i-- {
			v, f := m.pop(regs)
			if f != nil {
				return f
			}
			regs.R[i] = v
		}
		v, f := m.pop(regs)
		if f != nil {
			return f
		}
		regs.PC = v
		return nil

	case OpBrk:
		return &fault.Fault{Class: fault.ExplicitAbort}
	}
	return &fault.Fault{Class: fault.InvalidInstruction}
}

func (m *Machine) getReg(regs *Registers, i uint8) (uint32, *fault.Fault) {
	p, ok := regs.reg(i)
	if !ok {
		return 0, &fault.Fault{Class: fault.InvalidInstruction}
	}
	return *p, nil
}

func (m *Machine) setReg(regs *Registers, i uint8, v uint32) *fault.Fault {
	p, ok := regs.reg(i)
	if !ok {
		return &fault.Fault{Class: fault.InvalidInstruction}
	}
	*p = v
	return nil
}

func (m *Machine) loadWord(addr memory.Addr) (uint32, *fault.Fault) {
	if !m.unit.Check(addr, 4, memory.PermRead) {
		return 0, &fault.Fault{Class: fault.ProtectionViolation, Addr: addr}
	}
	v, err := m.phys.ReadWord(addr)
	if err != nil {
		return 0, &fault.Fault{Class: fault.ProtectionViolation, Addr: addr}
	}
	return v, nil
}

func (m *Machine) storeWord(addr memory.Addr, v uint32) *fault.Fault {
	if !m.unit.Check(addr, 4, memory.PermWrite) {
		return &fault.Fault{Class: fault.ProtectionViolation, Addr: addr}
	}
	if err := m.phys.WriteWord(addr, v); err != nil {
		return &fault.Fault{Class: fault.ProtectionViolation, Addr: addr}
	}
	return nil
}

// push writes at SP and raises SP. Growing past the grant break while
// still inside the process's RAM is a stack overflow; anything else
// out of bounds is a protection violation.
func (m *Machine) push(regs *Registers, layout *memory.Layout, v uint32) *fault.Fault {
	sp := memory.Addr(regs.SP)
	top := uint64(regs.SP) + 4
	if top > uint64(layout.GrantBreak()) && layout.RAM.Contains(sp, 0) {
		return &fault.Fault{Class: fault.StackOverflow, Addr: sp}
	}
	if f := m.storeWord(sp, v); f != nil {
		return f
	}
	regs.SP += 4
	return nil
}

func (m *Machine) pop(regs *Registers) (uint32, *fault.Fault) {
	if regs.SP < 4 {
		return 0, &fault.Fault{Class: fault.ProtectionViolation, Addr: 0}
	}
	addr := memory.Addr(regs.SP - 4)
	v, f := m.loadWord(addr)
	if f != nil {
		return 0, f
	}
	regs.SP -= 4
	return v, nil
}

// PushFrame stages an upcall delivery on the process stack: the
// interrupted PC and R0..R3 are saved, the callback gets its arguments
// in R0..R2 and userdata in R3, and control moves to the callback. The
// handler returns through retu. The caller must have the process's
// regions active in the protection unit.
func (m *Machine) PushFrame(regs *Registers, layout *memory.Layout, pc uint32, args [3]uint32, userdata uint32) *fault.Fault {
	interrupted := regs.PC
	saved := [5]uint32{interrupted, regs.R[0], regs.R[1], regs.R[2], regs.R[3]}
	for _, v := range saved {
		if f := m.push(regs, layout, v); f != nil {
			f.PC = interrupted
			return f
		}
	}
	regs.R[0], regs.R[1], regs.R[2] = args[0], args[1], args[2]
	regs.R[3] = userdata
	regs.PC = pc
	return nil
}
