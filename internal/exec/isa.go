package exec

import (
	"encoding/binary"
	"fmt"
)

// Op is an instruction opcode.
type Op uint8

const (
	OpNop Op = iota
	OpMovi
	OpMov
	OpAdd
	OpSub
	OpAddi
	OpLoad
	OpStore
	OpJmp
	OpJnz
	OpJz
	OpCall
	OpRet
	OpPush
	OpPop
	OpEcall
	OpRetu
	OpBrk
)

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

var opNames = map[Op]string{
	OpNop:   "nop",
	OpMovi:  "movi",
	OpMov:   "mov",
	OpAdd:   "add",
	OpSub:   "sub",
	OpAddi:  "addi",
	OpLoad:  "load",
	OpStore: "store",
	OpJmp:   "jmp",
	OpJnz:   "jnz",
	OpJz:    "jz",
	OpCall:  "call",
	OpRet:   "ret",
	OpPush:  "push",
	OpPop:   "pop",
	OpEcall: "ecall",
	OpRetu:  "retu",
	OpBrk:   "brk",
}

// Valid reports whether o decodes to a defined opcode.
func (o Op) Valid() bool {
	_, ok := opNames[o]
	return ok
}

// InstrSize is the fixed encoded size of every instruction.
const InstrSize = 8

// Register indices. 0..7 name R0..R7, RegSP names the stack pointer.
const (
	NumGeneral = 8
	RegSP      = 8
	numRegs    = 9
)

// Instr is one decoded instruction: opcode, three register operands,
// and a 32-bit immediate. Unused operands are zero.
type Instr struct {
	Op  Op
	A   uint8
	B   uint8
	C   uint8
	Imm uint32
}

// Encode appends the instruction's wire form to buf.
func (i Instr) Encode(buf []byte) []byte {
	var w [InstrSize]byte
	w[0] = uint8(i.Op)
	w[1] = i.A
	w[2] = i.B
	w[3] = i.C
	binary.LittleEndian.PutUint32(w[4:], i.Imm)
	return append(buf, w[:]...)
}

// DecodeInstr reads one instruction from b. It does not judge whether
// the opcode is defined; the machine raises the fault so an undefined
// opcode is attributed to the executing process.
func DecodeInstr(b []byte) (Instr, error) {
	if len(b) < InstrSize {
		return Instr{}, fmt.Errorf("instruction truncated: %d bytes", len(b))
	}
	return Instr{
		Op:  Op(b[0]),
		A:   b[1],
		B:   b[2],
		C:   b[3],
		Imm: binary.LittleEndian.Uint32(b[4:]),
	}, nil
}

// Program is an instruction sequence assembled into image text.
type Program []Instr

// Bytes encodes the program.
func (p Program) Bytes() []byte {
	buf := make([]byte, 0, len(p)*InstrSize)
	for _, i := range p {
		buf = i.Encode(buf)
	}
	return buf
}

func (i Instr) String() string {
	switch i.Op {
	case OpNop, OpRet, OpRetu:
		return i.Op.String()
	case OpMovi:
		return fmt.Sprintf("%s r%d, %d", i.Op, i.A, i.Imm)
	case OpMov:
		return fmt.Sprintf("%s r%d, r%d", i.Op, i.A, i.B)
	case OpAdd, OpSub:
		return fmt.Sprintf("%s r%d, r%d, r%d", i.Op, i.A, i.B, i.C)
	case OpAddi:
		return fmt.Sprintf("%s r%d, r%d, %d", i.Op, i.A, i.B, i.Imm)
	case OpLoad:
		return fmt.Sprintf("%s r%d, [r%d+%d]", i.Op, i.A, i.B, i.Imm)
	case OpStore:
		return fmt.Sprintf("%s [r%d+%d], r%d", i.Op, i.B, i.Imm, i.A)
	case OpJmp, OpCall:
		return fmt.Sprintf("%s 0x%x", i.Op, i.Imm)
	case OpJnz, OpJz:
		return fmt.Sprintf("%s r%d, 0x%x", i.Op, i.A, i.Imm)
	case OpPush, OpPop:
		return fmt.Sprintf("%s r%d", i.Op, i.A)
	case OpEcall:
		return fmt.Sprintf("%s %d", i.Op, i.Imm)
	case OpBrk:
		return i.Op.String()
	}
	return fmt.Sprintf("%s a=%d b=%d c=%d imm=%d", i.Op, i.A, i.B, i.C, i.Imm)
}
