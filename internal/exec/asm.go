package exec

import "github.com/emberworks/emberos/internal/abi"

// Instruction constructors used by tests and the built-in demo images.

func Nop() Instr                   { return Instr{Op: OpNop} }
func Movi(r int, v uint32) Instr   { return Instr{Op: OpMovi, A: uint8(r), Imm: v} }
func Mov(a, b int) Instr           { return Instr{Op: OpMov, A: uint8(a), B: uint8(b)} }
func Add(a, b, c int) Instr        { return Instr{Op: OpAdd, A: uint8(a), B: uint8(b), C: uint8(c)} }
func Sub(a, b, c int) Instr        { return Instr{Op: OpSub, A: uint8(a), B: uint8(b), C: uint8(c)} }
func Addi(a, b int, v uint32) Instr {
	return Instr{Op: OpAddi, A: uint8(a), B: uint8(b), Imm: v}
}
func Load(a, b int, off uint32) Instr {
	return Instr{Op: OpLoad, A: uint8(a), B: uint8(b), Imm: off}
}
func Store(a, b int, off uint32) Instr {
	return Instr{Op: OpStore, A: uint8(a), B: uint8(b), Imm: off}
}
func Jmp(addr uint32) Instr         { return Instr{Op: OpJmp, Imm: addr} }
func Jnz(r int, addr uint32) Instr  { return Instr{Op: OpJnz, A: uint8(r), Imm: addr} }
func Jz(r int, addr uint32) Instr   { return Instr{Op: OpJz, A: uint8(r), Imm: addr} }
func Call(addr uint32) Instr        { return Instr{Op: OpCall, Imm: addr} }
func Ret() Instr                    { return Instr{Op: OpRet} }
func Push(r int) Instr              { return Instr{Op: OpPush, A: uint8(r)} }
func Pop(r int) Instr               { return Instr{Op: OpPop, A: uint8(r)} }
func Ecall(class abi.Class) Instr   { return Instr{Op: OpEcall, Imm: uint32(class)} }
func Retu() Instr                   { return Instr{Op: OpRetu} }
func Brk() Instr                    { return Instr{Op: OpBrk} }
