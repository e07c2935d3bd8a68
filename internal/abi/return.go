package abi

import "fmt"

// Variant tags the shape of a syscall result. Success variants set the
// high bit, so is-success is a single bit test on R0 for application code.
type Variant uint32

const (
	VariantFailure          Variant = 0
	VariantFailureWithValue Variant = 1
	VariantSuccess          Variant = 128
	VariantSuccessWithValue Variant = 129
	VariantSuccessWith2     Variant = 130
	VariantSuccessWith3     Variant = 131
)

func (v Variant) String() string {
	switch v {
	case VariantFailure:
		return "failure"
	case VariantFailureWithValue:
		return "failure-with-value"
	case VariantSuccess:
		return "success"
	case VariantSuccessWithValue:
		return "success-with-value"
	case VariantSuccessWith2:
		return "success-with-2"
	case VariantSuccessWith3:
		return "success-with-3"
	}
	return fmt.Sprintf("variant(%d)", uint32(v))
}

// Return is a decoded syscall result. It is written to R0..R3 when the
// process resumes: R0 holds the variant, R1..R3 hold the payload words.
// For failure variants the first payload word is the ErrorCode.
type Return struct {
	Variant Variant
	V0      uint32
	V1      uint32
	V2      uint32
}

// Success returns the bare success result.
func Success() Return {
	return Return{Variant: VariantSuccess}
}

// SuccessValue returns success carrying one word.
func SuccessValue(v uint32) Return {
	return Return{Variant: VariantSuccessWithValue, V0: v}
}

// SuccessValue2 returns success carrying two words.
func SuccessValue2(a, b uint32) Return {
	return Return{Variant: VariantSuccessWith2, V0: a, V1: b}
}

// SuccessValue3 returns success carrying three words.
func SuccessValue3(a, b, c uint32) Return {
	return Return{Variant: VariantSuccessWith3, V0: a, V1: b, V2: c}
}

// Failure returns a failure result carrying the code.
func Failure(code ErrorCode) Return {
	return Return{Variant: VariantFailure, V0: uint32(code)}
}

// FailureValue returns a failure result carrying the code and one word.
func FailureValue(code ErrorCode, v uint32) Return {
	return Return{Variant: VariantFailureWithValue, V0: uint32(code), V1: v}
}

// Ok reports whether the result is any success variant.
func (r Return) Ok() bool {
	return uint32(r.Variant)&uint32(VariantSuccess) != 0
}

// Code returns the error code of a failure result, or zero for success.
func (r Return) Code() ErrorCode {
	if r.Ok() {
		return 0
	}
	return ErrorCode(r.V0)
}

// Registers encodes the result into the four return registers.
func (r Return) Registers() [4]uint32 {
	return [4]uint32{uint32(r.Variant), r.V0, r.V1, r.V2}
}

// DecodeReturn reconstructs a Return from the four return registers.
func DecodeReturn(regs [4]uint32) Return {
	return Return{Variant: Variant(regs[0]), V0: regs[1], V1: regs[2], V2: regs[3]}
}

func (r Return) String() string {
	if r.Ok() {
		return fmt.Sprintf("%s(%d,%d,%d)", r.Variant, r.V0, r.V1, r.V2)
	}
	return fmt.Sprintf("%s(%s,%d)", r.Variant, ErrorCode(r.V0), r.V1)
}
