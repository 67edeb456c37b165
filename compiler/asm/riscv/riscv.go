package riscv

import (
	"fmt"

	"github.com/slowlang/rvcheri/compiler/asm"
)

// Registers.
const (
	X0 asm.Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	X31
)

const (
	C0 asm.Reg = 32 + iota
	C1
	C2
	C3
	C4
	C5
	C6
	C7
	C8
	C9
	C10
	C11
	C12
	C13
	C14
	C15
	C16
	C17
	C18
	C19
	C20
	C21
	C22
	C23
	C24
	C25
	C26
	C27
	C28
	C29
	C30
	C31
)

const (
	V0 asm.Reg = 64 + iota
)

const (
	VL    asm.Reg = 96
	VTYPE asm.Reg = 97

	NumRegs = 98
)

var abiNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

func V(n int) asm.Reg { return V0 + asm.Reg(n) }
func X(n int) asm.Reg { return X0 + asm.Reg(n) }
func C(n int) asm.Reg { return C0 + asm.Reg(n) }

func IsX(r asm.Reg) bool { return r >= X0 && r <= X31 }
func IsC(r asm.Reg) bool { return r >= C0 && r <= C31 }
func IsV(r asm.Reg) bool { return r >= V0 && r < V0+32 }

func RegName(r asm.Reg) string {
	switch {
	case IsX(r):
		return abiNames[r-X0]
	case r == C0:
		return "cnull"
	case IsC(r):
		return "c" + abiNames[r-C0]
	case IsV(r):
		return fmt.Sprintf("v%d", r-V0)
	case r == VL:
		return "vl"
	case r == VTYPE:
		return "vtype"
	case r == asm.NoReg:
		return "$noreg"
	}

	return fmt.Sprintf("r%d", int(r))
}

// ParseReg accepts ABI names (a0, ca0, cnull), numeric names (x10, c10, v8) and vl/vtype.
func ParseReg(s string) (asm.Reg, bool) {
	switch s {
	case "cnull":
		return C0, true
	case "fp":
		return X8, true
	case "cfp":
		return C8, true
	case "vl":
		return VL, true
	case "vtype":
		return VTYPE, true
	}

	for i, n := range abiNames {
		if s == n {
			return X(i), true
		}

		if s == "c"+n {
			return C(i), true
		}
	}

	if len(s) < 2 {
		return asm.NoReg, false
	}

	var n int
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return asm.NoReg, false
		}

		n = n*10 + int(c-'0')
	}

	if n >= 32 {
		return asm.NoReg, false
	}

	switch s[0] {
	case 'x':
		return X(n), true
	case 'c':
		return C(n), true
	case 'v':
		return V(n), true
	}

	return asm.NoReg, false
}
