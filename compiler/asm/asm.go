package asm

import (
	"fmt"

	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/rvcheri/compiler/set"
)

type (
	Reg     int
	Opcode  int
	BlockID int

	// TargetFlags selects the relocation modifier of a symbolic operand.
	TargetFlags int

	Regs = set.Bits[Reg]

	Operand interface {
		operand()
	}

	RegOp struct {
		Reg Reg

		Def   bool
		Kill  bool
		Dead  bool
		Undef bool
	}

	Imm int64

	GlobalOp struct {
		Global *Global
		Offset int64
		Flags  TargetFlags
	}

	SymbolOp struct {
		Name   string
		Offset int64
		Flags  TargetFlags
	}

	BlockOp struct {
		Block BlockID
		Flags TargetFlags
	}

	// Anchor is the label of the block the instruction ends up in.
	// Rewrites use it before the block exists; Func.Apply turns it into BlockOp.
	Anchor struct {
		Flags TargetFlags
	}

	MemRef struct {
		Size  int64
		Align int64
		Load  bool
		Store bool
	}

	Instr struct {
		Op  Opcode
		Ops []Operand
		Mem []MemRef
	}

	CallConv   int
	Interrupts int

	Global struct {
		Name string

		Func        bool
		Declaration bool
		Constant    bool
		External    bool

		Section string
		Size    int64

		Compartment string
		CallConv    CallConv
		Interrupts  Interrupts

		// VariantCC marks functions using the vector calling convention.
		VariantCC bool
	}
)

const NoReg Reg = -1

const (
	CallConvC CallConv = iota
	CallConvCCall
	CallConvCCallee
	CallConvLibCall
)

const (
	InterruptsInherit Interrupts = iota
	InterruptsEnabled
	InterruptsDisabled
)

const MoNone TargetFlags = 0

func (RegOp) operand()    {}
func (Imm) operand()      {}
func (GlobalOp) operand() {}
func (SymbolOp) operand() {}
func (BlockOp) operand()  {}
func (Anchor) operand()   {}

func Use(r Reg) RegOp  { return RegOp{Reg: r} }
func Kill(r Reg) RegOp { return RegOp{Reg: r, Kill: true} }
func Def(r Reg) RegOp  { return RegOp{Reg: r, Def: true} }

func I(op Opcode, ops ...Operand) Instr {
	return Instr{Op: op, Ops: ops}
}

// Reg returns the register of operand i and panics if it is not a register.
func (x Instr) Reg(i int) Reg {
	r, ok := x.Ops[i].(RegOp)
	if !ok {
		panic(fmt.Sprintf("operand %d of %v is %T, not a register", i, x.Op, x.Ops[i]))
	}

	return r.Reg
}

func (x Instr) RegOp(i int) RegOp {
	r, ok := x.Ops[i].(RegOp)
	if !ok {
		panic(fmt.Sprintf("operand %d of %v is %T, not a register", i, x.Op, x.Ops[i]))
	}

	return r
}

// Clone copies the operand list so the result can be edited independently.
func (x Instr) Clone() Instr {
	x.Ops = append([]Operand(nil), x.Ops...)
	x.Mem = append([]MemRef(nil), x.Mem...)

	return x
}

func (c CallConv) String() string {
	switch c {
	case CallConvC:
		return "c"
	case CallConvCCall:
		return "cheri_ccall"
	case CallConvCCallee:
		return "cheri_ccallee"
	case CallConvLibCall:
		return "cheri_libcall"
	}

	return fmt.Sprintf("callconv(%d)", int(c))
}

func (s Interrupts) String() string {
	switch s {
	case InterruptsInherit:
		return "inherit"
	case InterruptsEnabled:
		return "enabled"
	case InterruptsDisabled:
		return "disabled"
	}

	return fmt.Sprintf("interrupts(%d)", int(s))
}

func ParseCallConv(s string) (CallConv, bool) {
	for c := CallConvC; c <= CallConvLibCall; c++ {
		if c.String() == s {
			return c, true
		}
	}

	return CallConvC, false
}

func ParseInterrupts(s string) (Interrupts, bool) {
	for i := InterruptsInherit; i <= InterruptsDisabled; i++ {
		if i.String() == s {
			return i, true
		}
	}

	return InterruptsInherit, false
}

func (g *Global) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if g == nil {
		return e.AppendNil(b)
	}

	b = e.AppendMap(b, 3)
	b = e.AppendString(b, "name")
	b = e.AppendString(b, g.Name)
	b = e.AppendString(b, "compartment")
	b = e.AppendString(b, g.Compartment)
	b = e.AppendString(b, "cc")
	b = e.AppendString(b, g.CallConv.String())

	return b
}
