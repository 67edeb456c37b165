package mc

import (
	"fmt"
	"strconv"
)

type (
	// Expr is a symbolic value: Const, *SymbolRef or *Binary.
	Expr interface {
		expr()
		String() string
	}

	Const int64

	VariantKind int

	SymbolRef struct {
		Symbol *Symbol
		Kind   VariantKind
	}

	BinaryOp int

	Binary struct {
		Op   BinaryOp
		L, R Expr
	}

	// Value is the relocatable form of an expression: SymA - SymB + Constant.
	Value struct {
		SymA     *SymbolRef
		SymB     *SymbolRef
		Constant int64
	}
)

const (
	VariantNone VariantKind = iota
	VariantPLT
	VariantGOTPCRel
)

const (
	OpAdd BinaryOp = iota
	OpSub
)

func (Const) expr()      {}
func (*SymbolRef) expr() {}
func (*Binary) expr()    {}

func Ref(s *Symbol) *SymbolRef { return &SymbolRef{Symbol: s} }

func Add(l, r Expr) *Binary { return &Binary{Op: OpAdd, L: l, R: r} }
func Sub(l, r Expr) *Binary { return &Binary{Op: OpSub, L: l, R: r} }

func (c Const) String() string { return strconv.FormatInt(int64(c), 10) }

func (r *SymbolRef) String() string {
	switch r.Kind {
	case VariantPLT:
		return r.Symbol.Name + "@plt"
	case VariantGOTPCRel:
		return r.Symbol.Name + "@gotpcrel"
	}

	return r.Symbol.Name
}

func (b *Binary) String() string {
	op := "+"
	if b.Op == OpSub {
		op = "-"
	}

	return fmt.Sprintf("(%v %s %v)", b.L, op, b.R)
}

// EvaluateAsRelocatable folds e into SymA - SymB + Constant.
// It fails if the expression needs more than one positive or negative symbol.
func EvaluateAsRelocatable(e Expr) (v Value, ok bool) {
	switch e := e.(type) {
	case Const:
		return Value{Constant: int64(e)}, true
	case *SymbolRef:
		return Value{SymA: e}, true
	case *Binary:
		l, ok := EvaluateAsRelocatable(e.L)
		if !ok {
			return v, false
		}

		r, ok := EvaluateAsRelocatable(e.R)
		if !ok {
			return v, false
		}

		switch e.Op {
		case OpAdd:
			return l.add(r)
		case OpSub:
			return l.add(Value{SymA: r.SymB, SymB: r.SymA, Constant: -r.Constant})
		}
	}

	return v, false
}

func (l Value) add(r Value) (v Value, ok bool) {
	if l.SymA != nil && r.SymA != nil || l.SymB != nil && r.SymB != nil {
		return v, false
	}

	v = Value{
		SymA:     l.SymA,
		SymB:     l.SymB,
		Constant: l.Constant + r.Constant,
	}

	if v.SymA == nil {
		v.SymA = r.SymA
	}

	if v.SymB == nil {
		v.SymB = r.SymB
	}

	if v.SymA != nil && v.SymB != nil && v.SymA.Symbol == v.SymB.Symbol &&
		v.SymA.Kind == VariantNone && v.SymB.Kind == VariantNone {
		v.SymA, v.SymB = nil, nil
	}

	return v, true
}

// IsAbsolute reports whether the value has no symbols left.
func (v Value) IsAbsolute() bool {
	return v.SymA == nil && v.SymB == nil
}
