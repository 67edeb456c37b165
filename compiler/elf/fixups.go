package elf

import (
	"github.com/slowlang/rvcheri/compiler/mc"
)

// RequiresFixups decides whether v has to be emitted as a delayed
// add/sub relocation pair instead of being folded now.
// When it does, a is SymA+Constant and b is SymB.
//
// The decision is a static approximation: when in doubt it asks for the pair.
// An extra relocation is harmless, folding a difference that relaxation
// later changes is not.
func RequiresFixups(v mc.Expr) (a, b mc.Expr, ok bool) {
	if _, isBin := v.(*mc.Binary); !isBin {
		return nil, nil, false
	}

	e, ok := mc.EvaluateAsRelocatable(v)
	if !ok {
		return nil, nil, false
	}

	if e.SymA == nil || e.SymB == nil {
		return nil, nil, false
	}

	A := e.SymA.Symbol
	B := e.SymB.Symbol

	a = mc.Add(mc.Ref(A), mc.Const(e.Constant))
	b = e.SymB

	// A@plt - B + C and the like are resolved by their own relocation.
	if e.SymA.Kind != mc.VariantNone || e.SymB.Kind != mc.VariantNone {
		return nil, nil, false
	}

	// Relaxation may change code size between the symbols,
	// and nothing tracks whether a section was relaxed.
	if inText(A) || inText(B) {
		return a, b, true
	}

	// A may still be defined later. Temporary labels are assumed
	// to be local differences, which covers most debug info.
	// TODO: decide once all symbols are known instead of at emission.
	if !A.IsDefined() && !A.IsTemporary() && B.IsDefined() {
		return a, b, true
	}

	if A.IsDefined() && B.IsDefined() && A.Section.Name != B.Section.Name {
		return a, b, true
	}

	return nil, nil, false
}

func inText(s *mc.Symbol) bool {
	return s.IsDefined() && s.Section.Kind.IsText()
}
