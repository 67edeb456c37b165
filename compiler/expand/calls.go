package expand

import (
	"fmt"

	"github.com/slowlang/rvcheri/compiler/asm"
	"github.com/slowlang/rvcheri/compiler/asm/riscv"
	"github.com/slowlang/rvcheri/compiler/cheriot"
)

// compartmentCall lowers a call that may cross a compartment boundary.
//
// Callees in the same compartment that are safe to call directly become
// a plain capability call. Unsafe ones in the same compartment go the
// library call way. Everything else is routed through the switcher
// with the target in CalleeReg.
func (e *Expander) compartmentCall(f *funContext, x asm.Instr) rewrite {
	expectOps(x, 1, len(x.Ops))

	switch callee := x.Ops[0].(type) {
	case asm.GlobalOp:
		g := callee.Global

		if cheriot.SameCompartment(f.self, g) {
			if cheriot.SafeToDirectCall(f.self, g) {
				return directCall(x, g.Name)
			}

			return e.libraryCall(f, x)
		}

		ent := cheriot.EntryFor(g, false)

		return rewrite{
			Rewrite: asm.Rewrite{Blocks: [][]asm.Instr{
				importLoadCode(ent, CalleeReg, false),
				switcherCode(),
			}},
			imports: []cheriot.Entry{ent},
			call:    SwitcherCall,
			callee:  g.Name,
		}
	case asm.RegOp:
		var head []asm.Instr

		if callee.Reg != CalleeReg {
			head = append(head, asm.I(riscv.CMove, asm.Def(CalleeReg), asm.Use(callee.Reg)))
		}

		return rewrite{
			Rewrite: asm.Rewrite{
				Head:   head,
				Blocks: [][]asm.Instr{switcherCode()},
			},
			call:   SwitcherCall,
			callee: riscv.RegName(callee.Reg),
		}
	default:
		panic(fmt.Sprintf("compartment call: unsupported callee %T", callee))
	}
}

// libraryCall lowers a call into a shared library.
func (e *Expander) libraryCall(f *funContext, x asm.Instr) rewrite {
	expectOps(x, 1, len(x.Ops))

	switch callee := x.Ops[0].(type) {
	case asm.GlobalOp:
		g := callee.Global

		if !g.Declaration && cheriot.SafeToDirectCall(f.self, g) {
			return directCall(x, g.Name)
		}

		return importedCall(cheriot.EntryFor(g, true), g.Name)
	case asm.SymbolOp:
		return importedCall(cheriot.LibcallEntry(callee.Name), callee.Name)
	case asm.RegOp:
		return rewrite{
			Rewrite: asm.Rewrite{Head: []asm.Instr{
				asm.I(riscv.C_CJALR, asm.Use(callee.Reg)),
			}},
			call:   IndirectCall,
			callee: riscv.RegName(callee.Reg),
		}
	default:
		panic(fmt.Sprintf("library call: unsupported callee %T", callee))
	}
}

func directCall(x asm.Instr, name string) rewrite {
	x = x.Clone()
	x.Op = riscv.PseudoCCALL

	return rewrite{
		Rewrite: asm.Rewrite{Head: []asm.Instr{x}},
		call:    DirectCall,
		callee:  name,
	}
}

func importedCall(ent cheriot.Entry, name string) rewrite {
	return rewrite{
		Rewrite: asm.Rewrite{Blocks: [][]asm.Instr{importLoadCode(ent, LibcallReg, true)}},
		imports: []cheriot.Entry{ent},
		call:    ImportedCall,
		callee:  name,
	}
}

func switcherCode() []asm.Instr {
	return []asm.Instr{
		asm.I(riscv.AUIPCC, asm.Def(SwitcherReg), asm.SymbolOp{Name: cheriot.Switcher, Flags: riscv.MoCheriotCompartmentHi}),
		asm.I(riscv.CLC_64, asm.Def(SwitcherReg), asm.Kill(SwitcherReg), asm.Anchor{Flags: riscv.MoCheriotCompartmentLoI}),
		asm.I(riscv.C_CJALR, asm.Kill(SwitcherReg)),
	}
}
