// Package format prints expanded functions and the import table as assembly text.
package format

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/rvcheri/compiler/asm"
	"github.com/slowlang/rvcheri/compiler/asm/riscv"
	"github.com/slowlang/rvcheri/compiler/cheriot"
)

// Func appends the assembly of f to b. Blocks are printed in layout order.
func Func(ctx context.Context, b []byte, f *asm.Func) (_ []byte, err error) {
	b = app(b, 0, "\t.globl\t%s\n", f.Name)

	if f.Self != nil && f.Self.VariantCC {
		b = app(b, 0, "\t.variant_cc\t%s\n", f.Name)
	}

	b = app(b, 0, "%s:\n", f.Name)

	for i, id := range f.Layout {
		blk := f.Blocks[id]

		if i != 0 || blk.MustEmitLabel {
			b = app(b, 0, "%s:\n", BlockLabel(f, id))
		}

		for j, x := range blk.Code {
			b, err = Instr(b, f, x)
			if err != nil {
				return nil, errors.Wrap(err, "block %d: instr %d", id, j)
			}
		}
	}

	return b, nil
}

func BlockLabel(f *asm.Func, id asm.BlockID) string {
	return hfmtString(".LBB_%s_%d", f.Name, id)
}

func Instr(b []byte, f *asm.Func, x asm.Instr) (_ []byte, err error) {
	if riscv.IsPseudo(x.Op) {
		return nil, errors.New("unexpanded pseudo instruction: %v", riscv.OpName(x.Op))
	}

	b = app(b, 1, "%s", riscv.OpName(x.Op))

	ops := x.Ops

	switch x.Op {
	case riscv.PseudoCCALL, riscv.C_CJALR:
		// only the target is written, the rest are implicit
		if len(ops) > 1 {
			ops = ops[:1]
		}
	case riscv.RET:
		ops = nil
	}

	if isMem(x.Op) && len(ops) == 3 {
		b = append(b, '\t')
		b = operand(b, f, ops[0])
		b = append(b, ", "...)
		b = operand(b, f, ops[2])
		b = append(b, '(')
		b = operand(b, f, ops[1])
		b = append(b, ")\n"...)

		return b, nil
	}

	if isVectorMem(x.Op) && len(ops) == 2 {
		b = append(b, '\t')
		b = operand(b, f, ops[0])
		b = append(b, ", ("...)
		b = operand(b, f, ops[1])
		b = append(b, ")\n"...)

		return b, nil
	}

	for i, op := range ops {
		if i == 0 {
			b = append(b, '\t')
		} else {
			b = append(b, ", "...)
		}

		b = operand(b, f, op)
	}

	b = append(b, '\n')

	return b, nil
}

// Imports appends the import table the way the object emitter lays it out.
func Imports(b []byte, t *cheriot.Table) []byte {
	if t.Len() == 0 {
		return b
	}

	b = app(b, 1, ".section\t%s,\"aw\",@progbits\n", cheriot.ImportsSection)

	for _, e := range t.Entries() {
		bind := "local"
		if e.Public {
			bind = "weak"
		}

		b = app(b, 1, ".type\t%s,@object\n", e.Import)
		b = app(b, 1, ".%s\t%s\n", bind, e.Import)
		b = app(b, 1, ".p2align\t3\n")
		b = app(b, 0, "%s:\n", e.Import)

		if e.Library {
			b = app(b, 1, ".word\t%s+1\n", e.Export)
		} else {
			b = app(b, 1, ".word\t%s\n", e.Export)
		}

		b = app(b, 1, ".word\t0\n")
		b = app(b, 1, ".size\t%s, 8\n", e.Import)
	}

	return b
}

func operand(b []byte, f *asm.Func, op asm.Operand) []byte {
	switch op := op.(type) {
	case asm.RegOp:
		return append(b, riscv.RegName(op.Reg)...)
	case asm.Imm:
		return hfmt.Appendf(b, "%d", int64(op))
	case asm.GlobalOp:
		return symbol(b, op.Global.Name, op.Offset, op.Flags)
	case asm.SymbolOp:
		return symbol(b, op.Name, op.Offset, op.Flags)
	case asm.BlockOp:
		return symbol(b, BlockLabel(f, op.Block), 0, op.Flags)
	case asm.Anchor:
		return append(b, "<anchor>"...)
	default:
		panic(op)
	}
}

func symbol(b []byte, name string, off int64, flags asm.TargetFlags) []byte {
	wrap := flags != asm.MoNone && flags != riscv.MoCall

	if wrap {
		b = hfmt.Appendf(b, "%%%s(", riscv.FlagName(flags))
	}

	b = append(b, name...)

	if off != 0 {
		b = hfmt.Appendf(b, "%+d", off)
	}

	if wrap {
		b = append(b, ')')
	}

	return b
}

func isMem(op asm.Opcode) bool {
	switch op {
	case riscv.LW, riscv.LD, riscv.SW, riscv.SD, riscv.CLC_64, riscv.CLC_128, riscv.CLW, riscv.CLD:
		return true
	}

	return false
}

func isVectorMem(op asm.Opcode) bool {
	switch op {
	case riscv.VS1R_V, riscv.VS2R_V, riscv.VS4R_V, riscv.VL1RE8_V, riscv.VL2RE8_V, riscv.VL4RE8_V:
		return true
	}

	return false
}

func hfmtString(f string, args ...any) string {
	return string(hfmt.Appendf(nil, f, args...))
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
