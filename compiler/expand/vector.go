package expand

import (
	"fmt"

	"github.com/slowlang/rvcheri/compiler/asm"
	"github.com/slowlang/rvcheri/compiler/asm/riscv"
)

// setVL copies the pseudo into the real instruction keeping register state.
func (e *Expander) setVL(x asm.Instr) rewrite {
	expectOps(x, 3, len(x.Ops))

	op := riscv.VSETVLI
	if x.Op == riscv.PseudoVSETIVLI {
		op = riscv.VSETIVLI
	}

	dst := x.RegOp(0)

	y := asm.I(op, asm.RegOp{Reg: dst.Reg, Def: dst.Def, Dead: dst.Dead}, x.Ops[1], x.Ops[2])

	return rewrite{Rewrite: asm.Rewrite{Head: []asm.Instr{y}}}
}

// maskSetClear writes all ones or all zeros to a mask register
// with a self xor/xnor of an undefined value.
func (e *Expander) maskSetClear(x asm.Instr, op asm.Opcode) rewrite {
	expectOps(x, 1, len(x.Ops))

	dst := x.Reg(0)
	undef := asm.RegOp{Reg: dst, Undef: true}

	return rewrite{Rewrite: asm.Rewrite{Head: []asm.Instr{
		asm.I(op, asm.Def(dst), undef, undef),
	}}}
}

// vspill stores nf register groups of lmul registers each,
// advancing the base address by vl between them.
//
// Operands: vector group, base address, stride.
func (e *Expander) vspill(x asm.Instr) rewrite {
	nf, lmul, _ := riscv.VSpillSegments(x.Op)
	store := segmentOp(x, nf, lmul, riscv.VS1R_V, riscv.VS2R_V, riscv.VS4R_V)

	return rewrite{Rewrite: asm.Rewrite{Head: segments(x, nf, lmul, store, false)}}
}

func (e *Expander) vreload(x asm.Instr) rewrite {
	nf, lmul, _ := riscv.VReloadSegments(x.Op)
	load := segmentOp(x, nf, lmul, riscv.VL1RE8_V, riscv.VL2RE8_V, riscv.VL4RE8_V)

	return rewrite{Rewrite: asm.Rewrite{Head: segments(x, nf, lmul, load, true)}}
}

func segmentOp(x asm.Instr, nf, lmul int, m1, m2, m4 asm.Opcode) asm.Opcode {
	if nf < 1 || nf*lmul > 8 {
		panic(fmt.Sprintf("%v: invalid segment group nf=%d lmul=%d", riscv.OpName(x.Op), nf, lmul))
	}

	switch lmul {
	case 1:
		return m1
	case 2:
		return m2
	case 4:
		return m4
	default:
		panic(fmt.Sprintf("%v: invalid lmul %d", riscv.OpName(x.Op), lmul))
	}
}

func segments(x asm.Instr, nf, lmul int, op asm.Opcode, def bool) (code []asm.Instr) {
	expectOps(x, 3, 3)

	vreg := x.Reg(0)
	base := x.Reg(1)
	vl := x.Reg(2)

	if !riscv.IsV(vreg) {
		panic(fmt.Sprintf("%v: %v is not a vector register", riscv.OpName(x.Op), riscv.RegName(vreg)))
	}

	for i := 0; i < nf; i++ {
		r := vreg + asm.Reg(i*lmul)

		v := asm.Use(r)
		if def {
			v = asm.Def(r)
		}

		y := asm.I(op, v, asm.Use(base))
		y.Mem = x.Mem

		code = append(code, y)

		if i+1 < nf {
			code = append(code, asm.I(riscv.ADD, asm.Def(base), asm.Use(base), asm.Use(vl)))
		}
	}

	return code
}
