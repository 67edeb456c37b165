package expand

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/rvcheri/compiler/asm"
	"github.com/slowlang/rvcheri/compiler/asm/riscv"
	"github.com/slowlang/rvcheri/compiler/cheriot"
	"github.com/slowlang/rvcheri/compiler/mc"
	"github.com/slowlang/rvcheri/compiler/target"
)

type (
	// Symbols is the assembler symbol table import entries are registered in.
	Symbols interface {
		GetOrCreateSymbol(name string) *mc.Symbol
	}

	// Expander rewrites pseudo instructions of register allocated
	// functions into target instructions.
	Expander struct {
		target  *target.Info
		imports *cheriot.Table
		syms    Symbols

		calls []CallSite
	}

	Kind     int
	CallKind int

	CallSite struct {
		Func   string
		Callee string
		Kind   CallKind
	}

	funContext struct {
		*asm.Func

		self *asm.Global
	}

	rewrite struct {
		asm.Rewrite

		imports []cheriot.Entry
		call    CallKind
		callee  string
	}
)

const (
	KindNone Kind = iota
	KindLoadLocalAddress
	KindLoadAddress
	KindLoadTLSIEAddress
	KindLoadTLSGDAddress
	KindLoadLocalCap
	KindLoadLocalCapInbounds
	KindLoadGlobalCap
	KindLoadTLSIECap
	KindLoadTLSGDCap
	KindSetVL
	KindMaskClear
	KindMaskSet
	KindVSpill
	KindVReload
	KindCompartmentCall
	KindLibraryCall
)

const (
	CallNone CallKind = iota
	DirectCall
	ImportedCall
	SwitcherCall
	IndirectCall
)

// Fixed registers of the compartment call sequence.
const (
	CalleeReg   = riscv.C6
	SwitcherReg = riscv.C7
	LibcallReg  = riscv.C7
)

func New(t *target.Info, imports *cheriot.Table, syms Symbols) *Expander {
	return &Expander{
		target:  t,
		imports: imports,
		syms:    syms,
	}
}

// KindOf classifies an opcode. Everything not listed is KindNone.
func KindOf(op asm.Opcode) Kind {
	switch op {
	case riscv.PseudoLLA:
		return KindLoadLocalAddress
	case riscv.PseudoLA:
		return KindLoadAddress
	case riscv.PseudoLA_TLS_IE:
		return KindLoadTLSIEAddress
	case riscv.PseudoLA_TLS_GD:
		return KindLoadTLSGDAddress
	case riscv.PseudoCLLC:
		return KindLoadLocalCap
	case riscv.PseudoCLLCInbounds:
		return KindLoadLocalCapInbounds
	case riscv.PseudoCLGC:
		return KindLoadGlobalCap
	case riscv.PseudoCLA_TLS_IE:
		return KindLoadTLSIECap
	case riscv.PseudoCLC_TLS_GD:
		return KindLoadTLSGDCap
	case riscv.PseudoVSETVLI, riscv.PseudoVSETIVLI:
		return KindSetVL
	case riscv.PseudoCompartmentCall:
		return KindCompartmentCall
	case riscv.PseudoLibraryCall:
		return KindLibraryCall
	}

	switch {
	case op >= riscv.PseudoVMCLR_M_B1 && op <= riscv.PseudoVMCLR_M_B64:
		return KindMaskClear
	case op >= riscv.PseudoVMSET_M_B1 && op <= riscv.PseudoVMSET_M_B64:
		return KindMaskSet
	}

	if _, _, ok := riscv.VSpillSegments(op); ok {
		return KindVSpill
	}

	if _, _, ok := riscv.VReloadSegments(op); ok {
		return KindVReload
	}

	return KindNone
}

// Run expands every pseudo instruction of f and reports whether anything changed.
//
// Blocks are visited in layout order. A split moves the rest of the block
// into new blocks laid out right after it, so they are visited next.
func (e *Expander) Run(ctx context.Context, f *asm.Func) (changed bool, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "expand: func", "name", f.Name)
	defer tr.Finish("err", &err, "changed", &changed)

	fc := &funContext{Func: f, self: f.Self}
	if fc.self == nil {
		fc.self = &asm.Global{Name: f.Name, Func: true}
	}

	if tr.If("dump_func_before") {
		dump(tr, "before", f)
	}

	for pos := 0; pos < len(f.Layout); pos++ {
		id := f.Layout[pos]

		for i := 0; i < len(f.Blocks[id].Code); {
			x := f.Blocks[id].Code[i]

			rw, ok := e.expandInstr(fc, x)
			if !ok {
				i++
				continue
			}

			changed = true

			tail := f.Apply(id, i, rw.Rewrite)
			e.commit(fc, rw)

			tr.V("expand").Printw("expanded", "block", id, "i", i, "op", riscv.OpName(x.Op), "kind", KindOf(x.Op), "head", len(rw.Head), "new_blocks", len(rw.Blocks), "tail", tail)

			if rw.Split() {
				break
			}

			i += len(rw.Head)
		}
	}

	if tr.If("dump_func_after") {
		dump(tr, "after", f)
	}

	if err = f.Verify(); err != nil {
		return changed, errors.Wrap(err, "verify %v", f.Name)
	}

	return changed, nil
}

// Calls returns the classification of every call pseudo expanded so far.
func (e *Expander) Calls() []CallSite { return e.calls }

func (e *Expander) commit(f *funContext, rw rewrite) {
	for _, ent := range rw.imports {
		e.syms.GetOrCreateSymbol(ent.Import).Registered = true
		e.syms.GetOrCreateSymbol(ent.Export).Registered = true

		e.imports.Insert(ent)
	}

	if rw.call != CallNone {
		e.calls = append(e.calls, CallSite{Func: f.Name, Callee: rw.callee, Kind: rw.call})
	}
}

func (e *Expander) expandInstr(f *funContext, x asm.Instr) (rewrite, bool) {
	switch KindOf(x.Op) {
	case KindLoadLocalAddress:
		return e.auipcPair(x, riscv.MoPCRelHi, riscv.ADDI), true
	case KindLoadAddress:
		if e.target.PIC {
			return e.auipcPair(x, riscv.MoGotHi, e.loadOp()), true
		}

		return e.auipcPair(x, riscv.MoPCRelHi, riscv.ADDI), true
	case KindLoadTLSIEAddress:
		return e.auipcPair(x, riscv.MoTLSGotHi, e.loadOp()), true
	case KindLoadTLSGDAddress:
		return e.auipcPair(x, riscv.MoTLSGDHi, riscv.ADDI), true
	case KindLoadLocalCap:
		return e.loadLocalCap(x, false), true
	case KindLoadLocalCapInbounds:
		return e.loadLocalCap(x, true), true
	case KindLoadGlobalCap:
		op := riscv.CLC_64
		if e.target.Is64Bit() {
			op = riscv.CLC_128
		}

		return e.auipccPair(x, riscv.MoCapTabPCRelHi, op, false), true
	case KindLoadTLSIECap:
		op := riscv.CLW
		if e.target.Is64Bit() {
			op = riscv.CLD
		}

		return e.auipccPair(x, riscv.MoTLSIECapTabPCRelHi, op, false), true
	case KindLoadTLSGDCap:
		return e.auipccPair(x, riscv.MoTLSGDCapTabPCRelHi, riscv.CIncOffsetImm, false), true
	case KindSetVL:
		return e.setVL(x), true
	case KindMaskClear:
		return e.maskSetClear(x, riscv.VMXOR_MM), true
	case KindMaskSet:
		return e.maskSetClear(x, riscv.VMXNOR_MM), true
	case KindVSpill:
		return e.vspill(x), true
	case KindVReload:
		return e.vreload(x), true
	case KindCompartmentCall:
		return e.compartmentCall(f, x), true
	case KindLibraryCall:
		return e.libraryCall(f, x), true
	default:
		return rewrite{}, false
	}
}

func (e *Expander) loadOp() asm.Opcode {
	if e.target.Is64Bit() {
		return riscv.LD
	}

	return riscv.LW
}

// auipcPair splits the block and materializes an address with
// an auipc anchored at the new block label and a low part instruction.
func (e *Expander) auipcPair(x asm.Instr, hi asm.TargetFlags, second asm.Opcode) rewrite {
	expectOps(x, 2, 2)

	dst := x.Reg(0)
	sym := withFlags(x.Ops[1], hi)

	return rewrite{Rewrite: asm.Rewrite{
		Blocks: [][]asm.Instr{{
			asm.I(riscv.AUIPC, asm.Def(dst), sym),
			asm.I(second, asm.Def(dst), asm.Use(dst), asm.Anchor{Flags: riscv.MoPCRelLo}),
		}},
	}}
}

// auipccPair is auipcPair for capabilities. Three operand forms carry
// a temporary register for the upper part.
func (e *Expander) auipccPair(x asm.Instr, hi asm.TargetFlags, second asm.Opcode, inBounds bool) rewrite {
	expectOps(x, 2, 3)

	hasTmp := len(x.Ops) > 2

	dst := x.Reg(0)
	tmp := dst
	symOp := x.Ops[1]

	if hasTmp {
		tmp = x.Reg(1)
		symOp = x.Ops[2]
	}

	lo := riscv.MoPCRelLo
	if e.target.ABI.IsCHERIoT() {
		lo = riscv.MoCheriotCompartmentLoI
	}

	code := []asm.Instr{
		asm.I(riscv.AUIPCC, asm.Def(tmp), withFlags(symOp, hi)),
		asm.I(second, asm.Def(dst), asm.Use(tmp), asm.Anchor{Flags: lo}),
	}

	if !inBounds && e.target.IsRV32E() && needsBounds(symOp) {
		code = append(code, asm.I(riscv.CSetBoundsImm, asm.Def(dst), asm.Use(dst), withFlags(symOp, riscv.MoCheriotCompartmentSize)))
	}

	return rewrite{Rewrite: asm.Rewrite{Blocks: [][]asm.Instr{code}}}
}

// auicgpPair materializes a capability to a writable global relative to the globals pointer.
func (e *Expander) auicgpPair(x asm.Instr, second asm.Opcode, inBounds bool) rewrite {
	expectOps(x, 2, 3)

	dst := x.Reg(0)
	symOp := x.Ops[len(x.Ops)-1]

	code := []asm.Instr{
		asm.I(riscv.AUICGP, asm.Def(dst), withFlags(symOp, riscv.MoCheriotCompartmentHi)),
		asm.I(second, asm.Def(dst), asm.Kill(dst), asm.Anchor{Flags: riscv.MoCheriotCompartmentLoI}),
	}

	if !inBounds {
		code = append(code, asm.I(riscv.CSetBoundsImm, asm.Def(dst), asm.Kill(dst), withFlags(symOp, riscv.MoCheriotCompartmentSize)))
	}

	return rewrite{Rewrite: asm.Rewrite{Blocks: [][]asm.Instr{code}}}
}

func (e *Expander) loadLocalCap(x asm.Instr, inBounds bool) rewrite {
	if !e.target.ABI.IsCHERIoT() {
		return e.auipccPair(x, riscv.MoPCRelHi, riscv.CIncOffsetImm, inBounds)
	}

	expectOps(x, 2, 3)

	sym, ok := x.Ops[len(x.Ops)-1].(asm.GlobalOp)
	if !ok {
		panic(fmt.Sprintf("%v: expected global operand, got %T", riscv.OpName(x.Op), x.Ops[len(x.Ops)-1]))
	}

	g := sym.Global

	if !g.Func && !g.Constant {
		return e.auicgpPair(x, riscv.CIncOffsetImm, inBounds)
	}

	if g.Func && cheriot.NeedsImportForAddress(g) {
		return e.importLoad(cheriot.EntryFor(g, false), x.Reg(0), false)
	}

	return e.auipccPair(x, riscv.MoCheriotCompartmentHi, riscv.CIncOffsetImm, inBounds)
}

// importLoad loads the import table entry into dst and optionally calls it.
func (e *Expander) importLoad(ent cheriot.Entry, dst asm.Reg, call bool) rewrite {
	return rewrite{
		Rewrite: asm.Rewrite{Blocks: [][]asm.Instr{importLoadCode(ent, dst, call)}},
		imports: []cheriot.Entry{ent},
	}
}

func importLoadCode(ent cheriot.Entry, dst asm.Reg, call bool) []asm.Instr {
	code := []asm.Instr{
		asm.I(riscv.AUIPCC, asm.Def(dst), asm.SymbolOp{Name: ent.Import, Flags: riscv.MoCheriotCompartmentHi}),
		asm.I(riscv.CLC_64, asm.Def(dst), asm.Kill(dst), asm.Anchor{Flags: riscv.MoCheriotCompartmentLoI}),
	}

	if call {
		code = append(code, asm.I(riscv.C_CJALR, asm.Kill(dst)))
	}

	return code
}

func needsBounds(op asm.Operand) bool {
	g, ok := op.(asm.GlobalOp)

	return ok && !g.Global.Func && g.Global.Section != cheriot.ImportsSection
}

func withFlags(op asm.Operand, f asm.TargetFlags) asm.Operand {
	switch op := op.(type) {
	case asm.GlobalOp:
		op.Flags = f
		return op
	case asm.SymbolOp:
		op.Flags = f
		return op
	default:
		panic(fmt.Sprintf("expected symbol operand, got %T", op))
	}
}

func expectOps(x asm.Instr, lo, hi int) {
	if n := len(x.Ops); n < lo || n > hi {
		panic(fmt.Sprintf("%v: %d operands, want %d..%d", riscv.OpName(x.Op), n, lo, hi))
	}
}

func dump(tr tlog.Span, when string, f *asm.Func) {
	for _, id := range f.Layout {
		b := f.Blocks[id]

		tr.Printw("block "+when, "id", id, "succs", b.Succs, "live_ins", b.LiveIns)

		for i, x := range b.Code {
			tr.Printw("code "+when, "block", id, "i", i, "op", riscv.OpName(x.Op), "ops", len(x.Ops))
		}
	}
}

func (k Kind) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, k.String())
}

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindLoadLocalAddress:
		return "load_local_address"
	case KindLoadAddress:
		return "load_address"
	case KindLoadTLSIEAddress:
		return "load_tls_ie_address"
	case KindLoadTLSGDAddress:
		return "load_tls_gd_address"
	case KindLoadLocalCap:
		return "load_local_cap"
	case KindLoadLocalCapInbounds:
		return "load_local_cap_inbounds"
	case KindLoadGlobalCap:
		return "load_global_cap"
	case KindLoadTLSIECap:
		return "load_tls_ie_cap"
	case KindLoadTLSGDCap:
		return "load_tls_gd_cap"
	case KindSetVL:
		return "set_vl"
	case KindMaskClear:
		return "mask_clear"
	case KindMaskSet:
		return "mask_set"
	case KindVSpill:
		return "vspill"
	case KindVReload:
		return "vreload"
	case KindCompartmentCall:
		return "compartment_call"
	case KindLibraryCall:
		return "library_call"
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

func (k CallKind) String() string {
	switch k {
	case CallNone:
		return "none"
	case DirectCall:
		return "direct"
	case ImportedCall:
		return "imported"
	case SwitcherCall:
		return "switcher"
	case IndirectCall:
		return "indirect"
	}

	return fmt.Sprintf("call(%d)", int(k))
}
