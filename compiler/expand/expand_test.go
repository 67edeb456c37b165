package expand

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/rvcheri/compiler/asm"
	"github.com/slowlang/rvcheri/compiler/asm/riscv"
	"github.com/slowlang/rvcheri/compiler/cheriot"
	"github.com/slowlang/rvcheri/compiler/mc"
	"github.com/slowlang/rvcheri/compiler/set"
	"github.com/slowlang/rvcheri/compiler/target"
)

var (
	rv64 = &target.Info{ABI: target.ABILP64, Features: set.MakeBits(target.Feature64Bit, target.FeatureStdExtC)}
	rv32 = &target.Info{ABI: target.ABIILP32}

	cheriotTarget = &target.Info{
		ABI:      target.ABICHERIoT,
		Features: set.MakeBits(target.FeatureStdExtE, target.FeatureStdExtC, target.FeatureCheri, target.FeatureCapMode),
	}

	purecap32e = &target.Info{
		ABI:      target.ABIIL32PC64E,
		Features: set.MakeBits(target.FeatureStdExtE, target.FeatureCheri, target.FeatureCapMode),
	}
)

type env struct {
	*Expander

	table *cheriot.Table
	syms  *mc.Context
}

func newEnv(t *target.Info) env {
	table := cheriot.NewTable()
	syms := mc.NewContext()

	return env{
		Expander: New(t, table, syms),
		table:    table,
		syms:     syms,
	}
}

// newFunc builds entry -> exit with code in the entry block and a return in exit.
func newFunc(self *asm.Global, code ...asm.Instr) *asm.Func {
	f := asm.NewFunc(self.Name, self)

	b := f.NewBlock()
	exit := f.NewBlock()

	b.Code = code
	b.Succs = []asm.BlockID{exit.ID}

	exit.Code = []asm.Instr{asm.I(riscv.RET, asm.Use(riscv.C(1)))}

	f.Liveness()

	return f
}

func run(t *testing.T, e env, f *asm.Func) {
	t.Helper()

	changed, err := e.Run(context.Background(), f)
	require.NoError(t, err)
	require.True(t, changed)
}

func ops(code []asm.Instr) (r []asm.Opcode) {
	for _, x := range code {
		r = append(r, x.Op)
	}

	return r
}

func caller(comp string) *asm.Global {
	return &asm.Global{Name: "caller", Func: true, Compartment: comp}
}

func TestNoPseudos(t *testing.T) {
	e := newEnv(rv64)

	f := newFunc(caller(""),
		asm.I(riscv.ADDI, asm.Def(riscv.X(10)), asm.Use(riscv.X(10)), asm.Imm(1)),
	)

	changed, err := e.Run(context.Background(), f)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, f.Blocks, 2)
	assert.Equal(t, []asm.Opcode{riscv.ADDI}, ops(f.Blocks[0].Code))
}

func TestLoadLocalAddressSplits(t *testing.T) {
	e := newEnv(rv64)

	g := &asm.Global{Name: "var", Size: 8}
	a0 := riscv.X(10)
	a1 := riscv.X(11)

	f := newFunc(caller(""),
		asm.I(riscv.ADDI, asm.Def(a1), asm.Use(riscv.X(0)), asm.Imm(3)),
		asm.I(riscv.PseudoLLA, asm.Def(a0), asm.GlobalOp{Global: g}),
		asm.I(riscv.SD, asm.Use(a1), asm.Use(a0), asm.Imm(0)),
	)

	run(t, e, f)

	require.NoError(t, f.Verify())
	require.Len(t, f.Blocks, 3)

	head, exit, nb := f.Blocks[0], f.Blocks[1], f.Blocks[2]

	assert.Equal(t, []asm.BlockID{0, 2, 1}, f.Layout)
	assert.Equal(t, []asm.Opcode{riscv.ADDI}, ops(head.Code))
	assert.Equal(t, []asm.BlockID{nb.ID}, head.Succs)

	assert.Equal(t, []asm.Opcode{riscv.AUIPC, riscv.ADDI, riscv.SD}, ops(nb.Code))
	assert.Equal(t, []asm.BlockID{exit.ID}, nb.Succs)
	assert.True(t, nb.MustEmitLabel)

	assert.Equal(t, asm.GlobalOp{Global: g, Flags: riscv.MoPCRelHi}, nb.Code[0].Ops[1])
	assert.Equal(t, asm.BlockOp{Block: nb.ID, Flags: riscv.MoPCRelLo}, nb.Code[1].Ops[2])

	assert.True(t, nb.LiveIns.IsSet(a1), "a1 is used by the moved store")
	assert.False(t, nb.LiveIns.IsSet(a0), "a0 is defined by auipc")
}

func TestLoadAddress(t *testing.T) {
	g := &asm.Global{Name: "var"}

	for _, tc := range []struct {
		name string
		t    *target.Info
		op   asm.Opcode
		hi   asm.TargetFlags
		lo   asm.Opcode
	}{
		{"pcrel", rv64, riscv.PseudoLA, riscv.MoPCRelHi, riscv.ADDI},
		{"got64", &target.Info{ABI: target.ABILP64, Features: set.MakeBits(target.Feature64Bit), PIC: true}, riscv.PseudoLA, riscv.MoGotHi, riscv.LD},
		{"got32", &target.Info{ABI: target.ABIILP32, PIC: true}, riscv.PseudoLA, riscv.MoGotHi, riscv.LW},
		{"tls_ie64", rv64, riscv.PseudoLA_TLS_IE, riscv.MoTLSGotHi, riscv.LD},
		{"tls_ie32", rv32, riscv.PseudoLA_TLS_IE, riscv.MoTLSGotHi, riscv.LW},
		{"tls_gd", rv32, riscv.PseudoLA_TLS_GD, riscv.MoTLSGDHi, riscv.ADDI},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(tc.t)
			f := newFunc(caller(""), asm.I(tc.op, asm.Def(riscv.X(10)), asm.GlobalOp{Global: g}))

			run(t, e, f)

			nb := f.Blocks[2]

			assert.Empty(t, f.Blocks[0].Code)
			assert.Equal(t, []asm.Opcode{riscv.AUIPC, tc.lo}, ops(nb.Code))
			assert.Equal(t, asm.GlobalOp{Global: g, Flags: tc.hi}, nb.Code[0].Ops[1])
		})
	}
}

func TestLoadGlobalCap(t *testing.T) {
	g := &asm.Global{Name: "var"}
	cheri64 := &target.Info{ABI: target.ABIL64PC128, Features: set.MakeBits(target.Feature64Bit, target.FeatureCheri, target.FeatureCapMode)}
	cheri32 := &target.Info{ABI: target.ABIIL32PC64, Features: set.MakeBits(target.FeatureCheri, target.FeatureCapMode)}

	for _, tc := range []struct {
		name string
		t    *target.Info
		op   asm.Opcode
		hi   asm.TargetFlags
		lo   asm.Opcode
	}{
		{"clgc64", cheri64, riscv.PseudoCLGC, riscv.MoCapTabPCRelHi, riscv.CLC_128},
		{"clgc32", cheri32, riscv.PseudoCLGC, riscv.MoCapTabPCRelHi, riscv.CLC_64},
		{"tls_ie64", cheri64, riscv.PseudoCLA_TLS_IE, riscv.MoTLSIECapTabPCRelHi, riscv.CLD},
		{"tls_ie32", cheri32, riscv.PseudoCLA_TLS_IE, riscv.MoTLSIECapTabPCRelHi, riscv.CLW},
		{"tls_gd", cheri32, riscv.PseudoCLC_TLS_GD, riscv.MoTLSGDCapTabPCRelHi, riscv.CIncOffsetImm},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(tc.t)
			f := newFunc(caller(""), asm.I(tc.op, asm.Def(riscv.C(10)), asm.GlobalOp{Global: g}))

			run(t, e, f)

			nb := f.Blocks[2]

			assert.Equal(t, []asm.Opcode{riscv.AUIPCC, tc.lo}, ops(nb.Code))
			assert.Equal(t, asm.GlobalOp{Global: g, Flags: tc.hi}, nb.Code[0].Ops[1])
			assert.Equal(t, asm.BlockOp{Block: nb.ID, Flags: riscv.MoPCRelLo}, nb.Code[1].Ops[2])
		})
	}
}

func TestCapPairTempRegister(t *testing.T) {
	e := newEnv(rv64)
	g := &asm.Global{Name: "var"}

	dst, tmp := riscv.C(10), riscv.C(11)

	f := newFunc(caller(""), asm.I(riscv.PseudoCLGC, asm.Def(dst), asm.Def(tmp), asm.GlobalOp{Global: g}))

	run(t, e, f)

	nb := f.Blocks[2]

	assert.Equal(t, asm.Def(tmp), nb.Code[0].Ops[0])
	assert.Equal(t, asm.Def(dst), nb.Code[1].Ops[0])
	assert.Equal(t, asm.Use(tmp), nb.Code[1].Ops[1])
}

func TestLoadLocalCapBounds(t *testing.T) {
	v := &asm.Global{Name: "counter", Size: 4}
	imp := &asm.Global{Name: "__import_x_f", Section: cheriot.ImportsSection}
	fn := &asm.Global{Name: "helper", Func: true}

	for _, tc := range []struct {
		name   string
		t      *target.Info
		op     asm.Opcode
		g      *asm.Global
		expect []asm.Opcode
	}{
		{"rv32e_var", purecap32e, riscv.PseudoCLLC, v, []asm.Opcode{riscv.AUIPCC, riscv.CIncOffsetImm, riscv.CSetBoundsImm}},
		{"rv32e_var_inbounds", purecap32e, riscv.PseudoCLLCInbounds, v, []asm.Opcode{riscv.AUIPCC, riscv.CIncOffsetImm}},
		{"rv32e_imports", purecap32e, riscv.PseudoCLLC, imp, []asm.Opcode{riscv.AUIPCC, riscv.CIncOffsetImm}},
		{"rv32e_func", purecap32e, riscv.PseudoCLLC, fn, []asm.Opcode{riscv.AUIPCC, riscv.CIncOffsetImm}},
		{"rv64_var", rv64, riscv.PseudoCLLC, v, []asm.Opcode{riscv.AUIPCC, riscv.CIncOffsetImm}},
		{"cheriot_var", cheriotTarget, riscv.PseudoCLLC, v, []asm.Opcode{riscv.AUICGP, riscv.CIncOffsetImm, riscv.CSetBoundsImm}},
		{"cheriot_var_inbounds", cheriotTarget, riscv.PseudoCLLCInbounds, v, []asm.Opcode{riscv.AUICGP, riscv.CIncOffsetImm}},
		{"cheriot_func", cheriotTarget, riscv.PseudoCLLC, fn, []asm.Opcode{riscv.AUIPCC, riscv.CIncOffsetImm}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(tc.t)
			f := newFunc(caller(""), asm.I(tc.op, asm.Def(riscv.C(10)), asm.GlobalOp{Global: tc.g}))

			run(t, e, f)

			nb := f.Blocks[2]
			assert.Equal(t, tc.expect, ops(nb.Code))

			if n := len(nb.Code); n == 3 {
				assert.Equal(t, asm.GlobalOp{Global: tc.g, Flags: riscv.MoCheriotCompartmentSize}, nb.Code[2].Ops[2])
			}

			assert.Equal(t, 0, e.table.Len())
		})
	}
}

func TestLoadLocalCapCheriotRelocs(t *testing.T) {
	e := newEnv(cheriotTarget)
	c := &asm.Global{Name: "msg", Constant: true}

	f := newFunc(caller("alpha"), asm.I(riscv.PseudoCLLC, asm.Def(riscv.C(10)), asm.GlobalOp{Global: c}))

	run(t, e, f)

	nb := f.Blocks[2]

	assert.Equal(t, asm.GlobalOp{Global: c, Flags: riscv.MoCheriotCompartmentHi}, nb.Code[0].Ops[1])
	assert.Equal(t, asm.BlockOp{Block: nb.ID, Flags: riscv.MoCheriotCompartmentLoI}, nb.Code[1].Ops[2])
}

func TestLoadLocalCapImportedFunc(t *testing.T) {
	e := newEnv(cheriotTarget)

	fn := &asm.Global{Name: "tick", Func: true, Compartment: "timer", Interrupts: asm.InterruptsDisabled}

	f := newFunc(caller("alpha"), asm.I(riscv.PseudoCLLC, asm.Def(riscv.C(10)), asm.GlobalOp{Global: fn}))

	run(t, e, f)

	nb := f.Blocks[2]

	assert.Equal(t, []asm.Opcode{riscv.AUIPCC, riscv.CLC_64}, ops(nb.Code))
	assert.Equal(t, asm.SymbolOp{Name: "__import_timer_tick", Flags: riscv.MoCheriotCompartmentHi}, nb.Code[0].Ops[1])

	assert.True(t, e.table.Contains(cheriot.Entry{Import: "__import_timer_tick", Export: "__export_timer_tick"}))
}

func TestCompartmentCallDirect(t *testing.T) {
	e := newEnv(cheriotTarget)

	callee := &asm.Global{Name: "local", Func: true, Compartment: "alpha"}
	call := asm.I(riscv.PseudoCompartmentCall, asm.GlobalOp{Global: callee, Flags: riscv.MoCall}, asm.RegOp{Reg: riscv.C(1), Def: true, Dead: true})

	f := newFunc(caller("alpha"), call)

	run(t, e, f)

	require.Len(t, f.Blocks, 2, "direct calls do not split")
	assert.Equal(t, []asm.Opcode{riscv.PseudoCCALL}, ops(f.Blocks[0].Code))
	assert.Equal(t, call.Ops, f.Blocks[0].Code[0].Ops)
	assert.Equal(t, 0, e.table.Len())
	assert.Equal(t, []CallSite{{Func: "caller", Callee: "local", Kind: DirectCall}}, e.Calls())
}

func TestCompartmentCallSameCompartmentUnsafe(t *testing.T) {
	e := newEnv(cheriotTarget)

	callee := &asm.Global{Name: "isr", Func: true, Compartment: "alpha", Interrupts: asm.InterruptsDisabled}

	f := newFunc(caller("alpha"), asm.I(riscv.PseudoCompartmentCall, asm.GlobalOp{Global: callee}))

	run(t, e, f)

	nb := f.Blocks[2]

	assert.Equal(t, []asm.Opcode{riscv.AUIPCC, riscv.CLC_64, riscv.C_CJALR}, ops(nb.Code))
	assert.Equal(t, asm.Def(LibcallReg), nb.Code[0].Ops[0])
	assert.Equal(t, []cheriot.Entry{{Import: "__library_import_alpha_isr", Export: "__export_alpha_isr", Library: true}}, e.table.Entries())
	assert.Equal(t, ImportedCall, e.Calls()[0].Kind)
}

func TestCompartmentCallSwitcher(t *testing.T) {
	e := newEnv(cheriotTarget)

	callee := &asm.Global{Name: "remote", Func: true, Compartment: "beta", CallConv: asm.CallConvCCall, External: true}

	f := newFunc(caller("alpha"), asm.I(riscv.PseudoCompartmentCall, asm.GlobalOp{Global: callee}))

	run(t, e, f)

	require.NoError(t, f.Verify())
	require.Len(t, f.Blocks, 4)
	assert.Equal(t, []asm.BlockID{0, 2, 3, 1}, f.Layout)

	load, sw := f.Blocks[2], f.Blocks[3]

	assert.Equal(t, []asm.Opcode{riscv.AUIPCC, riscv.CLC_64}, ops(load.Code))
	assert.Equal(t, asm.Def(CalleeReg), load.Code[0].Ops[0])
	assert.Equal(t, asm.SymbolOp{Name: "__import_beta_remote", Flags: riscv.MoCheriotCompartmentHi}, load.Code[0].Ops[1])
	assert.Equal(t, asm.BlockOp{Block: load.ID, Flags: riscv.MoCheriotCompartmentLoI}, load.Code[1].Ops[2])

	assert.Equal(t, []asm.Opcode{riscv.AUIPCC, riscv.CLC_64, riscv.C_CJALR}, ops(sw.Code))
	assert.Equal(t, asm.SymbolOp{Name: cheriot.Switcher, Flags: riscv.MoCheriotCompartmentHi}, sw.Code[0].Ops[1])
	assert.Equal(t, asm.BlockOp{Block: sw.ID, Flags: riscv.MoCheriotCompartmentLoI}, sw.Code[1].Ops[2])
	assert.True(t, sw.MustEmitLabel)

	assert.Equal(t, []cheriot.Entry{{Import: "__import_beta_remote", Export: "__export_beta_remote", Public: true}}, e.table.Entries())

	for _, n := range []string{"__import_beta_remote", "__export_beta_remote"} {
		s, ok := e.syms.LookupSymbol(n)
		if assert.True(t, ok, n) {
			assert.True(t, s.Registered, n)
		}
	}

	assert.Equal(t, SwitcherCall, e.Calls()[0].Kind)
}

func TestCompartmentCallRegister(t *testing.T) {
	for _, tc := range []struct {
		name string
		reg  asm.Reg
		head []asm.Opcode
	}{
		{"move", riscv.C(12), []asm.Opcode{riscv.CMove}},
		{"in_place", CalleeReg, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(cheriotTarget)

			f := newFunc(caller("alpha"), asm.I(riscv.PseudoCompartmentCall, asm.Use(tc.reg)))

			run(t, e, f)

			assert.Equal(t, tc.head, ops(f.Blocks[0].Code))
			assert.Equal(t, []asm.Opcode{riscv.AUIPCC, riscv.CLC_64, riscv.C_CJALR}, ops(f.Blocks[2].Code))
			assert.Equal(t, 0, e.table.Len())
			assert.Equal(t, SwitcherCall, e.Calls()[0].Kind)
		})
	}
}

func TestLibraryCall(t *testing.T) {
	defined := &asm.Global{Name: "memcpy_local", Func: true}
	declared := &asm.Global{Name: "strlen", Func: true, Declaration: true, CallConv: asm.CallConvLibCall, External: true}

	for _, tc := range []struct {
		name   string
		callee asm.Operand
		kind   CallKind
		entry  *cheriot.Entry
	}{
		{"defined", asm.GlobalOp{Global: defined}, DirectCall, nil},
		{"declared", asm.GlobalOp{Global: declared}, ImportedCall, &cheriot.Entry{Import: "__library_import_libcalls_strlen", Export: "__library_export_libcalls_strlen", Library: true, Public: true}},
		{"external_symbol", asm.SymbolOp{Name: "__udivdi3"}, ImportedCall, &cheriot.Entry{Import: "__library_import_libcalls___udivdi3", Export: "__library_export_libcalls___udivdi3", Library: true, Public: true}},
		{"register", asm.Use(riscv.C(13)), IndirectCall, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(cheriotTarget)

			f := newFunc(caller("alpha"), asm.I(riscv.PseudoLibraryCall, tc.callee))

			run(t, e, f)

			assert.Equal(t, tc.kind, e.Calls()[0].Kind)

			switch tc.kind {
			case DirectCall:
				assert.Equal(t, []asm.Opcode{riscv.PseudoCCALL}, ops(f.Blocks[0].Code))
			case IndirectCall:
				assert.Equal(t, []asm.Opcode{riscv.C_CJALR}, ops(f.Blocks[0].Code))
				assert.Len(t, f.Blocks, 2)
			case ImportedCall:
				assert.Equal(t, []asm.Opcode{riscv.AUIPCC, riscv.CLC_64, riscv.C_CJALR}, ops(f.Blocks[2].Code))
			}

			if tc.entry == nil {
				assert.Equal(t, 0, e.table.Len())
			} else {
				assert.Equal(t, []cheriot.Entry{*tc.entry}, e.table.Entries())
			}
		})
	}
}

func TestRepeatedCallsShareEntry(t *testing.T) {
	e := newEnv(cheriotTarget)

	callee := &asm.Global{Name: "remote", Func: true, Compartment: "beta"}
	call := asm.I(riscv.PseudoCompartmentCall, asm.GlobalOp{Global: callee})

	f := newFunc(caller("alpha"), call, call, call)

	run(t, e, f)

	assert.Len(t, f.Blocks, 2+3*2)
	assert.Equal(t, 1, e.table.Len())
	assert.Len(t, e.Calls(), 3)

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			assert.False(t, riscv.IsPseudo(x.Op), riscv.OpName(x.Op))
		}
	}

	changed, err := e.Run(context.Background(), f)
	require.NoError(t, err)
	assert.False(t, changed, "expansion is idempotent")
}

func TestSetVL(t *testing.T) {
	e := newEnv(rv64)

	f := newFunc(caller(""),
		asm.I(riscv.PseudoVSETVLI, asm.RegOp{Reg: riscv.X(5), Def: true, Dead: true}, asm.Use(riscv.X(6)), asm.Imm(0xd0)),
		asm.I(riscv.PseudoVSETIVLI, asm.Def(riscv.X(7)), asm.Imm(4), asm.Imm(0xd0)),
	)

	run(t, e, f)

	code := f.Blocks[0].Code

	assert.Equal(t, []asm.Opcode{riscv.VSETVLI, riscv.VSETIVLI}, ops(code))
	assert.Equal(t, asm.RegOp{Reg: riscv.X(5), Def: true, Dead: true}, code[0].Ops[0])
	assert.Equal(t, asm.Use(riscv.X(6)), code[0].Ops[1])
	assert.Equal(t, asm.Imm(0xd0), code[0].Ops[2])
	assert.Equal(t, asm.Def(riscv.X(7)), code[1].Ops[0])
}

func TestMaskSetClear(t *testing.T) {
	e := newEnv(rv64)

	f := newFunc(caller(""),
		asm.I(riscv.PseudoVMCLR_M_B8, asm.Def(riscv.V(0))),
		asm.I(riscv.PseudoVMSET_M_B64, asm.Def(riscv.V(3))),
	)

	run(t, e, f)

	code := f.Blocks[0].Code
	undef := asm.RegOp{Reg: riscv.V(3), Undef: true}

	assert.Equal(t, []asm.Opcode{riscv.VMXOR_MM, riscv.VMXNOR_MM}, ops(code))
	assert.Equal(t, []asm.Operand{asm.Def(riscv.V(3)), undef, undef}, code[1].Ops)

	assert.False(t, f.Blocks[0].LiveIns.IsSet(riscv.V(0)))
}

func TestVectorSpillReload(t *testing.T) {
	e := newEnv(rv64)

	base, vl := riscv.X(10), riscv.X(11)
	mem := []asm.MemRef{{Size: 48, Store: true}}

	spill := asm.I(riscv.PseudoVSPILL3_M2, asm.Use(riscv.V(2)), asm.Use(base), asm.Use(vl))
	spill.Mem = mem

	f := newFunc(caller(""),
		spill,
		asm.I(riscv.PseudoVRELOAD2_M4, asm.Def(riscv.V(8)), asm.Use(base), asm.Use(vl)),
	)

	run(t, e, f)

	code := f.Blocks[0].Code

	assert.Equal(t, []asm.Opcode{
		riscv.VS2R_V, riscv.ADD, riscv.VS2R_V, riscv.ADD, riscv.VS2R_V,
		riscv.VL4RE8_V, riscv.ADD, riscv.VL4RE8_V,
	}, ops(code))

	assert.Equal(t, asm.Use(riscv.V(2)), code[0].Ops[0])
	assert.Equal(t, asm.Use(riscv.V(4)), code[2].Ops[0])
	assert.Equal(t, asm.Use(riscv.V(6)), code[4].Ops[0])
	assert.Equal(t, mem, code[2].Mem)
	assert.Equal(t, []asm.Operand{asm.Def(base), asm.Use(base), asm.Use(vl)}, code[1].Ops)

	assert.Equal(t, asm.Def(riscv.V(8)), code[5].Ops[0])
	assert.Equal(t, asm.Def(riscv.V(12)), code[7].Ops[0])
}

func TestVectorSpillInvalidGroup(t *testing.T) {
	for _, op := range []asm.Opcode{riscv.VSpillOp(3, 4), riscv.VReloadOp(9, 1), riscv.VSpillOp(2, 3)} {
		e := newEnv(rv64)
		f := newFunc(caller(""), asm.I(op, asm.Use(riscv.V(0)), asm.Use(riscv.X(10)), asm.Use(riscv.X(11))))

		assert.Panics(t, func() {
			_, _ = e.Run(context.Background(), f)
		}, riscv.OpName(op))
	}
}

func TestWrongOperandShapePanics(t *testing.T) {
	e := newEnv(rv64)
	f := newFunc(caller(""), asm.I(riscv.PseudoLLA, asm.Def(riscv.X(10)), asm.Imm(4)))

	assert.Panics(t, func() {
		_, _ = e.Run(context.Background(), f)
	})
}

func TestSeveralPseudosInBlock(t *testing.T) {
	e := newEnv(rv64)

	g := &asm.Global{Name: "a"}
	h := &asm.Global{Name: "b"}

	f := newFunc(caller(""),
		asm.I(riscv.PseudoLLA, asm.Def(riscv.X(10)), asm.GlobalOp{Global: g}),
		asm.I(riscv.PseudoVMCLR_M_B1, asm.Def(riscv.V(1))),
		asm.I(riscv.PseudoLLA, asm.Def(riscv.X(11)), asm.GlobalOp{Global: h}),
		asm.I(riscv.ADD, asm.Def(riscv.X(10)), asm.Use(riscv.X(10)), asm.Use(riscv.X(11))),
	)

	run(t, e, f)

	require.NoError(t, f.Verify())
	assert.Equal(t, []asm.BlockID{0, 2, 3, 1}, f.Layout)

	assert.Equal(t, []asm.Opcode{riscv.AUIPC, riscv.ADDI, riscv.VMXOR_MM}, ops(f.Blocks[2].Code))
	assert.Equal(t, []asm.Opcode{riscv.AUIPC, riscv.ADDI, riscv.ADD}, ops(f.Blocks[3].Code))
	assert.Equal(t, []asm.BlockID{1}, f.Blocks[3].Succs)

	assert.True(t, f.Blocks[3].LiveIns.IsSet(riscv.X(10)), "x10 is live across the second split")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(riscv.ADD))
	assert.Equal(t, KindSetVL, KindOf(riscv.PseudoVSETIVLI))
	assert.Equal(t, KindMaskClear, KindOf(riscv.PseudoVMCLR_M_B32))
	assert.Equal(t, KindMaskSet, KindOf(riscv.PseudoVMSET_M_B1))
	assert.Equal(t, KindVSpill, KindOf(riscv.PseudoVSPILL8_M1))
	assert.Equal(t, KindVReload, KindOf(riscv.PseudoVRELOAD2_M4))
	assert.Equal(t, "library_call", KindOf(riscv.PseudoLibraryCall).String())
}
