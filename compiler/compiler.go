package compiler

import (
	"context"
	"os"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/rvcheri/compiler/asm"
	"github.com/slowlang/rvcheri/compiler/asm/riscv"
	"github.com/slowlang/rvcheri/compiler/cheriot"
	"github.com/slowlang/rvcheri/compiler/elf"
	"github.com/slowlang/rvcheri/compiler/expand"
	"github.com/slowlang/rvcheri/compiler/format"
	"github.com/slowlang/rvcheri/compiler/load"
	"github.com/slowlang/rvcheri/compiler/mc"
	"github.com/slowlang/rvcheri/compiler/parse"
)

type (
	// Overrides replace target settings of the module description.
	Overrides struct {
		ABI      string
		Features []string
		PIC      *bool
	}

	Result struct {
		Asm     []byte
		Object  *elf.Object
		Imports *cheriot.Table
		Calls   []expand.CallSite
	}
)

func CompileFile(ctx context.Context, name string, ov Overrides) (res *Result, err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Compile(ctx, name, text, ov)
}

// Compile loads a module, expands every function and emits the object.
func Compile(ctx context.Context, name string, text []byte, ov Overrides) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile module", "name", name)
	defer tr.Finish("err", &err)

	f, err := load.Decode(text)
	if err != nil {
		return nil, errors.Wrap(err, "load")
	}

	ov.apply(&f.Target)

	m, err := f.Build(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "build")
	}

	res = &Result{
		Imports: cheriot.NewTable(),
	}

	syms := mc.NewContext()
	e := expand.New(m.Target, res.Imports, syms)

	for _, fn := range m.Funcs {
		_, err = e.Run(ctx, fn)
		if err != nil {
			return nil, errors.Wrap(err, "expand %v", fn.Name)
		}

		res.Asm, err = format.Func(ctx, res.Asm, fn)
		if err != nil {
			return nil, errors.Wrap(err, "format %v", fn.Name)
		}
	}

	res.Asm = format.Imports(res.Asm, res.Imports)
	res.Calls = e.Calls()

	st := elf.NewStreamer(syms, m.Target)

	st.EmitTargetAttributes()

	emitFuncs(st, m)

	err = emitGlobals(st, m)
	if err != nil {
		return nil, errors.Wrap(err, "globals")
	}

	st.EmitImportTable(ctx, res.Imports)

	res.Object, err = st.Finish(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "finish object")
	}

	return res, nil
}

// emitFuncs defines function symbols in .text. Instructions are not
// encoded: each function gets zeroed space of its uncompressed size.
func emitFuncs(st *elf.Streamer, m *load.Module) {
	ctx := st.Context()

	st.SwitchSection(ctx.Section(".text", mc.SectionText))

	for _, fn := range m.Funcs {
		sym := ctx.GetOrCreateSymbol(fn.Name)
		if fn.Self != nil && fn.Self.External {
			sym.Binding = mc.BindGlobal
		}

		if fn.Self != nil && fn.Self.VariantCC {
			st.EmitDirectiveVariantCC(sym)
		}

		n := codeSize(fn)

		st.EmitValueToAlignment(4, 0)
		st.EmitLabel(sym)
		st.EmitZeros(n)

		sym.Size = int64(n)
	}
}

func codeSize(f *asm.Func) (n int) {
	for _, b := range f.Blocks {
		for _, x := range b.Code {
			if x.Op == riscv.PseudoCCALL {
				n += 8 // auipcc + cjalr
			} else {
				n += 4
			}
		}
	}

	return n
}

// emitGlobals lays out every defined data global: its initializer
// followed by zeroes up to its size.
func emitGlobals(st *elf.Streamer, m *load.Module) error {
	ctx := st.Context()

	for _, name := range sortedNames(m) {
		g := m.Globals[name]
		if g.Func || g.Declaration || g.Section == cheriot.ImportsSection {
			continue
		}

		kind := mc.SectionData
		sec := g.Section

		switch {
		case g.Constant:
			kind = mc.SectionReadOnly
			if sec == "" {
				sec = ".rodata"
			}
		case sec == "":
			sec = ".data"
		}

		if sec == ".bss" {
			kind = mc.SectionBSS
		}

		items := m.Inits[name]

		a := align(g.Size)
		if hasCap(items) && a < st.Target().CapSize() {
			a = st.Target().CapSize()
		}

		st.SwitchSection(ctx.Section(sec, kind))
		st.EmitValueToAlignment(a, 0)

		sym := ctx.GetOrCreateSymbol(g.Name)

		if g.External {
			sym.Binding = mc.BindGlobal
		}

		st.EmitLabel(sym)

		start := st.Section().Size()

		err := emitInit(st, items)
		if err != nil {
			return errors.Wrap(err, "global %v", g.Name)
		}

		n := int64(st.Section().Size() - start)
		if n < g.Size {
			st.EmitZeros(int(g.Size - n))
			n = g.Size
		}

		sym.Size = n
	}

	return nil
}

func emitInit(st *elf.Streamer, items []load.Init) error {
	t := st.Target()
	ctx := st.Context()

	for i, x := range items {
		if (x.Cap != "" || x.Intcap != "") && !t.ABI.IsCap() {
			return errors.New("init %d: capability on a non-capability target", i)
		}

		switch {
		case x.Cap != "":
			e, err := parse.ParseExpr(x.Cap, ctx.GetOrCreateSymbol)
			if err != nil {
				return errors.Wrap(err, "init %d", i)
			}

			v, ok := mc.EvaluateAsRelocatable(e)
			if !ok || v.SymA == nil || v.SymB != nil || v.SymA.Kind != mc.VariantNone {
				return errors.New("init %d: capability wants symbol+addend, got %v", i, x.Cap)
			}

			st.EmitCapability(v.SymA.Symbol, mc.Const(v.Constant), t.CapSize())
		case x.Intcap != "":
			e, err := parse.ParseExpr(x.Intcap, ctx.GetOrCreateSymbol)
			if err != nil {
				return errors.Wrap(err, "init %d", i)
			}

			st.EmitIntcap(e, t.CapSize())
		default:
			e, err := parse.ParseExpr(x.Value, ctx.GetOrCreateSymbol)
			if err != nil {
				return errors.Wrap(err, "init %d", i)
			}

			size := x.Size
			if size == 0 {
				size = t.XLen()
			}

			if _, ok := mc.EvaluateAsRelocatable(e); !ok {
				return errors.New("init %d: not relocatable: %v", i, x.Value)
			}

			st.EmitValue(e, size)
		}
	}

	return nil
}

func hasCap(items []load.Init) bool {
	for _, x := range items {
		if x.Cap != "" || x.Intcap != "" {
			return true
		}
	}

	return false
}

func sortedNames(m *load.Module) []string {
	names := maps.Keys(m.Globals)
	slices.Sort(names)

	return names
}

func align(size int64) int {
	a := 1
	for a < 8 && int64(a) < size {
		a *= 2
	}

	return a
}

func (ov Overrides) apply(t *load.Target) {
	if ov.ABI != "" {
		t.ABI = ov.ABI
	}

	if ov.Features != nil {
		t.Features = ov.Features
	}

	if ov.PIC != nil {
		t.PIC = *ov.PIC
	}
}
