// Package load reads a module description: the target, the globals
// and the register allocated functions to expand.
package load

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/rvcheri/compiler/asm"
	"github.com/slowlang/rvcheri/compiler/asm/riscv"
	"github.com/slowlang/rvcheri/compiler/cheriot"
	"github.com/slowlang/rvcheri/compiler/parse"
	"github.com/slowlang/rvcheri/compiler/target"
)

type (
	File struct {
		Target  Target   `yaml:"target"`
		Globals []Global `yaml:"globals"`
		Funcs   []Func   `yaml:"funcs"`
	}

	Target struct {
		ABI      string   `yaml:"abi"`
		Features []string `yaml:"features"`
		PIC      bool     `yaml:"pic"`
	}

	Global struct {
		Name string `yaml:"name"`

		Func        bool `yaml:"func"`
		Declaration bool `yaml:"declaration"`
		Constant    bool `yaml:"constant"`
		External    bool `yaml:"external"`

		Section string `yaml:"section"`
		Size    int64  `yaml:"size"`

		Init []Init `yaml:"init"`

		Attrs `yaml:",inline"`
	}

	// Init is one item of a global initializer. Exactly one of the fields
	// but Size is set: Cap is sym+addend, Value and Intcap are expressions.
	// Size of a Value defaults to the register width.
	Init struct {
		Cap    string `yaml:"cap"`
		Intcap string `yaml:"intcap"`
		Value  string `yaml:"value"`
		Size   int    `yaml:"size"`
	}

	Attrs struct {
		Compartment string `yaml:"compartment"`
		CallConv    string `yaml:"callconv"`
		Interrupts  string `yaml:"interrupts"`
	}

	Func struct {
		Name      string `yaml:"name"`
		External  bool   `yaml:"external"`
		VariantCC bool   `yaml:"variant_cc"`

		Attrs `yaml:",inline"`

		Blocks []Block `yaml:"blocks"`
	}

	Block struct {
		Succs   []int    `yaml:"succs"`
		LiveIns []string `yaml:"livein"`
		Code    string   `yaml:"code"`
	}

	Module struct {
		Target  *target.Info
		Globals map[string]*asm.Global
		Funcs   []*asm.Func

		// Inits holds initializers of data globals by name.
		Inits map[string][]Init
	}
)

func ReadFile(name string) (*File, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}

	return Decode(data)
}

func Decode(data []byte) (*File, error) {
	var f File

	err := yaml.Unmarshal(data, &f)
	if err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}

	return &f, nil
}

// Build resolves the target, creates globals and parses function bodies.
// Functions with no live-in sets given get them computed.
func (f *File) Build(ctx context.Context) (m *Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "load: build module")
	defer tr.Finish("err", &err)

	t, err := f.Target.Info(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "target")
	}

	m = &Module{
		Target:  t,
		Globals: make(map[string]*asm.Global, len(f.Globals)+len(f.Funcs)),
		Inits:   make(map[string][]Init),
	}

	for _, g := range f.Globals {
		x := &asm.Global{
			Name:        g.Name,
			Func:        g.Func,
			Declaration: g.Declaration,
			Constant:    g.Constant,
			External:    g.External || g.Declaration,
			Section:     g.Section,
			Size:        g.Size,
		}

		if err = g.Attrs.apply(x); err != nil {
			return nil, errors.Wrap(err, "global %v", g.Name)
		}

		if err = g.checkInit(); err != nil {
			return nil, errors.Wrap(err, "global %v", g.Name)
		}

		if err = m.add(x); err != nil {
			return nil, err
		}

		if g.Init != nil {
			m.Inits[g.Name] = g.Init
		}
	}

	for _, fn := range f.Funcs {
		x := &asm.Global{
			Name:      fn.Name,
			Func:      true,
			External:  fn.External,
			VariantCC: fn.VariantCC,
			Section:   ".text",
		}

		if err = fn.Attrs.apply(x); err != nil {
			return nil, errors.Wrap(err, "func %v", fn.Name)
		}

		if err = m.add(x); err != nil {
			return nil, err
		}
	}

	p := &parse.Parser{Globals: m.Globals}

	for _, fn := range f.Funcs {
		af, err := fn.build(p, m.Globals[fn.Name])
		if err != nil {
			return nil, errors.Wrap(err, "func %v", fn.Name)
		}

		m.Funcs = append(m.Funcs, af)
	}

	tr.Printw("module loaded", "abi", t.ABI, "globals", len(m.Globals), "funcs", len(m.Funcs))

	return m, nil
}

func (m *Module) add(g *asm.Global) error {
	if _, ok := m.Globals[g.Name]; ok {
		return errors.New("duplicate global: %v", g.Name)
	}

	m.Globals[g.Name] = g

	return nil
}

func (t Target) Info(ctx context.Context) (*target.Info, error) {
	var fs target.Features

	for _, n := range t.Features {
		f, err := target.ParseFeature(n)
		if err != nil {
			return nil, err
		}

		fs.Set(f)
	}

	abi, err := target.ComputeABI(ctx, fs, t.ABI)
	if err != nil {
		return nil, err
	}

	return &target.Info{
		ABI:      abi,
		Features: fs,
		PIC:      t.PIC,
	}, nil
}

func (g Global) checkInit() error {
	if g.Init == nil {
		return nil
	}

	if g.Func || g.Declaration {
		return errors.New("initializer of a function or declaration")
	}

	if g.Section == ".bss" {
		return errors.New("initializer of a .bss global")
	}

	for i, x := range g.Init {
		n := 0

		for _, s := range []string{x.Cap, x.Intcap, x.Value} {
			if s != "" {
				n++
			}
		}

		if n != 1 {
			return errors.New("init %d: want exactly one of cap, intcap, value", i)
		}

		switch x.Size {
		case 0, 1, 2, 4, 8:
		default:
			return errors.New("init %d: unsupported size %d", i, x.Size)
		}

		if x.Size != 0 && x.Value == "" {
			return errors.New("init %d: size is only allowed for values", i)
		}
	}

	return nil
}

func (a Attrs) apply(g *asm.Global) error {
	var ok bool

	g.Compartment = a.Compartment

	if a.CallConv != "" {
		g.CallConv, ok = asm.ParseCallConv(a.CallConv)
		if !ok {
			return errors.New("unknown calling convention: %v", a.CallConv)
		}
	}

	if a.Interrupts != "" {
		g.Interrupts, ok = asm.ParseInterrupts(a.Interrupts)
		if !ok {
			return errors.New("unknown interrupt status: %v", a.Interrupts)
		}
	}

	// Library imports live in the libcalls compartment: another function
	// there would share their import table names.
	if g.Compartment == cheriot.LibcallsCompartment && g.CallConv != asm.CallConvLibCall {
		return errors.New("compartment %v is reserved for library functions", g.Compartment)
	}

	return nil
}

func (fn Func) build(p *parse.Parser, self *asm.Global) (f *asm.Func, err error) {
	f = asm.NewFunc(fn.Name, self)

	haveLive := false

	for i, blk := range fn.Blocks {
		b := f.NewBlock()

		b.Code, err = p.ParseCode(blk.Code)
		if err != nil {
			return nil, errors.Wrap(err, "block %d", i)
		}

		for _, s := range blk.Succs {
			if s < 0 || s >= len(fn.Blocks) {
				return nil, errors.New("block %d: successor %d out of range", i, s)
			}

			b.AddSucc(asm.BlockID(s))
		}

		if blk.LiveIns == nil {
			continue
		}

		haveLive = true

		for _, n := range blk.LiveIns {
			r, ok := riscv.ParseReg(n)
			if !ok {
				return nil, errors.New("block %d: unknown live-in register %v", i, n)
			}

			b.LiveIns.Set(r)
		}
	}

	if !haveLive {
		f.Liveness()
	}

	return f, nil
}
