package elf

import (
	"encoding/binary"
	"fmt"

	"tlog.app/go/tlog"

	"github.com/slowlang/rvcheri/compiler/mc"
	"github.com/slowlang/rvcheri/compiler/target"
)

type (
	// Streamer lays out data into sections of one RISC-V object
	// and collects the fixups needed to patch it.
	Streamer struct {
		ctx    *mc.Context
		target *target.Info

		cur     *mc.Section
		pending []*mc.Symbol

		loc    int
		hasLoc bool
		lines  []LineEntry

		attrs attributes
		flags uint32

		finished bool
	}

	// LineEntry ties a source line to a byte offset for debug line tables.
	LineEntry struct {
		Section string
		Offset  int
		Line    int
	}
)

// CapabilityFill marks capability placeholders in unrelocated output.
const CapabilityFill = 0xca

func NewStreamer(ctx *mc.Context, t *target.Info) *Streamer {
	s := &Streamer{
		ctx:    ctx,
		target: t,
	}

	s.SwitchSection(ctx.Section(".text", mc.SectionText))

	return s
}

func (s *Streamer) Context() *mc.Context { return s.ctx }
func (s *Streamer) Target() *target.Info { return s.target }
func (s *Streamer) Section() *mc.Section { return s.cur }
func (s *Streamer) Lines() []LineEntry   { return s.lines }

// SetHeaderFlags sets the initial header flags, as if set by assembler directives.
func (s *Streamer) SetHeaderFlags(f uint32) { s.flags = f }

func (s *Streamer) SwitchSection(sec *mc.Section) {
	if s.cur != nil {
		s.flushPendingLabels()
	}

	s.cur = sec
}

// EmitLabel defines sym at the current position.
// The offset is fixed when the next byte is emitted into the section.
func (s *Streamer) EmitLabel(sym *mc.Symbol) {
	if sym.IsDefined() {
		panic(fmt.Sprintf("symbol %s redefined", sym.Name))
	}

	sym.Section = s.cur
	sym.Registered = true

	s.pending = append(s.pending, sym)
}

// EmitLoc records the source line of the next emitted byte.
func (s *Streamer) EmitLoc(line int) {
	s.loc = line
	s.hasLoc = true
}

func (s *Streamer) EmitBytes(b []byte) {
	df := s.dataFragment()
	s.flushPendingLabels()

	df.Contents = append(df.Contents, b...)
}

func (s *Streamer) EmitZeros(n int) {
	s.EmitBytes(make([]byte, n))
}

// EmitValueToAlignment pads the current section with fill up to align bytes.
func (s *Streamer) EmitValueToAlignment(align int, fill byte) {
	if align <= 1 {
		return
	}

	if align > s.cur.Align {
		s.cur.Align = align
	}

	pad := (align - s.cur.Size()%align) % align
	if pad == 0 {
		return
	}

	b := make([]byte, pad)
	for i := range b {
		b[i] = fill
	}

	s.EmitBytes(b)
}

// EmitValue emits a size byte value. Symbol differences the linker may
// still change are emitted as placeholder bytes with a delayed add/sub pair.
func (s *Streamer) EmitValue(v mc.Expr, size int) {
	a, b, ok := RequiresFixups(v)
	if !ok {
		s.emitValueGeneric(v, size)
		return
	}

	df := s.dataFragment()
	s.flushPendingLabels()
	s.makeLineEntry()

	add, sub := mc.RelocPairForSize(size)

	off := len(df.Contents)

	df.Fixups = append(df.Fixups,
		mc.Fixup{Offset: off, Value: a, Kind: add},
		mc.Fixup{Offset: off, Value: b, Kind: sub},
	)

	df.Contents = append(df.Contents, make([]byte, size)...)

	tlog.V("fixups").Printw("delayed add/sub", "section", s.cur.Name, "off", off, "a", a.String(), "b", b.String(), "size", size)
}

func (s *Streamer) emitValueGeneric(v mc.Expr, size int) {
	df := s.dataFragment()
	s.flushPendingLabels()
	s.makeLineEntry()

	if val, ok := mc.EvaluateAsRelocatable(v); ok && val.IsAbsolute() {
		df.Contents = appendUint(df.Contents, uint64(val.Constant), size)
		return
	}

	kind, ok := mc.DataFixup(size)
	if !ok {
		panic(fmt.Sprintf("unsupported value size %d", size))
	}

	df.Fixups = append(df.Fixups, mc.Fixup{Offset: len(df.Contents), Value: v, Kind: kind})
	df.Contents = append(df.Contents, make([]byte, size)...)
}

// EmitCapability emits a capability to sym+addend: capSize aligned
// placeholder bytes patched by a capability relocation.
func (s *Streamer) EmitCapability(sym *mc.Symbol, addend mc.Expr, capSize int) {
	if addend == nil {
		panic("nil capability addend, use mc.Const(0)")
	}

	if capSize != s.target.CapSize() {
		panic(fmt.Sprintf("capability size %d, target wants %d", capSize, s.target.CapSize()))
	}

	sym.Registered = true

	s.EmitValueToAlignment(capSize, 0)
	s.flushPendingLabels()

	df := &mc.Fragment{
		Contents: make([]byte, capSize),
		Fixups: []mc.Fixup{
			{Offset: 0, Value: mc.Add(mc.Ref(sym), addend), Kind: mc.FixupCapability},
		},
	}

	for i := range df.Contents {
		df.Contents[i] = CapabilityFill
	}

	s.cur.Fragments = append(s.cur.Fragments, df)

	tlog.V("fixups").Printw("capability", "section", s.cur.Name, "sym", sym.Name, "addend", addend.String(), "size", capSize)
}

// EmitIntcap emits an integer in a capability sized slot: the address
// half holds the value and the metadata half is zero.
func (s *Streamer) EmitIntcap(v mc.Expr, capSize int) {
	if capSize != s.target.CapSize() {
		panic(fmt.Sprintf("capability size %d, target wants %d", capSize, s.target.CapSize()))
	}

	s.EmitValueToAlignment(capSize, 0)
	s.EmitValue(v, capSize/2)
	s.EmitZeros(capSize / 2)
}

// EmitDirectiveVariantCC marks sym as using the vector calling convention.
func (s *Streamer) EmitDirectiveVariantCC(sym *mc.Symbol) {
	sym.Registered = true
	sym.Other |= STORISCVVariantCC
}

func (s *Streamer) dataFragment() *mc.Fragment {
	if l := len(s.cur.Fragments); l != 0 {
		return s.cur.Fragments[l-1]
	}

	df := &mc.Fragment{}
	s.cur.Fragments = append(s.cur.Fragments, df)

	return df
}

func (s *Streamer) flushPendingLabels() {
	if len(s.pending) == 0 {
		return
	}

	off := int64(s.cur.Size())

	for _, sym := range s.pending {
		if sym.Section == s.cur {
			sym.Offset = off
		}
	}

	s.pending = s.pending[:0]
}

func (s *Streamer) makeLineEntry() {
	if !s.hasLoc {
		return
	}

	s.lines = append(s.lines, LineEntry{Section: s.cur.Name, Offset: s.cur.Size(), Line: s.loc})
	s.hasLoc = false
}

func appendUint(b []byte, v uint64, size int) []byte {
	switch size {
	case 1:
		return append(b, byte(v))
	case 2:
		return binary.LittleEndian.AppendUint16(b, uint16(v))
	case 4:
		return binary.LittleEndian.AppendUint32(b, uint32(v))
	case 8:
		return binary.LittleEndian.AppendUint64(b, v)
	}

	panic(fmt.Sprintf("unsupported value size %d", size))
}
