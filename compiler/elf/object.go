package elf

import (
	"context"
	stdelf "debug/elf"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/rvcheri/compiler/mc"
)

type (
	// Object is what the binary writer gets: section contents,
	// relocations against them, symbols and the header flags word.
	Object struct {
		Flags uint32

		Sections []*SectionData
		Symbols  []*mc.Symbol
		Lines    []LineEntry
	}

	SectionData struct {
		Name  string
		Kind  mc.SectionKind
		Align int
		Data  []byte

		Relocs []Reloc
	}

	Reloc struct {
		Offset int
		Type   uint32
		Symbol string
		Addend int64
	}
)

// R_RISCV_CHERI_CAPABILITY
const RCheriCapability uint32 = 193

// Finish closes the compilation unit: computes the header flags,
// writes the attributes section and lowers fragments to relocations.
// It may be called once.
func (s *Streamer) Finish(ctx context.Context) (obj *Object, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "elf: finish")
	defer tr.Finish("err", &err)

	if s.finished {
		return nil, errors.New("object already finished")
	}

	s.finished = true

	flags, err := HeaderFlags(s.flags, s.target)
	if err != nil {
		return nil, errors.Wrap(err, "header flags")
	}

	s.flags = flags

	s.finishAttributeSection()
	s.flushPendingLabels()

	obj = &Object{
		Flags: flags,
		Lines: s.lines,
	}

	for _, sec := range s.ctx.Sections() {
		sd, err := lowerSection(sec)
		if err != nil {
			return nil, errors.Wrap(err, "section %v", sec.Name)
		}

		obj.Sections = append(obj.Sections, sd)
	}

	for _, sym := range s.ctx.Symbols() {
		if sym.Registered || sym.IsDefined() {
			obj.Symbols = append(obj.Symbols, sym)
		}
	}

	tr.Printw("object", "flags", fmt.Sprintf("%#x", flags), "flags_desc", DescribeFlags(flags), "sections", len(obj.Sections), "symbols", len(obj.Symbols))

	return obj, nil
}

// HeaderFlagsWord is the flags computed by Finish.
func (s *Streamer) HeaderFlagsWord() uint32 { return s.flags }

func lowerSection(sec *mc.Section) (*SectionData, error) {
	sd := &SectionData{
		Name:  sec.Name,
		Kind:  sec.Kind,
		Align: sec.Align,
		Data:  make([]byte, 0, sec.Size()),
	}

	for _, df := range sec.Fragments {
		base := len(sd.Data)
		sd.Data = append(sd.Data, df.Contents...)

		for _, fx := range df.Fixups {
			off := base + fx.Offset

			r, folded, err := lowerFixup(fx)
			if err != nil {
				return nil, errors.Wrap(err, "fixup at %d", off)
			}

			if folded {
				n := fx.Kind.Size()
				appendUint(sd.Data[off:off], uint64(r.Addend), n)

				continue
			}

			r.Offset = off
			sd.Relocs = append(sd.Relocs, r)
		}
	}

	return sd, nil
}

// lowerFixup turns a fixup into a relocation.
// A difference of two symbols of the same section is folded into a constant instead.
func lowerFixup(fx mc.Fixup) (r Reloc, folded bool, err error) {
	v, ok := mc.EvaluateAsRelocatable(fx.Value)
	if !ok {
		return r, false, errors.New("expression is not relocatable: %v", fx.Value)
	}

	r.Addend = v.Constant

	if v.SymB != nil {
		a, b := v.SymA, v.SymB

		if a == nil || !a.Symbol.IsDefined() || !b.Symbol.IsDefined() || a.Symbol.Section != b.Symbol.Section {
			return r, false, errors.New("%v fixup of a symbol difference: %v", fx.Kind, fx.Value)
		}

		r.Addend += a.Symbol.Offset - b.Symbol.Offset

		return r, true, nil
	}

	if v.SymA != nil {
		r.Symbol = v.SymA.Symbol.Name
	}

	switch fx.Kind {
	case mc.FixupData4:
		r.Type = uint32(stdelf.R_RISCV_32)
	case mc.FixupData8:
		r.Type = uint32(stdelf.R_RISCV_64)
	case mc.FixupAdd8:
		r.Type = uint32(stdelf.R_RISCV_ADD8)
	case mc.FixupAdd16:
		r.Type = uint32(stdelf.R_RISCV_ADD16)
	case mc.FixupAdd32:
		r.Type = uint32(stdelf.R_RISCV_ADD32)
	case mc.FixupAdd64:
		r.Type = uint32(stdelf.R_RISCV_ADD64)
	case mc.FixupSub8:
		r.Type = uint32(stdelf.R_RISCV_SUB8)
	case mc.FixupSub16:
		r.Type = uint32(stdelf.R_RISCV_SUB16)
	case mc.FixupSub32:
		r.Type = uint32(stdelf.R_RISCV_SUB32)
	case mc.FixupSub64:
		r.Type = uint32(stdelf.R_RISCV_SUB64)
	case mc.FixupCapability:
		r.Type = RCheriCapability
	default:
		return r, false, errors.New("no relocation for %v fixup", fx.Kind)
	}

	return r, false, nil
}

func (r Reloc) String() string {
	return fmt.Sprintf("%#x %s %s%+d", r.Offset, RelocName(r.Type), r.Symbol, r.Addend)
}

func RelocName(t uint32) string {
	if t == RCheriCapability {
		return "R_RISCV_CHERI_CAPABILITY"
	}

	return stdelf.R_RISCV(t).String()
}
