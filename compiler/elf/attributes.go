package elf

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/slowlang/rvcheri/compiler/mc"
	"github.com/slowlang/rvcheri/compiler/target"
)

type (
	attrKind int

	attribute struct {
		Tag  uint
		Kind attrKind
		Int  uint
		Text string
	}

	attributes []attribute
)

const (
	attrInt attrKind = 1 << iota
	attrText
)

// RISC-V build attribute tags.
const (
	TagFile              = 1
	TagStackAlign        = 4
	TagArch              = 5
	TagUnalignedAccess   = 6
	TagPrivSpec          = 8
	TagPrivSpecMinor     = 10
	TagPrivSpecRevision  = 12
	AttributesVendor     = "riscv"
	AttributesSection    = ".riscv.attributes"
	attributesVersionTag = 'A'
)

func (s *Streamer) EmitAttribute(tag, v uint) {
	s.attrs.set(attribute{Tag: tag, Kind: attrInt, Int: v})
}

func (s *Streamer) EmitTextAttribute(tag uint, v string) {
	s.attrs.set(attribute{Tag: tag, Kind: attrText, Text: v})
}

func (s *Streamer) EmitIntTextAttribute(tag, iv uint, sv string) {
	s.attrs.set(attribute{Tag: tag, Kind: attrInt | attrText, Int: iv, Text: sv})
}

// EmitTargetAttributes records the stack alignment and ISA string of the target.
func (s *Streamer) EmitTargetAttributes() {
	align := uint(16)
	if s.target.Has(target.FeatureStdExtE) {
		align = 4
	}

	s.EmitAttribute(TagStackAlign, align)
	s.EmitTextAttribute(TagArch, ArchString(s.target))
}

// ArchString renders the ISA string, e.g. rv64i2p1_m2p0_c2p0_xcheri0p0.
func ArchString(t *target.Info) string {
	var b strings.Builder

	base := "i2p1"
	if t.Has(target.FeatureStdExtE) {
		base = "e2p0"
	}

	fmt.Fprintf(&b, "rv%d%s", 8*t.XLen(), base)

	for _, x := range []struct {
		f    target.Feature
		name string
	}{
		{target.FeatureStdExtM, "m2p0"},
		{target.FeatureStdExtA, "a2p1"},
		{target.FeatureStdExtF, "f2p2"},
		{target.FeatureStdExtD, "d2p2"},
		{target.FeatureStdExtC, "c2p0"},
		{target.FeatureStdExtV, "v1p0"},
		{target.FeatureStdExtZtso, "ztso1p0"},
		{target.FeatureCheri, "xcheri0p0"},
	} {
		if t.Has(x.f) {
			b.WriteString("_")
			b.WriteString(x.name)
		}
	}

	return b.String()
}

func (l *attributes) set(a attribute) {
	for i, x := range *l {
		if x.Tag == a.Tag {
			(*l)[i] = a
			return
		}
	}

	*l = append(*l, a)
}

// finishAttributeSection writes the attributes section. Nothing is written when empty.
func (s *Streamer) finishAttributeSection() {
	if len(s.attrs) == 0 {
		return
	}

	sec := s.ctx.Section(AttributesSection, mc.SectionMetadata)
	s.SwitchSection(sec)
	s.EmitBytes(s.attrs.encode())
}

func (l attributes) encode() []byte {
	sorted := slices.Clone(l)
	slices.SortStableFunc(sorted, func(a, b attribute) int { return int(a.Tag) - int(b.Tag) })

	var body []byte

	for _, a := range sorted {
		body = binary.AppendUvarint(body, uint64(a.Tag))

		if a.Kind&attrInt != 0 {
			body = binary.AppendUvarint(body, uint64(a.Int))
		}

		if a.Kind&attrText != 0 {
			body = append(body, a.Text...)
			body = append(body, 0)
		}
	}

	// file sub-subsection: tag, uint32 size including tag and size, attributes
	var file []byte
	file = binary.AppendUvarint(file, TagFile)
	file = binary.LittleEndian.AppendUint32(file, uint32(1+4+len(body)))
	file = append(file, body...)

	// vendor subsection: uint32 size including itself, vendor name, file sub-subsection
	vendorLen := 4 + len(AttributesVendor) + 1 + len(file)

	b := []byte{attributesVersionTag}
	b = binary.LittleEndian.AppendUint32(b, uint32(vendorLen))
	b = append(b, AttributesVendor...)
	b = append(b, 0)
	b = append(b, file...)

	return b
}
