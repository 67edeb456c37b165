package mc

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type (
	SectionKind int

	Section struct {
		Name  string
		Kind  SectionKind
		Group string

		Fragments []*Fragment
		Align     int
	}

	Binding int

	Symbol struct {
		Name string

		// Section is nil while the symbol is undefined.
		Section *Section
		Offset  int64

		Binding    Binding
		Size       int64
		Other      uint8
		Registered bool
	}

	FixupKind int

	Fixup struct {
		Offset int
		Value  Expr
		Kind   FixupKind
	}

	// Fragment is a run of bytes with fixups to be patched at layout.
	Fragment struct {
		Contents []byte
		Fixups   []Fixup
	}

	// Context owns symbols and sections of one object.
	Context struct {
		symbols  map[string]*Symbol
		sections map[string]*Section

		tmp int
	}
)

const (
	SectionText SectionKind = iota
	SectionData
	SectionReadOnly
	SectionBSS
	SectionMetadata
)

const (
	BindLocal Binding = iota
	BindGlobal
	BindWeak
)

const (
	FixupNone FixupKind = iota
	FixupData1
	FixupData2
	FixupData4
	FixupData8
	FixupAdd8
	FixupAdd16
	FixupAdd32
	FixupAdd64
	FixupSub8
	FixupSub16
	FixupSub32
	FixupSub64
	FixupCapability
)

// TempPrefix marks assembler-local labels.
const TempPrefix = ".L"

func NewContext() *Context {
	return &Context{
		symbols:  make(map[string]*Symbol),
		sections: make(map[string]*Section),
	}
}

func (c *Context) GetOrCreateSymbol(name string) *Symbol {
	if s, ok := c.symbols[name]; ok {
		return s
	}

	s := &Symbol{Name: name}
	c.symbols[name] = s

	return s
}

func (c *Context) LookupSymbol(name string) (*Symbol, bool) {
	s, ok := c.symbols[name]
	return s, ok
}

// CreateTempSymbol returns a fresh assembler-local label.
func (c *Context) CreateTempSymbol(prefix string) *Symbol {
	for {
		name := fmt.Sprintf("%s%s%d", TempPrefix, prefix, c.tmp)
		c.tmp++

		if _, ok := c.symbols[name]; !ok {
			return c.GetOrCreateSymbol(name)
		}
	}
}

// Section returns the named section, creating it with kind if needed.
func (c *Context) Section(name string, kind SectionKind) *Section {
	if s, ok := c.sections[name]; ok {
		return s
	}

	s := &Section{Name: name, Kind: kind, Align: 1}
	c.sections[name] = s

	return s
}

// Symbols returns all symbols sorted by name.
func (c *Context) Symbols() []*Symbol {
	keys := maps.Keys(c.symbols)
	slices.Sort(keys)

	r := make([]*Symbol, len(keys))
	for i, k := range keys {
		r[i] = c.symbols[k]
	}

	return r
}

// Sections returns all sections sorted by name.
func (c *Context) Sections() []*Section {
	keys := maps.Keys(c.sections)
	slices.Sort(keys)

	r := make([]*Section, len(keys))
	for i, k := range keys {
		r[i] = c.sections[k]
	}

	return r
}

func (s *Symbol) IsDefined() bool   { return s.Section != nil }
func (s *Symbol) IsTemporary() bool { return strings.HasPrefix(s.Name, TempPrefix) }

func (k SectionKind) IsText() bool { return k == SectionText }

// Size is the current size of the section contents.
func (s *Section) Size() (n int) {
	for _, f := range s.Fragments {
		n += len(f.Contents)
	}

	return n
}

// Bytes concatenates fragment contents.
func (s *Section) Bytes() []byte {
	b := make([]byte, 0, s.Size())

	for _, f := range s.Fragments {
		b = append(b, f.Contents...)
	}

	return b
}

func (k FixupKind) String() string {
	switch k {
	case FixupNone:
		return "none"
	case FixupData1, FixupData2, FixupData4, FixupData8:
		return fmt.Sprintf("data%d", k.Size())
	case FixupAdd8, FixupAdd16, FixupAdd32, FixupAdd64:
		return fmt.Sprintf("add%d", 8*k.Size())
	case FixupSub8, FixupSub16, FixupSub32, FixupSub64:
		return fmt.Sprintf("sub%d", 8*k.Size())
	case FixupCapability:
		return "capability"
	}

	return fmt.Sprintf("fixup(%d)", int(k))
}

// Size is the number of bytes the fixup patches. Capability fixups return 0: the size is target dependent.
func (k FixupKind) Size() int {
	switch k {
	case FixupData1, FixupAdd8, FixupSub8:
		return 1
	case FixupData2, FixupAdd16, FixupSub16:
		return 2
	case FixupData4, FixupAdd32, FixupSub32:
		return 4
	case FixupData8, FixupAdd64, FixupSub64:
		return 8
	}

	return 0
}

// DataFixup returns the plain data fixup for a value of size bytes.
func DataFixup(size int) (FixupKind, bool) {
	switch size {
	case 1:
		return FixupData1, true
	case 2:
		return FixupData2, true
	case 4:
		return FixupData4, true
	case 8:
		return FixupData8, true
	}

	return FixupNone, false
}

// RelocPairForSize returns the add/sub fixups used for a delayed difference of size bytes.
func RelocPairForSize(size int) (add, sub FixupKind) {
	switch size {
	case 1:
		return FixupAdd8, FixupSub8
	case 2:
		return FixupAdd16, FixupSub16
	case 4:
		return FixupAdd32, FixupSub32
	case 8:
		return FixupAdd64, FixupSub64
	}

	panic(fmt.Sprintf("unsupported add/sub relocation size %d", size))
}
