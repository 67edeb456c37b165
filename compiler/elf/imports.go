package elf

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/rvcheri/compiler/cheriot"
	"github.com/slowlang/rvcheri/compiler/mc"
)

// ImportEntrySize is the size of one import table record.
const ImportEntrySize = 8

// EmitImportTable drains the import table into the imports section.
//
// Every entry is a record labelled with the import symbol holding the
// export symbol address and a zero word. Library entries point one byte
// past the export symbol, which the loader uses to tell them apart.
func (s *Streamer) EmitImportTable(ctx context.Context, t *cheriot.Table) {
	tr := tlog.SpanFromContext(ctx)

	entries := t.Entries()
	if len(entries) == 0 {
		return
	}

	prev := s.cur
	sec := s.ctx.Section(cheriot.ImportsSection, mc.SectionData)

	s.SwitchSection(sec)

	for _, e := range entries {
		imp := s.ctx.GetOrCreateSymbol(e.Import)
		exp := s.ctx.GetOrCreateSymbol(e.Export)

		if imp.IsDefined() {
			continue
		}

		imp.Binding = mc.BindLocal
		if e.Public {
			imp.Binding = mc.BindWeak
		}

		imp.Size = ImportEntrySize

		s.EmitValueToAlignment(ImportEntrySize, 0)
		s.EmitLabel(imp)

		var addend int64
		if e.Library {
			addend = 1
		}

		s.EmitValue(mc.Add(mc.Ref(exp), mc.Const(addend)), 4)
		s.EmitZeros(4)

		tr.V("imports").Printw("import table entry", "import", e.Import, "export", e.Export, "library", e.Library, "public", e.Public)
	}

	s.SwitchSection(prev)
}
