package cheriot

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"
)

type (
	// Entry is one import-table slot: a call site target crossing
	// a compartment or library boundary.
	Entry struct {
		Import string
		Export string

		Library bool
		Public  bool
	}

	// Table collects import-table entries of a compilation unit.
	// Inserting an entry twice is a no-op.
	//
	// It is not safe for concurrent use: entries are registered
	// while functions are expanded and drained once at emission.
	Table struct {
		set      mapset.Set[Entry]
		byImport map[string]Entry
	}
)

func NewTable() *Table {
	return &Table{
		set:      mapset.NewThreadUnsafeSet[Entry](),
		byImport: make(map[string]Entry),
	}
}

// Insert registers e and reports whether it was new.
// The import symbol identifies the entry. The same function reached
// by name and by symbol may disagree on visibility: public wins.
// Any other difference is a miscompilation and panics.
func (t *Table) Insert(e Entry) bool {
	prev, ok := t.byImport[e.Import]
	if ok {
		if prev.Export != e.Export || prev.Library != e.Library {
			panic(fmt.Sprintf("import %s registered as %+v and %+v", e.Import, prev, e))
		}

		e.Public = e.Public || prev.Public

		if e != prev {
			t.set.Remove(prev)
		}
	}

	t.byImport[e.Import] = e
	t.set.Add(e)

	tlog.V("imports").Printw("import entry", "entry", e, "new", !ok, "from", loc.Caller(1))

	return !ok
}

func (t *Table) Contains(e Entry) bool {
	return t.set.Contains(e)
}

func (t *Table) Len() int {
	return t.set.Cardinality()
}

// Entries returns the entries sorted by import symbol name.
func (t *Table) Entries() []Entry {
	l := t.set.ToSlice()

	slices.SortFunc(l, func(a, b Entry) int {
		switch {
		case a.Import < b.Import:
			return -1
		case a.Import > b.Import:
			return 1
		case a.Export < b.Export:
			return -1
		case a.Export > b.Export:
			return 1
		}

		return 0
	})

	return l
}

func (e Entry) TlogAppend(b []byte) []byte {
	var e0 tlwire.Encoder

	b = e0.AppendMap(b, 4)
	b = e0.AppendString(b, "import")
	b = e0.AppendString(b, e.Import)
	b = e0.AppendString(b, "export")
	b = e0.AppendString(b, e.Export)
	b = e0.AppendKeyInt(b, "library", b2i(e.Library))
	b = e0.AppendKeyInt(b, "public", b2i(e.Public))

	return b
}

func b2i(v bool) int {
	if v {
		return 1
	}

	return 0
}
