package cheriot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slowlang/rvcheri/compiler/asm"
)

func TestTableName(t *testing.T) {
	assert.Equal(t, "__import_alpha_f", TableName("alpha", "f", asm.CallConvCCall, true))
	assert.Equal(t, "__export_alpha_f", TableName("alpha", "f", asm.CallConvC, false))
	assert.Equal(t, "__library_import_libcalls_memcpy", TableName(LibcallsCompartment, "memcpy", asm.CallConvLibCall, true))
}

func TestEntryFor(t *testing.T) {
	fn := &asm.Global{Name: "f", Func: true, Compartment: "beta", CallConv: asm.CallConvCCall}

	assert.Equal(t, Entry{Import: "__import_beta_f", Export: "__export_beta_f"}, EntryFor(fn, false))
	assert.Equal(t, Entry{Import: "__library_import_beta_f", Export: "__export_beta_f", Library: true}, EntryFor(fn, true))

	lib := &asm.Global{Name: "strlen", Func: true, CallConv: asm.CallConvLibCall, External: true}

	assert.Equal(t, Entry{
		Import:  "__library_import_libcalls_strlen",
		Export:  "__library_export_libcalls_strlen",
		Library: true,
		Public:  true,
	}, EntryFor(lib, false))

	assert.Equal(t, EntryFor(lib, false), LibcallEntry("strlen"))
}

func TestPredicates(t *testing.T) {
	caller := &asm.Global{Name: "c", Compartment: "alpha", Interrupts: asm.InterruptsEnabled}

	for _, tc := range []struct {
		callee *asm.Global
		same   bool
		safe   bool
		imp    bool
	}{
		{&asm.Global{Compartment: "alpha"}, true, true, false},
		{&asm.Global{Compartment: "alpha", Interrupts: asm.InterruptsEnabled}, true, true, true},
		{&asm.Global{Compartment: "alpha", Interrupts: asm.InterruptsDisabled}, true, false, true},
		{&asm.Global{Compartment: "alpha", CallConv: asm.CallConvCCall}, true, false, true},
		{&asm.Global{Compartment: "alpha", CallConv: asm.CallConvCCallee}, true, true, true},
		{&asm.Global{Compartment: "beta"}, false, true, false},
		{&asm.Global{}, false, true, false},
	} {
		assert.Equal(t, tc.same, SameCompartment(caller, tc.callee), "%+v", tc.callee)
		assert.Equal(t, tc.safe, SafeToDirectCall(caller, tc.callee), "%+v", tc.callee)
		assert.Equal(t, tc.imp, NeedsImportForAddress(tc.callee), "%+v", tc.callee)
	}

	assert.False(t, SameCompartment(&asm.Global{}, &asm.Global{}), "no compartment is not a compartment")
}

func TestTable(t *testing.T) {
	tab := NewTable()

	e := Entry{Import: "__import_b_f", Export: "__export_b_f"}
	l := LibcallEntry("memcpy")

	assert.True(t, tab.Insert(l))
	assert.True(t, tab.Insert(e))
	assert.False(t, tab.Insert(e))
	assert.Equal(t, 2, tab.Len())

	assert.True(t, tab.Contains(e))
	assert.False(t, tab.Contains(Entry{Import: "__import_b_g"}))

	assert.Equal(t, []Entry{e, l}, tab.Entries())

	assert.False(t, tab.Insert(Entry{Import: e.Import, Export: e.Export, Public: true}))
	assert.Equal(t, []Entry{{Import: e.Import, Export: e.Export, Public: true}, l}, tab.Entries(), "public wins")

	assert.False(t, tab.Insert(e))
	assert.Equal(t, 2, tab.Len())
	assert.False(t, tab.Contains(e))

	assert.Panics(t, func() {
		tab.Insert(Entry{Import: e.Import, Export: "__export_c_f"})
	})

	assert.Panics(t, func() {
		tab.Insert(Entry{Import: l.Import, Export: l.Export})
	})
}

func TestLibcallByNameAndSymbol(t *testing.T) {
	strlen := &asm.Global{Name: "strlen", Func: true, Declaration: true, CallConv: asm.CallConvLibCall}

	byName := EntryFor(strlen, false)
	bySym := LibcallEntry("strlen")

	assert.Equal(t, bySym, byName, "a declaration has external linkage")

	tab := NewTable()

	assert.True(t, tab.Insert(byName))
	assert.False(t, tab.Insert(bySym))
	assert.Equal(t, []Entry{bySym}, tab.Entries())

	local := &asm.Global{Name: "helper", Func: true, CallConv: asm.CallConvLibCall}

	tab.Insert(EntryFor(local, false))
	tab.Insert(LibcallEntry("helper"))

	assert.Equal(t, 2, tab.Len())
	assert.Equal(t, LibcallEntry("helper"), tab.Entries()[0])
}
