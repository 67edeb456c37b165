// Package cheriot holds the compartmentalization model shared by
// the expansion pass and the object emitter.
package cheriot

import (
	"github.com/slowlang/rvcheri/compiler/asm"
)

const (
	// LibcallsCompartment is the compartment name used for library imports.
	LibcallsCompartment = "libcalls"

	// Switcher is the external symbol of the compartment switcher entry.
	Switcher = ".compartment_switcher"

	// ImportsSection holds the import table.
	ImportsSection = ".compartment_imports"
)

// TableName builds the deterministic import or export table symbol name.
func TableName(compartment, fn string, cc asm.CallConv, isImport bool) string {
	n := "__"

	if cc == asm.CallConvLibCall {
		n += "library_"
	}

	if isImport {
		n += "import_"
	} else {
		n += "export_"
	}

	return n + compartment + "_" + fn
}

// EntryFor builds the import table entry used to reach fn.
// treatAsLibrary is set when fn is exported from a compartment
// but this call site has to reach it as a library call.
func EntryFor(fn *asm.Global, treatAsLibrary bool) Entry {
	isLibrary := fn.CallConv == asm.CallConvLibCall

	comp := fn.Compartment
	if isLibrary {
		comp = LibcallsCompartment
	}

	importCC := fn.CallConv
	if treatAsLibrary {
		importCC = asm.CallConvLibCall
	}

	return Entry{
		Import:  TableName(comp, fn.Name, importCC, true),
		Export:  TableName(comp, fn.Name, fn.CallConv, false),
		Library: isLibrary || treatAsLibrary,
		Public:  fn.External || fn.Declaration,
	}
}

// LibcallEntry builds the entry for a runtime symbol with no function metadata.
func LibcallEntry(sym string) Entry {
	return Entry{
		Import:  TableName(LibcallsCompartment, sym, asm.CallConvLibCall, true),
		Export:  TableName(LibcallsCompartment, sym, asm.CallConvLibCall, false),
		Library: true,
		Public:  true,
	}
}

// SameCompartment reports whether both functions declare the same compartment.
func SameCompartment(caller, callee *asm.Global) bool {
	return caller != nil && callee != nil &&
		caller.Compartment != "" && caller.Compartment == callee.Compartment
}

// InterruptsCompatible reports whether calling callee directly from caller
// keeps the interrupt state callee expects.
func InterruptsCompatible(caller, callee *asm.Global) bool {
	return callee.Interrupts == asm.InterruptsInherit || callee.Interrupts == caller.Interrupts
}

// SafeToDirectCall reports whether a call from caller to callee may skip the import table.
//
// Interrupt status must be compatible, and the callee must not be a
// cheri_ccall entry point, which expects its state set up by the switcher.
func SafeToDirectCall(caller, callee *asm.Global) bool {
	return InterruptsCompatible(caller, callee) && callee.CallConv != asm.CallConvCCall
}

// NeedsImportForAddress reports whether taking the address of function fn
// has to go through its import table entry.
func NeedsImportForAddress(fn *asm.Global) bool {
	return fn.Interrupts != asm.InterruptsInherit ||
		fn.CallConv == asm.CallConvCCall ||
		fn.CallConv == asm.CallConvCCallee
}
