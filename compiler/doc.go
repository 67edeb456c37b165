/*
Package compiler runs the late stages of the CHERI RISC-V backend
over a module description.

	Module description (yaml) ->
		load ->
	Register allocated functions (asm) ->
		expand ->
	Target instructions + import table ->
		format -> Assembly text
		elf    -> Object (sections, relocations, header flags)
*/
package compiler
