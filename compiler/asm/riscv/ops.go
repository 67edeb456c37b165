package riscv

import (
	"fmt"

	"github.com/slowlang/rvcheri/compiler/asm"
)

// Concrete instructions.
const (
	_ asm.Opcode = iota

	ADD
	ADDI
	LW
	LD
	SW
	SD
	AUIPC
	JAL
	JALR
	BEQ
	BNE
	RET

	AUIPCC
	AUICGP
	CIncOffsetImm
	CSetBoundsImm
	CMove
	CLC_64
	CLC_128
	CLW
	CLD
	C_CJALR
	PseudoCCALL // direct call, lowered by the instruction printer

	VSETVLI
	VSETIVLI
	VMXOR_MM
	VMXNOR_MM
	VS1R_V
	VS2R_V
	VS4R_V
	VL1RE8_V
	VL2RE8_V
	VL4RE8_V
)

// Pseudo instructions.
const (
	PseudoLLA asm.Opcode = 100 + iota
	PseudoLA
	PseudoLA_TLS_IE
	PseudoLA_TLS_GD
	PseudoCLLC
	PseudoCLLCInbounds
	PseudoCLGC
	PseudoCLA_TLS_IE
	PseudoCLC_TLS_GD
	PseudoVSETVLI
	PseudoVSETIVLI
	PseudoCompartmentCall
	PseudoLibraryCall
)

// Mask pseudos come in one flavour per mask element width: B1..B64.
const (
	PseudoVMCLR_M_B1 asm.Opcode = 200 + iota
	PseudoVMCLR_M_B2
	PseudoVMCLR_M_B4
	PseudoVMCLR_M_B8
	PseudoVMCLR_M_B16
	PseudoVMCLR_M_B32
	PseudoVMCLR_M_B64

	PseudoVMSET_M_B1
	PseudoVMSET_M_B2
	PseudoVMSET_M_B4
	PseudoVMSET_M_B8
	PseudoVMSET_M_B16
	PseudoVMSET_M_B32
	PseudoVMSET_M_B64
)

// Segment spill and reload pseudos encode {fields, lmul} in the opcode.
const (
	pseudoVSPILL   asm.Opcode = 300
	pseudoVRELOAD  asm.Opcode = 400
	segFamilyWidth            = 100
)

const (
	PseudoVSPILL2_M1 = pseudoVSPILL + 2*8 + 1
	PseudoVSPILL2_M2 = pseudoVSPILL + 2*8 + 2
	PseudoVSPILL2_M4 = pseudoVSPILL + 2*8 + 4
	PseudoVSPILL3_M1 = pseudoVSPILL + 3*8 + 1
	PseudoVSPILL3_M2 = pseudoVSPILL + 3*8 + 2
	PseudoVSPILL4_M1 = pseudoVSPILL + 4*8 + 1
	PseudoVSPILL4_M2 = pseudoVSPILL + 4*8 + 2
	PseudoVSPILL5_M1 = pseudoVSPILL + 5*8 + 1
	PseudoVSPILL6_M1 = pseudoVSPILL + 6*8 + 1
	PseudoVSPILL7_M1 = pseudoVSPILL + 7*8 + 1
	PseudoVSPILL8_M1 = pseudoVSPILL + 8*8 + 1

	PseudoVRELOAD2_M1 = pseudoVRELOAD + 2*8 + 1
	PseudoVRELOAD2_M2 = pseudoVRELOAD + 2*8 + 2
	PseudoVRELOAD2_M4 = pseudoVRELOAD + 2*8 + 4
	PseudoVRELOAD3_M1 = pseudoVRELOAD + 3*8 + 1
	PseudoVRELOAD3_M2 = pseudoVRELOAD + 3*8 + 2
	PseudoVRELOAD4_M1 = pseudoVRELOAD + 4*8 + 1
	PseudoVRELOAD4_M2 = pseudoVRELOAD + 4*8 + 2
	PseudoVRELOAD5_M1 = pseudoVRELOAD + 5*8 + 1
	PseudoVRELOAD6_M1 = pseudoVRELOAD + 6*8 + 1
	PseudoVRELOAD7_M1 = pseudoVRELOAD + 7*8 + 1
	PseudoVRELOAD8_M1 = pseudoVRELOAD + 8*8 + 1
)

// Operand target flags.
const (
	MoNone asm.TargetFlags = iota
	MoCall
	MoPCRelHi
	MoPCRelLo
	MoGotHi
	MoTLSGotHi
	MoTLSGDHi
	MoCapTabPCRelHi
	MoTLSIECapTabPCRelHi
	MoTLSGDCapTabPCRelHi
	MoCheriotCompartmentHi
	MoCheriotCompartmentLoI
	MoCheriotCompartmentSize
)

var opNames = map[asm.Opcode]string{
	ADD:           "add",
	ADDI:          "addi",
	LW:            "lw",
	LD:            "ld",
	SW:            "sw",
	SD:            "sd",
	AUIPC:         "auipc",
	JAL:           "jal",
	JALR:          "jalr",
	BEQ:           "beq",
	BNE:           "bne",
	RET:           "ret",
	AUIPCC:        "auipcc",
	AUICGP:        "auicgp",
	CIncOffsetImm: "cincoffset",
	CSetBoundsImm: "csetbounds",
	CMove:         "cmove",
	CLC_64:        "clc",
	CLC_128:       "clc",
	CLW:           "clw",
	CLD:           "cld",
	C_CJALR:       "c.cjalr",
	PseudoCCALL:   "ccall",
	VSETVLI:       "vsetvli",
	VSETIVLI:      "vsetivli",
	VMXOR_MM:      "vmxor.mm",
	VMXNOR_MM:     "vmxnor.mm",
	VS1R_V:        "vs1r.v",
	VS2R_V:        "vs2r.v",
	VS4R_V:        "vs4r.v",
	VL1RE8_V:      "vl1re8.v",
	VL2RE8_V:      "vl2re8.v",
	VL4RE8_V:      "vl4re8.v",

	PseudoLLA:             "PseudoLLA",
	PseudoLA:              "PseudoLA",
	PseudoLA_TLS_IE:       "PseudoLA_TLS_IE",
	PseudoLA_TLS_GD:       "PseudoLA_TLS_GD",
	PseudoCLLC:            "PseudoCLLC",
	PseudoCLLCInbounds:    "PseudoCLLCInbounds",
	PseudoCLGC:            "PseudoCLGC",
	PseudoCLA_TLS_IE:      "PseudoCLA_TLS_IE",
	PseudoCLC_TLS_GD:      "PseudoCLC_TLS_GD",
	PseudoVSETVLI:         "PseudoVSETVLI",
	PseudoVSETIVLI:        "PseudoVSETIVLI",
	PseudoCompartmentCall: "PseudoCompartmentCall",
	PseudoLibraryCall:     "PseudoLibraryCall",
}

var flagNames = map[asm.TargetFlags]string{
	MoCall:                   "call",
	MoPCRelHi:                "pcrel_hi",
	MoPCRelLo:                "pcrel_lo",
	MoGotHi:                  "got_pcrel_hi",
	MoTLSGotHi:               "tls_ie_pcrel_hi",
	MoTLSGDHi:                "tls_gd_pcrel_hi",
	MoCapTabPCRelHi:          "captab_pcrel_hi",
	MoTLSIECapTabPCRelHi:     "tls_ie_captab_pcrel_hi",
	MoTLSGDCapTabPCRelHi:     "tls_gd_captab_pcrel_hi",
	MoCheriotCompartmentHi:   "cheriot_compartment_hi",
	MoCheriotCompartmentLoI:  "cheriot_compartment_lo_i",
	MoCheriotCompartmentSize: "cheriot_compartment_size",
}

var maskWidths = [7]int{1, 2, 4, 8, 16, 32, 64}

func OpName(op asm.Opcode) string {
	if n, ok := opNames[op]; ok {
		return n
	}

	switch {
	case op >= PseudoVMCLR_M_B1 && op <= PseudoVMCLR_M_B64:
		return fmt.Sprintf("PseudoVMCLR_M_B%d", maskWidths[op-PseudoVMCLR_M_B1])
	case op >= PseudoVMSET_M_B1 && op <= PseudoVMSET_M_B64:
		return fmt.Sprintf("PseudoVMSET_M_B%d", maskWidths[op-PseudoVMSET_M_B1])
	}

	if nf, lmul, ok := VSpillSegments(op); ok {
		return fmt.Sprintf("PseudoVSPILL%d_M%d", nf, lmul)
	}

	if nf, lmul, ok := VReloadSegments(op); ok {
		return fmt.Sprintf("PseudoVRELOAD%d_M%d", nf, lmul)
	}

	return fmt.Sprintf("op%d", int(op))
}

// ParseOpName is the inverse of OpName for every opcode it can name.
func ParseOpName(s string) (asm.Opcode, bool) {
	for op, n := range opNames {
		if n == s && op != CLC_128 {
			return op, true
		}
	}

	for op := PseudoVMCLR_M_B1; op <= PseudoVMSET_M_B64; op++ {
		if OpName(op) == s {
			return op, true
		}
	}

	var nf, lmul int

	if _, err := fmt.Sscanf(s, "PseudoVSPILL%d_M%d", &nf, &lmul); err == nil {
		return VSpillOp(nf, lmul), true
	}

	if _, err := fmt.Sscanf(s, "PseudoVRELOAD%d_M%d", &nf, &lmul); err == nil {
		return VReloadOp(nf, lmul), true
	}

	return 0, false
}

func FlagName(f asm.TargetFlags) string {
	return flagNames[f]
}

func ParseFlagName(s string) (asm.TargetFlags, bool) {
	for f, n := range flagNames {
		if n == s {
			return f, true
		}
	}

	return MoNone, false
}

// IsPseudo reports whether op must not survive expansion.
func IsPseudo(op asm.Opcode) bool {
	return op >= PseudoLLA && op <= PseudoLibraryCall ||
		op >= PseudoVMCLR_M_B1 && op <= PseudoVMSET_M_B64 ||
		op >= pseudoVSPILL && op < pseudoVRELOAD+segFamilyWidth
}

// VSpillOp builds the segment spill pseudo opcode. It does not validate the combination.
func VSpillOp(nf, lmul int) asm.Opcode {
	return pseudoVSPILL + asm.Opcode(nf*8+lmul)
}

func VReloadOp(nf, lmul int) asm.Opcode {
	return pseudoVRELOAD + asm.Opcode(nf*8+lmul)
}

// VSpillSegments decodes the number of fields and register group width of a spill pseudo.
func VSpillSegments(op asm.Opcode) (nf, lmul int, ok bool) {
	return segments(op, pseudoVSPILL)
}

func VReloadSegments(op asm.Opcode) (nf, lmul int, ok bool) {
	return segments(op, pseudoVRELOAD)
}

func segments(op, base asm.Opcode) (nf, lmul int, ok bool) {
	if op < base+8 || op >= base+segFamilyWidth {
		return 0, 0, false
	}

	d := int(op - base)

	return d / 8, d % 8, d%8 != 0
}
