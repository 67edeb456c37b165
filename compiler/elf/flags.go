package elf

import (
	"fmt"

	"tlog.app/go/errors"

	"github.com/slowlang/rvcheri/compiler/target"
)

// ELF header flags.
const (
	EFRISCVRVC             uint32 = 0x0001
	EFRISCVFloatABISoft    uint32 = 0x0000
	EFRISCVFloatABISingle  uint32 = 0x0002
	EFRISCVFloatABIDouble  uint32 = 0x0004
	EFRISCVFloatABIQuad    uint32 = 0x0006
	EFRISCVRVE             uint32 = 0x0008
	EFRISCVTSO             uint32 = 0x0010
	EFRISCVCHERIABI        uint32 = 0x10000
	EFRISCVCapMode         uint32 = 0x20000
	STORISCVVariantCC      uint8  = 0x80
	efRISCVFloatABIMask    uint32 = EFRISCVFloatABIQuad
)

// HeaderFlags combines feature bits and ABI bits into the ELF header flags word.
func HeaderFlags(base uint32, t *target.Info) (uint32, error) {
	f := base

	if t.Has(target.FeatureStdExtC) {
		f |= EFRISCVRVC
	}

	if t.Has(target.FeatureStdExtZtso) {
		f |= EFRISCVTSO
	}

	if t.Has(target.FeatureCapMode) {
		f |= EFRISCVCapMode
	}

	switch t.ABI {
	case target.ABIILP32, target.ABILP64:
	case target.ABIIL32PC64, target.ABIL64PC128, target.ABICHERIoT, target.ABICHERIoTBareMetal:
		f |= EFRISCVCHERIABI
	case target.ABIILP32F, target.ABILP64F:
		f |= EFRISCVFloatABISingle
	case target.ABIIL32PC64F, target.ABIL64PC128F:
		f |= EFRISCVFloatABISingle
		f |= EFRISCVCHERIABI
	case target.ABIILP32D, target.ABILP64D:
		f |= EFRISCVFloatABIDouble
	case target.ABIIL32PC64D, target.ABIL64PC128D:
		f |= EFRISCVFloatABIDouble
		f |= EFRISCVCHERIABI
	case target.ABIILP32E, target.ABILP64E:
		f |= EFRISCVRVE
	case target.ABIIL32PC64E:
		f |= EFRISCVRVE
		f |= EFRISCVCHERIABI
	case target.ABIUnknown:
		return 0, errors.New("improperly initialised target abi")
	default:
		panic(fmt.Sprintf("unhandled abi %d", int(t.ABI)))
	}

	return f, nil
}

// DescribeFlags renders the flags word for dumps.
func DescribeFlags(f uint32) (r []string) {
	if f&EFRISCVRVC != 0 {
		r = append(r, "rvc")
	}

	switch f & efRISCVFloatABIMask {
	case EFRISCVFloatABISingle:
		r = append(r, "single-float")
	case EFRISCVFloatABIDouble:
		r = append(r, "double-float")
	case EFRISCVFloatABIQuad:
		r = append(r, "quad-float")
	default:
		r = append(r, "soft-float")
	}

	if f&EFRISCVRVE != 0 {
		r = append(r, "rve")
	}

	if f&EFRISCVTSO != 0 {
		r = append(r, "tso")
	}

	if f&EFRISCVCHERIABI != 0 {
		r = append(r, "cheriabi")
	}

	if f&EFRISCVCapMode != 0 {
		r = append(r, "cap-mode")
	}

	return r
}
