package target

import (
	"context"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/rvcheri/compiler/set"
)

type (
	ABI     int
	Feature int

	Features = set.Bits[Feature]

	// Info answers the target queries the backend needs.
	Info struct {
		ABI      ABI
		Features Features
		PIC      bool
	}
)

const (
	ABIUnknown ABI = iota
	ABIILP32
	ABIILP32F
	ABIILP32D
	ABIILP32E
	ABILP64
	ABILP64F
	ABILP64D
	ABILP64E
	ABIIL32PC64
	ABIIL32PC64F
	ABIIL32PC64D
	ABIIL32PC64E
	ABIL64PC128
	ABIL64PC128F
	ABIL64PC128D
	ABICHERIoT
	ABICHERIoTBareMetal
)

const (
	Feature64Bit Feature = iota
	FeatureStdExtM
	FeatureStdExtA
	FeatureStdExtF
	FeatureStdExtD
	FeatureStdExtC
	FeatureStdExtE
	FeatureStdExtV
	FeatureStdExtZtso
	FeatureCheri
	FeatureCapMode
	FeatureRelax
)

var abiNames = map[ABI]string{
	ABIILP32:            "ilp32",
	ABIILP32F:           "ilp32f",
	ABIILP32D:           "ilp32d",
	ABIILP32E:           "ilp32e",
	ABILP64:             "lp64",
	ABILP64F:            "lp64f",
	ABILP64D:            "lp64d",
	ABILP64E:            "lp64e",
	ABIIL32PC64:         "il32pc64",
	ABIIL32PC64F:        "il32pc64f",
	ABIIL32PC64D:        "il32pc64d",
	ABIIL32PC64E:        "il32pc64e",
	ABIL64PC128:         "l64pc128",
	ABIL64PC128F:        "l64pc128f",
	ABIL64PC128D:        "l64pc128d",
	ABICHERIoT:          "cheriot",
	ABICHERIoTBareMetal: "cheriot-baremetal",
}

var featureNames = map[Feature]string{
	Feature64Bit:      "64bit",
	FeatureStdExtM:    "m",
	FeatureStdExtA:    "a",
	FeatureStdExtF:    "f",
	FeatureStdExtD:    "d",
	FeatureStdExtC:    "c",
	FeatureStdExtE:    "e",
	FeatureStdExtV:    "v",
	FeatureStdExtZtso: "ztso",
	FeatureCheri:      "xcheri",
	FeatureCapMode:    "cap-mode",
	FeatureRelax:      "relax",
}

func (a ABI) String() string {
	if n, ok := abiNames[a]; ok {
		return n
	}

	return "unknown"
}

func ParseABI(name string) (ABI, error) {
	for a, n := range abiNames {
		if n == name {
			return a, nil
		}
	}

	return ABIUnknown, errors.New("unknown abi: %q", name)
}

func (f Feature) String() string {
	if n, ok := featureNames[f]; ok {
		return n
	}

	return "unknown"
}

func ParseFeature(name string) (Feature, error) {
	for f, n := range featureNames {
		if n == name {
			return f, nil
		}
	}

	return 0, errors.New("unknown feature: %q", name)
}

// ParseFeatures parses a comma separated feature list like "64bit,c,xcheri".
func ParseFeatures(list string) (fs Features, err error) {
	for _, n := range strings.Split(list, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}

		f, err := ParseFeature(n)
		if err != nil {
			return fs, err
		}

		fs.Set(f)
	}

	return fs, nil
}

func (a ABI) Is64Bit() bool {
	switch a {
	case ABILP64, ABILP64F, ABILP64D, ABILP64E, ABIL64PC128, ABIL64PC128F, ABIL64PC128D:
		return true
	}

	return false
}

// IsCap reports whether pointers are capabilities under the ABI.
func (a ABI) IsCap() bool {
	switch a {
	case ABIIL32PC64, ABIIL32PC64F, ABIIL32PC64D, ABIIL32PC64E,
		ABIL64PC128, ABIL64PC128F, ABIL64PC128D,
		ABICHERIoT, ABICHERIoTBareMetal:
		return true
	}

	return false
}

// IsCHERIoT reports whether the ABI is the compartmentalized one.
func (a ABI) IsCHERIoT() bool {
	return a == ABICHERIoT || a == ABICHERIoTBareMetal
}

func (t *Info) Is64Bit() bool { return t.Features.IsSet(Feature64Bit) }
func (t *Info) IsRV32E() bool { return !t.Is64Bit() && t.Features.IsSet(FeatureStdExtE) }
func (t *Info) Has(f Feature) bool { return t.Features.IsSet(f) }

// XLen is the integer register width in bytes.
func (t *Info) XLen() int {
	if t.Is64Bit() {
		return 8
	}

	return 4
}

// CapSize is the in-memory size of a capability in bytes.
func (t *Info) CapSize() int {
	return 2 * t.XLen()
}

// ComputeABI resolves the ABI from an optional explicit name and the feature set.
// An explicit name that does not fit the target is ignored with a warning.
func ComputeABI(ctx context.Context, fs Features, name string) (ABI, error) {
	is64 := fs.IsSet(Feature64Bit)

	if name != "" {
		a, err := ParseABI(name)
		if err != nil {
			return ABIUnknown, errors.Wrap(err, "target abi")
		}

		switch {
		case a.Is64Bit() != is64:
			tlog.SpanFromContext(ctx).Printw("abi does not match target word size (ignoring target-abi)", "abi", a, "64bit", is64)
		case a.IsCap() && !fs.IsSet(FeatureCheri):
			tlog.SpanFromContext(ctx).Printw("capability abi requires xcheri (ignoring target-abi)", "abi", a)
		case a == ABIILP32E || a == ABIIL32PC64E || a.IsCHERIoT():
			if !fs.IsSet(FeatureStdExtE) {
				tlog.SpanFromContext(ctx).Printw("abi requires the e extension (ignoring target-abi)", "abi", a)
				break
			}

			return a, nil
		default:
			return a, nil
		}
	}

	return defaultABI(fs), nil
}

func defaultABI(fs Features) ABI {
	capMode := fs.IsSet(FeatureCapMode)

	if fs.IsSet(Feature64Bit) {
		switch {
		case capMode && fs.IsSet(FeatureStdExtD):
			return ABIL64PC128D
		case capMode:
			return ABIL64PC128
		case fs.IsSet(FeatureStdExtD):
			return ABILP64D
		case fs.IsSet(FeatureStdExtE):
			return ABILP64E
		}

		return ABILP64
	}

	switch {
	case capMode && fs.IsSet(FeatureStdExtE):
		return ABIIL32PC64E
	case capMode && fs.IsSet(FeatureStdExtD):
		return ABIIL32PC64D
	case capMode:
		return ABIIL32PC64
	case fs.IsSet(FeatureStdExtE):
		return ABIILP32E
	case fs.IsSet(FeatureStdExtD):
		return ABIILP32D
	}

	return ABIILP32
}
