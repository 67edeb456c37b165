// Package parse reads machine instructions in a compact textual form.
//
//	PseudoCLLC def ca0, @counter
//	addi def a1, a1, -16
//	PseudoLibraryCall &memcpy
//	auipcc def ct1, %cheriot_compartment_hi(&__import_beta_f)
//	PseudoVSPILL2_M1 v8, a0, a1 :: store 32
//
// Register operands may be prefixed by def, killed, dead and undef.
// @name is a global, &name an external symbol, %bb.N a block
// and %flag(operand) a relocation modifier.
package parse

import (
	"bytes"
	"strings"

	"tlog.app/go/errors"

	"github.com/slowlang/rvcheri/compiler/asm"
	"github.com/slowlang/rvcheri/compiler/asm/riscv"
)

type (
	Parser struct {
		Globals map[string]*asm.Global
	}
)

// ParseCode parses one instruction per line. Empty and comment lines are skipped.
func (p *Parser) ParseCode(text string) (code []asm.Instr, err error) {
	for n, line := range strings.Split(text, "\n") {
		b := []byte(line)

		t, _, err := nextToken(b, 0)
		if err != nil {
			return nil, errors.Wrap(err, "line %d", n+1)
		}

		if t == nil {
			continue
		}

		x, err := p.ParseInstr(b)
		if err != nil {
			return nil, errors.Wrap(err, "line %d: %s", n+1, bytes.TrimSpace(b))
		}

		code = append(code, x)
	}

	return code, nil
}

func (p *Parser) ParseInstr(b []byte) (x asm.Instr, err error) {
	t, i, err := nextToken(b, 0)
	if err != nil {
		return x, err
	}

	name, ok := t.(ident)
	if !ok {
		return x, errors.New("opcode expected, got %v", t)
	}

	x.Op, ok = riscv.ParseOpName(string(name))
	if !ok {
		return x, errors.New("unknown opcode: %s", name)
	}

	t, _, err = nextToken(b, i)
	if err != nil {
		return x, err
	}

	if t == nil {
		return x, nil
	}

	for {
		var op asm.Operand

		if t == punct(':') {
			i = skipSpaces(b, i) + 1
			break
		}

		op, i, err = p.parseOperand(b, i)
		if err != nil {
			return x, errors.Wrap(err, "operand %d", len(x.Ops))
		}

		x.Ops = append(x.Ops, op)

		t, i, err = nextToken(b, i)
		if err != nil {
			return x, err
		}

		if t == nil {
			return x, nil
		}

		if t == punct(':') {
			break
		}

		if t != punct(',') {
			return x, errors.New("comma expected after operand %d, got %v", len(x.Ops)-1, t)
		}

		t, _, err = nextToken(b, i)
		if err != nil {
			return x, err
		}
	}

	x.Mem, i, err = parseMem(b, i)
	if err != nil {
		return x, errors.Wrap(err, "mem")
	}

	if t, _, _ := nextToken(b, i); t != nil {
		return x, errors.New("unexpected %v at the end", t)
	}

	return x, nil
}

func (p *Parser) parseOperand(b []byte, st int) (op asm.Operand, i int, err error) {
	var reg asm.RegOp
	flags := false

	i = st

	for {
		var t token

		t, i, err = nextToken(b, i)
		if err != nil {
			return nil, st, err
		}

		switch t := t.(type) {
		case ident:
			switch t {
			case "def":
				reg.Def = true
				flags = true
				continue
			case "killed", "kill":
				reg.Kill = true
				flags = true
				continue
			case "dead":
				reg.Dead = true
				flags = true
				continue
			case "undef":
				reg.Undef = true
				flags = true
				continue
			}

			r, ok := riscv.ParseReg(string(t))
			if !ok {
				return nil, st, errors.New("unknown register: %s", t)
			}

			reg.Reg = r

			return reg, i, nil
		case number:
			if flags {
				break
			}

			return asm.Imm(t), i, nil
		case punct:
			if t != '-' || flags {
				break
			}

			var n token

			n, i, err = nextToken(b, i)
			if err != nil {
				return nil, st, err
			}

			v, ok := n.(number)
			if !ok {
				return nil, st, errors.New("number expected after minus")
			}

			return asm.Imm(-v), i, nil
		case global:
			if flags {
				break
			}

			g, ok := p.Globals[string(t)]
			if !ok {
				return nil, st, errors.New("undefined global: %s", t)
			}

			off, i, err := parseOffset(b, i)
			if err != nil {
				return nil, st, err
			}

			return asm.GlobalOp{Global: g, Offset: off}, i, nil
		case extsym:
			if flags {
				break
			}

			off, i, err := parseOffset(b, i)
			if err != nil {
				return nil, st, err
			}

			return asm.SymbolOp{Name: string(t), Offset: off}, i, nil
		case modifier:
			if flags {
				break
			}

			return p.parseModifier(b, i, string(t))
		}

		return nil, st, errors.New("operand expected, got %v", t)
	}
}

func (p *Parser) parseModifier(b []byte, st int, name string) (op asm.Operand, i int, err error) {
	if id, ok := strings.CutPrefix(name, "bb."); ok {
		var n token

		n, _, err = nextToken([]byte(id), 0)
		if v, ok := n.(number); err == nil && ok {
			return asm.BlockOp{Block: asm.BlockID(v)}, st, nil
		}

		return nil, st, errors.New("bad block reference: %%%s", name)
	}

	f, ok := riscv.ParseFlagName(name)
	if !ok {
		return nil, st, errors.New("unknown modifier: %%%s", name)
	}

	t, i, err := nextToken(b, st)
	if err != nil {
		return nil, st, err
	}

	if t != punct('(') {
		return nil, st, errors.New("( expected after %%%s", name)
	}

	op, i, err = p.parseOperand(b, i)
	if err != nil {
		return nil, st, err
	}

	t, i, err = nextToken(b, i)
	if err != nil {
		return nil, st, err
	}

	if t != punct(')') {
		return nil, st, errors.New(") expected after %%%s operand", name)
	}

	switch op := op.(type) {
	case asm.GlobalOp:
		op.Flags = f
		return op, i, nil
	case asm.SymbolOp:
		op.Flags = f
		return op, i, nil
	case asm.BlockOp:
		op.Flags = f
		return op, i, nil
	}

	return nil, st, errors.New("%%%s applied to %T", name, op)
}

func parseOffset(b []byte, st int) (off int64, i int, err error) {
	t, i, err := nextToken(b, st)
	if err != nil {
		return 0, st, err
	}

	sign := int64(1)

	switch t {
	case punct('+'):
	case punct('-'):
		sign = -1
	default:
		return 0, st, nil
	}

	t, i, err = nextToken(b, i)
	if err != nil {
		return 0, st, err
	}

	n, ok := t.(number)
	if !ok {
		return 0, st, errors.New("offset expected")
	}

	return sign * int64(n), i, nil
}

// parseMem parses the ":: load N" or ":: store N" suffix. st points right after the first colon.
func parseMem(b []byte, st int) (mem []asm.MemRef, i int, err error) {
	t, i, err := nextToken(b, st)
	if err != nil || t == nil {
		return nil, st, err
	}

	if t != punct(':') {
		return nil, st, errors.New(":: expected")
	}

	for {
		var m asm.MemRef

		t, i, err = nextToken(b, i)
		if err != nil {
			return nil, st, err
		}

		switch t {
		case ident("load"):
			m.Load = true
		case ident("store"):
			m.Store = true
		default:
			return nil, st, errors.New("load or store expected, got %v", t)
		}

		t, i, err = nextToken(b, i)
		if err != nil {
			return nil, st, err
		}

		n, ok := t.(number)
		if !ok {
			return nil, st, errors.New("size expected")
		}

		m.Size = int64(n)
		mem = append(mem, m)

		t, j, err := nextToken(b, i)
		if err != nil {
			return nil, st, err
		}

		if t != punct(',') {
			return mem, i, nil
		}

		i = j
	}
}
