package parse

import (
	"tlog.app/go/errors"

	"github.com/slowlang/rvcheri/compiler/mc"
)

// ParseExpr parses a data expression: integers and symbol names joined by + and -.
//
//	counter+8
//	end - start
//	-16
//
// A name may be written bare or with the @ and & prefixes.
// sym resolves names into symbols.
func ParseExpr(s string, sym func(name string) *mc.Symbol) (e mc.Expr, err error) {
	b := []byte(s)
	op := punct('+')

	t, i, err := nextToken(b, 0)
	if err != nil {
		return nil, err
	}

	if t == punct('-') {
		op = '-'

		t, i, err = nextToken(b, i)
		if err != nil {
			return nil, err
		}
	}

	for {
		var x mc.Expr

		switch t := t.(type) {
		case number:
			x = mc.Const(t)
		case ident:
			x = mc.Ref(sym(string(t)))
		case global:
			x = mc.Ref(sym(string(t)))
		case extsym:
			x = mc.Ref(sym(string(t)))
		case nil:
			return nil, errors.New("operand expected at %d", i)
		default:
			return nil, errors.New("unexpected token at %d: %v", i, t)
		}

		switch {
		case e == nil && op == '-':
			e = mc.Sub(mc.Const(0), x)
		case e == nil:
			e = x
		case op == '-':
			e = mc.Sub(e, x)
		default:
			e = mc.Add(e, x)
		}

		t, i, err = nextToken(b, i)
		if err != nil {
			return nil, err
		}

		if t == nil {
			return e, nil
		}

		p, ok := t.(punct)
		if !ok || p != '+' && p != '-' {
			return nil, errors.New("+ or - expected at %d, got %v", i, t)
		}

		op = p

		t, i, err = nextToken(b, i)
		if err != nil {
			return nil, err
		}
	}
}
