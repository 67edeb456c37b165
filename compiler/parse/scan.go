package parse

import (
	"strconv"

	"tlog.app/go/errors"
)

type (
	token any

	punct    byte
	ident    string
	number   int64
	global   string
	extsym   string
	modifier string
)

// token scans the next token of a single line. It returns nil at the end
// of the line or at a comment.
func nextToken(b []byte, st int) (t token, i int, err error) {
	st = skipSpaces(b, st)
	i = st

	if i == len(b) {
		return nil, i, nil
	}

	switch c := b[i]; {
	case c == '#' || c == ';':
		return nil, len(b), nil
	case c == '/' && i+1 < len(b) && b[i+1] == '/':
		return nil, len(b), nil
	case c == ',' || c == '(' || c == ')' || c == '+' || c == '-' || c == ':':
		return punct(c), i + 1, nil
	case c == '@' || c == '&' || c == '%':
		i = skipIdent(b, i+1)
		if i == st+1 {
			return nil, st, errors.New("name expected after %q", c)
		}

		name := string(b[st+1 : i])

		switch c {
		case '@':
			return global(name), i, nil
		case '&':
			return extsym(name), i, nil
		default:
			return modifier(name), i, nil
		}
	case c >= '0' && c <= '9':
		i = skipIdent(b, i+1)

		x, err := strconv.ParseInt(string(b[st:i]), 0, 64)
		if err != nil {
			return nil, st, errors.Wrap(err, "number")
		}

		return number(x), i, nil
	case isIdentStart(c):
		i = skipIdent(b, i+1)

		return ident(b[st:i]), i, nil
	}

	return nil, i, errors.New("unsupported token: %q", b[i])
}

func isIdentStart(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '_' || c == '.' || c == '$'
}

func skipSpaces(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\r') {
		i++
	}

	return i
}

func skipIdent(b []byte, i int) int {
	for i < len(b) && (isIdentStart(b[i]) || b[i] >= '0' && b[i] <= '9') {
		i++
	}

	return i
}
