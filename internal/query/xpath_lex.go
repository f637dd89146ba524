package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenKind classifies an XPath token.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokLiteral
	// tokName is a name test, function name, axis name or node type:
	// NCName, prefix:local, prefix:* or *.
	tokName
	tokVariable
	// tokOperator covers / // | + - = != < <= > >= and the operator
	// readings of * and, or, mod, div.
	tokOperator
	// tokPunct covers ( ) [ ] . .. @ , ::
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

// lexXPath splits an expression into tokens. Every step consumes at least
// one byte or fails.
func lexXPath(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			i++
			continue
		}

		start := i
		emit := func(kind tokenKind, text string) {
			toks = append(toks, token{kind: kind, text: text, pos: start})
		}

		switch {
		case c == '\'' || c == '"':
			end := strings.IndexByte(expr[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated literal at offset %d", ErrMalformedXPath, i)
			}
			emit(tokLiteral, expr[i+1:i+1+end])
			i += end + 2

		case isDigit(c) || (c == '.' && i+1 < len(expr) && isDigit(expr[i+1])):
			for i < len(expr) && isDigit(expr[i]) {
				i++
			}
			if i < len(expr) && expr[i] == '.' {
				i++
				for i < len(expr) && isDigit(expr[i]) {
					i++
				}
			}
			num, err := strconv.ParseFloat(expr[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number at offset %d", ErrMalformedXPath, start)
			}
			toks = append(toks, token{kind: tokNumber, text: expr[start:i], num: num, pos: start})

		case c == '.':
			if strings.HasPrefix(expr[i:], "..") {
				emit(tokPunct, "..")
				i += 2
			} else {
				emit(tokPunct, ".")
				i++
			}

		case c == '(' || c == ')' || c == '[' || c == ']' || c == '@' || c == ',':
			emit(tokPunct, string(c))
			i++

		case c == ':':
			if !strings.HasPrefix(expr[i:], "::") {
				return nil, fmt.Errorf("%w: unexpected ':' at offset %d", ErrMalformedXPath, i)
			}
			emit(tokPunct, "::")
			i += 2

		case c == '/':
			if strings.HasPrefix(expr[i:], "//") {
				emit(tokOperator, "//")
				i += 2
			} else {
				emit(tokOperator, "/")
				i++
			}

		case c == '|' || c == '+' || c == '-' || c == '=':
			emit(tokOperator, string(c))
			i++

		case c == '!' || c == '<' || c == '>':
			if strings.HasPrefix(expr[i+1:], "=") {
				emit(tokOperator, expr[i:i+2])
				i += 2
			} else if c == '!' {
				return nil, fmt.Errorf("%w: unexpected '!' at offset %d", ErrMalformedXPath, i)
			} else {
				emit(tokOperator, string(c))
				i++
			}

		case c == '$':
			name, n := scanNCName(expr[i+1:])
			if n == 0 {
				return nil, fmt.Errorf("%w: bad variable name at offset %d", ErrMalformedXPath, i)
			}
			emit(tokVariable, name)
			i += 1 + n

		case c == '*':
			if operatorContext(toks) {
				emit(tokOperator, "*")
			} else {
				emit(tokName, "*")
			}
			i++

		default:
			name, n := scanNCName(expr[i:])
			if n == 0 {
				r, _ := utf8.DecodeRuneInString(expr[i:])
				return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformedXPath, r, i)
			}
			i += n

			if operatorContext(toks) {
				switch name {
				case "and", "or", "mod", "div":
					emit(tokOperator, name)
					continue
				}
				return nil, fmt.Errorf("%w: expected an operator at offset %d, got %q", ErrMalformedXPath, start, name)
			}

			// prefix:local or prefix:*, but not an axis separator.
			if i+1 < len(expr) && expr[i] == ':' && expr[i+1] != ':' {
				if expr[i+1] == '*' {
					name += ":*"
					i += 2
				} else if local, m := scanNCName(expr[i+1:]); m > 0 {
					name += ":" + local
					i += 1 + m
				}
			}
			emit(tokName, name)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(expr)})
	return toks, nil
}

// operatorContext reports whether the next * or name must be read as an
// operator: there is a preceding token and it is not @, ::, (, [, a comma
// or an operator.
func operatorContext(toks []token) bool {
	if len(toks) == 0 {
		return false
	}
	prev := toks[len(toks)-1]
	switch {
	case prev.kind == tokOperator:
		return false
	case prev.kind == tokPunct:
		switch prev.text {
		case "@", "::", "(", "[", ",":
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// scanNCName returns the NCName at the start of s and its length in bytes.
func scanNCName(s string) (string, int) {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		ok := r == '_' || unicode.IsLetter(r)
		if n > 0 {
			ok = ok || r == '-' || r == '.' || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
		}
		if !ok {
			break
		}
		n += size
	}
	return s[:n], n
}
