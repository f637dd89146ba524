package script

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultDelimiter wraps XPath queries unless WithDelimiter says otherwise.
const DefaultDelimiter = '`'

// discardQuery replaces every unescaped '!' in a CSS query. It matches no
// element, so a bare "!" ends a branch.
const discardQuery = ":not(*)"

// Option configures Parse.
type Option func(*parser)

// WithDelimiter sets the rune that opens and closes XPath queries.
// Inside a query, a backslash followed by the delimiter is a literal delimiter.
func WithDelimiter(delim rune) Option {
	return func(p *parser) {
		p.delim = delim
	}
}

// ValidDelimiter reports whether delim can wrap XPath queries. Structural
// tokens, the backslash escape and whitespace are rejected.
func ValidDelimiter(delim rune) bool {
	if delim == utf8.RuneError || unicode.IsSpace(delim) {
		return false
	}
	return !strings.ContainsRune("{};->!\\", delim)
}

// Parse parses a script into a block command holding its top-level commands.
//
// Grammar:
//
//	script   := commands              (at least one command)
//	commands := command*
//	command  := block | collect | follow | select
//	block    := '{' commands '}'
//	collect  := ';'
//	follow   := '->'
//	select   := DELIM raw DELIM       (XPath)
//	          | css-run               (CSS)
//
// A css-run extends up to the next '->', '{', '}', ';' or delimiter and is
// trimmed of surrounding whitespace. Whitespace between commands is ignored.
func Parse(src string, opts ...Option) (Command, error) {
	p := &parser{src: src, delim: DefaultDelimiter}
	for _, opt := range opts {
		opt(p)
	}
	if !ValidDelimiter(p.delim) {
		return Command{}, ErrInvalidDelimiter
	}

	cmds, err := p.parseCommands(0)
	if err != nil {
		return Command{}, err
	}
	if len(cmds) == 0 {
		return Command{}, p.errorAt(0, "script contains no commands", ErrEmptyScript)
	}
	return Block(cmds...), nil
}

// MustParse is like Parse but panics on error. It is meant for tests and
// scripts embedded in source.
func MustParse(src string, opts ...Option) Command {
	cmd, err := Parse(src, opts...)
	if err != nil {
		panic(err)
	}
	return cmd
}

type parser struct {
	src   string
	pos   int
	delim rune
}

func (p *parser) parseCommands(depth int) ([]Command, error) {
	cmds := make([]Command, 0)
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return cmds, nil
		}

		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		switch {
		case r == '{':
			open := p.pos
			p.pos += size
			nested, err := p.parseCommands(depth + 1)
			if err != nil {
				return nil, err
			}
			if p.pos >= len(p.src) {
				return nil, p.errorAt(open, "block is never closed", nil)
			}
			p.pos++ // '}'
			cmds = append(cmds, Block(nested...))
		case r == '}':
			if depth == 0 {
				return nil, p.errorAt(p.pos, "unexpected '}'", nil)
			}
			return cmds, nil
		case r == ';':
			p.pos += size
			cmds = append(cmds, Collect())
		case p.atFollow():
			p.pos += 2
			cmds = append(cmds, Follow())
		case r == p.delim:
			cmd, err := p.parseXPath()
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, cmd)
		default:
			cmds = append(cmds, p.parseCSS())
		}
	}
}

func (p *parser) atFollow() bool {
	return strings.HasPrefix(p.src[p.pos:], "->")
}

// parseXPath reads a delimited query. The opening delimiter is at p.pos.
func (p *parser) parseXPath() (Command, error) {
	open := p.pos
	_, size := utf8.DecodeRuneInString(p.src[p.pos:])
	p.pos += size

	var b strings.Builder
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if r == '\\' {
			next, nsize := utf8.DecodeRuneInString(p.src[p.pos+size:])
			if p.pos+size < len(p.src) && next == p.delim {
				b.WriteRune(next)
				p.pos += size + nsize
				continue
			}
		}
		if r == p.delim {
			p.pos += size
			return XPath(b.String()), nil
		}
		b.WriteRune(r)
		p.pos += size
	}
	return Command{}, p.errorAt(open, "XPath query is never closed", nil)
}

// parseCSS reads a CSS run. The first rune is known not to be a terminal.
func (p *parser) parseCSS() Command {
	start := p.pos
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if r == '{' || r == '}' || r == ';' || r == p.delim || p.atFollow() {
			break
		}
		p.pos += size
	}
	return CSS(expandDiscard(strings.TrimSpace(p.src[start:p.pos])))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		p.pos += size
	}
}

func (p *parser) errorAt(offset int, msg string, err error) *SyntaxError {
	line, col := 1, 1
	for _, r := range p.src[:offset] {
		if r == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return &SyntaxError{Offset: offset, Line: line, Col: col, Msg: msg, Err: err}
}

// expandDiscard rewrites every '!' not preceded by a backslash into a
// selector that matches nothing.
func expandDiscard(query string) string {
	if !strings.Contains(query, "!") {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '!' && (i == 0 || query[i-1] != '\\') {
			b.WriteString(discardQuery)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
