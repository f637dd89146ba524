package script

import (
	"strings"
)

// Kind identifies which primitive a Command is.
type Kind int

const (
	// KindBlock runs its nested commands to a fixed point.
	KindBlock Kind = iota
	// KindCollect writes the text of each current context to the output.
	KindCollect
	// KindFollow resolves each current text against its locator and fetches it.
	KindFollow
	// KindSelect evaluates a query against each current text.
	KindSelect
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindCollect:
		return "collect"
	case KindFollow:
		return "follow"
	case KindSelect:
		return "select"
	default:
		return "unknown"
	}
}

// Lang is the query language of a select command.
type Lang int

const (
	// LangCSS is a CSS selector, optionally ending in ::text or ::attr(name).
	LangCSS Lang = iota
	// LangXPath is an XPath 1.0 expression with skrob's extension functions.
	LangXPath
)

// String returns the name of the query language.
func (l Lang) String() string {
	switch l {
	case LangCSS:
		return "css"
	case LangXPath:
		return "xpath"
	default:
		return "unknown"
	}
}

// Command is one node of a parsed script.
//
// Design decision: Command is a closed tagged union rather than an interface
// with one type per primitive. The interpreter switches on Kind in a single
// place, and the set of primitives is fixed by the grammar.
type Command struct {
	// Kind selects which of the fields below are meaningful.
	Kind Kind

	// Commands holds the nested commands of a block.
	Commands []Command

	// Lang is the query language of a select.
	Lang Lang

	// Query is the query text of a select, after discard-macro expansion
	// and delimiter unescaping.
	Query string
}

// Block returns a block command holding cmds.
func Block(cmds ...Command) Command {
	return Command{Kind: KindBlock, Commands: cmds}
}

// Collect returns a collect command.
func Collect() Command {
	return Command{Kind: KindCollect}
}

// Follow returns a follow command.
func Follow() Command {
	return Command{Kind: KindFollow}
}

// CSS returns a CSS select command. The query is used verbatim.
func CSS(query string) Command {
	return Command{Kind: KindSelect, Lang: LangCSS, Query: query}
}

// XPath returns an XPath select command.
func XPath(query string) Command {
	return Command{Kind: KindSelect, Lang: LangXPath, Query: query}
}

// Walk calls fn for c and every command nested in it, depth first.
// It stops and returns the first error fn returns.
func (c Command) Walk(fn func(Command) error) error {
	if err := fn(c); err != nil {
		return err
	}
	for _, sub := range c.Commands {
		if err := sub.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Format renders c back into script syntax, wrapping XPath queries in delim.
// A top-level block is rendered without braces, so for any tree returned by
// Parse, Parse(Format(c)) yields an equal tree.
func (c Command) Format(delim rune) string {
	var b strings.Builder
	if c.Kind == KindBlock {
		formatCommands(&b, c.Commands, delim)
	} else {
		formatCommand(&b, c, delim)
	}
	return b.String()
}

func formatCommands(b *strings.Builder, cmds []Command, delim rune) {
	for i, cmd := range cmds {
		if i > 0 {
			b.WriteByte(' ')
		}
		formatCommand(b, cmd, delim)
	}
}

func formatCommand(b *strings.Builder, c Command, delim rune) {
	switch c.Kind {
	case KindBlock:
		b.WriteByte('{')
		formatCommands(b, c.Commands, delim)
		b.WriteByte('}')
	case KindCollect:
		b.WriteByte(';')
	case KindFollow:
		b.WriteString("->")
	case KindSelect:
		if c.Lang == LangXPath {
			d := string(delim)
			b.WriteString(d)
			b.WriteString(strings.ReplaceAll(c.Query, d, `\`+d))
			b.WriteString(d)
			return
		}
		b.WriteString(c.Query)
	}
}
