package query

import (
	"fmt"
	"slices"
	"strings"
)

// xparser is a recursive descent parser for XPath 1.0 expressions.
type xparser struct {
	toks []token
	pos  int
}

// parseXPath compiles expr into an expression tree. Function names and
// arities are checked here, so an unknown function never reaches a payload.
func parseXPath(expr string) (xexpr, error) {
	toks, err := lexXPath(expr)
	if err != nil {
		return nil, err
	}
	p := &xparser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.unexpected(t)
	}
	return e, nil
}

func (p *xparser) peek() token {
	return p.toks[p.pos]
}

func (p *xparser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *xparser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *xparser) accept(kind tokenKind, text string) bool {
	if p.peek().is(kind, text) {
		p.pos++
		return true
	}
	return false
}

func (p *xparser) expect(kind tokenKind, text string) error {
	if !p.accept(kind, text) {
		return p.unexpected(p.peek())
	}
	return nil
}

func (p *xparser) unexpected(t token) error {
	if t.kind == tokEOF {
		return fmt.Errorf("%w: unexpected end of expression", ErrMalformedXPath)
	}
	return fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformedXPath, t.text, t.pos)
}

// binaryLevel parses one left-associative precedence level.
func (p *xparser) binaryLevel(ops []string, operand func() (xexpr, error)) (xexpr, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOperator || !slices.Contains(ops, t.text) {
			return left, nil
		}
		p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: t.text, left: left, right: right}
	}
}

func (p *xparser) parseOr() (xexpr, error) {
	return p.binaryLevel([]string{"or"}, p.parseAnd)
}

func (p *xparser) parseAnd() (xexpr, error) {
	return p.binaryLevel([]string{"and"}, p.parseEquality)
}

func (p *xparser) parseEquality() (xexpr, error) {
	return p.binaryLevel([]string{"=", "!="}, p.parseRelational)
}

func (p *xparser) parseRelational() (xexpr, error) {
	return p.binaryLevel([]string{"<", "<=", ">", ">="}, p.parseAdditive)
}

func (p *xparser) parseAdditive() (xexpr, error) {
	return p.binaryLevel([]string{"+", "-"}, p.parseMultiplicative)
}

func (p *xparser) parseMultiplicative() (xexpr, error) {
	return p.binaryLevel([]string{"*", "div", "mod"}, p.parseUnary)
}

func (p *xparser) parseUnary() (xexpr, error) {
	if p.accept(tokOperator, "-") {
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negExpr{expr: e}, nil
	}
	return p.parseUnion()
}

func (p *xparser) parseUnion() (xexpr, error) {
	left, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOperator, "|") {
		right, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		left = &unionExpr{left: left, right: right}
	}
	return left, nil
}

// nodeTypes are the names that form a node test when followed by "(".
var nodeTypes = map[string]testKind{
	"node":                   testNode,
	"text":                   testText,
	"comment":                testComment,
	"processing-instruction": testPI,
}

// startsStep reports whether the next tokens begin a location step.
func (p *xparser) startsStep() bool {
	t := p.peek()
	switch t.kind {
	case tokPunct:
		return t.text == "." || t.text == ".." || t.text == "@"
	case tokName:
		if p.peekAt(1).is(tokPunct, "(") {
			_, ok := nodeTypes[t.text]
			return ok
		}
		return true
	default:
		return false
	}
}

func (p *xparser) parsePath() (xexpr, error) {
	t := p.peek()
	if t.is(tokOperator, "/") || t.is(tokOperator, "//") || p.startsStep() {
		return p.parseLocationPath()
	}

	filter, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	if !p.peek().is(tokOperator, "/") && !p.peek().is(tokOperator, "//") {
		return filter, nil
	}
	path := &pathExpr{filter: filter}
	if err := p.parseRelativePath(path); err != nil {
		return nil, err
	}
	return path, nil
}

func (p *xparser) parseLocationPath() (xexpr, error) {
	path := &pathExpr{}
	switch {
	case p.accept(tokOperator, "/"):
		path.absolute = true
		if !p.startsStep() {
			return path, nil
		}
		if err := p.parseSteps(path); err != nil {
			return nil, err
		}
	case p.peek().is(tokOperator, "//"):
		path.absolute = true
		if err := p.parseRelativePath(path); err != nil {
			return nil, err
		}
	default:
		if err := p.parseSteps(path); err != nil {
			return nil, err
		}
	}
	return path, nil
}

// parseRelativePath parses ("/" | "//") Step, repeated.
func (p *xparser) parseRelativePath(path *pathExpr) error {
	for {
		switch {
		case p.accept(tokOperator, "/"):
		case p.accept(tokOperator, "//"):
			path.steps = append(path.steps, &step{axis: axisDescendantOrSelf, test: nodeTest{kind: testNode}})
		default:
			return nil
		}
		s, err := p.parseStep()
		if err != nil {
			return err
		}
		path.steps = append(path.steps, s)
	}
}

// parseSteps parses Step, then any ("/" | "//") Step.
func (p *xparser) parseSteps(path *pathExpr) error {
	s, err := p.parseStep()
	if err != nil {
		return err
	}
	path.steps = append(path.steps, s)
	return p.parseRelativePath(path)
}

func (p *xparser) parseStep() (*step, error) {
	if p.accept(tokPunct, ".") {
		return &step{axis: axisSelf, test: nodeTest{kind: testNode}}, nil
	}
	if p.accept(tokPunct, "..") {
		return &step{axis: axisParent, test: nodeTest{kind: testNode}}, nil
	}

	s := &step{axis: axisChild}
	if p.accept(tokPunct, "@") {
		s.axis = axisAttribute
	} else if t := p.peek(); t.kind == tokName && p.peekAt(1).is(tokPunct, "::") {
		a, ok := axisNames[t.text]
		if !ok {
			return nil, fmt.Errorf("%w: unknown axis %q", ErrMalformedXPath, t.text)
		}
		s.axis = a
		p.pos += 2
	}

	t := p.next()
	if t.kind != tokName {
		return nil, p.unexpected(t)
	}
	if kind, ok := nodeTypes[t.text]; ok && p.peek().is(tokPunct, "(") {
		p.next()
		if kind == testPI && p.peek().kind == tokLiteral {
			p.next()
		}
		if err := p.expect(tokPunct, ")"); err != nil {
			return nil, err
		}
		s.test = nodeTest{kind: kind}
	} else {
		s.test = nodeTest{kind: testName, name: t.text}
	}

	preds, err := p.parsePredicates()
	if err != nil {
		return nil, err
	}
	s.preds = preds
	return s, nil
}

func (p *xparser) parsePredicates() ([]xexpr, error) {
	var preds []xexpr
	for p.accept(tokPunct, "[") {
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokPunct, "]"); err != nil {
			return nil, err
		}
		preds = append(preds, e)
	}
	return preds, nil
}

func (p *xparser) parseFilter() (xexpr, error) {
	primary, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	preds, err := p.parsePredicates()
	if err != nil {
		return nil, err
	}
	if len(preds) == 0 {
		return primary, nil
	}
	return &filterExpr{expr: primary, preds: preds}, nil
}

func (p *xparser) parsePrimary() (xexpr, error) {
	t := p.next()
	switch t.kind {
	case tokLiteral:
		return literalExpr(t.text), nil
	case tokNumber:
		return numberExpr(t.num), nil
	case tokVariable:
		return nil, fmt.Errorf("%w: variables are not supported: $%s", ErrMalformedXPath, t.text)
	case tokPunct:
		if t.text == "(" {
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokPunct, ")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	case tokName:
		if p.peek().is(tokPunct, "(") {
			return p.parseCall(t)
		}
	}
	return nil, p.unexpected(t)
}

func (p *xparser) parseCall(name token) (xexpr, error) {
	p.next() // (
	var args []xexpr
	if !p.accept(tokPunct, ")") {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.accept(tokPunct, ")") {
				break
			}
			if err := p.expect(tokPunct, ","); err != nil {
				return nil, err
			}
		}
	}

	if prefix, _, ok := strings.Cut(name.text, ":"); ok && prefix != regexPrefix {
		return nil, fmt.Errorf("%w: unknown namespace prefix %q", ErrUnknownFunction, prefix)
	}
	sig, ok := signatures[name.text]
	if !ok {
		return nil, fmt.Errorf("%w: %s()", ErrUnknownFunction, name.text)
	}
	if len(args) < sig.min || (sig.max >= 0 && len(args) > sig.max) {
		return nil, fmt.Errorf("%w: %s() takes %s arguments, got %d",
			ErrMalformedXPath, name.text, sig, len(args))
	}
	return &callExpr{name: name.text, args: args, core: coreFunctions[name.text]}, nil
}
