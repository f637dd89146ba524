package query

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// xpathQuery is a compiled XPath 1.0 expression.
type xpathQuery struct {
	expr xexpr
}

func compileXPath(query string) (*xpathQuery, error) {
	e, err := parseXPath(query)
	if err != nil {
		return nil, err
	}
	return &xpathQuery{expr: e}, nil
}

// evaluation is the state of one query run against one document. The
// extension functions are bound to it, so nothing is shared between
// concurrent evaluations.
type evaluation struct {
	doc        *document
	positions  map[xnode]int
	patterns   map[string]*regexp.Regexp
	extensions map[string]xfunc
}

func newEvaluation(doc *document) *evaluation {
	ev := &evaluation{
		doc:       doc,
		positions: make(map[xnode]int),
		patterns:  make(map[string]*regexp.Regexp),
	}
	ev.extensions = ev.functions()
	return ev
}

func (q *xpathQuery) selectFrom(doc *document) ([]string, error) {
	ev := newEvaluation(doc)
	res, err := q.expr.eval(&xctx{ev: ev, node: elementNode(doc.root), pos: 1, size: 1})
	if err != nil {
		return nil, err
	}

	switch r := res.(type) {
	case nodeSet:
		out := make([]string, 0, len(r))
		for _, n := range r {
			s, err := ev.serialize(n)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return []string{stringOf(r)}, nil
	}
}

// serialize renders element and comment nodes and returns the value of
// text and attribute nodes.
func (ev *evaluation) serialize(n xnode) (string, error) {
	if n.isAttr() || n.node.Type == html.TextNode {
		return n.stringValue(), nil
	}
	return ev.doc.render(n.node)
}

// xctx is the evaluation context: the context node with its position and
// the size of the node-set it came from.
type xctx struct {
	ev   *evaluation
	node xnode
	pos  int
	size int
}

// xexpr is a compiled expression. eval returns a nodeSet, string, float64
// or bool.
type xexpr interface {
	eval(c *xctx) (any, error)
}

type literalExpr string

func (e literalExpr) eval(*xctx) (any, error) {
	return string(e), nil
}

type numberExpr float64

func (e numberExpr) eval(*xctx) (any, error) {
	return float64(e), nil
}

type negExpr struct {
	expr xexpr
}

func (e *negExpr) eval(c *xctx) (any, error) {
	v, err := e.expr.eval(c)
	if err != nil {
		return nil, err
	}
	return -numberOf(v), nil
}

type binaryExpr struct {
	op          string
	left, right xexpr
}

func (e *binaryExpr) eval(c *xctx) (any, error) {
	l, err := e.left.eval(c)
	if err != nil {
		return nil, err
	}

	// and/or short-circuit.
	switch e.op {
	case "and":
		if !boolOf(l) {
			return false, nil
		}
	case "or":
		if boolOf(l) {
			return true, nil
		}
	}

	r, err := e.right.eval(c)
	if err != nil {
		return nil, err
	}

	switch e.op {
	case "and", "or":
		return boolOf(r), nil
	case "=", "!=", "<", "<=", ">", ">=":
		return compare(e.op, l, r), nil
	case "+":
		return numberOf(l) + numberOf(r), nil
	case "-":
		return numberOf(l) - numberOf(r), nil
	case "*":
		return numberOf(l) * numberOf(r), nil
	case "div":
		return numberOf(l) / numberOf(r), nil
	case "mod":
		return math.Mod(numberOf(l), numberOf(r)), nil
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrMalformedXPath, e.op)
	}
}

type unionExpr struct {
	left, right xexpr
}

func (e *unionExpr) eval(c *xctx) (any, error) {
	l, err := evalNodeSet(c, e.left, "|")
	if err != nil {
		return nil, err
	}
	r, err := evalNodeSet(c, e.right, "|")
	if err != nil {
		return nil, err
	}
	return c.ev.sortNodes(append(append(nodeSet{}, l...), r...)), nil
}

func evalNodeSet(c *xctx, e xexpr, what string) (nodeSet, error) {
	v, err := e.eval(c)
	if err != nil {
		return nil, err
	}
	ns, ok := v.(nodeSet)
	if !ok {
		return nil, fmt.Errorf("%w: %s needs a node-set, got %s", ErrType, what, typeName(v))
	}
	return ns, nil
}

// filterExpr applies predicates to the node-set a primary expression
// returns, such as (//item)[last()] or split(//item, 2)[1].
type filterExpr struct {
	expr  xexpr
	preds []xexpr
}

func (e *filterExpr) eval(c *xctx) (any, error) {
	ns, err := evalNodeSet(c, e.expr, "a predicate")
	if err != nil {
		return nil, err
	}
	ns = c.ev.sortNodes(ns)
	for _, pred := range e.preds {
		if ns, err = filter(c.ev, ns, pred); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

// filter keeps the nodes of ns for which pred holds. A number predicate
// holds at the position it names.
func filter(ev *evaluation, ns nodeSet, pred xexpr) (nodeSet, error) {
	out := ns[:0:0]
	for i, n := range ns {
		v, err := pred.eval(&xctx{ev: ev, node: n, pos: i + 1, size: len(ns)})
		if err != nil {
			return nil, err
		}
		var keep bool
		if num, ok := v.(float64); ok {
			keep = num == float64(i+1)
		} else {
			keep = boolOf(v)
		}
		if keep {
			out = append(out, n)
		}
	}
	return out, nil
}

// pathExpr is a location path, optionally starting from a filter
// expression instead of the context node or the root.
type pathExpr struct {
	filter   xexpr
	absolute bool
	steps    []*step
}

func (e *pathExpr) eval(c *xctx) (any, error) {
	var nodes nodeSet
	switch {
	case e.filter != nil:
		ns, err := evalNodeSet(c, e.filter, "a path step")
		if err != nil {
			return nil, err
		}
		nodes = ns
	case e.absolute:
		nodes = nodeSet{c.node.root()}
	default:
		nodes = nodeSet{c.node}
	}

	for _, s := range e.steps {
		var err error
		if nodes, err = s.apply(c.ev, nodes); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

// testKind identifies a node test.
type testKind int

const (
	testName testKind = iota
	testNode
	testText
	testComment
	testPI
)

type nodeTest struct {
	kind testKind
	// name is a qualified name, prefix:* or *.
	name string
}

func (t nodeTest) matches(a axis, x xnode) bool {
	switch t.kind {
	case testNode:
		return true
	case testText:
		return !x.isAttr() && x.node.Type == html.TextNode
	case testComment:
		return !x.isAttr() && x.node.Type == html.CommentNode
	case testPI:
		return false
	}

	// The principal node type of the attribute axis is attribute; of every
	// other axis it is element.
	if a == axisAttribute {
		if !x.isAttr() {
			return false
		}
	} else if x.isAttr() || x.node.Type != html.ElementNode {
		return false
	}

	switch {
	case t.name == "*":
		return true
	case strings.HasSuffix(t.name, ":*"):
		return strings.HasPrefix(x.name(), strings.TrimSuffix(t.name, "*"))
	default:
		return x.name() == t.name
	}
}

type step struct {
	axis  axis
	test  nodeTest
	preds []xexpr
}

// apply runs the step from every node of input and returns the union in
// document order.
func (s *step) apply(ev *evaluation, input nodeSet) (nodeSet, error) {
	var out nodeSet
	for _, n := range input {
		var candidates nodeSet
		for _, x := range ev.walk(s.axis, n) {
			if s.test.matches(s.axis, x) {
				candidates = append(candidates, x)
			}
		}
		// Positions follow the axis: nearest first on reverse axes.
		for _, pred := range s.preds {
			var err error
			if candidates, err = filter(ev, candidates, pred); err != nil {
				return nil, err
			}
		}
		out = append(out, candidates...)
	}
	return ev.sortNodes(out), nil
}

type callExpr struct {
	name string
	args []xexpr
	// core is set for XPath 1.0 library functions. Extension functions are
	// looked up in the evaluation.
	core xfunc
}

func (e *callExpr) eval(c *xctx) (any, error) {
	args := make([]any, len(e.args))
	for i, a := range e.args {
		v, err := a.eval(c)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	fn := e.core
	if fn == nil {
		fn = c.ev.extensions[e.name]
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %s()", ErrUnknownFunction, e.name)
	}
	return fn(c, args)
}

// stringOf converts a value to an XPath string. A node-set converts to the
// string value of its first node.
func stringOf(v any) string {
	switch v := v.(type) {
	case nodeSet:
		if len(v) == 0 {
			return ""
		}
		return v[0].stringValue()
	case float64:
		return formatNumber(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return v
	default:
		return ""
	}
}

func numberOf(v any) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return parseNumber(stringOf(v))
	}
}

func boolOf(v any) bool {
	switch v := v.(type) {
	case nodeSet:
		return len(v) > 0
	case float64:
		return v != 0 && !math.IsNaN(v)
	case bool:
		return v
	case string:
		return v != ""
	default:
		return false
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nodeSet:
		return "node-set"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return "string"
	}
}

// parseNumber reads an XPath number: optional whitespace, an optional minus
// sign and digits with an optional fraction. Anything else is NaN.
func parseNumber(s string) float64 {
	s = strings.Trim(s, " \t\r\n")
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || digits == "." {
		return math.NaN()
	}
	dot := false
	for i := 0; i < len(digits); i++ {
		switch {
		case isDigit(digits[i]):
		case digits[i] == '.' && !dot:
			dot = true
		default:
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// compare applies a comparison operator with the XPath 1.0 conversion
// rules. A comparison involving a node-set holds if it holds for any node.
func compare(op string, l, r any) bool {
	ln, lok := l.(nodeSet)
	rn, rok := r.(nodeSet)
	switch {
	case lok && rok:
		for _, a := range ln {
			for _, b := range rn {
				if compareAtoms(op, a.stringValue(), b.stringValue()) {
					return true
				}
			}
		}
		return false
	case lok:
		return compareNodes(op, ln, r, false)
	case rok:
		return compareNodes(op, rn, l, true)
	default:
		return compareAtoms(op, l, r)
	}
}

// compareNodes compares every node of ns with a non-node-set value. flip
// is set when the node-set was the right operand.
func compareNodes(op string, ns nodeSet, other any, flip bool) bool {
	if b, ok := other.(bool); ok {
		if flip {
			return compareAtoms(op, b, boolOf(ns))
		}
		return compareAtoms(op, boolOf(ns), b)
	}
	for _, n := range ns {
		var v any = n.stringValue()
		if _, ok := other.(float64); ok {
			v = parseNumber(n.stringValue())
		}
		if flip && compareAtoms(op, other, v) || !flip && compareAtoms(op, v, other) {
			return true
		}
	}
	return false
}

// compareAtoms compares two values that are not node-sets.
func compareAtoms(op string, l, r any) bool {
	switch op {
	case "=", "!=":
		var eq bool
		_, lb := l.(bool)
		_, rb := r.(bool)
		_, lf := l.(float64)
		_, rf := r.(float64)
		switch {
		case lb || rb:
			eq = boolOf(l) == boolOf(r)
		case lf || rf:
			eq = numberOf(l) == numberOf(r)
		default:
			eq = stringOf(l) == stringOf(r)
		}
		return eq == (op == "=")
	}

	a, b := numberOf(l), numberOf(r)
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a >= b
	}
}

// formatNumber converts a number to its XPath string value: integers have
// no fraction and no exponent.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
