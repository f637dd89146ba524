package query

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// regexPrefix is the prefix of the EXSLT regular expression functions.
const regexPrefix = "re"

// xfunc is an XPath function. Arguments are evaluated before the call.
type xfunc func(c *xctx, args []any) (any, error)

// signature is the accepted argument count of a function. max is -1 when
// the count is unbounded.
type signature struct {
	min, max int
}

func (s signature) String() string {
	switch {
	case s.max < 0:
		return fmt.Sprintf("at least %d", s.min)
	case s.min == s.max:
		return fmt.Sprint(s.min)
	default:
		return fmt.Sprintf("%d to %d", s.min, s.max)
	}
}

// signatures lists every function a query may call, core and extension.
var signatures = map[string]signature{
	"last":             {0, 0},
	"position":         {0, 0},
	"count":            {1, 1},
	"id":               {1, 1},
	"local-name":       {0, 1},
	"namespace-uri":    {0, 1},
	"name":             {0, 1},
	"string":           {0, 1},
	"concat":           {2, -1},
	"starts-with":      {2, 2},
	"contains":         {2, 2},
	"substring-before": {2, 2},
	"substring-after":  {2, 2},
	"substring":        {2, 3},
	"string-length":    {0, 1},
	"normalize-space":  {0, 1},
	"translate":        {3, 3},
	"boolean":          {1, 1},
	"not":              {1, 1},
	"true":             {0, 0},
	"false":            {0, 0},
	"lang":             {1, 1},
	"number":           {0, 1},
	"sum":              {1, 1},
	"floor":            {1, 1},
	"ceiling":          {1, 1},
	"round":            {1, 1},

	"string-join": {1, 2},
	"node-join":   {1, 1},
	"split":       {2, 2},
	"url-join":    {2, 2},
	"url-parse":   {1, 1},
	"url-unparse": {1, 1},
	"re:replace":  {4, 4},
	"re:test":     {2, 3},
	"re:match":    {2, 3},
}

// coreFunctions is the XPath 1.0 function library. It holds no state.
var coreFunctions = map[string]xfunc{
	"last":             fnLast,
	"position":         fnPosition,
	"count":            fnCount,
	"id":               fnID,
	"local-name":       fnLocalName,
	"namespace-uri":    fnNamespaceURI,
	"name":             fnName,
	"string":           fnString,
	"concat":           fnConcat,
	"starts-with":      fnStartsWith,
	"contains":         fnContains,
	"substring-before": fnSubstringBefore,
	"substring-after":  fnSubstringAfter,
	"substring":        fnSubstring,
	"string-length":    fnStringLength,
	"normalize-space":  fnNormalizeSpace,
	"translate":        fnTranslate,
	"boolean":          fnBoolean,
	"not":              fnNot,
	"true":             fnTrue,
	"false":            fnFalse,
	"lang":             fnLang,
	"number":           fnNumber,
	"sum":              fnSum,
	"floor":            fnFloor,
	"ceiling":          fnCeiling,
	"round":            fnRound,
}

// functions returns the extension functions bound to ev.
func (ev *evaluation) functions() map[string]xfunc {
	return map[string]xfunc{
		"string-join": stringJoin,
		"node-join":   ev.nodeJoin,
		"split":       ev.split,
		"url-join":    urlJoin,
		"url-parse":   ev.urlParse,
		"url-unparse": ev.urlUnparse,
		"re:replace":  ev.reReplace,
		"re:test":     ev.reTest,
		"re:match":    ev.reMatch,
	}
}

// contextString is the string value of the optional argument, or of the
// context node when it is absent.
func contextString(c *xctx, args []any) string {
	if len(args) == 0 {
		return c.node.stringValue()
	}
	return stringOf(args[0])
}

// contextNode is the first node of the optional node-set argument, or the
// context node when it is absent.
func contextNode(c *xctx, fn string, args []any) (xnode, bool, error) {
	if len(args) == 0 {
		return c.node, true, nil
	}
	ns, err := nodeSetArg(fn, args[0])
	if err != nil || len(ns) == 0 {
		return xnode{}, false, err
	}
	return ns[0], true, nil
}

// nodeSetArg returns v as a node-set or reports which function got a value
// of another type.
func nodeSetArg(fn string, v any) (nodeSet, error) {
	ns, ok := v.(nodeSet)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects a node-set, got %s", ErrInvalidArgument, fn, typeName(v))
	}
	return ns, nil
}

func fnLast(c *xctx, _ []any) (any, error) {
	return float64(c.size), nil
}

func fnPosition(c *xctx, _ []any) (any, error) {
	return float64(c.pos), nil
}

func fnCount(_ *xctx, args []any) (any, error) {
	ns, err := nodeSetArg("count", args[0])
	if err != nil {
		return nil, err
	}
	return float64(len(ns)), nil
}

// fnID selects the elements whose id attribute is one of the
// whitespace-separated tokens of its argument.
func fnID(c *xctx, args []any) (any, error) {
	var tokens []string
	if ns, ok := args[0].(nodeSet); ok {
		for _, n := range ns {
			tokens = append(tokens, strings.Fields(n.stringValue())...)
		}
	} else {
		tokens = strings.Fields(stringOf(args[0]))
	}
	wanted := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		wanted[t] = true
	}

	var out nodeSet
	for _, n := range c.node.root().descendants(nil) {
		if n.node.Type != html.ElementNode {
			continue
		}
		for _, a := range n.node.Attr {
			if a.Key == "id" && wanted[a.Val] {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

func fnLocalName(c *xctx, args []any) (any, error) {
	n, ok, err := contextNode(c, "local-name", args)
	if err != nil || !ok {
		return "", err
	}
	return n.localName(), nil
}

func fnNamespaceURI(c *xctx, args []any) (any, error) {
	if _, _, err := contextNode(c, "namespace-uri", args); err != nil {
		return nil, err
	}
	return "", nil
}

func fnName(c *xctx, args []any) (any, error) {
	n, ok, err := contextNode(c, "name", args)
	if err != nil || !ok {
		return "", err
	}
	return n.name(), nil
}

func fnString(c *xctx, args []any) (any, error) {
	return contextString(c, args), nil
}

func fnConcat(_ *xctx, args []any) (any, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(stringOf(a))
	}
	return b.String(), nil
}

func fnStartsWith(_ *xctx, args []any) (any, error) {
	return strings.HasPrefix(stringOf(args[0]), stringOf(args[1])), nil
}

func fnContains(_ *xctx, args []any) (any, error) {
	return strings.Contains(stringOf(args[0]), stringOf(args[1])), nil
}

func fnSubstringBefore(_ *xctx, args []any) (any, error) {
	before, _, found := strings.Cut(stringOf(args[0]), stringOf(args[1]))
	if !found {
		return "", nil
	}
	return before, nil
}

func fnSubstringAfter(_ *xctx, args []any) (any, error) {
	_, after, found := strings.Cut(stringOf(args[0]), stringOf(args[1]))
	if !found {
		return "", nil
	}
	return after, nil
}

// fnSubstring counts characters from 1 and rounds its bounds, so
// substring("12345", 1.5, 2.6) is "234".
func fnSubstring(_ *xctx, args []any) (any, error) {
	s := stringOf(args[0])
	start := xpathRound(numberOf(args[1]))
	end := math.Inf(1)
	if len(args) == 3 {
		end = start + xpathRound(numberOf(args[2]))
	}

	var b strings.Builder
	pos := 1.0
	for _, r := range s {
		if pos >= start && pos < end {
			b.WriteRune(r)
		}
		pos++
	}
	return b.String(), nil
}

func fnStringLength(c *xctx, args []any) (any, error) {
	return float64(utf8.RuneCountInString(contextString(c, args))), nil
}

func fnNormalizeSpace(c *xctx, args []any) (any, error) {
	fields := strings.FieldsFunc(contextString(c, args), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\r' || r == '\n'
	})
	return strings.Join(fields, " "), nil
}

func fnTranslate(_ *xctx, args []any) (any, error) {
	from := []rune(stringOf(args[1]))
	to := []rune(stringOf(args[2]))
	mapping := make(map[rune]int, len(from))
	for i, r := range from {
		if _, ok := mapping[r]; !ok {
			mapping[r] = i
		}
	}

	var b strings.Builder
	for _, r := range stringOf(args[0]) {
		i, ok := mapping[r]
		switch {
		case !ok:
			b.WriteRune(r)
		case i < len(to):
			b.WriteRune(to[i])
		}
	}
	return b.String(), nil
}

func fnBoolean(_ *xctx, args []any) (any, error) {
	return boolOf(args[0]), nil
}

func fnNot(_ *xctx, args []any) (any, error) {
	return !boolOf(args[0]), nil
}

func fnTrue(*xctx, []any) (any, error) {
	return true, nil
}

func fnFalse(*xctx, []any) (any, error) {
	return false, nil
}

// fnLang tests the nearest xml:lang or lang attribute of the context node.
func fnLang(c *xctx, args []any) (any, error) {
	want := strings.ToLower(stringOf(args[0]))
	for n, ok := c.node, true; ok; n, ok = n.parent() {
		if n.isAttr() || n.node.Type != html.ElementNode {
			continue
		}
		for _, a := range n.node.Attr {
			if a.Key == "lang" {
				lang := strings.ToLower(a.Val)
				return lang == want || strings.HasPrefix(lang, want+"-"), nil
			}
		}
	}
	return false, nil
}

func fnNumber(c *xctx, args []any) (any, error) {
	if len(args) == 0 {
		return parseNumber(c.node.stringValue()), nil
	}
	return numberOf(args[0]), nil
}

func fnSum(_ *xctx, args []any) (any, error) {
	ns, err := nodeSetArg("sum", args[0])
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, n := range ns {
		total += parseNumber(n.stringValue())
	}
	return total, nil
}

func fnFloor(_ *xctx, args []any) (any, error) {
	return math.Floor(numberOf(args[0])), nil
}

func fnCeiling(_ *xctx, args []any) (any, error) {
	return math.Ceil(numberOf(args[0])), nil
}

func fnRound(_ *xctx, args []any) (any, error) {
	return xpathRound(numberOf(args[0])), nil
}

// xpathRound rounds half up, towards positive infinity.
func xpathRound(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	return math.Floor(f + 0.5)
}

// items returns the string value of every node of a node-set, or the single
// string value of any other result.
func items(v any) []string {
	ns, ok := v.(nodeSet)
	if !ok {
		return []string{stringOf(v)}
	}
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.stringValue())
	}
	return out
}

func joined(v any) string {
	return strings.Join(items(v), "")
}

func stringJoin(_ *xctx, args []any) (any, error) {
	sep := ""
	if len(args) == 2 {
		sep = stringOf(args[1])
	}
	return strings.Join(items(args[0]), sep), nil
}

func urlJoin(_ *xctx, args []any) (any, error) {
	base, err := url.Parse(strings.TrimSpace(joined(args[0])))
	if err != nil {
		return nil, fmt.Errorf("%w: url-join base: %v", ErrInvalidArgument, err)
	}
	ref, err := url.Parse(strings.TrimSpace(joined(args[1])))
	if err != nil {
		return nil, fmt.Errorf("%w: url-join reference: %v", ErrInvalidArgument, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// detach returns a copy of a node that can be reparented. Attributes become
// text holding their value; a document becomes a joined element.
func detach(n xnode) *html.Node {
	if n.isAttr() {
		return &html.Node{Type: html.TextNode, Data: n.stringValue()}
	}
	if n.node.Type == html.DocumentNode {
		return newElement("joined", cloneChildren(n.node)...)
	}
	return cloneNode(n.node)
}

func cloneChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, cloneNode(c))
	}
	return out
}

func joinNodes(ns nodeSet) *html.Node {
	children := make([]*html.Node, 0, len(ns))
	for _, n := range ns {
		children = append(children, detach(n))
	}
	return newElement("joined", children...)
}

func (ev *evaluation) nodeJoin(_ *xctx, args []any) (any, error) {
	ns, err := nodeSetArg("node-join", args[0])
	if err != nil {
		return nil, err
	}
	if len(ns) == 1 {
		return ns, nil
	}
	return attach(joinNodes(ns)), nil
}

func (ev *evaluation) split(_ *xctx, args []any) (any, error) {
	ns, err := nodeSetArg("split", args[0])
	if err != nil {
		return nil, err
	}
	n := numberOf(args[1])
	if math.IsNaN(n) || n < 1 {
		return nil, fmt.Errorf("%w: split chunk size must be at least 1, got %s", ErrInvalidArgument, formatNumber(n))
	}
	length := len(ns)
	if n < float64(len(ns)) {
		length = int(n)
	}
	length = max(length, 1)

	chunks := make([]*html.Node, 0, (len(ns)+length-1)/length)
	for start := 0; start < len(ns); start += length {
		end := min(start+length, len(ns))
		children := make([]*html.Node, 0, end-start)
		for _, node := range ns[start:end] {
			children = append(children, detach(node))
		}
		chunks = append(chunks, newElement("chunk", children...))
	}
	return attach(chunks...), nil
}

// rawAttr holds the escaped form of a url-parse field, so that url-unparse
// can give back exactly what was parsed.
const rawAttr = "raw"

func (ev *evaluation) urlParse(_ *xctx, args []any) (any, error) {
	u, err := url.Parse(strings.TrimSpace(joined(args[0])))
	if err != nil {
		return nil, fmt.Errorf("%w: url-parse: %v", ErrInvalidArgument, err)
	}

	var user, password string
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}

	query := newElement("query")
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		if key == "" {
			continue
		}
		item := newTextElement(key, value)
		item.Attr = []html.Attribute{{Key: rawAttr, Val: pair}}
		query.AppendChild(item)
	}

	path := newTextElement("path", u.Path)
	if escaped := u.EscapedPath(); escaped != u.Path {
		path.Attr = []html.Attribute{{Key: rawAttr, Val: escaped}}
	}
	fragment := newTextElement("fragment", u.Fragment)
	if escaped := u.EscapedFragment(); escaped != u.Fragment {
		fragment.Attr = []html.Attribute{{Key: rawAttr, Val: escaped}}
	}

	node := newElement("url",
		newTextElement("scheme", u.Scheme),
		newTextElement("user", user),
		newTextElement("password", password),
		newTextElement("host", u.Hostname()),
		newTextElement("port", u.Port()),
		path,
		query,
		fragment,
	)
	return attach(node), nil
}

// urlFields are the children of a url-parse element, in order.
var urlFields = []string{"scheme", "user", "password", "host", "port", "path", "query", "fragment"}

func (ev *evaluation) urlUnparse(_ *xctx, args []any) (any, error) {
	ns, err := nodeSetArg("url-unparse", args[0])
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return "", nil
	}

	var root *html.Node
	if len(ns) == 1 {
		if ns[0].isAttr() {
			return nil, fmt.Errorf("%w: url-unparse expects an element", ErrInvalidArgument)
		}
		root = ns[0].node
	} else {
		root = joinNodes(ns)
	}

	fields := make(map[string]*html.Node, len(urlFields))
	for _, name := range urlFields {
		if n := findElement(root, name); n != nil {
			fields[name] = n
		}
	}
	text := func(name string) string {
		if n, ok := fields[name]; ok {
			return textContent(n)
		}
		return ""
	}
	raw := func(name string) string {
		if n, ok := fields[name]; ok {
			return rawValue(n, textContent(n), url.PathUnescape)
		}
		return ""
	}

	u := &url.URL{
		Scheme:   text("scheme"),
		Host:     text("host"),
		Path:     text("path"),
		RawPath:  raw("path"),
		Fragment: text("fragment"),
	}
	u.RawFragment = raw("fragment")
	if port := text("port"); port != "" {
		u.Host = net.JoinHostPort(u.Host, port)
	} else if strings.Contains(u.Host, ":") {
		u.Host = "[" + u.Host + "]"
	}
	if user := text("user"); user != "" {
		if password := text("password"); password != "" {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
	}
	if q, ok := fields["query"]; ok {
		var pairs []string
		for c := q.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			pairs = append(pairs, queryPair(c))
		}
		u.RawQuery = strings.Join(pairs, "&")
	}
	return u.String(), nil
}

// queryPair returns the raw key=value text a url-parse query child came
// from, or escapes its name and value when it carries none.
func queryPair(n *html.Node) string {
	value := textContent(n)
	for _, a := range n.Attr {
		if a.Key != rawAttr {
			continue
		}
		key, v, _ := strings.Cut(a.Val, "=")
		k, kerr := url.QueryUnescape(key)
		uv, verr := url.QueryUnescape(v)
		if kerr == nil && verr == nil && k == n.Data && uv == value {
			return a.Val
		}
	}
	return url.QueryEscape(n.Data) + "=" + url.QueryEscape(value)
}

// rawValue returns the raw attribute of n when it still unescapes to text,
// and "" otherwise.
func rawValue(n *html.Node, text string, unescape func(string) (string, error)) string {
	for _, a := range n.Attr {
		if a.Key != rawAttr {
			continue
		}
		if s, err := unescape(a.Val); err == nil && s == text {
			return a.Val
		}
	}
	return ""
}

// findElement returns the first descendant of n named name, n included.
func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}

// compileRegexp compiles pattern with the EXSLT flags. Compiled patterns are
// kept for the rest of the evaluation.
func (ev *evaluation) compileRegexp(pattern, flags string) (*regexp.Regexp, error) {
	expr := pattern
	if strings.Contains(flags, "i") {
		expr = "(?i)" + expr
	}
	if re, ok := ev.patterns[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	ev.patterns[expr] = re
	return re, nil
}

func optionalFlags(args []any) string {
	if len(args) == 3 {
		return stringOf(args[2])
	}
	return ""
}

func (ev *evaluation) reReplace(_ *xctx, args []any) (any, error) {
	input := stringOf(args[0])
	flags := stringOf(args[2])
	replacement := stringOf(args[3])

	re, err := ev.compileRegexp(stringOf(args[1]), flags)
	if err != nil {
		return nil, err
	}
	if strings.Contains(flags, "g") {
		return re.ReplaceAllLiteralString(input, replacement), nil
	}

	loc := re.FindStringIndex(input)
	if loc == nil {
		return input, nil
	}
	return input[:loc[0]] + replacement + input[loc[1]:], nil
}

func (ev *evaluation) reTest(_ *xctx, args []any) (any, error) {
	re, err := ev.compileRegexp(stringOf(args[1]), optionalFlags(args))
	if err != nil {
		return nil, err
	}
	return re.MatchString(stringOf(args[0])), nil
}

// reMatch returns one match element per global match, or the whole match
// followed by its groups when the g flag is absent.
func (ev *evaluation) reMatch(_ *xctx, args []any) (any, error) {
	flags := optionalFlags(args)
	re, err := ev.compileRegexp(stringOf(args[1]), flags)
	if err != nil {
		return nil, err
	}
	input := stringOf(args[0])

	var values []string
	if strings.Contains(flags, "g") {
		values = re.FindAllString(input, -1)
	} else {
		values = re.FindStringSubmatch(input)
	}
	if len(values) == 0 {
		return nodeSet{}, nil
	}

	matches := make([]*html.Node, 0, len(values))
	for _, v := range values {
		matches = append(matches, newTextElement("match", v))
	}
	return attach(matches...), nil
}
