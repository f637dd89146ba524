package query

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nao1215/skrob/internal/script"
)

const page = `<!DOCTYPE html>
<html>
<head><title>Index</title></head>
<body>
<h1 class="title">Hi</h1>
<p class="intro">one <b>two</b> three</p>
<ul>
<li><a href="/a">A</a></li>
<li><a href="/b">B</a></li>
<li><a href="https://other.example/c">C</a></li>
</ul>
<h2>Later</h2>
</body>
</html>`

func TestSelectCSS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		text  string
		want  []string
	}{
		{
			name:  "element is serialized",
			query: ".title",
			text:  page,
			want:  []string{`<h1 class="title">Hi</h1>`},
		},
		{
			name:  "text pseudo element",
			query: ".title::text",
			text:  page,
			want:  []string{"Hi"},
		},
		{
			name:  "text pseudo element returns direct text children only",
			query: "p.intro::text",
			text:  page,
			want:  []string{"one ", " three"},
		},
		{
			name:  "attribute pseudo element in document order",
			query: "a::attr(href)",
			text:  page,
			want:  []string{"/a", "/b", "https://other.example/c"},
		},
		{
			name:  "quoted attribute name",
			query: `a::attr("href")`,
			text:  `<a href="/x">x</a>`,
			want:  []string{"/x"},
		},
		{
			name:  "group is merged in document order",
			query: "h2::text, h1::text",
			text:  page,
			want:  []string{"Hi", "Later"},
		},
		{
			name:  "node matched twice is reported once",
			query: "li:first-child a::attr(href), a::attr(href)",
			text:  page,
			want:  []string{"/a", "/b", "https://other.example/c"},
		},
		{
			name:  "comma inside an attribute selector does not split the group",
			query: `a[title="x, y"]::text`,
			text:  `<a title="x, y">1</a><a title="x">2</a>`,
			want:  []string{"1"},
		},
		{
			name:  "discard matches nothing",
			query: ":not(*)",
			text:  page,
			want:  []string{},
		},
		{
			name:  "xml payload keeps children of link",
			query: "link::text",
			text:  `<?xml version="1.0" encoding="UTF-8" ?><root type="dict"><link type="str">https://example.com/</link></root>`,
			want:  []string{"https://example.com/"},
		},
		{
			name:  "xml payload is serialized as xml",
			query: "link",
			text:  `<?xml version="1.0" encoding="UTF-8" ?><root><link type="str">a &amp; b</link></root>`,
			want:  []string{`<link type="str">a &amp; b</link>`},
		},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := engine.Select(script.LangCSS, tt.query, tt.text)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if len(tt.want) == 0 && len(got) == 0 {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Select() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectXPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		text  string
		want  []string
	}{
		{
			name:  "text nodes",
			query: "//h1/text()",
			text:  page,
			want:  []string{"Hi"},
		},
		{
			name:  "attribute values",
			query: "//a/@href",
			text:  page,
			want:  []string{"/a", "/b", "https://other.example/c"},
		},
		{
			name:  "elements are serialized",
			query: "//li[2]/a",
			text:  page,
			want:  []string{`<a href="/b">B</a>`},
		},
		{
			name:  "string result",
			query: "concat('https://example.com/item/', //h1, '.json')",
			text:  page,
			want:  []string{"https://example.com/item/Hi.json"},
		},
		{
			name:  "number result has no fraction",
			query: "count(//a)",
			text:  page,
			want:  []string{"3"},
		},
		{
			name:  "boolean result",
			query: "boolean(//h2)",
			text:  page,
			want:  []string{"true"},
		},
		{
			name:  "string-join with separator",
			query: "string-join(//a, ', ')",
			text:  page,
			want:  []string{"A, B, C"},
		},
		{
			name:  "string-join without separator",
			query: "string-join(//a)",
			text:  page,
			want:  []string{"ABC"},
		},
		{
			name:  "split into chunks",
			query: "split(//a, 2)",
			text:  page,
			want: []string{
				`<chunk><a href="/a">A</a><a href="/b">B</a></chunk>`,
				`<chunk><a href="https://other.example/c">C</a></chunk>`,
			},
		},
		{
			name:  "chunks are navigable",
			query: "string-join(split(//a, 2), '|')",
			text:  page,
			want:  []string{"AB|C"},
		},
		{
			name:  "path step after a function",
			query: "split(//a/@href, 2)/text()",
			text:  page,
			want:  []string{"/a", "/b", "https://other.example/c"},
		},
		{
			name:  "node-join wraps several nodes",
			query: "node-join(//h1 | //h2)",
			text:  page,
			want:  []string{`<joined><h1 class="title">Hi</h1><h2>Later</h2></joined>`},
		},
		{
			name:  "node-join returns a single node as is",
			query: "node-join(//h2)",
			text:  page,
			want:  []string{`<h2>Later</h2>`},
		},
		{
			name:  "url-join resolves a relative reference",
			query: "url-join('https://example.com/dir/page', //li[1]/a/@href)",
			text:  page,
			want:  []string{"https://example.com/a"},
		},
		{
			name:  "url-parse field",
			query: "string(url-parse('https://user:pw@example.com:8080/a/b?x=1&y=two#frag')/host)",
			text:  page,
			want:  []string{"example.com"},
		},
		{
			name:  "url-parse query fields",
			query: "url-parse('https://example.com/?x=1&y=two%20words')/query/y/text()",
			text:  page,
			want:  []string{"two words"},
		},
		{
			name:  "url-unparse inverts url-parse",
			query: "url-unparse(url-parse('https://user:pw@example.com:8080/a/b?x=1&y=two#frag'))",
			text:  page,
			want:  []string{"https://user:pw@example.com:8080/a/b?x=1&y=two#frag"},
		},
		{
			name:  "url-unparse of a plain locator",
			query: "url-unparse(url-parse(//li[3]/a/@href))",
			text:  page,
			want:  []string{"https://other.example/c"},
		},
		{
			name:  "re:replace first occurrence",
			query: "re:replace('a-b-c', '-', '', '+')",
			text:  page,
			want:  []string{"a+b-c"},
		},
		{
			name:  "re:replace global",
			query: "re:replace('a-b-c', '-', 'g', '+')",
			text:  page,
			want:  []string{"a+b+c"},
		},
		{
			name:  "re:test case insensitive",
			query: "re:test(//h1, '^hi$', 'i')",
			text:  page,
			want:  []string{"true"},
		},
		{
			name:  "re:match returns the match and its groups",
			query: `string-join(re:match('k=v', '(\w)=(\w)'), '|')`,
			text:  page,
			want:  []string{"k=v|k|v"},
		},
		{
			name:  "re:match global",
			query: `string-join(re:match('a1b22c333', '\d+', 'g'), ',')`,
			text:  page,
			want:  []string{"1,22,333"},
		},
		{
			name:  "xml payload",
			query: "//link",
			text:  `<?xml version="1.0" encoding="UTF-8" ?><root><link type="str">https://example.com/</link></root>`,
			want:  []string{`<link type="str">https://example.com/</link>`},
		},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := engine.Select(script.LangXPath, tt.query, tt.text)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Select() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectXPathDelimiterIndependent(t *testing.T) {
	t.Parallel()

	backtick, err := script.Parse("`//a/@href`;")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	pipe, err := script.Parse("|//a/@href|;", script.WithDelimiter('|'))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	queryOf := func(c script.Command) string {
		return c.Commands[0].Query
	}
	a, err := NewEngine().Select(script.LangXPath, queryOf(backtick), page)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	b, err := NewEngine().Select(script.LangXPath, queryOf(pipe), page)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("results differ by delimiter (-backtick +pipe):\n%s", diff)
	}
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		lang    script.Lang
		query   string
		wantErr error
	}{
		{name: "invalid css", lang: script.LangCSS, query: "a["},
		{name: "empty css group member", lang: script.LangCSS, query: "a,", wantErr: ErrEmptySelector},
		{name: "invalid xpath", lang: script.LangXPath, query: "//a["},
		{name: "unknown xpath function", lang: script.LangXPath, query: "no-such-function(//a)"},
		{name: "unknown language", lang: script.Lang(42), query: "a", wantErr: ErrUnknownLang},
		{name: "unterminated literal", lang: script.LangXPath, query: "concat('a", wantErr: ErrMalformedXPath},
		{name: "variable reference", lang: script.LangXPath, query: "//a[@href = $x]", wantErr: ErrMalformedXPath},
		{name: "unknown namespace prefix", lang: script.LangXPath, query: "fn:count(//a)", wantErr: ErrUnknownFunction},
		{name: "unknown regex function", lang: script.LangXPath, query: "re:nope('a')", wantErr: ErrUnknownFunction},
		{name: "too few arguments", lang: script.LangXPath, query: "split(//a)", wantErr: ErrMalformedXPath},
		{name: "too many arguments", lang: script.LangXPath, query: "count(//a, //b)", wantErr: ErrMalformedXPath},
		{name: "unknown axis", lang: script.LangXPath, query: "//a/sideways::b", wantErr: ErrMalformedXPath},
		{name: "trailing tokens", lang: script.LangXPath, query: "//a )", wantErr: ErrMalformedXPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := NewEngine().Compile(tt.lang, tt.query)
			if err == nil {
				t.Fatal("Compile() expected error")
			}
			var qerr *QueryError
			if !errors.As(err, &qerr) {
				t.Fatalf("Compile() error = %T, want *QueryError", err)
			}
			if qerr.Query != tt.query {
				t.Errorf("QueryError.Query = %q, want %q", qerr.Query, tt.query)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Compile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSplitRejectsChunkSizeBelowOne(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	if err := engine.Compile(script.LangXPath, "split(//a, 0)"); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	_, err := engine.Select(script.LangXPath, "split(//a, 0)", page)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Select() error = %v, want %v", err, ErrInvalidArgument)
	}
}

func TestEngineConcurrentSelect(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text := fmt.Sprintf(`<p>%d</p>`, i)
			got, err := engine.Select(script.LangXPath, "re:replace(string(//p), '(\\d+)', '', 'n')", text)
			if err != nil {
				errs <- err
				return
			}
			if len(got) != 1 || got[0] != "n" {
				errs <- fmt.Errorf("goroutine %d got %q", i, got)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestSplitSelectorGroup(t *testing.T) {
	t.Parallel()

	got := splitSelectorGroup(`a, b:not(.x, .y), c[title="1,2"], d\,e`)
	want := []string{"a", " b:not(.x, .y)", ` c[title="1,2"]`, ` d\,e`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("splitSelectorGroup() mismatch (-want +got):\n%s", diff)
	}
}

const itemsDoc = `<ul id="list" lang="en-GB">
<li class="x">1</li>
<li>2</li>
<!-- gap -->
<li class="x">3</li>
<li>4</li>
<li>5</li>
</ul>`

func TestSelectXPathFilterExpressions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "predicate on a parenthesized path",
			query: "(//li)[last()]/text()",
			want:  []string{"5"},
		},
		{
			name:  "positional predicate on a parenthesized path",
			query: "(//li)[2]/text()",
			want:  []string{"2"},
		},
		{
			name:  "predicate on a function result",
			query: "split(//li, 2)[position() >= 2]",
			want:  []string{`<chunk><li class="x">3</li><li>4</li></chunk>`, "<chunk><li>5</li></chunk>"},
		},
		{
			name:  "predicate on a parenthesized function result",
			query: "(split(//li, 2))[1]",
			want:  []string{`<chunk><li class="x">1</li><li>2</li></chunk>`},
		},
		{
			name:  "path after a filtered function result",
			query: "count(split(//li, 2)[last()]/li)",
			want:  []string{"1"},
		},
		{
			name:  "stacked predicates",
			query: "(//li)[position() > 1][1]/text()",
			want:  []string{"2"},
		},
		{
			name:  "predicate on a union",
			query: "(//li[@class] | //ul)[last()]/text()",
			want:  []string{"3"},
		},
		{
			name:  "descendant path from a filter",
			query: "(//ul)[1]//li[@class='x'][2]/text()",
			want:  []string{"3"},
		},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := engine.Select(script.LangXPath, tt.query, itemsDoc)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Select() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectXPathCoreLibrary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "arithmetic precedence", query: "1 + 2 * 3 - 4 div 2", want: []string{"5"}},
		{name: "mod keeps the sign of the dividend", query: "-7 mod 3", want: []string{"-1"}},
		{name: "star is multiplication after a number", query: "count(//li) * 2", want: []string{"10"}},
		{name: "division by zero", query: "1 div 0", want: []string{"Infinity"}},
		{name: "not a number", query: "number('x')", want: []string{"NaN"}},
		{name: "sum of node values", query: "sum(//li)", want: []string{"15"}},
		{name: "round half up", query: "concat(round(2.5), ',', round(-2.5), ',', floor(-1.5), ',', ceiling(1.2))", want: []string{"3,-2,-2,2"}},
		{name: "node-set equality holds for any node", query: "//li = '4'", want: []string{"true"}},
		{name: "node-set compared with a number", query: "//li > 4", want: []string{"true"}},
		{name: "empty node-set is never equal", query: "//nope = ''", want: []string{"false"}},
		{name: "and binds tighter than or", query: "true() or false() and false()", want: []string{"true"}},
		{name: "substring rounds its bounds", query: "substring('12345', 1.5, 2.6)", want: []string{"234"}},
		{name: "substring counts characters", query: "substring('héllo', 2, 3)", want: []string{"éll"}},
		{name: "substring-before and after", query: "concat(substring-before('a=b', '='), substring-after('a=b', '='))", want: []string{"ab"}},
		{name: "translate drops unmapped characters", query: "translate('--aaa--', 'a-', 'A')", want: []string{"AAA"}},
		{name: "normalize-space", query: "normalize-space('  a \t b  ')", want: []string{"a b"}},
		{name: "string-length", query: "string-length('héllo')", want: []string{"5"}},
		{name: "starts-with and contains", query: "starts-with('skrob', 'sk') and contains('skrob', 'ro')", want: []string{"true"}},
		{name: "name and local-name", query: "concat(name(//ul), local-name(//li/@class))", want: []string{"ulclass"}},
		{name: "lang matches a subtag", query: "count(//li[lang('en')])", want: []string{"5"}},
		{name: "id selects by id attribute", query: "count(id('list nope')/li)", want: []string{"5"}},
		{name: "comment nodes", query: "//comment()", want: []string{"<!-- gap -->"}},
		{name: "parent axis", query: "name(//li[1]/..)", want: []string{"ul"}},
		{name: "ancestor positions count from the nearest", query: "name(//li[1]/ancestor::*[1])", want: []string{"ul"}},
		{name: "preceding-sibling positions count from the nearest", query: "//li[4]/preceding-sibling::li[1]/text()", want: []string{"3"}},
		{name: "following-sibling", query: "//li[@class='x'][2]/following-sibling::li/text()", want: []string{"4", "5"}},
		{name: "following axis", query: "count(//li[4]/following::li)", want: []string{"1"}},
		{name: "preceding axis", query: "count(//li[4]/preceding::li)", want: []string{"3"}},
		{name: "self and descendant-or-self", query: "count(//ul/self::ul/descendant-or-self::*)", want: []string{"6"}},
		{name: "attribute wildcard", query: "count(//ul/@*)", want: []string{"2"}},
		{name: "union is in document order", query: "(//li[5] | //li[1])/text()", want: []string{"1", "5"}},
		{name: "number literal with leading dot", query: ".5 + .5", want: []string{"1"}},
		{name: "operator names are element names after a slash", query: "count(//div | //mod)", want: []string{"0"}},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := engine.Select(script.LangXPath, tt.query, itemsDoc)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Select() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectXPathTypeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		wantErr error
	}{
		{name: "union of a number", query: "1 | //li", wantErr: ErrType},
		{name: "path from a string", query: "'a'/b", wantErr: ErrType},
		{name: "predicate on a string", query: "('a')[1]", wantErr: ErrType},
		{name: "count of a string", query: "count('a')", wantErr: ErrInvalidArgument},
		{name: "bad regular expression", query: "re:test('a', '(')", wantErr: ErrInvalidArgument},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := engine.Select(script.LangXPath, tt.query, itemsDoc)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Select() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// Every prefix of a valid query is either valid or an error; none of them
// may leave the compiler spinning.
func TestCompileXPathTerminates(t *testing.T) {
	t.Parallel()

	queries := []string{
		"count(split(//item, 2)[last()]/item)",
		"(split(//item, 2))[position()>=2]",
		"string-join(//a[re:test(@href, '^/t/[^/]+/\\d+$')]/@href, '|')",
		"url-unparse(url-parse(//link[@rel='next']/@href))",
		"//*[name()='a' or @x!=1][last()-1]/ancestor-or-self::node()",
	}

	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			t.Parallel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := range len(q) + 1 {
					_, _ = compileXPath(q[:i])
				}
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatalf("compiling prefixes of %q did not finish", q)
			}
			if _, err := compileXPath(q); err != nil {
				t.Errorf("compileXPath(%q) error = %v", q, err)
			}
		})
	}
}

func TestURLParseRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		locator string
	}{
		{name: "space escaped as %20 in the query", locator: "http://h/p?q=a%20b"},
		{name: "plus in the query", locator: "http://h/p?q=a+b"},
		{name: "escaped reserved characters", locator: "https://example.com/s?q=%26%3D%3F&x=1"},
		{name: "escaped slash in the path", locator: "https://example.com/a%2Fb/c"},
		{name: "escaped fragment", locator: "https://example.com/p#a%20b"},
		{name: "repeated keys keep their order", locator: "https://example.com/?b=2&a=1&b=3"},
		{name: "ipv6 host", locator: "http://[::1]:8080/x"},
		{name: "no query", locator: "https://example.com/"},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			query := fmt.Sprintf("url-unparse(url-parse('%s'))", tt.locator)
			got, err := engine.Select(script.LangXPath, query, page)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if diff := cmp.Diff([]string{tt.locator}, got); diff != "" {
				t.Errorf("url-unparse(url-parse()) mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestURLUnparseBuiltElement(t *testing.T) {
	t.Parallel()

	const text = `<url><scheme>https</scheme><host>example.com</host><path>/a b</path>` +
		`<query><q>x&amp;y</q><n>1</n></query></url>`
	got, err := NewEngine().Select(script.LangXPath, "url-unparse(//url)", text)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	want := []string{"https://example.com/a%20b?q=x%26y&n=1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("url-unparse() mismatch (-want +got):\n%s", diff)
	}
}
