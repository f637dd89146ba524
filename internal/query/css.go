package query

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// pseudo is the pseudo-element at the end of a selector.
type pseudo int

const (
	pseudoNone pseudo = iota
	pseudoText
	pseudoAttr
)

// attrPseudo matches a trailing ::attr(name) pseudo-element.
var attrPseudo = regexp.MustCompile(`::attr\(\s*([^)]*?)\s*\)\s*$`)

// cssPart is one comma-separated selector of a query.
type cssPart struct {
	matcher cascadia.Selector
	pseudo  pseudo
	attr    string
}

// cssQuery is a compiled CSS query.
type cssQuery struct {
	parts []cssPart
}

// compileCSS compiles a selector group. cascadia does not know the ::text
// and ::attr() pseudo-elements, so they are stripped from each selector and
// applied after matching.
func compileCSS(query string) (*cssQuery, error) {
	groups := splitSelectorGroup(query)
	q := &cssQuery{parts: make([]cssPart, 0, len(groups))}

	for _, group := range groups {
		group = strings.TrimSpace(group)
		if group == "" {
			return nil, ErrEmptySelector
		}

		var part cssPart
		if strings.HasSuffix(group, "::text") {
			part.pseudo = pseudoText
			group = strings.TrimSpace(strings.TrimSuffix(group, "::text"))
		} else if m := attrPseudo.FindStringSubmatchIndex(group); m != nil {
			part.pseudo = pseudoAttr
			part.attr = strings.ToLower(strings.Trim(group[m[2]:m[3]], `"'`))
			group = strings.TrimSpace(group[:m[0]])
		}
		if group == "" {
			group = "*"
		}

		matcher, err := cascadia.Compile(group)
		if err != nil {
			return nil, err
		}
		part.matcher = matcher
		q.parts = append(q.parts, part)
	}
	return q, nil
}

// splitSelectorGroup splits a query on the commas that separate selectors,
// ignoring commas inside brackets, parentheses and quotes.
func splitSelectorGroup(query string) []string {
	var (
		groups []string
		depth  int
		quote  byte
		start  int
	)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\\':
			i++
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ',' && depth == 0:
			groups = append(groups, query[start:i])
			start = i + 1
		}
	}
	return append(groups, query[start:])
}

// cssHit is one match before serialization.
type cssHit struct {
	node  *html.Node
	attr  string
	value string
	kind  pseudo
	order int
}

type hitKey struct {
	node *html.Node
	attr string
}

// selectFrom returns the matches of every selector merged in document order.
// A node matched by several selectors is reported once.
func (q *cssQuery) selectFrom(doc *document) ([]string, error) {
	order := documentOrder(doc.root)
	root := goquery.NewDocumentFromNode(doc.root)

	hits := make([]cssHit, 0)
	seen := make(map[hitKey]bool)
	add := func(h cssHit) {
		key := hitKey{node: h.node, attr: h.attr}
		if seen[key] {
			return
		}
		seen[key] = true
		hits = append(hits, h)
	}

	for _, part := range q.parts {
		root.FindMatcher(part.matcher).Each(func(_ int, s *goquery.Selection) {
			n := s.Get(0)
			switch part.pseudo {
			case pseudoText:
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.TextNode {
						add(cssHit{node: c, value: c.Data, kind: pseudoText, order: order[c]})
					}
				}
			case pseudoAttr:
				if v, ok := s.Attr(part.attr); ok {
					add(cssHit{node: n, attr: part.attr, value: v, kind: pseudoAttr, order: order[n]})
				}
			default:
				add(cssHit{node: n, kind: pseudoNone, order: order[n]})
			}
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].order < hits[j].order
	})

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.kind != pseudoNone {
			out = append(out, h.value)
			continue
		}
		s, err := doc.render(h.node)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// documentOrder numbers every node of the tree in pre-order.
func documentOrder(root *html.Node) map[*html.Node]int {
	order := make(map[*html.Node]int)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		order[n] = len(order)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return order
}
