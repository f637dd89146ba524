// Package query evaluates CSS and XPath queries against text payloads.
//
// Every payload is parsed as markup before evaluation. HTML goes through
// golang.org/x/net/html; text that starts with an XML prolog (which is what
// the fetcher produces for JSON bodies) is parsed as XML into the same node
// type, so one set of selectors covers both.
//
// CSS queries are matched with goquery and cascadia and accept two
// pseudo-elements at the end of each comma-separated selector:
//
//	a::text        the text children of every a element
//	a::attr(href)  the href attribute of every a element
//
// XPath queries are full XPath 1.0 expressions, evaluated directly over the
// parsed node tree. Predicates apply to any node-set expression, so
// (//item)[last()] and split(//item, 2)[1] both work. Each evaluation binds
// its own table of extension functions (string-join, node-join, split,
// url-join, url-parse, url-unparse and EXSLT re:replace, re:test, re:match);
// nothing is registered globally, so concurrent evaluations never see each
// other's state.
package query
