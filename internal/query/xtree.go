package query

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// xnode is a node as XPath sees it: an html.Node, or the attribute of an
// element at index attr. It is comparable, so node-sets deduplicate with a
// map.
type xnode struct {
	node *html.Node
	attr int
}

// nodeSet is an XPath node-set. Evaluation keeps it in document order.
type nodeSet []xnode

func elementNode(n *html.Node) xnode {
	return xnode{node: n, attr: -1}
}

func (x xnode) isAttr() bool {
	return x.attr >= 0
}

// isTreeNode reports whether n is visible to XPath. Doctypes are not.
func isTreeNode(n *html.Node) bool {
	switch n.Type {
	case html.DocumentNode, html.ElementNode, html.TextNode, html.CommentNode:
		return true
	default:
		return false
	}
}

// name returns the qualified name of an element or attribute, and "" for
// any other node.
func (x xnode) name() string {
	if x.isAttr() {
		a := x.node.Attr[x.attr]
		if a.Namespace != "" {
			return a.Namespace + ":" + a.Key
		}
		return a.Key
	}
	if x.node.Type == html.ElementNode {
		return x.node.Data
	}
	return ""
}

func (x xnode) localName() string {
	name := x.name()
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// stringValue returns the XPath string value of the node.
func (x xnode) stringValue() string {
	if x.isAttr() {
		return x.node.Attr[x.attr].Val
	}
	switch x.node.Type {
	case html.TextNode, html.CommentNode:
		return x.node.Data
	default:
		return textContent(x.node)
	}
}

func (x xnode) parent() (xnode, bool) {
	if x.isAttr() {
		return elementNode(x.node), true
	}
	if x.node.Parent == nil {
		return xnode{}, false
	}
	return elementNode(x.node.Parent), true
}

func (x xnode) root() xnode {
	n := x.node
	for n.Parent != nil {
		n = n.Parent
	}
	return elementNode(n)
}

func (x xnode) children() []xnode {
	if x.isAttr() {
		return nil
	}
	var out []xnode
	for c := x.node.FirstChild; c != nil; c = c.NextSibling {
		if isTreeNode(c) {
			out = append(out, elementNode(c))
		}
	}
	return out
}

func (x xnode) attributes() []xnode {
	if x.isAttr() || x.node.Type != html.ElementNode {
		return nil
	}
	out := make([]xnode, len(x.node.Attr))
	for i := range x.node.Attr {
		out[i] = xnode{node: x.node, attr: i}
	}
	return out
}

func (x xnode) descendants(out []xnode) []xnode {
	for _, c := range x.children() {
		out = append(out, c)
		out = c.descendants(out)
	}
	return out
}

// isAncestorOf reports whether x is a proper ancestor of y.
func (x xnode) isAncestorOf(y xnode) bool {
	if x.isAttr() {
		return false
	}
	p, ok := y.parent()
	for ok {
		if p == x {
			return true
		}
		p, ok = p.parent()
	}
	return false
}

// axis identifies an XPath axis.
type axis int

const (
	axisChild axis = iota
	axisDescendant
	axisDescendantOrSelf
	axisParent
	axisAncestor
	axisAncestorOrSelf
	axisFollowingSibling
	axisPrecedingSibling
	axisFollowing
	axisPreceding
	axisAttribute
	axisSelf
	axisNamespace
)

var axisNames = map[string]axis{
	"child":              axisChild,
	"descendant":         axisDescendant,
	"descendant-or-self": axisDescendantOrSelf,
	"parent":             axisParent,
	"ancestor":           axisAncestor,
	"ancestor-or-self":   axisAncestorOrSelf,
	"following-sibling":  axisFollowingSibling,
	"preceding-sibling":  axisPrecedingSibling,
	"following":          axisFollowing,
	"preceding":          axisPreceding,
	"attribute":          axisAttribute,
	"self":               axisSelf,
	"namespace":          axisNamespace,
}

// walk returns the nodes on axis a from x, in axis order: on the reverse
// axes (ancestor, ancestor-or-self, preceding, preceding-sibling) the
// nearest node comes first.
func (ev *evaluation) walk(a axis, x xnode) []xnode {
	switch a {
	case axisChild:
		return x.children()
	case axisDescendant:
		return x.descendants(nil)
	case axisDescendantOrSelf:
		return x.descendants([]xnode{x})
	case axisParent:
		if p, ok := x.parent(); ok {
			return []xnode{p}
		}
		return nil
	case axisAncestor, axisAncestorOrSelf:
		var out []xnode
		if a == axisAncestorOrSelf {
			out = append(out, x)
		}
		for p, ok := x.parent(); ok; p, ok = p.parent() {
			out = append(out, p)
		}
		return out
	case axisFollowingSibling, axisPrecedingSibling:
		if x.isAttr() {
			return nil
		}
		var out []xnode
		for s := sibling(x.node, a == axisFollowingSibling); s != nil; s = sibling(s, a == axisFollowingSibling) {
			if isTreeNode(s) {
				out = append(out, elementNode(s))
			}
		}
		return out
	case axisFollowing, axisPreceding:
		return ev.outside(a, x)
	case axisAttribute:
		return x.attributes()
	case axisSelf:
		return []xnode{x}
	default:
		return nil
	}
}

func sibling(n *html.Node, next bool) *html.Node {
	if next {
		return n.NextSibling
	}
	return n.PrevSibling
}

// outside returns the following or preceding nodes of x: every node of its
// tree after (or before) it in document order, minus attributes and minus
// its descendants (or ancestors). Preceding nodes come nearest first.
func (ev *evaluation) outside(a axis, x xnode) []xnode {
	all := x.root().descendants(nil)
	pos := ev.order(x)

	var out []xnode
	for _, n := range all {
		p := ev.order(n)
		switch {
		case a == axisFollowing && p > pos && !x.isAncestorOf(n):
			out = append(out, n)
		case a == axisPreceding && p < pos && !n.isAncestorOf(x):
			out = append(out, n)
		}
	}
	if a == axisPreceding {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// order returns the position of x in document order. Trees are numbered
// the first time one of their nodes is asked for, so synthetic trees built
// during the evaluation get positions after every tree seen before.
func (ev *evaluation) order(x xnode) int {
	if pos, ok := ev.positions[x]; ok {
		return pos
	}
	var number func(n *html.Node)
	number = func(n *html.Node) {
		ev.positions[elementNode(n)] = len(ev.positions)
		for i := range n.Attr {
			ev.positions[xnode{node: n, attr: i}] = len(ev.positions)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if isTreeNode(c) {
				number(c)
			}
		}
	}
	number(x.root().node)
	return ev.positions[x]
}

// sortNodes deduplicates ns and sorts it into document order.
func (ev *evaluation) sortNodes(ns nodeSet) nodeSet {
	seen := make(map[xnode]bool, len(ns))
	out := ns[:0:0]
	for _, n := range ns {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return ev.order(out[i]) < ev.order(out[j])
	})
	return out
}

// attach places detached synthetic nodes as siblings under a fresh document
// node, so that every axis from them still ends at a root.
func attach(nodes ...*html.Node) nodeSet {
	holder := &html.Node{Type: html.DocumentNode}
	out := make(nodeSet, 0, len(nodes))
	for _, n := range nodes {
		holder.AppendChild(n)
		out = append(out, elementNode(n))
	}
	return out
}
