package query

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// document is a parsed payload.
type document struct {
	// root is the document node.
	root *html.Node

	// xml is true when the payload had an XML prolog and was parsed as XML.
	// Such documents are also serialized as XML so that element names like
	// link or img keep their children.
	xml bool
}

// parseDocument parses text as XML when it starts with an XML prolog and as
// HTML otherwise. Malformed XML falls back to the HTML parser.
func parseDocument(text string) (*document, error) {
	if hasXMLProlog(text) {
		if root, err := parseXML(text); err == nil {
			return &document{root: root, xml: true}, nil
		}
	}

	root, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	return &document{root: root}, nil
}

func hasXMLProlog(text string) bool {
	return strings.HasPrefix(strings.TrimLeft(text, " \t\r\n\ufeff"), "<?xml")
}

// parseXML builds an html.Node tree from XML text. Element and attribute
// names are lowercased, matching what the HTML parser does, so the same CSS
// selectors work on both.
func parseXML(text string) (*html.Node, error) {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity
	// The payload is already decoded to UTF-8 whatever the prolog claims.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	root := &html.Node{Type: html.DocumentNode}
	cur := root
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &html.Node{Type: html.ElementNode, Data: strings.ToLower(t.Name.Local)}
			for _, a := range t.Attr {
				n.Attr = append(n.Attr, html.Attribute{Key: strings.ToLower(a.Name.Local), Val: a.Value})
			}
			cur.AppendChild(n)
			cur = n
		case xml.EndElement:
			if cur != root {
				cur = cur.Parent
			}
		case xml.CharData:
			if cur == root && strings.TrimSpace(string(t)) == "" {
				continue
			}
			if last := cur.LastChild; last != nil && last.Type == html.TextNode {
				last.Data += string(t)
				continue
			}
			cur.AppendChild(&html.Node{Type: html.TextNode, Data: string(t)})
		case xml.Comment:
			cur.AppendChild(&html.Node{Type: html.CommentNode, Data: string(t)})
		}
	}
	return root, nil
}

// render serializes n and its descendants.
func (d *document) render(n *html.Node) (string, error) {
	var b strings.Builder
	if d.xml {
		writeXML(&b, n)
		return b.String(), nil
	}
	if err := html.Render(&b, n); err != nil {
		return "", err
	}
	return b.String(), nil
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

func writeXML(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeXML(b, c)
		}
	case html.ElementNode:
		b.WriteByte('<')
		b.WriteString(n.Data)
		for _, a := range n.Attr {
			b.WriteByte(' ')
			b.WriteString(a.Key)
			b.WriteString(`="`)
			attrEscaper.WriteString(b, a.Val) //nolint:errcheck // strings.Builder never fails
			b.WriteByte('"')
		}
		b.WriteByte('>')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeXML(b, c)
		}
		b.WriteString("</")
		b.WriteString(n.Data)
		b.WriteByte('>')
	case html.TextNode:
		textEscaper.WriteString(b, n.Data) //nolint:errcheck // strings.Builder never fails
	case html.CommentNode:
		b.WriteString("<!--")
		b.WriteString(n.Data)
		b.WriteString("-->")
	}
}

// textContent concatenates the text descendants of n.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				b.WriteString(c.Data)
			case html.ElementNode, html.DocumentNode:
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

// cloneNode returns a detached deep copy of n.
func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}

// newElement returns a detached element named name holding children.
func newElement(name string, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: name}
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}

// newTextElement returns an element holding a single text node, or no
// children at all when text is empty.
func newTextElement(name, text string) *html.Node {
	if text == "" {
		return newElement(name)
	}
	return newElement(name, &html.Node{Type: html.TextNode, Data: text})
}
