package fetch

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/buger/jsonparser"
)

const xmlProlog = `<?xml version="1.0" encoding="UTF-8" ?>`

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	`"`, "&quot;",
	"'", "&apos;",
	"<", "&lt;",
	">", "&gt;",
)

// looksLikeJSON is a cheap test run before NormalizeJSON on every body.
func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n\ufeff")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// NormalizeJSON converts a JSON object or array into XML text. Every value
// becomes an element carrying its JSON type:
//
//	{"id": 1, "tags": ["a"]}
//
// becomes
//
//	<?xml version="1.0" encoding="UTF-8" ?><root><id type="int">1</id><tags type="list"><item type="str">a</item></tags></root>
//
// Keys that are not valid element names are rewritten: a leading digit gets
// an "n" prefix, spaces become underscores, and anything still invalid is
// emitted as <key name="...">.
func NormalizeJSON(body []byte) (string, error) {
	body = bytes.TrimPrefix(bytes.TrimSpace(body), []byte("\ufeff"))
	// jsonparser skips over nested values without validating them.
	if !looksLikeJSON(body) || !json.Valid(body) {
		return "", ErrNotJSON
	}

	value, dataType, _, err := jsonparser.Get(body)
	if err != nil {
		return "", ErrNotJSON
	}

	var b strings.Builder
	b.WriteString(xmlProlog)
	b.WriteString("<root>")
	if err := writeJSONChildren(&b, value, dataType); err != nil {
		return "", err
	}
	b.WriteString("</root>")
	return b.String(), nil
}

// writeJSONChildren writes the members of an object or the items of an
// array.
func writeJSONChildren(b *strings.Builder, value []byte, dataType jsonparser.ValueType) error {
	switch dataType {
	case jsonparser.Object:
		// ObjectEach hands out keys already unescaped.
		return jsonparser.ObjectEach(value, func(key, v []byte, t jsonparser.ValueType, _ int) error {
			return writeJSONValue(b, string(key), v, t)
		})
	case jsonparser.Array:
		var itemErr error
		_, err := jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, err error) {
			if itemErr != nil {
				return
			}
			if err != nil {
				itemErr = err
				return
			}
			itemErr = writeJSONValue(b, "item", v, t)
		})
		if err != nil {
			return err
		}
		return itemErr
	}
	return nil
}

func writeJSONValue(b *strings.Builder, key string, value []byte, dataType jsonparser.ValueType) error {
	name, renamed := elementName(key)

	var (
		typ  string
		text string
	)
	switch dataType {
	case jsonparser.Object:
		typ = "dict"
	case jsonparser.Array:
		typ = "list"
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return err
		}
		typ, text = "str", s
	case jsonparser.Number:
		typ, text = "int", string(value)
		if bytes.ContainsAny(value, ".eE") {
			typ = "float"
		}
	case jsonparser.Boolean:
		typ, text = "bool", string(value)
	case jsonparser.Null:
		typ = "null"
	default:
		return ErrNotJSON
	}

	b.WriteByte('<')
	b.WriteString(name)
	if renamed {
		b.WriteString(` name="`)
		xmlEscaper.WriteString(b, key) //nolint:errcheck // strings.Builder never fails
		b.WriteByte('"')
	}
	b.WriteString(` type="`)
	b.WriteString(typ)
	b.WriteString(`">`)

	if dataType == jsonparser.Object || dataType == jsonparser.Array {
		if err := writeJSONChildren(b, value, dataType); err != nil {
			return err
		}
	} else {
		xmlEscaper.WriteString(b, text) //nolint:errcheck // strings.Builder never fails
	}

	b.WriteString("</")
	b.WriteString(name)
	b.WriteByte('>')
	return nil
}

// elementName returns the element name for a JSON key. renamed is true
// when the key cannot be made a valid name and has to be carried in a name
// attribute instead.
func elementName(key string) (name string, renamed bool) {
	name = strings.ReplaceAll(key, " ", "_")
	if r, _ := utf8.DecodeRuneInString(name); unicode.IsDigit(r) {
		name = "n" + name
	}
	if validName(name) {
		return name, false
	}
	return "key", true
}

// validName reports whether s is an XML name without a namespace prefix and
// without the reserved xml prefix.
func validName(s string) bool {
	if s == "" || strings.HasPrefix(strings.ToLower(s), "xml") {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r)):
		default:
			return false
		}
	}
	return true
}
