package fetch

import (
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeBody converts body to UTF-8. The encoding comes from a byte order
// mark, the Content-Type header or a meta tag. Without a certain answer a
// body that is valid UTF-8 is taken as is.
func decodeBody(body []byte, contentType string) string {
	enc, _, certain := charset.DetermineEncoding(body, contentType)
	if isUTF8(enc) || (!certain && utf8.Valid(body)) {
		return string(body)
	}

	decoded, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

func isUTF8(enc encoding.Encoding) bool {
	return enc == encoding.Nop || enc == unicode.UTF8
}
