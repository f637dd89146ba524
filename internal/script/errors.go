package script

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyScript is wrapped by the SyntaxError returned for a script
	// that contains no commands.
	ErrEmptyScript = errors.New("script contains no commands")

	// ErrInvalidDelimiter is returned when the XPath delimiter collides with
	// a structural token or is whitespace.
	ErrInvalidDelimiter = errors.New("invalid XPath delimiter")
)

// SyntaxError reports a script that does not match the grammar.
// Line and Col are 1-based; Offset is the byte offset into the script.
type SyntaxError struct {
	Offset int
	Line   int
	Col    int
	Msg    string
	Err    error
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Line, e.Col, e.Msg)
}

// Unwrap returns the sentinel error wrapped by e, if any.
func (e *SyntaxError) Unwrap() error {
	return e.Err
}
