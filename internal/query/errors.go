package query

import (
	"errors"
	"fmt"

	"github.com/nao1215/skrob/internal/script"
)

var (
	// ErrUnknownLang is returned for a query language the engine does not know.
	ErrUnknownLang = errors.New("unknown query language")

	// ErrEmptySelector is returned when a comma-separated CSS group is empty.
	ErrEmptySelector = errors.New("empty selector")

	// ErrInvalidArgument is returned by extension functions called with
	// arguments of the wrong type or range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedXPath is returned for an XPath expression that does not
	// parse.
	ErrMalformedXPath = errors.New("malformed xpath expression")

	// ErrUnknownFunction is returned for a call to a function that is neither
	// in the XPath 1.0 library nor one of the extensions.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrType is returned when an operator that needs a node-set gets another
	// value, as in "1 | //a" or "'x'/a".
	ErrType = errors.New("type error")
)

// QueryError reports a query that could not be compiled or evaluated.
type QueryError struct {
	Lang  script.Lang
	Query string
	Err   error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query %q: %v", e.Lang, e.Query, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}
