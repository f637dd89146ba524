package interp

import (
	"errors"
	"fmt"
)

// ErrNoLocators is returned by RunLocators when no start locator is given.
var ErrNoLocators = errors.New("no start locators")

// OutputWriteError reports a stream that refused a write, typically because
// the reader on the other end went away.
type OutputWriteError struct {
	Stream string
	Err    error
}

// Error implements the error interface.
func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("write to %s: %v", e.Stream, e.Err)
}

// Unwrap returns the underlying error.
func (e *OutputWriteError) Unwrap() error {
	return e.Err
}
