package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedScheme is returned for locators that are not http or https.
	ErrUnsupportedScheme = errors.New("unsupported locator scheme")

	// ErrIgnoredLocator is returned for locators matching an ignore pattern
	// of their site.
	ErrIgnoredLocator = errors.New("locator matches an ignore pattern")

	// ErrInvalidProxyAddress is returned when the proxy is not "host:port".
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrNotJSON is returned by NormalizeJSON for text that is not a JSON
	// object or array.
	ErrNotJSON = errors.New("not a JSON object or array")

	// ErrInvalidCookieFile is returned for a malformed line in a cookie file.
	ErrInvalidCookieFile = errors.New("invalid cookie file")
)

// FetchError reports a locator that could not be fetched. StatusCode is set
// when the failure happened after a response arrived.
type FetchError struct {
	Locator    string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (status %d): %v", e.Locator, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Locator, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}
