package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and by the parsing helpers,
// and provide specific information about what is wrong with the
// configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrInvalidMaxConnections is returned when the total connection cap is
	// not positive.
	ErrInvalidMaxConnections = errors.New("invalid max connections: must be positive")

	// ErrInvalidMaxConnectionsPerHost is returned when the per-host
	// connection cap is not positive.
	ErrInvalidMaxConnectionsPerHost = errors.New("invalid max connections per host: must be positive")

	// ErrInvalidTimeout is returned when a timeout is negative.
	// Zero disables the timeout.
	ErrInvalidTimeout = errors.New("invalid timeout: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	// Use 0 to use the default limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidRate is returned when the request rate is negative.
	// Use 0 for no rate limit.
	ErrInvalidRate = errors.New("invalid rate: must be non-negative")

	// ErrInvalidDelimiter is returned when the XPath delimiter is a
	// structural token, whitespace, or not a single character.
	ErrInvalidDelimiter = errors.New("invalid delimiter: must be a single character that is not whitespace or one of { } ; - > ! \\")

	// ErrInvalidLogFormat is returned when the log format is neither text
	// nor json.
	ErrInvalidLogFormat = errors.New("invalid log format: must be text or json")

	// ErrInvalidHeader is returned when a header is not in "Name: value"
	// form.
	ErrInvalidHeader = errors.New(`invalid header: must be "Name: value"`)

	// ErrInvalidDuration is returned when a duration is neither a number of
	// seconds nor a Go duration string.
	ErrInvalidDuration = errors.New("invalid duration: use seconds (1.5) or a duration (1500ms)")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")
)
