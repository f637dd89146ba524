package config

import (
	"fmt"
	"math"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/adrg/xdg"

	"github.com/nao1215/skrob/internal/script"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "skrob"

	// DefaultMaxConnections is the cap on simultaneous connections of a run.
	DefaultMaxConnections = 100

	// DefaultMaxConnectionsPerHost is the cap on simultaneous connections to
	// one host. It keeps a crawl from hammering a single site even when the
	// script discovers hundreds of its pages in one round.
	DefaultMaxConnectionsPerHost = 4

	// DefaultMaxBodySize limits the response body size read per fetch.
	// JSON APIs return large documents, so this is more generous than a
	// typical HTML page needs.
	DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB

	// DefaultDelimiter wraps XPath queries in scripts.
	DefaultDelimiter = '`'

	// DefaultLogFormat is the log output format.
	DefaultLogFormat = "text"

	// DatabaseFile is the file name of the run archive inside ArchiveDir.
	DatabaseFile = "skrob.db"
)

// Config holds all configuration options for a skrob run.
// It is populated from the configuration file and CLI flags and passed
// through the application rather than kept in global state.
//
// Design decision: We use a single flat struct instead of nested structs.
// The number of options is small, and every one of them ends up as a
// single option of the fetcher or the interpreter.
type Config struct {
	// MaxConnections caps simultaneous connections across the run.
	MaxConnections int

	// MaxConnectionsPerHost caps simultaneous connections to one host.
	MaxConnectionsPerHost int

	// ConnectTimeout bounds connection setup of each fetch. Zero disables it.
	ConnectTimeout time.Duration

	// TotalTimeout bounds each fetch from start to last byte. Zero disables it.
	// A timeout fails only the fetch it bounds.
	TotalTimeout time.Duration

	// Headers are sent with every request. Per-site headers from the
	// configuration file take precedence.
	Headers map[string]string

	// CookieFile is a Netscape cookie file loaded before the run and saved
	// after it. Empty means cookies live only for the run.
	CookieFile string

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes to read.
	// Set to 0 to use the default.
	MaxBodySize int64

	// RequestsPerSecond limits the request rate of the run. Zero means no
	// limit.
	RequestsPerSecond float64

	// Proxy is an optional SOCKS5 proxy in "host:port" form.
	Proxy string

	// Delimiter wraps XPath queries in scripts.
	Delimiter rune

	// Archive enables recording the run in the SQLite archive.
	Archive bool

	// ArchiveDir is the directory holding the archive database.
	// Defaults to the XDG data directory (~/.local/share/skrob on Linux).
	ArchiveDir string

	// Verbose enables debug logging. When false, only warnings and errors
	// are logged.
	Verbose bool

	// LogFormat is "text" or "json".
	LogFormat string

	// ConfigFilePath is the path to the configuration file.
	// If empty, .skrob is searched in the current directory and then in
	// the user's home directory.
	ConfigFilePath string

	// Sites holds the per-host settings of the configuration file.
	Sites map[string]SiteConfig
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because several defaults are non-zero. This also serves as
// documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		MaxConnections:        DefaultMaxConnections,
		MaxConnectionsPerHost: DefaultMaxConnectionsPerHost,
		UserAgent:             AppName,
		MaxBodySize:           DefaultMaxBodySize,
		Delimiter:             DefaultDelimiter,
		ArchiveDir:            XDGDataDir(),
		LogFormat:             DefaultLogFormat,
		Headers:               make(map[string]string),
		Sites:                 make(map[string]SiteConfig),
	}
}

// XDGDataDir returns the XDG data directory for skrob.
// On Linux: ~/.local/share/skrob
// On macOS: ~/Library/Application Support/skrob
// On Windows: %LOCALAPPDATA%\skrob
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// DatabasePath returns the path of the archive database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ArchiveDir, DatabaseFile)
}

// Validate checks if the configuration is valid.
// It returns the first problem found as one of the sentinel errors.
//
// Design decision: We validate once, after the configuration file and the
// flags have been merged, so every error surfaces before any network
// activity.
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return ErrInvalidMaxConnections
	}
	if c.MaxConnectionsPerHost <= 0 {
		return ErrInvalidMaxConnectionsPerHost
	}
	if c.ConnectTimeout < 0 || c.TotalTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.RequestsPerSecond < 0 {
		return ErrInvalidRate
	}
	if !script.ValidDelimiter(c.Delimiter) {
		return ErrInvalidDelimiter
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return ErrInvalidLogFormat
	}
	return nil
}

// maxSeconds is the largest number of seconds a time.Duration holds.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// ParseDuration parses a timeout given either as a number of seconds, which
// may be fractional ("2.5"), or as a Go duration ("2500ms").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || math.Abs(secs) > maxSeconds {
			return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidDuration, s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return d, nil
}

// ParseHeader splits a "Name: value" header. The name is canonicalized.
func ParseHeader(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHeader, s)
	}
	return textproto.CanonicalMIMEHeaderKey(name), strings.TrimSpace(value), nil
}

// ParseDelimiter returns the single character of s.
func ParseDelimiter(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelimiter, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if !script.ValidDelimiter(r) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelimiter, s)
	}
	return r, nil
}
