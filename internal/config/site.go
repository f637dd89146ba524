package config

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SiteConfig holds the settings applied to requests for one host.
type SiteConfig struct {
	// Cookie is sent with every request to the host.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are added to every request to the host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// IgnorePatterns are glob patterns matched against the URL path.
	// Matching locators are refused instead of fetched.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`
}

// Duration is a time.Duration that unmarshals from YAML either as a number
// of seconds or as a Go duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Defaults is the defaults section of the configuration file. Its site
// fields apply to every host; the others set run-wide options.
type Defaults struct {
	SiteConfig `yaml:",inline"`

	UserAgent             string   `yaml:"user-agent,omitempty"`
	MaxConnections        int      `yaml:"max-connections,omitempty"`
	MaxConnectionsPerHost int      `yaml:"max-connections-per-host,omitempty"`
	ConnectTimeout        Duration `yaml:"connect-timeout,omitempty"`
	TotalTimeout          Duration `yaml:"total-timeout,omitempty"`
	Rate                  float64  `yaml:"rate,omitempty"`
	Delimiter             string   `yaml:"delimiter,omitempty"`
	Proxy                 string   `yaml:"proxy,omitempty"`
}

// File represents the structure of the .skrob configuration file.
type File struct {
	// Defaults apply to the whole run unless a flag overrides them.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Sites maps host names to their settings.
	// Keys are host names without scheme or port (e.g., "example.com").
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`
}

// Apply copies the values set in the file into c. Values left out of the
// file keep what c already holds, so callers apply flags afterwards to let
// them win.
func (cf *File) Apply(c *Config) error {
	d := cf.Defaults
	if d.UserAgent != "" {
		c.UserAgent = d.UserAgent
	}
	if d.MaxConnections != 0 {
		c.MaxConnections = d.MaxConnections
	}
	if d.MaxConnectionsPerHost != 0 {
		c.MaxConnectionsPerHost = d.MaxConnectionsPerHost
	}
	if d.ConnectTimeout != 0 {
		c.ConnectTimeout = time.Duration(d.ConnectTimeout)
	}
	if d.TotalTimeout != 0 {
		c.TotalTimeout = time.Duration(d.TotalTimeout)
	}
	if d.Rate != 0 {
		c.RequestsPerSecond = d.Rate
	}
	if d.Proxy != "" {
		c.Proxy = d.Proxy
	}
	if d.Delimiter != "" {
		delim, err := ParseDelimiter(d.Delimiter)
		if err != nil {
			return err
		}
		c.Delimiter = delim
	}

	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	for k, v := range d.Headers {
		c.Headers[k] = v
	}

	if c.Sites == nil {
		c.Sites = make(map[string]SiteConfig)
	}
	// The default cookie and ignore patterns apply to every host; they
	// travel with the sites under the empty host name.
	if d.Cookie != "" || len(d.IgnorePatterns) > 0 {
		c.Sites[""] = SiteConfig{Cookie: d.Cookie, IgnorePatterns: d.IgnorePatterns}
	}
	for host, site := range cf.Sites {
		c.Sites[strings.ToLower(host)] = site
	}
	return nil
}
