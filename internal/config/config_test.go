package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestNewConfig verifies that NewConfig returns a Config with all expected default values.
// Changes to defaults must be intentional: this test fails when one moves.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	t.Run("default MaxConnections is 100", func(t *testing.T) {
		t.Parallel()
		if cfg.MaxConnections != 100 {
			t.Errorf("expected MaxConnections to be 100, got %d", cfg.MaxConnections)
		}
	})

	t.Run("default MaxConnectionsPerHost is 4", func(t *testing.T) {
		t.Parallel()
		if cfg.MaxConnectionsPerHost != 4 {
			t.Errorf("expected MaxConnectionsPerHost to be 4, got %d", cfg.MaxConnectionsPerHost)
		}
	})

	t.Run("timeouts are disabled by default", func(t *testing.T) {
		t.Parallel()
		if cfg.ConnectTimeout != 0 || cfg.TotalTimeout != 0 {
			t.Errorf("expected no timeouts, got connect=%v total=%v", cfg.ConnectTimeout, cfg.TotalTimeout)
		}
	})

	t.Run("default delimiter is a backtick", func(t *testing.T) {
		t.Parallel()
		if cfg.Delimiter != '`' {
			t.Errorf("expected Delimiter to be '`', got %q", cfg.Delimiter)
		}
	})

	t.Run("archive is off and lives in the XDG data directory", func(t *testing.T) {
		t.Parallel()
		if cfg.Archive {
			t.Error("expected Archive to be false")
		}
		if cfg.ArchiveDir != XDGDataDir() {
			t.Errorf("expected ArchiveDir %q, got %q", XDGDataDir(), cfg.ArchiveDir)
		}
		if filepath.Base(cfg.DatabasePath()) != "skrob.db" {
			t.Errorf("unexpected database path %q", cfg.DatabasePath())
		}
	})

	t.Run("default config is valid", func(t *testing.T) {
		t.Parallel()
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected default config to be valid, got %v", err)
		}
	})
}

// TestConfigValidate tests the Validate method with various configurations.
// Each test case breaks one validation rule.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{name: "zero max connections", modify: func(c *Config) { c.MaxConnections = 0 }, want: ErrInvalidMaxConnections},
		{name: "negative max connections per host", modify: func(c *Config) { c.MaxConnectionsPerHost = -1 }, want: ErrInvalidMaxConnectionsPerHost},
		{name: "negative connect timeout", modify: func(c *Config) { c.ConnectTimeout = -time.Second }, want: ErrInvalidTimeout},
		{name: "negative total timeout", modify: func(c *Config) { c.TotalTimeout = -time.Second }, want: ErrInvalidTimeout},
		{name: "negative max body size", modify: func(c *Config) { c.MaxBodySize = -1 }, want: ErrInvalidMaxBodySize},
		{name: "negative rate", modify: func(c *Config) { c.RequestsPerSecond = -0.5 }, want: ErrInvalidRate},
		{name: "structural delimiter", modify: func(c *Config) { c.Delimiter = ';' }, want: ErrInvalidDelimiter},
		{name: "whitespace delimiter", modify: func(c *Config) { c.Delimiter = ' ' }, want: ErrInvalidDelimiter},
		{name: "unknown log format", modify: func(c *Config) { c.LogFormat = "xml" }, want: ErrInvalidLogFormat},
		{name: "zero max body size uses the default", modify: func(c *Config) { c.MaxBodySize = 0 }, want: nil},
		{name: "alternative delimiter", modify: func(c *Config) { c.Delimiter = '|' }, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "0", want: 0},
		{in: "2", want: 2 * time.Second},
		{in: "1.5", want: 1500 * time.Millisecond},
		{in: " 250ms ", want: 250 * time.Millisecond},
		{in: "1m30s", want: 90 * time.Second},
		{in: "soon", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "Inf", wantErr: true},
		{in: "-Inf", wantErr: true},
		{in: "1e30", wantErr: true},
		{in: "1e400", wantErr: true},
		{in: "9223372037", wantErr: true},
		{in: "9223372036", want: 9223372036 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDuration) {
					t.Errorf("ParseDuration(%q) error = %v, want ErrInvalidDuration", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in        string
		wantName  string
		wantValue string
		wantErr   bool
	}{
		{in: "Accept: text/html", wantName: "Accept", wantValue: "text/html"},
		{in: "x-api-key:  secret ", wantName: "X-Api-Key", wantValue: "secret"},
		{in: "Referer: http://example.com/a:b", wantName: "Referer", wantValue: "http://example.com/a:b"},
		{in: "X-Empty:", wantName: "X-Empty", wantValue: ""},
		{in: "no colon", wantErr: true},
		{in: ": value", wantErr: true},
		{in: "Bad Name: value", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			name, value, err := ParseHeader(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidHeader) {
					t.Errorf("ParseHeader(%q) error = %v, want ErrInvalidHeader", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHeader(%q) error = %v", tt.in, err)
			}
			if name != tt.wantName || value != tt.wantValue {
				t.Errorf("ParseHeader(%q) = (%q, %q), want (%q, %q)", tt.in, name, value, tt.wantName, tt.wantValue)
			}
		})
	}
}

func TestParseDelimiter(t *testing.T) {
	t.Parallel()

	if got, err := ParseDelimiter("|"); err != nil || got != '|' {
		t.Errorf("ParseDelimiter(\"|\") = %q, %v", got, err)
	}
	for _, in := range []string{"", "||", "{", "!", "\t"} {
		if _, err := ParseDelimiter(in); !errors.Is(err, ErrInvalidDelimiter) {
			t.Errorf("ParseDelimiter(%q) error = %v, want ErrInvalidDelimiter", in, err)
		}
	}
}

// TestLoadConfigFile tests the LoadConfigFile function.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrConfigNotFound for non-existent file", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadConfigFile("/nonexistent/path/.skrob")
		if !errors.Is(err, ErrConfigNotFound) {
			t.Fatalf("expected ErrConfigNotFound, got: %v", err)
		}
		if cfg != nil {
			t.Error("expected nil config when file not found")
		}
	})

	t.Run("loads valid YAML config", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".skrob")
		content := `defaults:
  user-agent: "crawler/1.0"
  max-connections: 20
  max-connections-per-host: 2
  connect-timeout: 2.5
  total-timeout: 1m
  rate: 5
  delimiter: "|"
  cookie: "consent=yes"
  headers:
    Accept-Language: "en"
sites:
  Example.COM:
    cookie: "session=xyz"
    headers:
      Authorization: "Bearer token"
    ignorePatterns:
      - "/logout*"
`
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		file, err := LoadConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := time.Duration(file.Defaults.ConnectTimeout); got != 2500*time.Millisecond {
			t.Errorf("expected connect timeout 2.5s, got %v", got)
		}
		if got := time.Duration(file.Defaults.TotalTimeout); got != time.Minute {
			t.Errorf("expected total timeout 1m, got %v", got)
		}
		if file.Defaults.Cookie != "consent=yes" {
			t.Errorf("expected default cookie, got %q", file.Defaults.Cookie)
		}
		site, ok := file.Sites["Example.COM"]
		if !ok {
			t.Fatal("expected Example.COM in sites")
		}
		if diff := cmp.Diff([]string{"/logout*"}, site.IgnorePatterns); diff != "" {
			t.Errorf("ignore patterns mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".skrob")
		if err := os.WriteFile(configPath, []byte(`invalid: yaml: content: [}`), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfigFile(configPath); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})

	t.Run("returns error for invalid duration", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".skrob")
		if err := os.WriteFile(configPath, []byte("defaults:\n  total-timeout: later\n"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfigFile(configPath); !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("expected ErrInvalidDuration, got %v", err)
		}
	})

	t.Run("initializes nil Sites map", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".skrob")
		if err := os.WriteFile(configPath, []byte("defaults:\n  rate: 1\n"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		file, err := LoadConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if file.Sites == nil {
			t.Error("expected Sites map to be initialized")
		}
	})
}

// TestFileApply checks that file values land in the Config and that
// values the file leaves out keep their defaults.
func TestFileApply(t *testing.T) {
	t.Parallel()

	file := &File{
		Defaults: Defaults{
			SiteConfig: SiteConfig{
				Cookie:         "consent=yes",
				Headers:        map[string]string{"Accept-Language": "en"},
				IgnorePatterns: []string{"*.pdf"},
			},
			UserAgent:      "crawler/1.0",
			MaxConnections: 20,
			TotalTimeout:   Duration(time.Minute),
			Rate:           5,
			Delimiter:      "|",
		},
		Sites: map[string]SiteConfig{
			"Example.COM": {Cookie: "session=xyz"},
		},
	}

	cfg := NewConfig()
	if err := file.Apply(cfg); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if cfg.UserAgent != "crawler/1.0" || cfg.MaxConnections != 20 || cfg.RequestsPerSecond != 5 {
		t.Errorf("run-wide defaults not applied: %+v", cfg)
	}
	if cfg.TotalTimeout != time.Minute {
		t.Errorf("expected total timeout 1m, got %v", cfg.TotalTimeout)
	}
	if cfg.Delimiter != '|' {
		t.Errorf("expected delimiter '|', got %q", cfg.Delimiter)
	}
	if cfg.MaxConnectionsPerHost != DefaultMaxConnectionsPerHost {
		t.Errorf("expected untouched per-host cap, got %d", cfg.MaxConnectionsPerHost)
	}
	if cfg.Headers["Accept-Language"] != "en" {
		t.Errorf("expected default header, got %v", cfg.Headers)
	}

	wantSites := map[string]SiteConfig{
		"":            {Cookie: "consent=yes", IgnorePatterns: []string{"*.pdf"}},
		"example.com": {Cookie: "session=xyz"},
	}
	if diff := cmp.Diff(wantSites, cfg.Sites); diff != "" {
		t.Errorf("sites mismatch (-want +got):\n%s", diff)
	}
}

func TestFileApplyRejectsInvalidDelimiter(t *testing.T) {
	t.Parallel()

	file := &File{Defaults: Defaults{Delimiter: "->"}}
	if err := file.Apply(NewConfig()); !errors.Is(err, ErrInvalidDelimiter) {
		t.Errorf("Apply() error = %v, want ErrInvalidDelimiter", err)
	}
}

// TestFindConfigFile tests the FindConfigFile function.
func TestFindConfigFile(t *testing.T) {
	t.Run("returns explicit path if exists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(configPath, []byte("defaults: {}"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if result := FindConfigFile(configPath); result != configPath {
			t.Errorf("expected %q, got %q", configPath, result)
		}
	})

	t.Run("returns empty for non-existent explicit path", func(t *testing.T) {
		if result := FindConfigFile("/nonexistent/path/config.yaml"); result != "" {
			t.Errorf("expected empty string, got %q", result)
		}
	})

	t.Run("finds .skrob in the current directory", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("defaults: {}"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		t.Chdir(dir)

		result := FindConfigFile("")
		if !strings.HasSuffix(result, DefaultConfigFile) {
			t.Errorf("expected a path ending in %s, got %q", DefaultConfigFile, result)
		}
	})
}

func TestXDGDataDir(t *testing.T) {
	t.Parallel()

	dir := XDGDataDir()
	if dir == "" {
		t.Fatal("expected non-empty data dir")
	}
	if filepath.Base(dir) != AppName {
		t.Errorf("expected data dir to end with %q, got %q", AppName, dir)
	}
}
