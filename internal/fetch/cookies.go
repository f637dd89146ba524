package fetch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// httpOnlyPrefix marks HttpOnly cookies in the Netscape format.
const httpOnlyPrefix = "#HttpOnly_"

// Jar is an http.CookieJar that also remembers every cookie it was given,
// so that the jar can be written back to a cookie file after the run.
//
// Design decision: net/http/cookiejar does not expose its entries, so Jar
// keeps its own copy next to it. Lookups for requests still go through
// cookiejar, which applies the domain, path and public suffix rules.
type Jar struct {
	jar *cookiejar.Jar

	mu      sync.Mutex
	entries map[cookieKey]cookieEntry
}

type cookieEntry struct {
	cookie   http.Cookie
	hostOnly bool
}

type cookieKey struct {
	domain string
	path   string
	name   string
}

var _ http.CookieJar = (*Jar)(nil)

// NewJar returns an empty Jar.
func NewJar() *Jar {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}) //nolint:errcheck // cookiejar.New never fails
	return &Jar{jar: jar, entries: make(map[cookieKey]cookieEntry)}
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		stored := *c
		hostOnly := stored.Domain == ""
		if hostOnly {
			stored.Domain = u.Hostname()
		}
		if stored.Path == "" {
			stored.Path = "/"
		}
		key := cookieKey{domain: strings.ToLower(stored.Domain), path: stored.Path, name: stored.Name}
		if stored.MaxAge < 0 || (!stored.Expires.IsZero() && stored.Expires.Before(time.Now())) {
			delete(j.entries, key)
			continue
		}
		if stored.MaxAge > 0 {
			stored.Expires = time.Now().Add(time.Duration(stored.MaxAge) * time.Second)
			stored.MaxAge = 0
		}
		j.entries[key] = cookieEntry{cookie: stored, hostOnly: hostOnly}
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// Len returns the number of cookies remembered by the jar.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Load reads cookies in the Netscape format (as written by curl and
// browser extensions). Expired cookies are skipped.
func (j *Jar) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	now := time.Now()
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")

		httpOnly := false
		if rest, ok := strings.CutPrefix(text, httpOnlyPrefix); ok {
			text = rest
			httpOnly = true
		}
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Split(text, "\t")
		if len(fields) != 7 {
			return fmt.Errorf("%w: line %d: expected 7 tab-separated fields, got %d", ErrInvalidCookieFile, line, len(fields))
		}
		expires, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: line %d: invalid expiry %q", ErrInvalidCookieFile, line, fields[4])
		}

		cookie := &http.Cookie{
			Name:     fields[5],
			Value:    fields[6],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			HttpOnly: httpOnly,
		}
		if expires > 0 {
			cookie.Expires = time.Unix(expires, 0)
			if cookie.Expires.Before(now) {
				continue
			}
		}

		domain := fields[0]
		host := strings.TrimPrefix(domain, ".")
		if strings.EqualFold(fields[1], "TRUE") {
			cookie.Domain = host
		}

		scheme := "http"
		if cookie.Secure {
			scheme = "https"
		}
		j.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: cookie.Path}, []*http.Cookie{cookie})
	}
	return scanner.Err()
}

// Save writes every unexpired cookie in the Netscape format.
func (j *Jar) Save(w io.Writer) error {
	j.mu.Lock()
	entries := make([]cookieEntry, 0, len(j.entries))
	now := time.Now()
	for _, e := range j.entries {
		if !e.cookie.Expires.IsZero() && e.cookie.Expires.Before(now) {
			continue
		}
		entries = append(entries, e)
	}
	j.mu.Unlock()

	sort.Slice(entries, func(a, b int) bool {
		ca, cb := entries[a].cookie, entries[b].cookie
		if ca.Domain != cb.Domain {
			return ca.Domain < cb.Domain
		}
		if ca.Path != cb.Path {
			return ca.Path < cb.Path
		}
		return ca.Name < cb.Name
	})

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# Netscape HTTP Cookie File")
	for _, e := range entries {
		c := e.cookie
		domain := c.Domain
		if !e.hostOnly {
			domain = "." + strings.TrimPrefix(domain, ".")
		}
		if c.HttpOnly {
			domain = httpOnlyPrefix + domain
		}
		var expires int64
		if !c.Expires.IsZero() {
			expires = c.Expires.Unix()
		}
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			domain, boolField(!e.hostOnly), c.Path, boolField(c.Secure), expires, c.Name, c.Value)
	}
	return bw.Flush()
}

func boolField(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// LoadCookieFile loads path into j. A missing file is not an error, so the
// same path can be used to start a new cookie file.
func (j *Jar) LoadCookieFile(path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from the user's own configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open cookie file: %w", err)
	}
	defer f.Close()

	if err := j.Load(f); err != nil {
		return fmt.Errorf("failed to read cookie file %s: %w", path, err)
	}
	return nil
}

// SaveCookieFile writes the jar to path with owner-only permissions.
func (j *Jar) SaveCookieFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // path comes from the user's own configuration
	if err != nil {
		return fmt.Errorf("failed to create cookie file: %w", err)
	}
	if err := j.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	return f.Close()
}
