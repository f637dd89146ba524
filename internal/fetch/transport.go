package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// Site holds the request settings for one host.
type Site struct {
	// Headers are set on every request to the host, replacing any header
	// of the same name.
	Headers map[string]string

	// Cookie is a raw Cookie header value (e.g. "session=abc") appended to
	// whatever the cookie jar sends.
	Cookie string

	// IgnorePatterns are glob patterns on the locator path. A matching
	// locator is never fetched.
	IgnorePatterns []string
}

// merge returns s with the headers of override layered on top and the
// cookie and ignore patterns of override added.
func (s Site) merge(override Site) Site {
	out := Site{
		Headers:        make(map[string]string, len(s.Headers)+len(override.Headers)),
		Cookie:         joinCookies(s.Cookie, override.Cookie),
		IgnorePatterns: append(append([]string(nil), s.IgnorePatterns...), override.IgnorePatterns...),
	}
	for k, v := range s.Headers {
		out.Headers[k] = v
	}
	for k, v := range override.Headers {
		out.Headers[k] = v
	}
	return out
}

func joinCookies(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}

// transportOptions are the knobs of the underlying http.Transport.
type transportOptions struct {
	maxConnsPerHost int
	connectTimeout  time.Duration
	proxyAddress    string
}

// newTransport builds the transport shared by every fetch of a run.
//
// Design decision: MaxConnsPerHost enforces the per-host cap inside the
// transport, where requests to a busy host simply wait for a connection.
// The total cap is a semaphore in Client because http.Transport has no
// global connection limit.
func newTransport(opts transportOptions) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   opts.connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        opts.maxConnsPerHost * 4,
		MaxIdleConnsPerHost: opts.maxConnsPerHost,
		MaxConnsPerHost:     opts.maxConnsPerHost,
		IdleConnTimeout:     30 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if opts.connectTimeout > 0 {
		transport.TLSHandshakeTimeout = opts.connectTimeout
	}

	if opts.proxyAddress != "" {
		if !isValidProxyAddress(opts.proxyAddress) {
			return nil, ErrInvalidProxyAddress
		}
		socks, err := proxy.SOCKS5("tcp", opts.proxyAddress, nil, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.Proxy = nil
		transport.DialContext = socksDialContext(socks)
	}
	return transport, nil
}

// socksDialContext adapts a proxy.Dialer to the DialContext signature. The
// SOCKS5 dialer of x/net supports contexts; other dialers are raced against
// the context instead.
func socksDialContext(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type dialResult struct {
			conn net.Conn
			err  error
		}
		resultCh := make(chan dialResult, 1)
		go func() {
			conn, err := d.Dial(network, addr)
			resultCh <- dialResult{conn, err}
		}()

		select {
		case result := <-resultCh:
			return result.conn, result.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// isValidProxyAddress checks that address is "host:port" with a port in
// 1-65535.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" || strings.ContainsAny(host, "/ ") {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// siteTable resolves the Site of a host: the defaults merged with the
// host's own entry, if any.
type siteTable struct {
	sites    map[string]Site
	defaults Site
}

func newSiteTable(defaults Site, sites map[string]Site) siteTable {
	t := siteTable{sites: make(map[string]Site, len(sites)), defaults: defaults}
	for host, site := range sites {
		t.sites[strings.ToLower(host)] = site
	}
	return t
}

func (t siteTable) lookup(host string) Site {
	if s, ok := t.sites[strings.ToLower(host)]; ok {
		return t.defaults.merge(s)
	}
	return t.defaults
}

// siteTransport injects the headers and cookie of the site a request goes
// to. Doing it in the RoundTripper covers redirects too.
type siteTransport struct {
	base  http.RoundTripper
	sites siteTable
}

// RoundTrip implements http.RoundTripper.
func (t *siteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	site := t.sites.lookup(req.URL.Hostname())
	if site.Cookie == "" && len(site.Headers) == 0 {
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	if site.Cookie != "" {
		clone.Header.Set("Cookie", joinCookies(clone.Header.Get("Cookie"), site.Cookie))
	}
	for key, value := range site.Headers {
		clone.Header.Set(key, value)
	}
	return t.base.RoundTrip(clone)
}
