package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Defaults for a Client built without options.
const (
	DefaultMaxConnections        = 100
	DefaultMaxConnectionsPerHost = 4
	DefaultMaxBodySize           = 10 * 1024 * 1024
	DefaultUserAgent             = "skrob"
	maxRedirects                 = 10
)

// Record describes one finished fetch. It is handed to the Recorder.
type Record struct {
	Locator     string
	StatusCode  int
	ContentType string
	Body        []byte
	Err         error
	FetchedAt   time.Time
	Duration    time.Duration
}

// Recorder receives a Record for every fetch a Client attempts.
type Recorder interface {
	RecordFetch(ctx context.Context, rec Record) error
}

// Client fetches locators over HTTP. It is safe for concurrent use.
type Client struct {
	http     *resty.Client
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	sites    siteTable
	maxBody  int64
	recorder Recorder
	logger   *slog.Logger
}

type options struct {
	maxConnections        int
	maxConnectionsPerHost int
	connectTimeout        time.Duration
	totalTimeout          time.Duration
	headers               map[string]string
	sites                 map[string]Site
	jar                   http.CookieJar
	userAgent             string
	maxBodySize           int64
	requestsPerSecond     float64
	proxy                 string
	recorder              Recorder
	logger                *slog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithMaxConnections caps the number of fetches in flight at once.
func WithMaxConnections(n int) Option {
	return func(o *options) {
		o.maxConnections = n
	}
}

// WithMaxConnectionsPerHost caps the connections to one host.
func WithMaxConnectionsPerHost(n int) Option {
	return func(o *options) {
		o.maxConnectionsPerHost = n
	}
}

// WithConnectTimeout bounds connection establishment. Zero disables it.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithTotalTimeout bounds each fetch from dial to the last byte of the
// body. Zero disables it.
func WithTotalTimeout(d time.Duration) Option {
	return func(o *options) {
		o.totalTimeout = d
	}
}

// WithHeaders sets extra headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		o.headers = headers
	}
}

// WithSites sets per-host request settings, keyed by host name. The entry
// under the empty name applies to every host.
func WithSites(sites map[string]Site) Option {
	return func(o *options) {
		o.sites = sites
	}
}

// WithCookieJar sets the cookie jar. The default is a fresh Jar.
func WithCookieJar(jar http.CookieJar) Option {
	return func(o *options) {
		o.jar = jar
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithMaxBodySize limits how much of a body is read. Longer bodies are
// truncated.
func WithMaxBodySize(n int64) Option {
	return func(o *options) {
		o.maxBodySize = n
	}
}

// WithRateLimit limits the request rate of the whole client. Zero means no
// limit.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(o *options) {
		o.requestsPerSecond = requestsPerSecond
	}
}

// WithProxy routes every connection through a SOCKS5 proxy at host:port.
func WithProxy(address string) Option {
	return func(o *options) {
		o.proxy = address
	}
}

// WithRecorder sets a Recorder notified of every fetch.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New returns a Client. It fails only for an invalid proxy address.
func New(opts ...Option) (*Client, error) {
	o := &options{
		maxConnections:        DefaultMaxConnections,
		maxConnectionsPerHost: DefaultMaxConnectionsPerHost,
		userAgent:             DefaultUserAgent,
		maxBodySize:           DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.jar == nil {
		o.jar = NewJar()
	}
	if o.maxConnections <= 0 {
		o.maxConnections = DefaultMaxConnections
	}
	if o.maxBodySize <= 0 {
		o.maxBodySize = DefaultMaxBodySize
	}

	base, err := newTransport(transportOptions{
		maxConnsPerHost: o.maxConnectionsPerHost,
		connectTimeout:  o.connectTimeout,
		proxyAddress:    o.proxy,
	})
	if err != nil {
		return nil, err
	}

	defaults := Site{Headers: o.headers}
	if d, ok := o.sites[""]; ok {
		defaults = defaults.merge(d)
	}
	sites := newSiteTable(defaults, o.sites)

	c := &Client{
		sem:      semaphore.NewWeighted(int64(o.maxConnections)),
		sites:    sites,
		maxBody:  o.maxBodySize,
		recorder: o.recorder,
		logger:   o.logger,
	}
	if o.requestsPerSecond > 0 {
		burst := max(1, int(o.requestsPerSecond))
		c.limiter = rate.NewLimiter(rate.Limit(o.requestsPerSecond), burst)
	}

	c.http = resty.New().
		SetTransport(&siteTransport{base: base, sites: sites}).
		SetCookieJar(o.jar).
		SetTimeout(o.totalTimeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects)).
		SetHeader("User-Agent", o.userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.7").
		SetLogger(restyLogger{logger: o.logger}).
		OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			c.logger.Debug("fetching", "locator", req.URL)
			return nil
		}).
		OnError(func(req *resty.Request, err error) {
			c.logger.Debug("fetch failed", "locator", req.URL, "error", err)
		})
	return c, nil
}

// Join resolves ref against base. Surrounding whitespace of ref is ignored,
// and an empty base leaves ref as it is.
func Join(base, ref string) (string, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if base == "" {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// Join resolves ref against base. See the package-level Join.
func (c *Client) Join(base, ref string) (string, error) {
	return Join(base, ref)
}

// Fetch retrieves locator and returns its body as text. Error responses are
// still returned as content; only transport failures, refused locators and
// cancellation produce a *FetchError.
func (c *Client) Fetch(ctx context.Context, locator string) (string, error) {
	start := time.Now()
	rec := Record{Locator: locator, FetchedAt: start}

	text, err := c.fetch(ctx, locator, &rec)
	rec.Duration = time.Since(start)
	if err != nil {
		rec.Err = err
		err = &FetchError{Locator: locator, StatusCode: rec.StatusCode, Err: err}
	}

	if c.recorder != nil {
		if recErr := c.recorder.RecordFetch(context.WithoutCancel(ctx), rec); recErr != nil {
			c.logger.Warn("failed to record fetch", "locator", locator, "error", recErr)
		}
	}
	return text, err
}

func (c *Client) fetch(ctx context.Context, locator string, rec *Record) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if ignored(u, c.sites.lookup(u.Hostname()).IgnorePatterns) {
		return "", ErrIgnoredLocator
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(locator)
	if err != nil {
		return "", err
	}
	body := resp.RawBody()
	defer body.Close()

	rec.StatusCode = resp.StatusCode()
	rec.ContentType = resp.Header().Get("Content-Type")
	// Response hooks do not run for unparsed responses.
	c.logger.Debug("fetched", "locator", locator, "status", rec.StatusCode, "elapsed", resp.Time())

	raw, err := io.ReadAll(io.LimitReader(body, c.maxBody))
	if err != nil {
		return "", err
	}
	rec.Body = raw

	if rec.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("error response used as content", "locator", locator, "status", rec.StatusCode)
	}

	text := strings.TrimPrefix(decodeBody(raw, rec.ContentType), "\ufeff")
	if looksLikeJSON([]byte(text)) {
		if xml, err := NormalizeJSON([]byte(text)); err == nil {
			return xml, nil
		}
	}
	return text, nil
}
