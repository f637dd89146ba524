package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type recorderStub struct {
	mu      sync.Mutex
	records []Record
}

func (r *recorderStub) RecordFetch(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()

	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestClientFetch(t *testing.T) {
	t.Parallel()

	t.Run("returns the body", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<h1 class="title">Hi</h1>`)
		}))
		defer server.Close()

		got, err := newTestClient(t).Fetch(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if got != `<h1 class="title">Hi</h1>` {
			t.Errorf("Fetch() = %q", got)
		}
	})

	t.Run("error responses are content", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, "<p>missing</p>")
		}))
		defer server.Close()

		got, err := newTestClient(t).Fetch(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if got != "<p>missing</p>" {
			t.Errorf("Fetch() = %q", got)
		}
	})

	t.Run("json bodies become xml", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"link": "https://example.com/"}`)
		}))
		defer server.Close()

		got, err := newTestClient(t).Fetch(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		want := xmlProlog + `<root><link type="str">https://example.com/</link></root>`
		if got != want {
			t.Errorf("Fetch() = %q, want %q", got, want)
		}
	})

	t.Run("declared charset is decoded", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
			_, _ = w.Write([]byte("caf\xe9"))
		}))
		defer server.Close()

		got, err := newTestClient(t).Fetch(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if got != "café" {
			t.Errorf("Fetch() = %q, want %q", got, "café")
		}
	})

	t.Run("body is truncated to the size limit", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, strings.Repeat("a", 100))
		}))
		defer server.Close()

		got, err := newTestClient(t, WithMaxBodySize(10)).Fetch(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if len(got) != 10 {
			t.Errorf("len(Fetch()) = %d, want 10", len(got))
		}
	})
}

func TestClientFetchErrors(t *testing.T) {
	t.Parallel()

	t.Run("unsupported scheme", func(t *testing.T) {
		t.Parallel()

		_, err := newTestClient(t).Fetch(context.Background(), "ftp://example.com/file")
		if !errors.Is(err, ErrUnsupportedScheme) {
			t.Errorf("Fetch() error = %v, want %v", err, ErrUnsupportedScheme)
		}
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) || fetchErr.Locator != "ftp://example.com/file" {
			t.Errorf("Fetch() error = %#v, want *FetchError for the locator", err)
		}
	})

	t.Run("ignored locator is never requested", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
		}))
		defer server.Close()

		c := newTestClient(t, WithSites(map[string]Site{
			"127.0.0.1": {IgnorePatterns: []string{"/admin/*"}},
		}))
		_, err := c.Fetch(context.Background(), server.URL+"/admin/users")
		if !errors.Is(err, ErrIgnoredLocator) {
			t.Errorf("Fetch() error = %v, want %v", err, ErrIgnoredLocator)
		}
		if hits.Load() != 0 {
			t.Errorf("server was hit %d times", hits.Load())
		}
	})

	t.Run("total timeout fails the fetch", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		c := newTestClient(t, WithTotalTimeout(50*time.Millisecond))
		_, err := c.Fetch(context.Background(), server.URL)
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			t.Errorf("Fetch() error = %v, want *FetchError", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestClient(t).Fetch(ctx, "http://127.0.0.1:1/")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Fetch() error = %v, want %v", err, context.Canceled)
		}
	})
}

func TestClientHeaders(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		seen = r.Header.Clone()
	}))
	defer server.Close()

	c := newTestClient(t,
		WithUserAgent("skrob-test/1.0"),
		WithHeaders(map[string]string{"X-Global": "g", "X-Override": "global"}),
		WithSites(map[string]Site{
			"127.0.0.1": {
				Headers: map[string]string{"X-Override": "site"},
				Cookie:  "session=abc",
			},
		}),
	)
	if _, err := c.Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	tests := map[string]string{
		"User-Agent": "skrob-test/1.0",
		"X-Global":   "g",
		"X-Override": "site",
		"Cookie":     "session=abc",
	}
	for name, want := range tests {
		if got := seen.Get(name); got != want {
			t.Errorf("header %s = %q, want %q", name, got, want)
		}
	}
}

func TestClientConnectionCaps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []Option
		wantMax int32
	}{
		{
			name:    "total cap",
			opts:    []Option{WithMaxConnections(2), WithMaxConnectionsPerHost(10)},
			wantMax: 2,
		},
		{
			name:    "per host cap",
			opts:    []Option{WithMaxConnections(100), WithMaxConnectionsPerHost(1)},
			wantMax: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var active, peak atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := active.Add(1)
				defer active.Add(-1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				fmt.Fprint(w, "ok")
			}))
			defer server.Close()

			c := newTestClient(t, tt.opts...)
			g, ctx := errgroup.WithContext(context.Background())
			for i := range 8 {
				g.Go(func() error {
					_, err := c.Fetch(ctx, fmt.Sprintf("%s/%d", server.URL, i))
					return err
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if got := peak.Load(); got > tt.wantMax {
				t.Errorf("peak concurrency = %d, want at most %d", got, tt.wantMax)
			}
		})
	}
}

func TestClientRecorder(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	}))
	defer server.Close()

	rec := &recorderStub{}
	c := newTestClient(t, WithRecorder(rec))
	if _, err := c.Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	_, _ = c.Fetch(context.Background(), "mailto:someone@example.com")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.records) != 2 {
		t.Fatalf("got %d records, want 2", len(rec.records))
	}
	ok := rec.records[0]
	if ok.StatusCode != http.StatusTeapot || string(ok.Body) != "short and stout" || ok.ContentType != "text/plain" {
		t.Errorf("record = %+v", ok)
	}
	if rec.records[1].Err == nil {
		t.Error("failed fetch recorded without error")
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		ref  string
		want string
	}{
		{name: "relative path", base: "https://example.com/a/b", ref: "c", want: "https://example.com/a/c"},
		{name: "absolute path", base: "https://example.com/a/b", ref: "/c", want: "https://example.com/c"},
		{name: "absolute locator", base: "https://example.com/", ref: "https://other.example/x", want: "https://other.example/x"},
		{name: "locator joined with itself", base: "https://example.com/x", ref: "https://example.com/x", want: "https://example.com/x"},
		{name: "surrounding whitespace", base: "https://example.com/", ref: "\n  /next \n", want: "https://example.com/next"},
		{name: "empty base", base: "", ref: "https://example.com/", want: "https://example.com/"},
		{name: "query only", base: "https://example.com/list?page=1", ref: "?page=2", want: "https://example.com/list?page=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Join(tt.base, tt.ref)
			if err != nil {
				t.Fatalf("Join() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Join() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewRejectsInvalidProxy(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{"localhost", "localhost:0", "localhost:70000", ":9050", "socks5://localhost:9050"} {
		if _, err := New(WithProxy(addr)); !errors.Is(err, ErrInvalidProxyAddress) {
			t.Errorf("New(WithProxy(%q)) error = %v, want %v", addr, err, ErrInvalidProxyAddress)
		}
	}
	if _, err := New(WithProxy("127.0.0.1:9050")); err != nil {
		t.Errorf("New(WithProxy(valid)) error = %v", err)
	}
}
