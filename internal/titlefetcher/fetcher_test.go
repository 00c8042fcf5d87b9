package titlefetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shortapp/shortener/internal/breaker"
	"github.com/shortapp/shortener/internal/entity"
)

func newFetcher(t testing.TB) (*Fetcher, *breaker.CircuitBreaker) {
	t.Helper()

	cb := breaker.New(5, 30*time.Second, nil)
	return New(cb, 2*time.Second, nil), cb
}

func serveHTML(t testing.TB, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestFetcher_Fetch(t *testing.T) {
	t.Run("prefers og:title", func(t *testing.T) {
		srv := serveHTML(t, `<html><head>
			<meta property="og:title" content="OG Title">
			<title>Page Title</title>
			</head><body><h1>Heading</h1></body></html>`)

		f, cb := newFetcher(t)
		res := f.Fetch(context.Background(), srv.URL)

		assert.True(t, res.Success)
		assert.Equal(t, "OG Title", res.Title)
		assert.Empty(t, res.Err)
		assert.Equal(t, breaker.StateClosed, cb.State())
	})

	t.Run("falls back to title element", func(t *testing.T) {
		srv := serveHTML(t, `<html><head><title>Page Title</title></head><body><h1>Heading</h1></body></html>`)

		f, _ := newFetcher(t)
		res := f.Fetch(context.Background(), srv.URL)

		assert.True(t, res.Success)
		assert.Equal(t, "Page Title", res.Title)
	})

	t.Run("falls back to first h1", func(t *testing.T) {
		srv := serveHTML(t, `<html><body><h1>Heading</h1><h1>Second</h1></body></html>`)

		f, _ := newFetcher(t)
		res := f.Fetch(context.Background(), srv.URL)

		assert.True(t, res.Success)
		assert.Equal(t, "Heading", res.Title)
	})

	t.Run("no title is still a success", func(t *testing.T) {
		srv := serveHTML(t, `<html><body><p>nothing here</p></body></html>`)

		f, cb := newFetcher(t)
		res := f.Fetch(context.Background(), srv.URL)

		assert.True(t, res.Success)
		assert.Empty(t, res.Title)
		assert.Equal(t, breaker.StateClosed, cb.State())
	})

	t.Run("collapses whitespace and truncates", func(t *testing.T) {
		long := strings.Repeat("word ", 200)
		srv := serveHTML(t, `<html><head><title>  `+long+`  </title></head></html>`)

		f, _ := newFetcher(t)
		res := f.Fetch(context.Background(), srv.URL)

		assert.True(t, res.Success)
		assert.LessOrEqual(t, len([]rune(res.Title)), 500)
		assert.NotContains(t, res.Title, "  ")
		assert.Equal(t, res.Title, strings.TrimSpace(res.Title))
	})

	t.Run("non-success status records failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		f, _ := newFetcher(t)
		res := f.Fetch(context.Background(), srv.URL)

		assert.False(t, res.Success)
		assert.Contains(t, res.Err, "unexpected status 503")
	})

	t.Run("connection error records failure", func(t *testing.T) {
		f, _ := newFetcher(t)
		res := f.Fetch(context.Background(), "http://127.0.0.1:1")

		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Err)
	})

	t.Run("open breaker short-circuits without a network call", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		cb := breaker.New(1, time.Hour, nil)
		f := New(cb, time.Second, nil)

		res := f.Fetch(context.Background(), srv.URL)
		assert.False(t, res.Success)
		assert.Equal(t, 1, calls)

		res = f.Fetch(context.Background(), srv.URL)
		assert.False(t, res.Success)
		assert.Equal(t, entity.ErrCircuitOpen.Error(), res.Err)
		assert.Equal(t, 1, calls)
	})

	t.Run("breaker opens after repeated failures", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(srv.Close)

		cb := breaker.New(3, time.Hour, nil)
		f := New(cb, time.Second, nil)

		for i := 0; i < 3; i++ {
			f.Fetch(context.Background(), srv.URL)
		}

		assert.Equal(t, breaker.StateOpen, cb.State())
	})
}
