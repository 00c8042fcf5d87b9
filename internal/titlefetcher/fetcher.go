// Package titlefetcher retrieves page titles for shortened URLs. Fetching is
// best-effort enrichment: every failure mode is captured into the returned
// Result, and the associated circuit breaker keeps a misbehaving outside
// world from tying up request-handling resources.
package titlefetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/shortapp/shortener/internal/breaker"
	"github.com/shortapp/shortener/internal/entity"
)

const (
	userAgent    = "ShortApp TitleFetcher/1.0"
	maxRedirects = 3
	maxTitleLen  = 500
)

// Result is the outcome of a fetch attempt. Absence of a title on a
// successful fetch is not an error.
type Result struct {
	Success bool
	Title   string
	Err     string
}

// Fetcher performs bounded-time page fetches guarded by a circuit breaker.
type Fetcher struct {
	client  *http.Client
	breaker *breaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a Fetcher. The timeout bounds the whole request (connect and
// read); redirects are capped at three hops.
func New(cb *breaker.CircuitBreaker, timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		breaker: cb,
		logger:  logger,
	}
}

// Fetch retrieves the page at url and extracts its title. It never panics and
// never returns an error value; all failures are folded into the Result and
// recorded on the breaker. A 200 response with no discoverable title still
// counts as a breaker success.
func (f *Fetcher) Fetch(ctx context.Context, url string) Result {
	if !f.breaker.AllowRequest() {
		return Result{Success: false, Err: entity.ErrCircuitOpen.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return f.failure(url, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return f.failure(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return f.failure(url, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return f.failure(url, fmt.Errorf("failed to parse response body: %w", err))
	}

	f.breaker.RecordSuccess()

	return Result{Success: true, Title: extractTitle(doc)}
}

func (f *Fetcher) failure(url string, err error) Result {
	f.breaker.RecordFailure()

	if f.logger != nil {
		f.logger.Warn("title fetch failed",
			slog.String("url", url),
			slog.Any("err", err),
		)
	}

	return Result{Success: false, Err: err.Error()}
}

// extractTitle picks a title by priority: Open Graph meta tag, then the
// <title> element, then the first <h1>.
func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if title := sanitizeTitle(og); title != "" {
			return title
		}
	}

	if title := sanitizeTitle(doc.Find("title").First().Text()); title != "" {
		return title
	}

	return sanitizeTitle(doc.Find("h1").First().Text())
}

// sanitizeTitle collapses whitespace runs to single spaces, trims, and
// truncates to a bounded length so a hostile page cannot bloat storage.
func sanitizeTitle(s string) string {
	title := strings.Join(strings.Fields(s), " ")

	runes := []rune(title)
	if len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen])
	}

	return title
}
