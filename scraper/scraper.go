// Package scraper fetches upcoming sneaker releases from a release-date listing page.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"sneakerdrop-notifier/pkg/notifier"
)

// DefaultLimit caps how many release cards are read from one page.
const DefaultLimit = 20

// Card selectors, tried in order until one matches.
var cardSelectors = []string{"article.release-card", "div.release-item", "div.post"}

// HTTPStatusError indicates the listing page answered with a non-200 status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// Temporary reports whether a later attempt might succeed.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsHTTPStatus checks if an error is an HTTP status error with the given code.
func IsHTTPStatus(err error, code int) bool {
	var se *HTTPStatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Scraper fetches and parses release listing pages.
type Scraper struct {
	client     *http.Client
	logger     *slog.Logger
	location   *time.Location
	retryDelay time.Duration
}

// New creates a new scraper. Dates without an offset are read in loc (UTC when nil).
func New(client *http.Client, logger *slog.Logger, loc *time.Location) *Scraper {
	if loc == nil {
		loc = time.UTC
	}
	return &Scraper{
		client:     client,
		logger:     logger,
		location:   loc,
		retryDelay: time.Second,
	}
}

// Scrape fetches pageURL and returns at most limit drops. Cards missing a name or
// a parsable date are skipped.
func (s *Scraper) Scrape(ctx context.Context, pageURL string, limit int) ([]notifier.Drop, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var doc *goquery.Document
	var lastErr error
	err = retry.Do(
		func() error {
			var fetchErr error
			doc, fetchErr = s.fetch(ctx, pageURL)
			lastErr = fetchErr
			return fetchErr
		},
		retry.Attempts(4),
		retry.Delay(s.retryDelay),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(s.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var se *HTTPStatusError
			if errors.As(err, &se) {
				return se.Temporary()
			}
			return true
		}),
	)
	if err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", pageURL, lastErr)
		}
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	return s.parse(doc, base, limit), nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	s.logger.Info("HTTP request starting", "method", "GET", "url", pageURL, "purpose", "fetch_release_dates")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Browser-like headers; the listing blocks obvious bots.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		s.logger.Warn("HTTP request failed", "url", pageURL, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	s.logger.Info("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("parse HTML: %w", err))
	}
	return doc, nil
}

func (s *Scraper) parse(doc *goquery.Document, base *url.URL, limit int) []notifier.Drop {
	var cards *goquery.Selection
	for _, sel := range cardSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			cards = found
			break
		}
	}
	if cards == nil {
		s.logger.Warn("No release cards found, page structure may have changed")
		return nil
	}
	s.logger.Info("Release cards found", "count", cards.Length(), "limit", limit)

	var drops []notifier.Drop
	cards.EachWithBreak(func(i int, card *goquery.Selection) bool {
		if i >= limit {
			return false
		}
		if d, ok := s.parseCard(card, base); ok {
			drops = append(drops, d)
		}
		return true
	})

	s.logger.Info("Scrape complete", "drops", len(drops))
	return drops
}

func (s *Scraper) parseCard(card *goquery.Selection, base *url.URL) (notifier.Drop, bool) {
	name := firstText(card, "h2", "h3", "a.title")
	dateText := firstText(card, "time", "span.date")
	if name == "" || dateText == "" {
		s.logger.Info("Skipping incomplete release card", "name", name, "date", dateText)
		return notifier.Drop{}, false
	}

	at, err := ParseDropDate(dateText, s.location)
	if err != nil {
		s.logger.Info("Skipping release card with unparsable date", "name", name, "date", dateText, "error", err)
		return notifier.Drop{}, false
	}

	link := ""
	if href, ok := card.Find("a[href]").First().Attr("href"); ok {
		link = absoluteURL(base, href)
	}

	return notifier.Drop{
		DropID:   DropID(name, at),
		Name:     name,
		Brand:    InferBrand(name),
		DropTime: at.Format(time.RFC3339),
		URL:      link,
	}, true
}

func firstText(card *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if found := card.Find(sel).First(); found.Length() > 0 {
			if text := strings.Join(strings.Fields(found.Text()), " "); text != "" {
				return text
			}
		}
	}
	return ""
}

func absoluteURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
