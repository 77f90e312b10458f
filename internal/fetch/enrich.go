package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/rs/zerolog/log"
)

// Enricher wraps a Fetcher and downloads the article page of items whose feed
// content is shorter than MinContent, keeping the readable text.
type Enricher struct {
	next         Fetcher
	client       *http.Client
	userAgent    string
	minContent   int
	maxPerFeed   int
	maxLength    int
	maxRedirects int
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithMinContent sets the content length below which a page is fetched.
func WithMinContent(n int) EnricherOption {
	return func(e *Enricher) { e.minContent = n }
}

// WithMaxPerFeed bounds page downloads per feed.
func WithMaxPerFeed(n int) EnricherOption {
	return func(e *Enricher) { e.maxPerFeed = n }
}

// WithMaxRedirects caps the redirects followed for one page.
func WithMaxRedirects(n int) EnricherOption {
	return func(e *Enricher) { e.maxRedirects = n }
}

// WithPageTimeout sets the page download timeout.
func WithPageTimeout(d time.Duration) EnricherOption {
	return func(e *Enricher) { e.client.Timeout = d }
}

// NewEnricher decorates next.
func NewEnricher(next Fetcher, userAgent string, opts ...EnricherOption) *Enricher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	e := &Enricher{
		next:         next,
		client:       &http.Client{Timeout: 10 * time.Second},
		userAgent:    userAgent,
		minContent:   200,
		maxPerFeed:   5,
		maxLength:    5000,
		maxRedirects: DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxRedirects <= 0 {
		e.maxRedirects = DefaultMaxRedirects
	}
	e.client.CheckRedirect = limitRedirects(e.maxRedirects)
	return e
}

// Fetch implements Fetcher. Page failures leave the item as the feed gave it.
func (e *Enricher) Fetch(ctx context.Context, feedURL string) ([]RawItem, error) {
	items, err := e.next.Fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	fetched := 0
	for i := range items {
		if fetched >= e.maxPerFeed {
			break
		}
		it := &items[i]
		if it.Link == "" || utf8.RuneCountInString(it.Content) >= e.minContent {
			continue
		}
		pageURL, err := resolvePageURL(feedURL, it.Link)
		if err != nil {
			log.Debug().Err(err).Str("link", it.Link).Msg("Skipping page extraction")
			continue
		}
		fetched++

		text, err := e.extract(ctx, pageURL)
		if err != nil {
			log.Debug().Err(err).Str("link", pageURL.String()).Msg("Readability extraction failed")
			continue
		}
		if utf8.RuneCountInString(text) > utf8.RuneCountInString(it.Content) {
			it.Content = text
		}
	}
	return items, nil
}

// resolvePageURL makes a relative item link absolute against the feed URL.
func resolvePageURL(feedURL, link string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", link, err)
	}
	if !u.IsAbs() {
		base, err := url.Parse(feedURL)
		if err != nil || !base.IsAbs() {
			return nil, fmt.Errorf("relative URL %q without absolute feed URL", link)
		}
		u = base.ResolveReference(u)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("unsupported URL %q", u.String())
	}
	return u, nil
}

func (e *Enricher) extract(ctx context.Context, pageURL *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	text := collapseSpace(article.TextContent)
	if utf8.RuneCountInString(text) > e.maxLength {
		text = string([]rune(text)[:e.maxLength])
	}
	return strings.TrimSpace(text), nil
}
