// Package fetch downloads RSS/Atom feeds and turns them into raw items.
package fetch

import (
	"context"
	"fmt"
	"time"
)

// Defaults shared by the fetch engines.
const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRedirects = 5
	DefaultMaxItems     = 20
	DefaultUserAgent    = "NewsPulse/1.0 (+feed aggregator)"
)

// RawItem is one feed entry before normalization. PublishedAt is zero when
// the feed gave no usable date.
type RawItem struct {
	Title             string
	Link              string
	PublishedAt       time.Time
	Summary           string
	Content           string
	RawContentEncoded string
}

// Fetcher retrieves the items of one feed. Any failure is a *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]RawItem, error)
}

// Config tunes the HTTP side of fetching.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	MaxItems     int
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.MaxItems <= 0 {
		c.MaxItems = DefaultMaxItems
	}
	return c
}

// Fetch error operations.
const (
	OpRequest = "request"
	OpStatus  = "status"
	OpParse   = "parse"
)

// FetchError reports a feed that could not be retrieved or parsed.
type FetchError struct {
	URL string
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func fetchErr(url, op string, err error) *FetchError {
	return &FetchError{URL: url, Op: op, Err: err}
}
