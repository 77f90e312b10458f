package fetch

import (
	"context"
	"time"

	"github.com/reddot-watch/feedfetcher"
)

// NormalizingFetcher uses the feedfetcher engine, which also drops items
// older than MaxAge and trims long headings.
type NormalizingFetcher struct {
	fetcher  *feedfetcher.FeedFetcher
	maxItems int
}

// NormalizingConfig extends Config with the feedfetcher item filters.
type NormalizingConfig struct {
	Config
	MaxAge               time.Duration
	MaxHeadingLength     int
	FutureDriftTolerance time.Duration
}

// NewNormalizingFetcher creates the alternate fetch engine.
func NewNormalizingFetcher(cfg NormalizingConfig) *NormalizingFetcher {
	base := cfg.Config.withDefaults()
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.MaxHeadingLength <= 0 {
		cfg.MaxHeadingLength = 200
	}
	if cfg.FutureDriftTolerance <= 0 {
		cfg.FutureDriftTolerance = 12 * time.Hour
	}

	return &NormalizingFetcher{
		fetcher: feedfetcher.NewFeedFetcher(feedfetcher.Config{
			UserAgent:            base.UserAgent,
			RequestTimeout:       base.Timeout,
			MaxItems:             base.MaxItems,
			MaxHeadingLength:     cfg.MaxHeadingLength,
			MaxAge:               cfg.MaxAge,
			FutureDriftTolerance: cfg.FutureDriftTolerance,
		}),
		maxItems: base.MaxItems,
	}
}

// Fetch implements Fetcher.
func (f *NormalizingFetcher) Fetch(ctx context.Context, feedURL string) ([]RawItem, error) {
	items, err := f.fetcher.FetchAndProcess(ctx, feedURL)
	if err != nil {
		return nil, fetchErr(feedURL, OpRequest, err)
	}

	out := make([]RawItem, 0, len(items))
	for _, item := range items {
		if len(out) >= f.maxItems {
			break
		}
		if item.URL == "" && item.Headline == "" {
			continue
		}
		out = append(out, RawItem{
			Title:       StripHTML(item.Headline),
			Link:        item.URL,
			PublishedAt: item.PublishedAt,
			Content:     StripHTML(item.Content),
		})
	}
	return out, nil
}
