package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
)

// RSSFetcher downloads a feed over HTTP and parses it with gofeed.
type RSSFetcher struct {
	cfg    Config
	client *http.Client
}

// NewRSSFetcher creates the default fetch engine.
func NewRSSFetcher(cfg Config) *RSSFetcher {
	cfg = cfg.withDefaults()
	return &RSSFetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout:       cfg.Timeout,
			CheckRedirect: limitRedirects(cfg.MaxRedirects),
		},
	}
}

func limitRedirects(n int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > n {
			return fmt.Errorf("stopped after %d redirects", n)
		}
		return nil
	}
}

// Fetch implements Fetcher.
func (f *RSSFetcher) Fetch(ctx context.Context, feedURL string) ([]RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fetchErr(feedURL, OpRequest, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fetchErr(feedURL, OpRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fetchErr(feedURL, OpStatus, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fetchErr(feedURL, OpParse, err)
	}
	if feed == nil {
		return nil, fetchErr(feedURL, OpParse, errors.New("empty feed"))
	}

	items := make([]RawItem, 0, min(len(feed.Items), f.cfg.MaxItems))
	for _, it := range feed.Items {
		if len(items) >= f.cfg.MaxItems {
			break
		}
		raw, ok := convertItem(it)
		if !ok {
			continue
		}
		items = append(items, raw)
	}

	log.Debug().
		Str("feed_url", feedURL).
		Int("parsed", len(feed.Items)).
		Int("kept", len(items)).
		Msg("Feed fetched")
	return items, nil
}

func convertItem(it *gofeed.Item) (RawItem, bool) {
	if it == nil {
		return RawItem{}, false
	}

	link := strings.TrimSpace(it.Link)
	if link == "" && strings.HasPrefix(it.GUID, "http") {
		link = strings.TrimSpace(it.GUID)
	}
	title := StripHTML(it.Title)
	if title == "" && link == "" {
		return RawItem{}, false
	}

	raw := RawItem{
		Title:             title,
		Link:              link,
		Summary:           StripHTML(it.Description),
		Content:           StripHTML(it.Content),
		RawContentEncoded: it.Content,
	}
	switch {
	case it.PublishedParsed != nil:
		raw.PublishedAt = it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		raw.PublishedAt = it.UpdatedParsed.UTC()
	}
	return raw, true
}
