package process

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"newspulse/aggregator/internal/fetch"
	"newspulse/aggregator/internal/models"
	"newspulse/aggregator/internal/quality"
)

// NormalizationError reports a feed item dropped because a required field is
// missing after parsing.
type NormalizationError struct {
	FeedURL string
	Link    string
	Reason  string
}

func (e *NormalizationError) Error() string {
	if e.Link == "" {
		return fmt.Sprintf("invalid item from %s: %s", e.FeedURL, e.Reason)
	}
	return fmt.Sprintf("invalid item %s from %s: %s", e.Link, e.FeedURL, e.Reason)
}

// normalize turns a raw item into an unscored article. Relative links are
// resolved against the feed URL.
func normalize(feedURL string, item fetch.RawItem, fetchedAt time.Time, maxContent int) (*models.Article, error) {
	link, err := resolveLink(feedURL, strings.TrimSpace(item.Link))
	if err != nil {
		return nil, &NormalizationError{FeedURL: feedURL, Link: item.Link, Reason: err.Error()}
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = models.UntitledPlaceholder
	}

	content := strings.TrimSpace(item.Content)
	if content == "" {
		content = strings.TrimSpace(item.Summary)
	}
	content = truncateRunes(content, maxContent)

	published := item.PublishedAt
	if published.IsZero() {
		published = fetchedAt
	}

	return &models.Article{
		Link:        link,
		Title:       title,
		Content:     content,
		FeedURL:     feedURL,
		Source:      quality.Host(feedURL),
		PublishedAt: published.UTC(),
	}, nil
}

func resolveLink(feedURL, link string) (string, error) {
	if link == "" {
		return "", fmt.Errorf("missing link")
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("malformed link: %w", err)
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported link scheme %q", u.Scheme)
		}
		return u.String(), nil
	}

	base, err := url.Parse(feedURL)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("relative link %q without absolute feed URL", link)
	}
	return base.ResolveReference(u).String(), nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
