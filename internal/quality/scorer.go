// Package quality estimates how trustworthy and how newsworthy an article is.
package quality

import (
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"newspulse/aggregator/internal/models"
)

// DefaultReputation is the source score of domains missing from the table.
const DefaultReputation = 0.5

// DefaultReputations maps registrable domains to a source score.
var DefaultReputations = map[string]float64{
	"reuters.com":     0.95,
	"apnews.com":      0.95,
	"bbc.co.uk":       0.9,
	"bbc.com":         0.9,
	"lemonde.fr":      0.9,
	"theguardian.com": 0.85,
	"wikipedia.org":   0.85,
	"france24.com":    0.85,
	"rfi.fr":          0.85,
	"liberation.fr":   0.8,
	"lefigaro.fr":     0.8,
	"francetvinfo.fr": 0.8,
	"leparisien.fr":   0.75,
}

// Input is what the scorer looks at for one article.
type Input struct {
	Title               string
	Content             string
	PublishedAt         time.Time
	SourceURL           string
	SentimentScore      float64
	SentimentConfidence float64
}

// Scores is the quality outcome, both values in [0.1, 0.95].
type Scores struct {
	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance"`
}

// Scorer is a pure function of its input and the clock.
type Scorer struct {
	now         func() time.Time
	reputations map[string]float64
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// WithReputations replaces the reputation table.
func WithReputations(r map[string]float64) Option {
	return func(s *Scorer) { s.reputations = r }
}

// NewScorer creates a scorer with the default reputation table.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{now: time.Now, reputations: DefaultReputations}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes confidence and importance.
func (s *Scorer) Score(in Input) Scores {
	recency := s.Recency(in.PublishedAt)
	content := ContentScore(in.Title, in.Content)
	source := s.SourceScore(in.SourceURL)

	confidence := 0.4*content + 0.3*recency + 0.2*source + 0.1*in.SentimentConfidence
	importance := 0.3*content + 0.4*recency + 0.2*source + 0.1*math.Abs(in.SentimentScore)

	return Scores{
		Confidence: clamp(confidence),
		Importance: clamp(importance),
	}
}

// Recency is a step function of the hours since publication. Future dates
// count as fresh.
func (s *Scorer) Recency(publishedAt time.Time) float64 {
	if publishedAt.IsZero() {
		return 0.25
	}
	age := s.now().Sub(publishedAt)
	switch {
	case age < 6*time.Hour:
		return 0.95
	case age < 24*time.Hour:
		return 0.85
	case age < 72*time.Hour:
		return 0.65
	case age < 168*time.Hour:
		return 0.45
	default:
		return 0.25
	}
}

// ContentScore blends content length 70/30 with a title heuristic.
func ContentScore(title, content string) float64 {
	var length float64
	switch n := utf8.RuneCountInString(strings.TrimSpace(content)); {
	case n >= 2000:
		length = 0.9
	case n >= 1000:
		length = 0.8
	case n >= 500:
		length = 0.7
	case n >= 200:
		length = 0.55
	case n >= 50:
		length = 0.4
	default:
		length = 0.25
	}

	title = strings.TrimSpace(title)
	titleScore := 0.5
	switch {
	case title == "" || title == models.UntitledPlaceholder:
		titleScore = 0.3
	case utf8.RuneCountInString(title) > 30:
		titleScore = 0.8
	}

	return 0.7*length + 0.3*titleScore
}

// SourceScore looks the URL's host up in the reputation table, walking up
// parent domains. Unknown hosts score DefaultReputation.
func (s *Scorer) SourceScore(sourceURL string) float64 {
	host := Host(sourceURL)
	for host != "" {
		if r, ok := s.reputations[host]; ok {
			return r
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return DefaultReputation
}

// Host returns the lowercased host of rawURL without a "www." prefix, or ""
// when it does not parse.
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func clamp(v float64) float64 {
	return math.Max(0.1, math.Min(0.95, v))
}
