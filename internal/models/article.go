package models

import (
	"time"
)

// Sentiment labels stored on articles.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// UntitledPlaceholder replaces missing feed item titles.
const UntitledPlaceholder = "Sans titre"

// Article represents a row in the 'articles' table. Link is the natural key.
type Article struct {
	ID                  int64     `db:"id" json:"id"`
	Link                string    `db:"link" json:"link"`
	Title               string    `db:"title" json:"title"`
	Content             string    `db:"content" json:"content"`
	FeedURL             string    `db:"feed_url" json:"feed_url"`
	Source              string    `db:"source" json:"source"`
	PublishedAt         time.Time `db:"published_at" json:"published_at"`
	SentimentScore      float64   `db:"sentiment_score" json:"sentiment_score"`
	SentimentLabel      string    `db:"sentiment_label" json:"sentiment_label"`
	SentimentConfidence float64   `db:"sentiment_confidence" json:"sentiment_confidence"`
	ConfidenceScore     float64   `db:"confidence_score" json:"confidence_score"`
	ImportanceScore     float64   `db:"importance_score" json:"importance_score"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`

	// Themes is populated by the pipeline and by read queries, not stored on the row.
	Themes []ThemeMatch `db:"-" json:"themes,omitempty"`
}
