package models

import (
	"database/sql"
	"time"
)

// Feed represents a row in the 'feeds' table
type Feed struct {
	ID            int64          `db:"id" json:"id"`
	URL           string         `db:"url" json:"url"`
	Title         sql.NullString `db:"title" json:"-"`
	IsActive      bool           `db:"is_active" json:"is_active"`
	FailuresCount int            `db:"failures_count" json:"failures_count"`
	LastError     sql.NullString `db:"last_error" json:"-"`
	LastFetchedAt sql.NullTime   `db:"last_fetched_at" json:"-"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// NewFeed creates a new active Feed with default values
func NewFeed(url string) *Feed {
	now := time.Now().UTC()
	return &Feed{
		URL:       url,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FeedFetchStatus is the outcome of one fetch attempt, written back with the fetch timestamp.
type FeedFetchStatus struct {
	FetchedAt time.Time
	Err       error
}
