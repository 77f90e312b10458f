// Package store persists articles, themes, feeds and the sentiment lexicon.
package store

import (
	"context"
	"fmt"
	"time"

	"newspulse/aggregator/internal/models"
)

// ArticleStore is everything the refresh pipeline and the HTTP API need from
// persistence. Upserts are idempotent on their natural keys.
type ArticleStore interface {
	Ping(ctx context.Context) error

	// UpsertArticle inserts or updates by link and returns the row id.
	UpsertArticle(ctx context.Context, a *models.Article) (int64, error)
	// UpsertTheme inserts or updates by name and returns the row id.
	UpsertTheme(ctx context.Context, t models.Theme) (int64, error)
	UpsertThemeAssociation(ctx context.Context, articleID, themeID int64, confidence float64) error
	// ReplaceThemeAssociations makes matches the article's full theme set:
	// listed themes are upserted, any other association is removed.
	ReplaceThemeAssociations(ctx context.Context, articleID int64, matches []models.ThemeMatch) error

	// ListActiveFeeds returns up to limit active feeds, least recently
	// fetched first. A non-positive limit returns all of them.
	ListActiveFeeds(ctx context.Context, limit int) ([]models.Feed, error)
	TouchFeedFetchedAt(ctx context.Context, feedURL string, status models.FeedFetchStatus) error

	ListArticles(ctx context.Context, q ArticleQuery) ([]models.Article, error)
	CountArticles(ctx context.Context) (int, error)
	ListFeeds(ctx context.Context) ([]models.Feed, error)
	// InsertFeed reports false when the URL is already present.
	InsertFeed(ctx context.Context, f *models.Feed) (bool, error)

	// PurgeArticlesBefore deletes articles published before cutoff along with
	// their theme associations.
	PurgeArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ArticleQuery selects a page of articles in creation order. Either Since or
// both cursor fields must be set.
type ArticleQuery struct {
	Since      *time.Time
	CursorTime *time.Time
	CursorID   *int64
	Limit      int
}

// PersistenceError wraps a failed write or read of one record.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op, key string, err error) error {
	return &PersistenceError{Op: op, Key: key, Err: err}
}

func validateQuery(q ArticleQuery) error {
	if q.CursorTime != nil && q.CursorID != nil {
		return nil
	}
	if q.Since != nil {
		return nil
	}
	return fmt.Errorf("either 'since' or cursor parameters must be provided")
}

// DefaultPageLimit applies when a query does not set a limit.
const DefaultPageLimit = 100

func pageLimit(n int) int {
	if n <= 0 {
		return DefaultPageLimit
	}
	return n
}

// timestamp is the store clock: UTC at second precision so SQLite text
// comparison and PostgreSQL timestamptz agree.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
