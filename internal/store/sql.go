package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"newspulse/aggregator/internal/database"
	"newspulse/aggregator/internal/models"
)

const maxErrorLength = 500

// SQLStore implements ArticleStore on SQLite or PostgreSQL. The dialect only
// changes the placeholder format; every statement is portable.
type SQLStore struct {
	db  *sqlx.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewSQLStore creates a store over an open database.
func NewSQLStore(db *database.DB) *SQLStore {
	var placeholder sq.PlaceholderFormat = sq.Question
	if db.Dialect == database.DialectPostgres {
		placeholder = sq.Dollar
	}
	return &SQLStore{
		db:  db.DB,
		sb:  sq.StatementBuilder.PlaceholderFormat(placeholder),
		now: time.Now,
	}
}

// Ping implements ArticleStore.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return persistErr("ping", "", err)
	}
	return nil
}

// UpsertArticle implements ArticleStore.
func (s *SQLStore) UpsertArticle(ctx context.Context, a *models.Article) (int64, error) {
	now := timestamp(s.now())
	query, args, err := s.sb.Insert("articles").
		Columns(
			"link", "title", "content", "feed_url", "source", "published_at",
			"sentiment_score", "sentiment_label", "sentiment_confidence",
			"confidence_score", "importance_score", "created_at", "updated_at",
		).
		Values(
			a.Link, a.Title, a.Content, a.FeedURL, a.Source, timestamp(a.PublishedAt),
			a.SentimentScore, a.SentimentLabel, a.SentimentConfidence,
			a.ConfidenceScore, a.ImportanceScore, now, now,
		).
		Suffix(`ON CONFLICT (link) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			feed_url = excluded.feed_url,
			source = excluded.source,
			published_at = excluded.published_at,
			sentiment_score = excluded.sentiment_score,
			sentiment_label = excluded.sentiment_label,
			sentiment_confidence = excluded.sentiment_confidence,
			confidence_score = excluded.confidence_score,
			importance_score = excluded.importance_score,
			updated_at = excluded.updated_at
			RETURNING id`).
		ToSql()
	if err != nil {
		return 0, persistErr("upsert article", a.Link, err)
	}

	var id int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, persistErr("upsert article", a.Link, err)
	}
	a.ID = id
	return id, nil
}

// UpsertTheme implements ArticleStore.
func (s *SQLStore) UpsertTheme(ctx context.Context, t models.Theme) (int64, error) {
	now := timestamp(s.now())
	query, args, err := s.sb.Insert("themes").
		Columns("name", "keywords", "color", "description", "created_at", "updated_at").
		Values(t.Name, joinKeywords(t.Keywords), t.Color, t.Description, now, now).
		Suffix(`ON CONFLICT (name) DO UPDATE SET
			keywords = excluded.keywords,
			color = excluded.color,
			description = excluded.description,
			updated_at = excluded.updated_at
			RETURNING id`).
		ToSql()
	if err != nil {
		return 0, persistErr("upsert theme", t.Name, err)
	}

	var id int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, persistErr("upsert theme", t.Name, err)
	}
	return id, nil
}

// UpsertThemeAssociation implements ArticleStore.
func (s *SQLStore) UpsertThemeAssociation(ctx context.Context, articleID, themeID int64, confidence float64) error {
	if err := s.upsertAssociation(ctx, s.db, articleID, themeID, confidence); err != nil {
		return persistErr("upsert theme association", fmt.Sprintf("%d/%d", articleID, themeID), err)
	}
	return nil
}

// ReplaceThemeAssociations implements ArticleStore. The delete and the
// upserts share one transaction.
func (s *SQLStore) ReplaceThemeAssociations(ctx context.Context, articleID int64, matches []models.ThemeMatch) error {
	key := fmt.Sprintf("%d", articleID)
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ThemeID)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistErr("replace theme associations", key, err)
	}
	defer tx.Rollback()

	del := s.sb.Delete("article_themes").Where(sq.Eq{"article_id": articleID})
	if len(ids) > 0 {
		del = del.Where(sq.NotEq{"theme_id": ids})
	}
	query, args, err := del.ToSql()
	if err != nil {
		return persistErr("replace theme associations", key, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return persistErr("replace theme associations", key, err)
	}

	for _, m := range matches {
		if err := s.upsertAssociation(ctx, tx, articleID, m.ThemeID, m.Confidence); err != nil {
			return persistErr("replace theme associations", fmt.Sprintf("%d/%d", articleID, m.ThemeID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("replace theme associations", key, err)
	}
	return nil
}

func (s *SQLStore) upsertAssociation(ctx context.Context, exec sqlx.ExecerContext, articleID, themeID int64, confidence float64) error {
	now := timestamp(s.now())
	query, args, err := s.sb.Insert("article_themes").
		Columns("article_id", "theme_id", "confidence", "created_at", "updated_at").
		Values(articleID, themeID, confidence, now, now).
		Suffix(`ON CONFLICT (article_id, theme_id) DO UPDATE SET
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, query, args...)
	return err
}

// ListActiveFeeds implements ArticleStore.
func (s *SQLStore) ListActiveFeeds(ctx context.Context, limit int) ([]models.Feed, error) {
	qb := s.sb.Select("*").From("feeds").
		Where(sq.Eq{"is_active": true}).
		OrderBy("last_fetched_at IS NOT NULL", "last_fetched_at ASC", "id ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	return s.selectFeeds(ctx, "list active feeds", qb)
}

// ListFeeds implements ArticleStore.
func (s *SQLStore) ListFeeds(ctx context.Context) ([]models.Feed, error) {
	return s.selectFeeds(ctx, "list feeds", s.sb.Select("*").From("feeds").OrderBy("id ASC"))
}

func (s *SQLStore) selectFeeds(ctx context.Context, op string, qb sq.SelectBuilder) ([]models.Feed, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, persistErr(op, "", err)
	}

	feeds := []models.Feed{}
	if err := s.db.SelectContext(ctx, &feeds, query, args...); err != nil {
		return nil, persistErr(op, "", err)
	}
	return feeds, nil
}

// TouchFeedFetchedAt implements ArticleStore. A failed fetch increments
// failures_count and records the error; a successful one resets both.
func (s *SQLStore) TouchFeedFetchedAt(ctx context.Context, feedURL string, status models.FeedFetchStatus) error {
	ub := s.sb.Update("feeds").
		Set("last_fetched_at", timestamp(status.FetchedAt)).
		Set("updated_at", timestamp(s.now())).
		Where(sq.Eq{"url": feedURL})
	if status.Err != nil {
		ub = ub.Set("failures_count", sq.Expr("failures_count + 1")).
			Set("last_error", truncate(status.Err.Error(), maxErrorLength))
	} else {
		ub = ub.Set("failures_count", 0).Set("last_error", nil)
	}

	query, args, err := ub.ToSql()
	if err != nil {
		return persistErr("touch feed", feedURL, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return persistErr("touch feed", feedURL, err)
	}
	return nil
}

// InsertFeed implements ArticleStore.
func (s *SQLStore) InsertFeed(ctx context.Context, f *models.Feed) (bool, error) {
	query, args, err := s.sb.Insert("feeds").
		Columns("url", "title", "is_active", "created_at", "updated_at").
		Values(f.URL, f.Title, f.IsActive, timestamp(f.CreatedAt), timestamp(f.UpdatedAt)).
		Suffix("ON CONFLICT (url) DO NOTHING").
		ToSql()
	if err != nil {
		return false, persistErr("insert feed", f.URL, err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, persistErr("insert feed", f.URL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("insert feed", f.URL, err)
	}
	return n > 0, nil
}

// ListArticles implements ArticleStore. Articles come back in (created_at,
// id) order with their theme associations.
func (s *SQLStore) ListArticles(ctx context.Context, q ArticleQuery) ([]models.Article, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	qb := s.sb.Select("*").From("articles").
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(pageLimit(q.Limit)))
	if q.CursorTime != nil && q.CursorID != nil {
		ts := timestamp(*q.CursorTime)
		qb = qb.Where(sq.Or{
			sq.Gt{"created_at": ts},
			sq.And{sq.Eq{"created_at": ts}, sq.Gt{"id": *q.CursorID}},
		})
	} else {
		qb = qb.Where(sq.Gt{"created_at": q.Since.UTC()})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, persistErr("list articles", "", err)
	}

	articles := []models.Article{}
	if err := s.db.SelectContext(ctx, &articles, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return articles, nil
		}
		return nil, persistErr("list articles", "", err)
	}
	if len(articles) == 0 {
		return articles, nil
	}

	if err := s.attachThemes(ctx, articles); err != nil {
		return nil, err
	}
	return articles, nil
}

type articleThemeRow struct {
	ArticleID int64 `db:"article_id"`
	models.ThemeMatch
}

func (s *SQLStore) attachThemes(ctx context.Context, articles []models.Article) error {
	ids := make([]int64, len(articles))
	index := make(map[int64]int, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
		index[a.ID] = i
	}

	query, args, err := s.sb.
		Select("at.article_id", "at.theme_id", "t.name AS theme_name", "at.confidence").
		From("article_themes at").
		Join("themes t ON t.id = at.theme_id").
		Where(sq.Eq{"at.article_id": ids}).
		OrderBy("at.article_id", "at.confidence DESC").
		ToSql()
	if err != nil {
		return persistErr("list article themes", "", err)
	}

	var rows []articleThemeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return persistErr("list article themes", "", err)
	}
	for _, r := range rows {
		i := index[r.ArticleID]
		articles[i].Themes = append(articles[i].Themes, r.ThemeMatch)
	}
	return nil
}

// CountArticles implements ArticleStore.
func (s *SQLStore) CountArticles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM articles"); err != nil {
		return 0, persistErr("count articles", "", err)
	}
	return n, nil
}

// PurgeArticlesBefore implements ArticleStore. Associations go with the
// article through ON DELETE CASCADE.
func (s *SQLStore) PurgeArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	key := cutoff.UTC().Format(time.RFC3339)
	query, args, err := s.sb.Delete("articles").Where(sq.Lt{"published_at": timestamp(cutoff)}).ToSql()
	if err != nil {
		return 0, persistErr("purge articles", key, err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, persistErr("purge articles", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("purge articles", key, err)
	}
	return n, nil
}

// ArticleThemes returns the associations stored for one article.
func (s *SQLStore) ArticleThemes(ctx context.Context, articleID int64) ([]models.ThemeMatch, error) {
	articles := []models.Article{{ID: articleID}}
	if err := s.attachThemes(ctx, articles); err != nil {
		return nil, err
	}
	return articles[0].Themes, nil
}

func joinKeywords(keywords []string) string {
	cleaned := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			cleaned = append(cleaned, kw)
		}
	}
	return strings.Join(cleaned, ",")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
