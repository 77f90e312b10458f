package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newspulse/aggregator/internal/database"
	"newspulse/aggregator/internal/models"
)

type backend struct {
	name  string
	store ArticleStore
	lex   interface {
		LoadLexicon(ctx context.Context) ([]models.LexiconEntry, error)
		SaveLexicon(ctx context.Context, entries []models.LexiconEntry) error
	}
}

func backends(t *testing.T) []backend {
	t.Helper()

	mem := NewMemoryStore()
	out := []backend{{name: "memory", store: mem, lex: mem}}

	db, err := database.NewDB(database.NewConfig(database.DialectSQLite, filepath.Join(t.TempDir(), "news.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	out = append(out, backend{name: "sqlite", store: NewSQLStore(db), lex: NewLexiconRepository(db)})

	if dsn := os.Getenv("NEWSPULSE_TEST_PG_DSN"); dsn != "" {
		pg, err := database.NewDB(database.NewConfig(database.DialectPostgres, dsn))
		require.NoError(t, err)
		_, err = pg.Exec("TRUNCATE article_themes, articles, themes, feeds, sentiment_lexicon RESTART IDENTITY CASCADE")
		require.NoError(t, err)
		t.Cleanup(func() { pg.Close() })
		out = append(out, backend{name: "postgres", store: NewSQLStore(pg), lex: NewLexiconRepository(pg)})
	}
	return out
}

func sampleArticle(link string) *models.Article {
	return &models.Article{
		Link:                link,
		Title:               "Accord de paix historique",
		Content:             "Les deux pays signent un accord.",
		FeedURL:             "https://www.lemonde.fr/rss/une.xml",
		Source:              "lemonde.fr",
		PublishedAt:         time.Now().Add(-time.Hour),
		SentimentScore:      0.6,
		SentimentLabel:      models.SentimentPositive,
		SentimentConfidence: 0.7,
		ConfidenceScore:     0.8,
		ImportanceScore:     0.75,
	}
}

func TestUpsertArticleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			a := sampleArticle("http://x/1")
			id1, err := b.store.UpsertArticle(ctx, a)
			require.NoError(t, err)
			id2, err := b.store.UpsertArticle(ctx, sampleArticle("http://x/1"))
			require.NoError(t, err)
			assert.Equal(t, id1, id2)

			updated := sampleArticle("http://x/1")
			updated.SentimentLabel = models.SentimentNegative
			updated.SentimentScore = -0.4
			id3, err := b.store.UpsertArticle(ctx, updated)
			require.NoError(t, err)
			assert.Equal(t, id1, id3)
			assert.Equal(t, id1, updated.ID)

			n, err := b.store.CountArticles(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			got, err := b.store.ListArticles(ctx, ArticleQuery{Since: ptr(time.Time{}), Limit: 10})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, models.SentimentNegative, got[0].SentimentLabel)
			assert.InDelta(t, -0.4, got[0].SentimentScore, 1e-9)
			assert.Equal(t, "lemonde.fr", got[0].Source)
		})
	}
}

func TestThemesAndAssociations(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			theme := models.Theme{Name: "Diplomatie", Keywords: []string{"accord", "paix"}}
			tid1, err := b.store.UpsertTheme(ctx, theme)
			require.NoError(t, err)
			theme.Keywords = append(theme.Keywords, "traité")
			tid2, err := b.store.UpsertTheme(ctx, theme)
			require.NoError(t, err)
			assert.Equal(t, tid1, tid2)

			aid, err := b.store.UpsertArticle(ctx, sampleArticle("http://x/2"))
			require.NoError(t, err)

			require.NoError(t, b.store.UpsertThemeAssociation(ctx, aid, tid1, 0.5))
			require.NoError(t, b.store.UpsertThemeAssociation(ctx, aid, tid1, 0.9))

			got, err := b.store.ListArticles(ctx, ArticleQuery{Since: ptr(time.Time{})})
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Len(t, got[0].Themes, 1)
			assert.Equal(t, "Diplomatie", got[0].Themes[0].ThemeName)
			assert.Equal(t, tid1, got[0].Themes[0].ThemeID)
			assert.InDelta(t, 0.9, got[0].Themes[0].Confidence, 1e-9)
		})
	}
}

func TestReplaceThemeAssociations(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			diplo, err := b.store.UpsertTheme(ctx, models.Theme{Name: "Diplomatie", Keywords: []string{"accord"}})
			require.NoError(t, err)
			conflits, err := b.store.UpsertTheme(ctx, models.Theme{Name: "Conflits", Keywords: []string{"guerre"}})
			require.NoError(t, err)
			aid, err := b.store.UpsertArticle(ctx, sampleArticle("http://x/3"))
			require.NoError(t, err)

			themesOf := func() []models.ThemeMatch {
				got, err := b.store.ListArticles(ctx, ArticleQuery{Since: ptr(time.Time{})})
				require.NoError(t, err)
				require.Len(t, got, 1)
				return got[0].Themes
			}

			require.NoError(t, b.store.ReplaceThemeAssociations(ctx, aid, []models.ThemeMatch{
				{ThemeID: diplo, Confidence: 0.8},
				{ThemeID: conflits, Confidence: 0.4},
			}))
			assert.Len(t, themesOf(), 2)

			require.NoError(t, b.store.ReplaceThemeAssociations(ctx, aid, []models.ThemeMatch{
				{ThemeID: conflits, Confidence: 0.7},
			}))
			got := themesOf()
			require.Len(t, got, 1)
			assert.Equal(t, "Conflits", got[0].ThemeName)
			assert.InDelta(t, 0.7, got[0].Confidence, 1e-9)

			require.NoError(t, b.store.ReplaceThemeAssociations(ctx, aid, nil))
			assert.Empty(t, themesOf())
		})
	}
}

func TestFeedsLifecycle(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			for _, url := range []string{"http://a/rss", "http://b/rss", "http://c/rss"} {
				inserted, err := b.store.InsertFeed(ctx, models.NewFeed(url))
				require.NoError(t, err)
				assert.True(t, inserted)
			}
			inserted, err := b.store.InsertFeed(ctx, models.NewFeed("http://a/rss"))
			require.NoError(t, err)
			assert.False(t, inserted)

			inactive := models.NewFeed("http://d/rss")
			inactive.IsActive = false
			_, err = b.store.InsertFeed(ctx, inactive)
			require.NoError(t, err)

			active, err := b.store.ListActiveFeeds(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, active, 3)

			now := time.Now()
			require.NoError(t, b.store.TouchFeedFetchedAt(ctx, "http://a/rss", models.FeedFetchStatus{FetchedAt: now}))
			require.NoError(t, b.store.TouchFeedFetchedAt(ctx, "http://b/rss", models.FeedFetchStatus{FetchedAt: now, Err: errors.New("timeout")}))
			require.NoError(t, b.store.TouchFeedFetchedAt(ctx, "http://b/rss", models.FeedFetchStatus{FetchedAt: now, Err: errors.New("timeout again")}))

			// Never-fetched feeds come first.
			limited, err := b.store.ListActiveFeeds(ctx, 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "http://c/rss", limited[0].URL)

			all, err := b.store.ListFeeds(ctx)
			require.NoError(t, err)
			require.Len(t, all, 4)
			byURL := map[string]models.Feed{}
			for _, f := range all {
				byURL[f.URL] = f
			}
			assert.True(t, byURL["http://a/rss"].LastFetchedAt.Valid)
			assert.Equal(t, 0, byURL["http://a/rss"].FailuresCount)
			assert.Equal(t, 2, byURL["http://b/rss"].FailuresCount)
			assert.Equal(t, "timeout again", byURL["http://b/rss"].LastError.String)
			assert.False(t, byURL["http://c/rss"].LastFetchedAt.Valid)

			require.NoError(t, b.store.TouchFeedFetchedAt(ctx, "http://b/rss", models.FeedFetchStatus{FetchedAt: now}))
			all, err = b.store.ListFeeds(ctx)
			require.NoError(t, err)
			for _, f := range all {
				if f.URL == "http://b/rss" {
					assert.Equal(t, 0, f.FailuresCount)
					assert.False(t, f.LastError.Valid)
				}
			}
		})
	}
}

func TestListArticlesCursorPagination(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			for _, link := range []string{"http://p/1", "http://p/2", "http://p/3", "http://p/4", "http://p/5"} {
				_, err := b.store.UpsertArticle(ctx, sampleArticle(link))
				require.NoError(t, err)
			}

			seen := map[string]bool{}
			page, err := b.store.ListArticles(ctx, ArticleQuery{Since: ptr(time.Time{}), Limit: 2})
			require.NoError(t, err)
			for len(page) > 0 {
				assert.LessOrEqual(t, len(page), 2)
				for _, a := range page {
					assert.False(t, seen[a.Link], "duplicate %s", a.Link)
					seen[a.Link] = true
				}
				last := page[len(page)-1]
				page, err = b.store.ListArticles(ctx, ArticleQuery{CursorTime: &last.CreatedAt, CursorID: &last.ID, Limit: 2})
				require.NoError(t, err)
			}
			assert.Len(t, seen, 5)

			future, err := b.store.ListArticles(ctx, ArticleQuery{Since: ptr(time.Now().Add(time.Hour))})
			require.NoError(t, err)
			assert.Empty(t, future)

			_, err = b.store.ListArticles(ctx, ArticleQuery{})
			assert.Error(t, err)
		})
	}
}

func TestLexiconPersistence(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			empty, err := b.lex.LoadLexicon(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty)

			entries := make([]models.LexiconEntry, 0, 450)
			for i := 0; i < 450; i++ {
				entries = append(entries, models.LexiconEntry{Word: wordN(i), Score: 0.5, UsageCount: int64(i), Consistency: 0.6})
			}
			require.NoError(t, b.lex.SaveLexicon(ctx, entries))

			entries[0].Score = -1.5
			require.NoError(t, b.lex.SaveLexicon(ctx, entries))

			loaded, err := b.lex.LoadLexicon(ctx)
			require.NoError(t, err)
			require.Len(t, loaded, 450)
			byWord := map[string]models.LexiconEntry{}
			for _, e := range loaded {
				byWord[e.Word] = e
			}
			assert.InDelta(t, -1.5, byWord[wordN(0)].Score, 1e-9)
			assert.Equal(t, int64(449), byWord[wordN(449)].UsageCount)
		})
	}
}

func TestMemoryStoreFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.PingErr = errors.New("down")
	m.FailLinks = map[string]error{"http://bad": errors.New("disk full")}

	var pe *PersistenceError
	require.ErrorAs(t, m.Ping(ctx), &pe)
	assert.Equal(t, "ping", pe.Op)

	_, err := m.UpsertArticle(ctx, sampleArticle("http://bad"))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "http://bad", pe.Key)

	m.AssocErr = errors.New("locked")
	err = m.ReplaceThemeAssociations(ctx, 1, []models.ThemeMatch{{ThemeID: 1, Confidence: 0.5}})
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "replace theme associations", pe.Op)
}

func wordN(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "mot" + string(letters[i%26]) + string(letters[(i/26)%26])
}

func ptr[T any](v T) *T {
	return &v
}

func TestPurgeArticlesBefore(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			old := sampleArticle("http://old/1")
			old.PublishedAt = time.Now().AddDate(0, 0, -40)
			oldID, err := b.store.UpsertArticle(ctx, old)
			require.NoError(t, err)
			_, err = b.store.UpsertArticle(ctx, sampleArticle("http://new/1"))
			require.NoError(t, err)

			tid, err := b.store.UpsertTheme(ctx, models.Theme{Name: "Conflits", Keywords: []string{"guerre"}})
			require.NoError(t, err)
			require.NoError(t, b.store.UpsertThemeAssociation(ctx, oldID, tid, 0.5))

			n, err := b.store.PurgeArticlesBefore(ctx, time.Now().AddDate(0, 0, -30))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			count, err := b.store.CountArticles(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}
