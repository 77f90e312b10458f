package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newspulse/aggregator/internal/fetch"
	"newspulse/aggregator/internal/lexicon"
	"newspulse/aggregator/internal/models"
	"newspulse/aggregator/internal/quality"
	"newspulse/aggregator/internal/sentiment"
	"newspulse/aggregator/internal/store"
	"newspulse/aggregator/internal/themes"
)

type stubFetcher struct {
	mu    sync.Mutex
	items map[string][]fetch.RawItem
	errs  map[string]error
	calls map[string]int
	block chan struct{}
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		items: make(map[string][]fetch.RawItem),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, feedURL string) ([]fetch.RawItem, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[feedURL]++
	if err := f.errs[feedURL]; err != nil {
		return nil, &fetch.FetchError{URL: feedURL, Op: fetch.OpRequest, Err: err}
	}
	return f.items[feedURL], nil
}

type fixture struct {
	store   *store.MemoryStore
	fetcher *stubFetcher
	lex     *lexicon.Lexicon
	orch    *Orchestrator
}

func newFixture(t *testing.T, themeList []models.Theme, feeds ...string) *fixture {
	t.Helper()

	mem := store.NewMemoryStore()
	for _, url := range feeds {
		_, err := mem.InsertFeed(context.Background(), models.NewFeed(url))
		require.NoError(t, err)
	}
	fetcher := newStubFetcher()
	lex := lexicon.New(lexicon.DefaultEntries(), lexicon.DefaultSettings(), mem)

	orch, err := New(Config{WorkerCount: 2, StoreTimeout: time.Second}, Deps{
		Store:    mem,
		Fetcher:  fetcher,
		Themes:   themes.NewStaticSource(themeList),
		Analyzer: sentiment.NewAnalyzer(lex, sentiment.DefaultSettings()),
		Matcher:  themes.NewMatcher(1),
		Scorer:   quality.NewScorer(),
	})
	require.NoError(t, err)
	return &fixture{store: mem, fetcher: fetcher, lex: lex, orch: orch}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestTriggerRefreshEndToEnd(t *testing.T) {
	diplomatie := models.Theme{Name: "Diplomatie", Keywords: []string{"accord", "paix"}}
	fx := newFixture(t, []models.Theme{diplomatie}, "https://www.lemonde.fr/rss")
	fx.fetcher.items["https://www.lemonde.fr/rss"] = []fetch.RawItem{
		{Title: "Accord de paix historique", Link: "http://x/1", PublishedAt: time.Now()},
	}

	res, err := fx.orch.TriggerRefresh(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.FeedsProcessed)
	assert.Equal(t, 1, res.ArticlesProcessed)
	assert.Equal(t, 1, res.ArticlesSaved)
	assert.Empty(t, res.Errors)

	a, ok := fx.store.Article("http://x/1")
	require.True(t, ok)
	assert.Equal(t, models.SentimentPositive, a.SentimentLabel)
	assert.Greater(t, a.SentimentScore, 0.0)
	assert.Equal(t, "lemonde.fr", a.Source)
	assert.Equal(t, "https://www.lemonde.fr/rss", a.FeedURL)
	assert.GreaterOrEqual(t, a.ImportanceScore, 0.1)
	require.Len(t, a.Themes, 1)
	assert.Equal(t, "Diplomatie", a.Themes[0].ThemeName)
	assert.Greater(t, a.Themes[0].Confidence, 0.0)

	feed, ok := fx.store.Feed("https://www.lemonde.fr/rss")
	require.True(t, ok)
	assert.True(t, feed.LastFetchedAt.Valid)

	last, ok := fx.orch.LastResult()
	require.True(t, ok)
	assert.Equal(t, res.RunID, last.RunID)
	assert.False(t, fx.orch.Running())
}

func TestTriggerRefreshIsIdempotent(t *testing.T) {
	fx := newFixture(t, themes.DefaultThemes(), "http://feed/a")
	fx.fetcher.items["http://feed/a"] = []fetch.RawItem{
		{Title: "Crise économique en Europe", Link: "http://feed/a/1"},
		{Title: "Sommet pour la paix", Link: "http://feed/a/2"},
	}

	for i := 0; i < 2; i++ {
		res, err := fx.orch.TriggerRefresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, res.ArticlesSaved)
	}

	n, err := fx.store.CountArticles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTriggerRefreshPartialFailure(t *testing.T) {
	fx := newFixture(t, nil, "http://feed/a", "http://feed/b", "http://feed/c")
	fx.fetcher.items["http://feed/a"] = []fetch.RawItem{{Title: "Bonne nouvelle", Link: "http://feed/a/1"}}
	fx.fetcher.errs["http://feed/b"] = errors.New("connection refused")
	fx.fetcher.items["http://feed/c"] = []fetch.RawItem{{Title: "Une autre nouvelle", Link: "http://feed/c/1"}}

	res, err := fx.orch.TriggerRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.FeedsProcessed)
	assert.Equal(t, 2, res.ArticlesSaved)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "http://feed/b", res.Errors[0].FeedURL)
	assert.Contains(t, res.Errors[0].Message, "connection refused")

	_, ok := fx.store.Article("http://feed/a/1")
	assert.True(t, ok)
	_, ok = fx.store.Article("http://feed/c/1")
	assert.True(t, ok)

	failed, _ := fx.store.Feed("http://feed/b")
	assert.Equal(t, 1, failed.FailuresCount)
	assert.True(t, failed.LastFetchedAt.Valid)
}

func TestTriggerRefreshDropsInvalidItems(t *testing.T) {
	fx := newFixture(t, nil, "https://news.example.org/feeds/rss.xml")
	fx.fetcher.items["https://news.example.org/feeds/rss.xml"] = []fetch.RawItem{
		{Title: "Sans lien"},
		{Title: "", Link: "/articles/42", Summary: "Un résumé."},
	}

	res, err := fx.orch.TriggerRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ArticlesProcessed)
	assert.Equal(t, 1, res.ArticlesSaved)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "missing link")

	a, ok := fx.store.Article("https://news.example.org/articles/42")
	require.True(t, ok)
	assert.Equal(t, models.UntitledPlaceholder, a.Title)
	assert.Equal(t, "Un résumé.", a.Content)
	assert.False(t, a.PublishedAt.IsZero())
}

func TestTriggerRefreshArticleWriteFailure(t *testing.T) {
	fx := newFixture(t, nil, "http://feed/a")
	fx.fetcher.items["http://feed/a"] = []fetch.RawItem{
		{Title: "Premier", Link: "http://feed/a/1"},
		{Title: "Second", Link: "http://feed/a/2"},
	}
	fx.store.FailLinks = map[string]error{"http://feed/a/1": errors.New("disk full")}

	res, err := fx.orch.TriggerRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.ArticlesSaved)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "disk full")
}

func TestTriggerRefreshThemeWriteFailure(t *testing.T) {
	diplomatie := models.Theme{Name: "Diplomatie", Keywords: []string{"accord", "paix"}}
	fx := newFixture(t, []models.Theme{diplomatie}, "http://feed/a")
	fx.fetcher.items["http://feed/a"] = []fetch.RawItem{
		{Title: "Accord de paix historique", Link: "http://feed/a/1"},
	}
	fx.store.AssocErr = errors.New("constraint violation")

	res, err := fx.orch.TriggerRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.ArticlesProcessed)
	assert.Zero(t, res.ArticlesSaved)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "http://feed/a", res.Errors[0].FeedURL)
	assert.Contains(t, res.Errors[0].Message, "constraint violation")
}

func TestTriggerRefreshReplacesThemesOnRefetch(t *testing.T) {
	diplomatie := models.Theme{Name: "Diplomatie", Keywords: []string{"accord", "paix"}}
	conflits := models.Theme{Name: "Conflits", Keywords: []string{"guerre"}}
	fx := newFixture(t, []models.Theme{diplomatie, conflits}, "http://feed/a")

	fx.fetcher.items["http://feed/a"] = []fetch.RawItem{
		{Title: "Accord de paix historique", Link: "http://feed/a/1"},
	}
	_, err := fx.orch.TriggerRefresh(context.Background())
	require.NoError(t, err)
	a, ok := fx.store.Article("http://feed/a/1")
	require.True(t, ok)
	require.Len(t, a.Themes, 1)
	assert.Equal(t, "Diplomatie", a.Themes[0].ThemeName)

	fx.fetcher.items["http://feed/a"] = []fetch.RawItem{
		{Title: "Guerre totale au nord", Link: "http://feed/a/1"},
	}
	_, err = fx.orch.TriggerRefresh(context.Background())
	require.NoError(t, err)
	a, ok = fx.store.Article("http://feed/a/1")
	require.True(t, ok)
	assert.Equal(t, "Guerre totale au nord", a.Title)
	require.Len(t, a.Themes, 1)
	assert.Equal(t, "Conflits", a.Themes[0].ThemeName)

	fx.fetcher.items["http://feed/a"] = []fetch.RawItem{
		{Title: "Météo clémente ce week-end", Link: "http://feed/a/1"},
	}
	_, err = fx.orch.TriggerRefresh(context.Background())
	require.NoError(t, err)
	a, ok = fx.store.Article("http://feed/a/1")
	require.True(t, ok)
	assert.Empty(t, a.Themes)
}

func TestTriggerRefreshStoreUnavailable(t *testing.T) {
	fx := newFixture(t, nil, "http://feed/a")
	fx.store.PingErr = errors.New("connection reset")

	_, err := fx.orch.TriggerRefresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, fx.orch.Running())
	assert.Zero(t, fx.fetcher.calls["http://feed/a"])
}

func TestTriggerRefreshSingleFlight(t *testing.T) {
	fx := newFixture(t, nil, "http://feed/a")
	fx.fetcher.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := fx.orch.TriggerRefresh(context.Background())
		done <- err
	}()

	require.Eventually(t, fx.orch.Running, time.Second, 5*time.Millisecond)
	_, err := fx.orch.TriggerRefresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInProgress)

	close(fx.fetcher.block)
	require.NoError(t, <-done)
	assert.False(t, fx.orch.Running())

	_, err = fx.orch.TriggerRefresh(context.Background())
	assert.NoError(t, err)
}

func TestTriggerRefreshRespectsFeedCap(t *testing.T) {
	mem := store.NewMemoryStore()
	for i := 0; i < 5; i++ {
		_, err := mem.InsertFeed(context.Background(), models.NewFeed(fmt.Sprintf("http://feed/%d", i)))
		require.NoError(t, err)
	}
	fetcher := newStubFetcher()
	orch, err := New(Config{MaxFeedsPerCycle: 2, WorkerCount: 1}, Deps{
		Store:    mem,
		Fetcher:  fetcher,
		Themes:   themes.NewStaticSource(nil),
		Analyzer: sentiment.NewAnalyzer(lexicon.New(lexicon.DefaultEntries(), lexicon.DefaultSettings(), nil), sentiment.DefaultSettings()),
	})
	require.NoError(t, err)

	res, err := orch.TriggerRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.FeedsProcessed)

	// The two feeds just fetched move to the back of the queue.
	res, err = orch.TriggerRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.FeedsProcessed)
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Len(t, fetcher.calls, 4)
}

func TestTriggerRefreshLearnsAndPersistsLexicon(t *testing.T) {
	fx := newFixture(t, nil, "http://feed/a")
	for i := 0; i < 5; i++ {
		fx.fetcher.items["http://feed/a"] = append(fx.fetcher.items["http://feed/a"], fetch.RawItem{
			Title: "Bravissimo pour la paix et le succès",
			Link:  fmt.Sprintf("http://feed/a/%d", i),
		})
	}

	_, err := fx.orch.TriggerRefresh(context.Background())
	require.NoError(t, err)

	entry, ok := fx.lex.Entry("bravissimo")
	require.True(t, ok)
	assert.Greater(t, entry.Score, 0.0)
	assert.False(t, fx.lex.Dirty())

	saved, err := fx.store.LoadLexicon(context.Background())
	require.NoError(t, err)
	var found bool
	for _, e := range saved {
		if e.Word == "bravissimo" {
			found = true
			assert.Greater(t, e.Score, 0.0)
		}
	}
	assert.True(t, found)
}

func TestAnalyzeText(t *testing.T) {
	fx := newFixture(t, nil)

	got := fx.orch.AnalyzeText("bon")
	assert.Equal(t, models.SentimentPositive, got.Sentiment)
	assert.Greater(t, got.Score, 0.0)

	got = fx.orch.AnalyzeText("pas bon")
	assert.Less(t, got.Score, 0.0)

	got = fx.orch.AnalyzeText("")
	assert.Equal(t, models.SentimentNeutral, got.Sentiment)
}

func TestPurgeOldArticles(t *testing.T) {
	fx := newFixture(t, nil, "http://feed/a")
	fx.fetcher.items["http://feed/a"] = []fetch.RawItem{
		{Title: "Ancien", Link: "http://feed/a/old", PublishedAt: time.Now().AddDate(0, 0, -10)},
		{Title: "Récent", Link: "http://feed/a/new", PublishedAt: time.Now()},
	}
	_, err := fx.orch.TriggerRefresh(context.Background())
	require.NoError(t, err)

	_, err = fx.orch.PurgeOldArticles(context.Background(), 0)
	assert.Error(t, err)

	n, err := fx.orch.PurgeOldArticles(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok := fx.store.Article("http://feed/a/new")
	assert.True(t, ok)
}

func TestNormalize(t *testing.T) {
	fetchedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		item     fetch.RawItem
		wantLink string
		wantErr  bool
	}{
		{name: "absolute", item: fetch.RawItem{Title: "t", Link: "https://a.org/x"}, wantLink: "https://a.org/x"},
		{name: "relative", item: fetch.RawItem{Title: "t", Link: "../y"}, wantLink: "https://feeds.a.org/y"},
		{name: "missing", item: fetch.RawItem{Title: "t"}, wantErr: true},
		{name: "scheme", item: fetch.RawItem{Title: "t", Link: "mailto:x@a.org"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := normalize("https://feeds.a.org/rss/main.xml", tt.item, fetchedAt, 10)
			if tt.wantErr {
				var ne *NormalizationError
				assert.ErrorAs(t, err, &ne)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLink, a.Link)
			assert.Equal(t, fetchedAt, a.PublishedAt)
			assert.Equal(t, "feeds.a.org", a.Source)
		})
	}

	a, err := normalize("https://a.org/rss", fetch.RawItem{Link: "https://a.org/1", Content: "0123456789abcdef"}, fetchedAt, 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", a.Content)
}
