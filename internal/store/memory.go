package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"newspulse/aggregator/internal/models"
)

type assocKey struct {
	articleID int64
	themeID   int64
}

// MemoryStore is an in-process ArticleStore and lexicon persister with the
// same idempotency rules as SQLStore.
type MemoryStore struct {
	mu sync.Mutex

	now      func() time.Time
	nextID   int64
	feeds    []*models.Feed
	articles map[string]*models.Article
	themes   map[string]*models.Theme
	assoc    map[assocKey]float64
	lexicon  []models.LexiconEntry

	// PingErr makes Ping fail, simulating an unreachable backend.
	PingErr error
	// FailLinks makes UpsertArticle fail for the listed links.
	FailLinks map[string]error
	// AssocErr makes every theme association write fail.
	AssocErr error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		articles: make(map[string]*models.Article),
		themes:   make(map[string]*models.Theme),
		assoc:    make(map[assocKey]float64),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// Ping implements ArticleStore.
func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PingErr != nil {
		return persistErr("ping", "", m.PingErr)
	}
	return nil
}

// UpsertArticle implements ArticleStore.
func (m *MemoryStore) UpsertArticle(_ context.Context, a *models.Article) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailLinks[a.Link]; err != nil {
		return 0, persistErr("upsert article", a.Link, err)
	}
	if a.Link == "" {
		return 0, persistErr("upsert article", a.Link, errors.New("empty link"))
	}

	now := timestamp(m.now())
	cp := *a
	cp.Themes = nil
	cp.PublishedAt = timestamp(a.PublishedAt)
	cp.UpdatedAt = now
	if existing, ok := m.articles[a.Link]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.ID = m.id()
		cp.CreatedAt = now
	}
	m.articles[a.Link] = &cp
	a.ID = cp.ID
	return cp.ID, nil
}

// UpsertTheme implements ArticleStore.
func (m *MemoryStore) UpsertTheme(_ context.Context, t models.Theme) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Name == "" {
		return 0, persistErr("upsert theme", t.Name, errors.New("empty name"))
	}
	cp := t
	if existing, ok := m.themes[t.Name]; ok {
		cp.ID = existing.ID
	} else {
		cp.ID = m.id()
	}
	m.themes[t.Name] = &cp
	return cp.ID, nil
}

// UpsertThemeAssociation implements ArticleStore.
func (m *MemoryStore) UpsertThemeAssociation(_ context.Context, articleID, themeID int64, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AssocErr != nil {
		return persistErr("upsert theme association", fmt.Sprintf("%d/%d", articleID, themeID), m.AssocErr)
	}
	m.assoc[assocKey{articleID, themeID}] = confidence
	return nil
}

// ReplaceThemeAssociations implements ArticleStore.
func (m *MemoryStore) ReplaceThemeAssociations(_ context.Context, articleID int64, matches []models.ThemeMatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AssocErr != nil {
		return persistErr("replace theme associations", fmt.Sprintf("%d", articleID), m.AssocErr)
	}

	for k := range m.assoc {
		if k.articleID == articleID {
			delete(m.assoc, k)
		}
	}
	for _, t := range matches {
		m.assoc[assocKey{articleID, t.ThemeID}] = t.Confidence
	}
	return nil
}

// ListActiveFeeds implements ArticleStore.
func (m *MemoryStore) ListActiveFeeds(_ context.Context, limit int) ([]models.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []models.Feed
	for _, f := range m.feeds {
		if f.IsActive {
			active = append(active, *f)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i].LastFetchedAt, active[j].LastFetchedAt
		if a.Valid != b.Valid {
			return !a.Valid
		}
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return active[i].ID < active[j].ID
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

// TouchFeedFetchedAt implements ArticleStore.
func (m *MemoryStore) TouchFeedFetchedAt(_ context.Context, feedURL string, status models.FeedFetchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.feeds {
		if f.URL != feedURL {
			continue
		}
		f.LastFetchedAt = sql.NullTime{Time: timestamp(status.FetchedAt), Valid: true}
		f.UpdatedAt = timestamp(m.now())
		if status.Err != nil {
			f.FailuresCount++
			f.LastError = sql.NullString{String: truncate(status.Err.Error(), maxErrorLength), Valid: true}
		} else {
			f.FailuresCount = 0
			f.LastError = sql.NullString{}
		}
	}
	return nil
}

// ListArticles implements ArticleStore.
func (m *MemoryStore) ListArticles(_ context.Context, q ArticleQuery) ([]models.Article, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]models.Article, 0, len(m.articles))
	for _, a := range m.articles {
		all = append(all, *a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	limit := pageLimit(q.Limit)
	out := []models.Article{}
	for _, a := range all {
		if len(out) >= limit {
			break
		}
		if q.CursorTime != nil && q.CursorID != nil {
			ts := timestamp(*q.CursorTime)
			if a.CreatedAt.Before(ts) || (a.CreatedAt.Equal(ts) && a.ID <= *q.CursorID) {
				continue
			}
		} else if !a.CreatedAt.After(*q.Since) {
			continue
		}
		a.Themes = m.themesOf(a.ID)
		out = append(out, a)
	}
	return out, nil
}

func (m *MemoryStore) themesOf(articleID int64) []models.ThemeMatch {
	var out []models.ThemeMatch
	for _, t := range m.themes {
		if c, ok := m.assoc[assocKey{articleID, t.ID}]; ok {
			out = append(out, models.ThemeMatch{ThemeID: t.ID, ThemeName: t.Name, Confidence: c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// CountArticles implements ArticleStore.
func (m *MemoryStore) CountArticles(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.articles), nil
}

// ListFeeds implements ArticleStore.
func (m *MemoryStore) ListFeeds(_ context.Context) ([]models.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Feed, 0, len(m.feeds))
	for _, f := range m.feeds {
		out = append(out, *f)
	}
	return out, nil
}

// InsertFeed implements ArticleStore.
func (m *MemoryStore) InsertFeed(_ context.Context, f *models.Feed) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.feeds {
		if existing.URL == f.URL {
			return false, nil
		}
	}
	cp := *f
	cp.ID = m.id()
	m.feeds = append(m.feeds, &cp)
	f.ID = cp.ID
	return true, nil
}

// PurgeArticlesBefore implements ArticleStore.
func (m *MemoryStore) PurgeArticlesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for link, a := range m.articles {
		if !a.PublishedAt.Before(cutoff) {
			continue
		}
		for k := range m.assoc {
			if k.articleID == a.ID {
				delete(m.assoc, k)
			}
		}
		delete(m.articles, link)
		n++
	}
	return n, nil
}

// Article returns the stored article for link.
func (m *MemoryStore) Article(link string) (models.Article, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.articles[link]
	if !ok {
		return models.Article{}, false
	}
	cp := *a
	cp.Themes = m.themesOf(a.ID)
	return cp, true
}

// Feed returns the stored feed for url.
func (m *MemoryStore) Feed(url string) (models.Feed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.feeds {
		if f.URL == url {
			return *f, true
		}
	}
	return models.Feed{}, false
}

// LoadLexicon implements lexicon.Persister.
func (m *MemoryStore) LoadLexicon(_ context.Context) ([]models.LexiconEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.LexiconEntry, len(m.lexicon))
	copy(out, m.lexicon)
	return out, nil
}

// SaveLexicon implements lexicon.Persister.
func (m *MemoryStore) SaveLexicon(_ context.Context, entries []models.LexiconEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lexicon = make([]models.LexiconEntry, len(entries))
	copy(m.lexicon, entries)
	return nil
}
