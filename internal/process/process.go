// Package process runs refresh cycles: fetch the active feeds, score every
// item and upsert the results.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"newspulse/aggregator/internal/fetch"
	"newspulse/aggregator/internal/models"
	"newspulse/aggregator/internal/quality"
	"newspulse/aggregator/internal/sentiment"
	"newspulse/aggregator/internal/store"
	"newspulse/aggregator/internal/themes"
)

var (
	// ErrRefreshInProgress is returned when a trigger arrives while a cycle
	// is already running.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrStoreUnavailable aborts a cycle whose store cannot be reached at
	// start.
	ErrStoreUnavailable = errors.New("article store unavailable")
)

// Config tunes one refresh cycle.
type Config struct {
	MaxFeedsPerCycle int
	MaxItemsPerFeed  int
	WorkerCount      int
	// InterFeedDelay is the pause each worker takes between two feeds.
	InterFeedDelay   time.Duration
	FeedTimeout      time.Duration
	StoreTimeout     time.Duration
	MaxContentLength int
	ProgressInterval time.Duration
}

// DefaultConfig returns the cycle defaults.
func DefaultConfig() Config {
	return Config{
		MaxFeedsPerCycle: 10,
		MaxItemsPerFeed:  20,
		WorkerCount:      3,
		InterFeedDelay:   500 * time.Millisecond,
		FeedTimeout:      2 * time.Minute,
		StoreTimeout:     15 * time.Second,
		MaxContentLength: 5000,
		ProgressInterval: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxFeedsPerCycle <= 0 {
		c.MaxFeedsPerCycle = d.MaxFeedsPerCycle
	}
	if c.MaxItemsPerFeed <= 0 {
		c.MaxItemsPerFeed = d.MaxItemsPerFeed
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.InterFeedDelay < 0 {
		c.InterFeedDelay = 0
	}
	if c.FeedTimeout <= 0 {
		c.FeedTimeout = d.FeedTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = d.MaxContentLength
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = d.ProgressInterval
	}
	return c
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Store    store.ArticleStore
	Fetcher  fetch.Fetcher
	Themes   themes.Source
	Analyzer *sentiment.Analyzer
	Matcher  *themes.Matcher
	Scorer   *quality.Scorer
}

// FeedError is one entry of the cycle error summary.
type FeedError struct {
	FeedURL string `json:"feed_url"`
	Message string `json:"message"`
}

// RefreshResult summarizes one cycle.
type RefreshResult struct {
	RunID             string      `json:"run_id"`
	StartedAt         time.Time   `json:"started_at"`
	DurationMS        int64       `json:"duration_ms"`
	FeedsProcessed    int         `json:"feeds_processed"`
	ArticlesProcessed int         `json:"articles_processed"`
	ArticlesSaved     int         `json:"articles_saved"`
	Errors            []FeedError `json:"errors"`
}

// TextAnalysis is the result of an ad-hoc scoring request.
type TextAnalysis struct {
	Score      float64 `json:"score"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// Orchestrator drives refresh cycles. At most one cycle runs at a time.
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	running atomic.Bool

	mu   sync.Mutex
	last *RefreshResult

	// Live counters of the running cycle
	activeWorkers atomic.Int32
	processed     atomic.Int64
	saved         atomic.Int64
}

// New creates an orchestrator. Every dependency is required.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("article store cannot be nil")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher cannot be nil")
	case deps.Themes == nil:
		return nil, fmt.Errorf("theme source cannot be nil")
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("sentiment analyzer cannot be nil")
	}
	if deps.Matcher == nil {
		deps.Matcher = themes.NewMatcher(1)
	}
	if deps.Scorer == nil {
		deps.Scorer = quality.NewScorer()
	}
	return &Orchestrator{cfg: cfg.withDefaults(), deps: deps, now: time.Now}, nil
}

// Running reports whether a cycle is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastResult returns the summary of the last completed cycle.
func (o *Orchestrator) LastResult() (RefreshResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return RefreshResult{}, false
	}
	return *o.last, true
}

type feedResult struct {
	feed      models.Feed
	items     []fetch.RawItem
	fetchedAt time.Time
	err       error
}

// TriggerRefresh runs one cycle and blocks until it finishes. Per-feed and
// per-article failures are reported in the result; only a store that cannot
// be reached at start fails the call.
func (o *Orchestrator) TriggerRefresh(ctx context.Context) (RefreshResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return RefreshResult{}, ErrRefreshInProgress
	}
	defer o.running.Store(false)

	res := RefreshResult{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
		Errors:    []FeedError{},
	}
	logger := log.With().Str("run_id", res.RunID).Logger()
	o.processed.Store(0)
	o.saved.Store(0)

	feeds, err := o.loadFeeds(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Refresh aborted")
		return res, err
	}
	logger.Info().Int("feeds", len(feeds)).Msg("Refresh started")

	themeList := o.loadThemes(ctx, &res, logger)

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	go o.logProgress(progressCtx, logger)

	feedQueue := make(chan models.Feed, len(feeds))
	for _, f := range feeds {
		feedQueue <- f
	}
	close(feedQueue)

	results := make(chan feedResult, o.cfg.WorkerCount)
	var workerWg sync.WaitGroup
	for i := 0; i < min(o.cfg.WorkerCount, len(feeds)); i++ {
		workerWg.Add(1)
		go o.feedWorker(ctx, feedQueue, results, &workerWg, logger)
	}
	go func() {
		workerWg.Wait()
		close(results)
	}()

	// Scoring and writes stay on this goroutine so lexicon updates are
	// sequential within a cycle.
	for r := range results {
		res.FeedsProcessed++
		o.handleFeed(ctx, r, themeList, &res, logger)
	}

	o.persistLexicon(ctx, &res, logger)

	res.ArticlesProcessed = int(o.processed.Load())
	res.ArticlesSaved = int(o.saved.Load())
	res.DurationMS = o.now().Sub(res.StartedAt).Milliseconds()

	o.mu.Lock()
	last := res
	o.last = &last
	o.mu.Unlock()

	logger.Info().
		Int("feeds_processed", res.FeedsProcessed).
		Int("articles_processed", res.ArticlesProcessed).
		Int("articles_saved", res.ArticlesSaved).
		Int("errors", len(res.Errors)).
		Int64("duration_ms", res.DurationMS).
		Msg("Refresh finished")

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("refresh interrupted: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) loadFeeds(ctx context.Context) ([]models.Feed, error) {
	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	if err := o.deps.Store.Ping(storeCtx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	feeds, err := o.deps.Store.ListActiveFeeds(storeCtx, o.cfg.MaxFeedsPerCycle)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load feeds: %w", ErrStoreUnavailable, err)
	}
	return feeds, nil
}

// loadThemes reads the configured themes and upserts them to get their ids.
// Invalid or unsaved themes are skipped.
func (o *Orchestrator) loadThemes(ctx context.Context, res *RefreshResult, logger zerolog.Logger) []models.Theme {
	list, err := o.deps.Themes.ListThemes(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load themes, scoring without themes")
		res.Errors = append(res.Errors, FeedError{Message: fmt.Sprintf("failed to load themes: %v", err)})
		return nil
	}

	valid := make([]models.Theme, 0, len(list))
	for i, t := range list {
		if err := themes.Validate(i, t); err != nil {
			logger.Warn().Err(err).Msg("Skipping invalid theme")
			continue
		}
		storeCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
		id, err := o.deps.Store.UpsertTheme(storeCtx, t)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("theme", t.Name).Msg("Failed to save theme, skipping")
			continue
		}
		t.ID = id
		valid = append(valid, t)
	}
	return valid
}

// feedWorker fetches feeds from the queue and pauses between two of them.
func (o *Orchestrator) feedWorker(ctx context.Context, queue <-chan models.Feed, results chan<- feedResult, wg *sync.WaitGroup, logger zerolog.Logger) {
	defer wg.Done()
	o.activeWorkers.Add(1)
	defer o.activeWorkers.Add(-1)

	first := true
	for feed := range queue {
		if !first && o.cfg.InterFeedDelay > 0 {
			select {
			case <-time.After(o.cfg.InterFeedDelay):
			case <-ctx.Done():
				return
			}
		}
		first = false
		if ctx.Err() != nil {
			return
		}

		logger.Debug().Int64("feed_id", feed.ID).Str("feed_url", feed.URL).Msg("Fetching feed")

		feedCtx, cancel := context.WithTimeout(ctx, o.cfg.FeedTimeout)
		items, err := o.deps.Fetcher.Fetch(feedCtx, feed.URL)
		cancel()

		if len(items) > o.cfg.MaxItemsPerFeed {
			items = items[:o.cfg.MaxItemsPerFeed]
		}

		select {
		case results <- feedResult{feed: feed, items: items, fetchedAt: o.now(), err: err}:
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) handleFeed(ctx context.Context, r feedResult, themeList []models.Theme, res *RefreshResult, logger zerolog.Logger) {
	feedLog := logger.With().Int64("feed_id", r.feed.ID).Str("feed_url", r.feed.URL).Logger()

	if r.err != nil {
		feedLog.Warn().Err(r.err).Msg("Feed fetch failed")
		res.Errors = append(res.Errors, FeedError{FeedURL: r.feed.URL, Message: r.err.Error()})
	} else if ctx.Err() == nil {
		feedLog.Info().Int("items", len(r.items)).Msg("Feed fetched")
		for _, item := range r.items {
			if ctx.Err() != nil {
				break
			}
			o.processed.Add(1)
			if err := o.processItem(ctx, r, item, themeList); err != nil {
				feedLog.Warn().Err(err).Str("link", item.Link).Msg("Article skipped")
				res.Errors = append(res.Errors, FeedError{FeedURL: r.feed.URL, Message: err.Error()})
				continue
			}
			o.saved.Add(1)
		}
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StoreTimeout)
	defer cancel()
	status := models.FeedFetchStatus{FetchedAt: r.fetchedAt, Err: r.err}
	if err := o.deps.Store.TouchFeedFetchedAt(storeCtx, r.feed.URL, status); err != nil {
		feedLog.Error().Err(err).Msg("Failed to update feed status")
		res.Errors = append(res.Errors, FeedError{FeedURL: r.feed.URL, Message: err.Error()})
	}
}

// processItem normalizes, scores and stores one item with its theme set. An
// item whose associations could not be written counts as failed.
func (o *Orchestrator) processItem(ctx context.Context, r feedResult, item fetch.RawItem, themeList []models.Theme) error {
	article, err := normalize(r.feed.URL, item, r.fetchedAt, o.cfg.MaxContentLength)
	if err != nil {
		return err
	}
	o.score(article, themeList)

	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	articleID, err := o.deps.Store.UpsertArticle(storeCtx, article)
	if err != nil {
		return err
	}
	// A re-fetched article drops the themes it no longer matches.
	if err := o.deps.Store.ReplaceThemeAssociations(storeCtx, articleID, article.Themes); err != nil {
		return fmt.Errorf("article %s saved without themes: %w", article.Link, err)
	}
	return nil
}

// score runs sentiment, then themes, then quality on a normalized article.
func (o *Orchestrator) score(a *models.Article, themeList []models.Theme) {
	text := a.Title
	if a.Content != "" {
		text = a.Title + ". " + a.Content
	}
	s := o.deps.Analyzer.Analyze(text)
	a.SentimentScore = s.Score
	a.SentimentLabel = s.Label
	a.SentimentConfidence = s.Confidence

	a.Themes = o.deps.Matcher.Match(a.Title, a.Content, themeList)

	q := o.deps.Scorer.Score(quality.Input{
		Title:               a.Title,
		Content:             a.Content,
		PublishedAt:         a.PublishedAt,
		SourceURL:           a.FeedURL,
		SentimentScore:      a.SentimentScore,
		SentimentConfidence: a.SentimentConfidence,
	})
	a.ConfidenceScore = q.Confidence
	a.ImportanceScore = q.Importance
}

func (o *Orchestrator) persistLexicon(ctx context.Context, res *RefreshResult, logger zerolog.Logger) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StoreTimeout)
	defer cancel()
	if err := o.deps.Analyzer.Lexicon().Persist(storeCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to persist lexicon")
		res.Errors = append(res.Errors, FeedError{Message: err.Error()})
	}
}

func (o *Orchestrator) logProgress(ctx context.Context, logger zerolog.Logger) {
	ticker := time.NewTicker(o.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			logger.Info().
				Int64("processed", o.processed.Load()).
				Int64("saved", o.saved.Load()).
				Int32("active_workers", o.activeWorkers.Load()).
				Msg("Refresh progress")
		case <-ctx.Done():
			return
		}
	}
}

// AnalyzeText scores an arbitrary text with the shared analyzer. The lexicon
// learns from it like from any article.
func (o *Orchestrator) AnalyzeText(text string) TextAnalysis {
	r := o.deps.Analyzer.Analyze(text)
	return TextAnalysis{Score: r.Score, Sentiment: r.Label, Confidence: r.Confidence}
}

// PurgeOldArticles removes articles published more than retentionDays ago.
func (o *Orchestrator) PurgeOldArticles(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retentionDays must be positive")
	}

	cutoff := o.now().UTC().AddDate(0, 0, -retentionDays)
	log.Info().
		Time("cutoff", cutoff).
		Int("retention_days", retentionDays).
		Msg("Purging old articles")

	n, err := o.deps.Store.PurgeArticlesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge articles: %w", err)
	}

	log.Info().Int64("rows_affected", n).Msg("Purged old articles")
	return n, nil
}

// Shutdown persists pending lexicon changes.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if err := o.deps.Analyzer.Lexicon().Persist(ctx); err != nil {
		return fmt.Errorf("failed to persist lexicon on shutdown: %w", err)
	}
	return nil
}
