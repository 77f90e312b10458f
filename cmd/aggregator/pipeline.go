package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"newspulse/aggregator/internal/config"
	"newspulse/aggregator/internal/database"
	"newspulse/aggregator/internal/fetch"
	"newspulse/aggregator/internal/lexicon"
	"newspulse/aggregator/internal/process"
	"newspulse/aggregator/internal/quality"
	"newspulse/aggregator/internal/sentiment"
	"newspulse/aggregator/internal/store"
	"newspulse/aggregator/internal/themes"
)

// openDB opens the configured backend and runs pending migrations.
func openDB(cfg *config.Config) (*database.DB, error) {
	dialect, ok := database.ParseDialect(cfg.DBDriver)
	if !ok {
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
	db, err := database.NewDB(database.NewConfig(dialect, cfg.DBDSN))
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func newFetcher(cfg *config.Config) fetch.Fetcher {
	base := fetch.Config{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.FetchTimeout,
		MaxRedirects: cfg.MaxRedirects,
		MaxItems:     cfg.MaxItemsPerFeed,
	}

	var f fetch.Fetcher
	switch cfg.FetchEngine {
	case config.FetchEngineNormalized:
		f = fetch.NewNormalizingFetcher(fetch.NormalizingConfig{Config: base})
	default:
		f = fetch.NewRSSFetcher(base)
	}
	if cfg.Readability {
		f = fetch.NewEnricher(f, cfg.UserAgent, fetch.WithMinContent(cfg.EnrichMinimum))
	}
	log.Debug().Str("engine", cfg.FetchEngine).Bool("readability", cfg.Readability).Msg("Fetcher configured")
	return f
}

// newThemeSource returns the theme file source when one is configured, the
// built-in themes otherwise.
func newThemeSource(cfg *config.Config) (themes.Source, *themes.FileSource, error) {
	if cfg.ThemesFile == "" {
		return themes.NewStaticSource(themes.DefaultThemes()), nil, nil
	}
	fs, err := themes.NewFileSource(cfg.ThemesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load themes: %w", err)
	}
	return fs, fs, nil
}

func lexiconSettings(cfg *config.Config) lexicon.Settings {
	s := lexicon.DefaultSettings()
	s.LearningRate = cfg.LearningRate
	s.BootstrapThreshold = cfg.BootstrapThreshold
	s.AdjustThreshold = cfg.AdjustThreshold
	s.ScoreClamp = cfg.ScoreClamp
	return s
}

func newAnalyzer(ctx context.Context, cfg *config.Config, db *database.DB, learn bool) *sentiment.Analyzer {
	var persister lexicon.Persister
	if db != nil {
		persister = store.NewLexiconRepository(db)
	}
	lex := lexicon.Load(ctx, persister, lexiconSettings(cfg))

	settings := sentiment.DefaultSettings()
	settings.MinTextLength = cfg.MinTextLength
	settings.Learn = learn
	return sentiment.NewAnalyzer(lex, settings)
}

// pipeline is the wired refresh stack of the start and server commands.
type pipeline struct {
	store      *store.SQLStore
	orch       *process.Orchestrator
	themeFile  *themes.FileSource
	retainDays int
}

func newPipeline(ctx context.Context, cfg *config.Config, db *database.DB) (*pipeline, error) {
	source, themeFile, err := newThemeSource(cfg)
	if err != nil {
		return nil, err
	}

	st := store.NewSQLStore(db)
	orch, err := process.New(process.Config{
		MaxFeedsPerCycle: cfg.MaxFeedsPerCycle,
		MaxItemsPerFeed:  cfg.MaxItemsPerFeed,
		WorkerCount:      cfg.WorkerCount,
		InterFeedDelay:   cfg.InterFeedDelay,
		FeedTimeout:      cfg.FeedTimeout,
		StoreTimeout:     cfg.StoreTimeout,
		MaxContentLength: cfg.MaxContentLength,
	}, process.Deps{
		Store:    st,
		Fetcher:  newFetcher(cfg),
		Themes:   source,
		Analyzer: newAnalyzer(ctx, cfg, db, true),
		Matcher:  themes.NewMatcher(cfg.ThemeMinHits),
		Scorer:   quality.NewScorer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	return &pipeline{store: st, orch: orch, themeFile: themeFile, retainDays: cfg.RetentionDays}, nil
}

// watchThemes hot-reloads the theme file until ctx is done.
func (p *pipeline) watchThemes(ctx context.Context) {
	if p.themeFile == nil {
		return
	}
	go func() {
		if err := p.themeFile.Watch(ctx); err != nil {
			log.Error().Err(err).Str("path", p.themeFile.Path()).Msg("Theme file watcher stopped")
		}
	}()
}

// TriggerRefresh runs a cycle and then purges articles past retention.
func (p *pipeline) TriggerRefresh(ctx context.Context) (process.RefreshResult, error) {
	res, err := p.orch.TriggerRefresh(ctx)
	if err != nil || p.retainDays <= 0 {
		return res, err
	}

	purgeCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if _, purgeErr := p.orch.PurgeOldArticles(purgeCtx, p.retainDays); purgeErr != nil {
		log.Error().Err(purgeErr).Msg("Failed to purge old articles")
	}
	return res, nil
}

func (p *pipeline) AnalyzeText(text string) process.TextAnalysis {
	return p.orch.AnalyzeText(text)
}

func (p *pipeline) Running() bool {
	return p.orch.Running()
}

func (p *pipeline) LastResult() (process.RefreshResult, bool) {
	return p.orch.LastResult()
}

func (p *pipeline) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.orch.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to persist lexicon")
	}
}
