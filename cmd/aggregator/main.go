package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"newspulse/aggregator/internal/config"
	"newspulse/aggregator/internal/database"
	importfeeds "newspulse/aggregator/internal/import"
	"newspulse/aggregator/internal/scheduler"
	"newspulse/aggregator/internal/server"
	"newspulse/aggregator/internal/store"
)

const usage = `Usage: aggregator [command] [options]
Commands: import, start, server, analyze, migrate

For command-specific options, use: aggregator [command] -h`

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	var run func(*config.Config) error
	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	logLevel := cfg.LogLevelName
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Database backend: sqlite or postgres (env: NEWSPULSE_DB_DRIVER)")
	fs.StringVar(&cfg.DBDSN, "db", cfg.DBDSN, "SQLite file path or PostgreSQL URL (env: NEWSPULSE_DB_DSN)")
	fs.StringVar(&logLevel, "log-level", logLevel, "Log level: debug, info, warn, error (env: NEWSPULSE_LOG_LEVEL)")

	switch os.Args[1] {
	case "import":
		var reset bool
		fs.StringVar(&cfg.FeedsCSVPath, "csv", cfg.FeedsCSVPath, "Path or http(s) URL of the feeds CSV file (env: NEWSPULSE_CSV_PATH)")
		fs.BoolVar(&reset, "reset", false, "Delete the SQLite database before importing")
		run = func(cfg *config.Config) error { return runImport(cfg, reset) }

	case "start":
		addRefreshFlags(fs, cfg)
		run = runStart

	case "server":
		var noScheduler bool
		addRefreshFlags(fs, cfg)
		fs.StringVar(&cfg.ServerHost, "host", cfg.ServerHost, "Host to bind the server to (env: NEWSPULSE_HOST)")
		fs.IntVar(&cfg.ServerPort, "port", cfg.ServerPort, "Port to listen on (env: NEWSPULSE_PORT)")
		fs.BoolVar(&noScheduler, "no-scheduler", false, "Only refresh on POST /v1/refresh")
		run = func(cfg *config.Config) error { return runServer(cfg, !noScheduler) }

	case "analyze":
		var learn bool
		fs.BoolVar(&learn, "learn", false, "Let the lexicon learn from the text and persist it")
		run = func(cfg *config.Config) error { return runAnalyze(cfg, fs.Args(), learn) }

	case "migrate":
		var down int
		fs.IntVar(&down, "down", 0, "Roll back the last N migrations instead of applying")
		run = func(cfg *config.Config) error { return runMigrate(cfg, down) }

	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	_ = fs.Parse(os.Args[2:])
	cfg.SetLogLevel(logLevel)
	zerolog.SetGlobalLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func addRefreshFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Time between refresh cycles, 0 for one-shot mode (env: NEWSPULSE_INTERVAL)")
	fs.StringVar(&cfg.CronSpec, "cron", cfg.CronSpec, "Cron expression overriding -interval (env: NEWSPULSE_CRON)")
	fs.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount, "Concurrent feed fetches (env: NEWSPULSE_WORKER_COUNT)")
	fs.IntVar(&cfg.MaxFeedsPerCycle, "max-feeds", cfg.MaxFeedsPerCycle, "Feeds fetched per cycle (env: NEWSPULSE_MAX_FEEDS_PER_CYCLE)")
	fs.IntVar(&cfg.RetentionDays, "retention-days", cfg.RetentionDays, "Purge articles older than this many days, 0 to keep all (env: NEWSPULSE_RETENTION_DAYS)")
	fs.StringVar(&cfg.ThemesFile, "themes", cfg.ThemesFile, "YAML theme file, built-in themes when empty (env: NEWSPULSE_THEMES_FILE)")
	fs.StringVar(&cfg.FetchEngine, "engine", cfg.FetchEngine, "Fetch engine: rss or normalized (env: NEWSPULSE_FETCH_ENGINE)")
	fs.BoolVar(&cfg.Readability, "readability", cfg.Readability, "Extract full text for short items (env: NEWSPULSE_READABILITY)")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runImport imports feeds from a CSV file. With reset, an existing SQLite
// database is deleted first after confirmation.
func runImport(cfg *config.Config, reset bool) error {
	if reset {
		if dialect, _ := database.ParseDialect(cfg.DBDriver); dialect != database.DialectSQLite {
			return fmt.Errorf("-reset is only supported for sqlite")
		}
		if _, err := os.Stat(cfg.DBDSN); err == nil {
			fmt.Printf("Database %s already exists. All data will be lost.\n", cfg.DBDSN)
			fmt.Print("Delete and recreate? (y/N): ")

			var answer string
			fmt.Scanln(&answer)
			if strings.ToLower(answer) != "y" {
				log.Info().Msg("Operation canceled by user")
				return fmt.Errorf("operation canceled by user")
			}
			if err := database.DeleteDB(cfg.DBDSN); err != nil {
				return fmt.Errorf("failed to delete existing database: %w", err)
			}
			log.Info().Str("path", cfg.DBDSN).Msg("Deleted existing database")
		}
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := importfeeds.NewImporter(store.NewSQLStore(db)).ImportFeeds(ctx, cfg.FeedsCSVPath)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d feeds successfully\n", summary.Imported)
	if len(summary.Errors) > 0 {
		fmt.Printf("Encountered %d errors:\n", len(summary.Errors))
		for _, e := range summary.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

// runStart refreshes once, then keeps refreshing on the schedule unless the
// interval is 0 and no cron spec is set.
func runStart(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer p.shutdown()
	p.watchThemes(ctx)

	oneShot := cfg.Interval == 0 && cfg.CronSpec == ""
	if oneShot {
		log.Info().Msg("Running in one-shot mode")
	}

	res, err := p.TriggerRefresh(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Refresh canceled by shutdown signal")
			return nil
		}
		if oneShot {
			return err
		}
		log.Error().Err(err).Msg("Initial refresh failed")
	}
	if oneShot {
		printJSON(os.Stdout, res)
		return nil
	}

	sched, err := startScheduler(cfg, p)
	if err != nil {
		return err
	}
	log.Info().Time("next_run", sched.Next()).Msg("Waiting for next refresh cycle")

	<-ctx.Done()
	log.Info().Msg("Shutting down periodic processing")
	sched.Stop()
	return nil
}

func startScheduler(cfg *config.Config, p *pipeline) (*scheduler.Scheduler, error) {
	spec, err := scheduler.Spec(cfg.Interval, cfg.CronSpec)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(p, time.Local, scheduler.WithRunTimeout(30*time.Minute))
	if err := sched.Schedule(spec); err != nil {
		return nil, err
	}
	sched.Start()
	return sched, nil
}

// runServer starts the HTTP API, with the refresh scheduler unless disabled.
func runServer(cfg *config.Config, withScheduler bool) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer p.shutdown()
	p.watchThemes(ctx)

	if withScheduler && (cfg.Interval > 0 || cfg.CronSpec != "") {
		sched, err := startScheduler(cfg, p)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	h := server.NewHandler(p.store, p, log.Logger, cfg.APIKey)
	return server.RunServer(ctx, h, cfg.ListenAddr(), log.Logger)
}

// runAnalyze scores the text given as arguments, or stdin when there are
// none, and prints the result as JSON.
func runAnalyze(cfg *config.Config, args []string, learn bool) error {
	text := strings.Join(args, " ")
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	analyzer := newAnalyzer(ctx, cfg, db, learn)
	printJSON(os.Stdout, analyzer.Analyze(text))

	if learn {
		if err := analyzer.Lexicon().Persist(ctx); err != nil {
			return err
		}
	}
	return nil
}

// runMigrate applies pending migrations, or rolls back the last n.
func runMigrate(cfg *config.Config, down int) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if down > 0 {
		if err := db.Rollback(down); err != nil {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		log.Info().Int("count", down).Msg("Migrations rolled back")
		return nil
	}
	log.Info().Msg("Database schema is up to date")
	return nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode output")
	}
}
