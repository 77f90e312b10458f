// Package config gathers the tunables of every subcommand. Values come from
// the built-in defaults, then an optional YAML file, then NEWSPULSE_*
// environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// Storage
	DBDriver     string `yaml:"db_driver"`
	DBDSN        string `yaml:"db_dsn"`
	FeedsCSVPath string `yaml:"feeds_csv"`

	// Server settings
	ServerHost string `yaml:"server_host"`
	ServerPort int    `yaml:"server_port"`
	APIKey     string `yaml:"api_key"`

	// Refresh cycle
	Interval         time.Duration `yaml:"interval"`
	CronSpec         string        `yaml:"cron"`
	RetentionDays    int           `yaml:"retention_days"`
	MaxFeedsPerCycle int           `yaml:"max_feeds_per_cycle"`
	MaxItemsPerFeed  int           `yaml:"max_items_per_feed"`
	WorkerCount      int           `yaml:"worker_count"`
	InterFeedDelay   time.Duration `yaml:"inter_feed_delay"`
	FeedTimeout      time.Duration `yaml:"feed_timeout"`
	StoreTimeout     time.Duration `yaml:"store_timeout"`
	MaxContentLength int           `yaml:"max_content_length"`

	// Fetching
	FetchEngine   string        `yaml:"fetch_engine"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	MaxRedirects  int           `yaml:"max_redirects"`
	UserAgent     string        `yaml:"user_agent"`
	Readability   bool          `yaml:"readability"`
	EnrichMinimum int           `yaml:"readability_min_content"`

	// Scoring
	ThemesFile         string  `yaml:"themes_file"`
	ThemeMinHits       int     `yaml:"theme_min_hits"`
	LearningRate       float64 `yaml:"learning_rate"`
	BootstrapThreshold int64   `yaml:"bootstrap_threshold"`
	AdjustThreshold    int64   `yaml:"adjust_threshold"`
	ScoreClamp         float64 `yaml:"score_clamp"`
	MinTextLength      int     `yaml:"min_text_length"`

	// Log settings
	LogLevelName string        `yaml:"log_level"`
	LogLevel     zerolog.Level `yaml:"-"`
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		DBDriver:           DefaultDBDriver,
		DBDSN:              DefaultSQLitePath,
		FeedsCSVPath:       DefaultFeedsCSV,
		ServerHost:         DefaultServerHost,
		ServerPort:         DefaultServerPort,
		Interval:           DefaultInterval,
		RetentionDays:      DefaultRetentionDays,
		MaxFeedsPerCycle:   DefaultMaxFeedsPerCycle,
		MaxItemsPerFeed:    DefaultMaxItemsPerFeed,
		WorkerCount:        DefaultWorkerCount,
		InterFeedDelay:     DefaultInterFeedDelay,
		FeedTimeout:        DefaultFeedTimeout,
		StoreTimeout:       DefaultStoreTimeout,
		MaxContentLength:   DefaultMaxContentLength,
		FetchEngine:        DefaultFetchEngine,
		FetchTimeout:       DefaultFetchTimeout,
		MaxRedirects:       DefaultMaxRedirects,
		UserAgent:          DefaultUserAgent,
		EnrichMinimum:      DefaultEnrichMinimum,
		ThemesFile:         DefaultThemesFile,
		ThemeMinHits:       DefaultThemeMinHits,
		LearningRate:       DefaultLearningRate,
		BootstrapThreshold: DefaultBootstrapThreshold,
		AdjustThreshold:    DefaultAdjustThreshold,
		ScoreClamp:         DefaultScoreClamp,
		MinTextLength:      DefaultMinTextLength,
		LogLevelName:       DefaultLogLevel,
		LogLevel:           logLevel,
	}
}

// Load builds the configuration from the defaults, the optional .env and
// YAML files, and the environment. Missing files are not an error.
func Load() (*Config, error) {
	envFile := GetEnvString(EnvDotEnvFile, DefaultDotEnvFile)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(GetEnvString(EnvConfigFile, DefaultConfigFile)); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// LoadFile overlays the YAML file at path. A missing file is ignored.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.LogLevel = parseLevel(c.LogLevelName, c.LogLevel)
	return nil
}

// ApplyEnv overlays the NEWSPULSE_* environment variables.
func (c *Config) ApplyEnv() {
	c.DBDriver = GetEnvString(EnvPrefix+"DB_DRIVER", c.DBDriver)
	c.DBDSN = GetEnvString(EnvPrefix+"DB_DSN", c.DBDSN)
	c.FeedsCSVPath = GetEnvString(EnvPrefix+"CSV_PATH", c.FeedsCSVPath)

	c.ServerHost = GetEnvString(EnvPrefix+"HOST", c.ServerHost)
	c.ServerPort = GetEnvInt(EnvPrefix+"PORT", c.ServerPort)
	c.APIKey = GetEnvString(EnvPrefix+"API_KEY", c.APIKey)

	c.Interval = GetEnvDuration(EnvPrefix+"INTERVAL", c.Interval)
	c.CronSpec = GetEnvString(EnvPrefix+"CRON", c.CronSpec)
	c.RetentionDays = GetEnvInt(EnvPrefix+"RETENTION_DAYS", c.RetentionDays)
	c.MaxFeedsPerCycle = GetEnvInt(EnvPrefix+"MAX_FEEDS_PER_CYCLE", c.MaxFeedsPerCycle)
	c.MaxItemsPerFeed = GetEnvInt(EnvPrefix+"MAX_ITEMS_PER_FEED", c.MaxItemsPerFeed)
	c.WorkerCount = GetEnvInt(EnvPrefix+"WORKER_COUNT", c.WorkerCount)
	c.InterFeedDelay = GetEnvDuration(EnvPrefix+"INTER_FEED_DELAY", c.InterFeedDelay)
	c.FeedTimeout = GetEnvDuration(EnvPrefix+"FEED_TIMEOUT", c.FeedTimeout)
	c.StoreTimeout = GetEnvDuration(EnvPrefix+"STORE_TIMEOUT", c.StoreTimeout)
	c.MaxContentLength = GetEnvInt(EnvPrefix+"MAX_CONTENT_LENGTH", c.MaxContentLength)

	c.FetchEngine = GetEnvString(EnvPrefix+"FETCH_ENGINE", c.FetchEngine)
	c.FetchTimeout = GetEnvDuration(EnvPrefix+"FETCH_TIMEOUT", c.FetchTimeout)
	c.MaxRedirects = GetEnvInt(EnvPrefix+"MAX_REDIRECTS", c.MaxRedirects)
	c.UserAgent = GetEnvString(EnvPrefix+"USER_AGENT", c.UserAgent)
	c.Readability = GetEnvBool(EnvPrefix+"READABILITY", c.Readability)
	c.EnrichMinimum = GetEnvInt(EnvPrefix+"READABILITY_MIN_CONTENT", c.EnrichMinimum)

	c.ThemesFile = GetEnvString(EnvPrefix+"THEMES_FILE", c.ThemesFile)
	c.ThemeMinHits = GetEnvInt(EnvPrefix+"THEME_MIN_HITS", c.ThemeMinHits)
	c.LearningRate = GetEnvFloat(EnvPrefix+"LEARNING_RATE", c.LearningRate)
	c.BootstrapThreshold = int64(GetEnvInt(EnvPrefix+"BOOTSTRAP_THRESHOLD", int(c.BootstrapThreshold)))
	c.AdjustThreshold = int64(GetEnvInt(EnvPrefix+"ADJUST_THRESHOLD", int(c.AdjustThreshold)))
	c.ScoreClamp = GetEnvFloat(EnvPrefix+"SCORE_CLAMP", c.ScoreClamp)
	c.MinTextLength = GetEnvInt(EnvPrefix+"MIN_TEXT_LENGTH", c.MinTextLength)

	c.LogLevelName = GetEnvString(EnvPrefix+"LOG_LEVEL", c.LogLevelName)
	c.LogLevel = GetEnvLogLevel(EnvPrefix+"LOG_LEVEL", c.LogLevel)
}

// SetLogLevel parses name and keeps the current level when it is invalid.
func (c *Config) SetLogLevel(name string) {
	c.LogLevelName = name
	c.LogLevel = parseLevel(name, c.LogLevel)
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q (want sqlite or postgres)", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("db dsn must not be empty")
	}
	switch c.FetchEngine {
	case FetchEngineRSS, FetchEngineNormalized:
	default:
		return fmt.Errorf("unsupported fetch engine %q (want %s or %s)", c.FetchEngine, FetchEngineRSS, FetchEngineNormalized)
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port %d", c.ServerPort)
	}
	if c.Interval < 0 || c.RetentionDays < 0 {
		return fmt.Errorf("interval and retention days must not be negative")
	}
	if c.ScoreClamp <= 0 || c.LearningRate < 0 || c.LearningRate > 1 {
		return fmt.Errorf("score clamp must be positive and learning rate in [0, 1]")
	}
	return nil
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

func parseLevel(name string, fallback zerolog.Level) zerolog.Level {
	if name == "" {
		return fallback
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return fallback
	}
	return level
}
