package config

import "time"

// Environment variable prefix and file locations.
const (
	EnvPrefix = "NEWSPULSE_"

	EnvConfigFile      = EnvPrefix + "CONFIG"
	EnvDotEnvFile      = EnvPrefix + "ENV_FILE"
	DefaultConfigFile  = "./newspulse.yaml"
	DefaultDotEnvFile  = ".env"
	DefaultFeedsCSV    = "./feeds.csv"
	DefaultSQLitePath  = "./newspulse.db"
	DefaultThemesFile  = ""
	DefaultFetchEngine = "rss"
)

// Constants defining default values for application configuration
const (
	DefaultDBDriver = "sqlite"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultInterval         = 15 * time.Minute
	DefaultRetentionDays    = 0 // 0 keeps articles forever
	DefaultMaxFeedsPerCycle = 10
	DefaultMaxItemsPerFeed  = 20
	DefaultWorkerCount      = 3
	DefaultInterFeedDelay   = 500 * time.Millisecond
	DefaultFeedTimeout      = 2 * time.Minute
	DefaultStoreTimeout     = 15 * time.Second
	DefaultMaxContentLength = 5000

	DefaultFetchTimeout  = 15 * time.Second
	DefaultMaxRedirects  = 5
	DefaultUserAgent     = "NewsPulse/1.0 (+feed aggregator)"
	DefaultEnrichMinimum = 200

	DefaultThemeMinHits = 1

	DefaultLearningRate       = 0.05
	DefaultBootstrapThreshold = 3
	DefaultAdjustThreshold    = 10
	DefaultScoreClamp         = 2.0
	DefaultMinTextLength      = 3

	DefaultLogLevel = "info"
)

// Fetch engines.
const (
	FetchEngineRSS        = "rss"
	FetchEngineNormalized = "normalized"
)
