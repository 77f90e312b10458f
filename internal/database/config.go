package database

import "time"

const (
	defaultMaxIdleConns    = 12
	defaultMaxOpenConns    = 12
	defaultConnMaxLifetime = time.Hour
)

// Dialect selects the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(s string) (Dialect, bool) {
	switch s {
	case "sqlite", "sqlite3", "":
		return DialectSQLite, true
	case "postgres", "postgresql", "pgx", "pg":
		return DialectPostgres, true
	}
	return "", false
}

// Config holds database configuration settings
type Config struct {
	// Dialect picks the driver. DSN is a file path for SQLite and a
	// connection URL for PostgreSQL.
	Dialect Dialect
	DSN     string

	// Optional settings (will use defaults if not set)
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int
	BusyTimeoutMS   int
	ReadOnly        bool
	SkipMigrations  bool
}

// NewConfig creates a new database configuration with default values
func NewConfig(dialect Dialect, dsn string) *Config {
	return &Config{
		Dialect:         dialect,
		DSN:             dsn,
		ConnMaxLifetime: defaultConnMaxLifetime,
		CacheSizeKB:     -64000, // 64MB
		BusyTimeoutMS:   5000,
	}
}
