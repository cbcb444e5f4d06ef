package database

import (
	"net/url"
	"strings"
	"time"

	apperrors "dbvault/internal/errors"
)

const (
	defaultPgDump  = "pg_dump"
	defaultPsql    = "psql"
	defaultTimeout = 30 * time.Second
)

// Config holds the datastore connection settings. It is passed explicitly into
// every backup and restore operation.
type Config struct {
	URL        string        `mapstructure:"url" yaml:"url"`
	PgDumpPath string        `mapstructure:"pg_dump_path" yaml:"pg_dump_path"`
	PsqlPath   string        `mapstructure:"psql_path" yaml:"psql_path"`
	TLS        bool          `mapstructure:"tls" yaml:"tls"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Validate fails fast when the connection string is absent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return apperrors.NewConfigurationError("database connection string is not configured", nil).
			WithContext("setting", "database.url")
	}
	if c.Timeout < 0 {
		return apperrors.NewConfigurationError("database timeout must not be negative", nil).
			WithContext("setting", "database.timeout")
	}
	return nil
}

// SetDefaults fills in tool names and the connection timeout
func (c *Config) SetDefaults() {
	if c.PgDumpPath == "" {
		c.PgDumpPath = defaultPgDump
	}
	if c.PsqlPath == "" {
		c.PsqlPath = defaultPsql
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}

// DSN returns the connection string handed to the driver and the native tools.
// When TLS is requested and the string does not pin an sslmode, sslmode=require is added.
func (c *Config) DSN() string {
	dsn := strings.TrimSpace(c.URL)
	if !c.TLS || strings.Contains(dsn, "sslmode") {
		return dsn
	}

	if u, err := url.Parse(dsn); err == nil && (u.Scheme == "postgres" || u.Scheme == "postgresql") {
		q := u.Query()
		q.Set("sslmode", "require")
		u.RawQuery = q.Encode()
		return u.String()
	}
	return dsn + " sslmode=require"
}

// ToolEnv returns extra environment variables for pg_dump and psql
func (c *Config) ToolEnv() []string {
	if c.TLS {
		return []string{"PGSSLMODE=require"}
	}
	return nil
}
