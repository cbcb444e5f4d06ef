// Package config assembles the application configuration passed into every
// backup and restore operation.
package config

import (
	"fmt"
	"strings"

	"dbvault/internal/backup"
	"dbvault/internal/database"
	"dbvault/internal/display"
	apperrors "dbvault/internal/errors"
	"dbvault/internal/logging"
)

// Config is the complete application configuration
type Config struct {
	Database database.Config       `mapstructure:"database" yaml:"database"`
	Backup   backup.Config         `mapstructure:"backup" yaml:"backup"`
	Logging  LoggingConfig         `mapstructure:"logging" yaml:"logging"`
	Display  display.DisplayConfig `mapstructure:"display" yaml:"display"`
}

// LoggingConfig holds application and audit log settings
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
	// AuditFile receives one JSON line per backup and restore event.
	AuditFile string `mapstructure:"audit_file" yaml:"audit_file,omitempty"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	config := &Config{
		Display: display.DisplayConfig{ColorEnabled: true},
	}
	config.SetDefaults()
	return config
}

// SetDefaults sets default values for unspecified configuration options
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Backup.SetDefaults()
	c.Logging.SetDefaults()
	c.Display.SetDefaults()
}

// Validate checks everything except the connection string, which is only
// required by operations that touch the datastore.
func (c *Config) Validate() error {
	if c.Database.Timeout < 0 {
		return apperrors.NewConfigurationError("database timeout must not be negative", nil).
			WithContext("setting", "database.timeout")
	}
	if err := c.Backup.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Display.Validate(); err != nil {
		return apperrors.NewConfigurationError("invalid display configuration", err)
	}
	return nil
}

// SetDefaults sets default values for unspecified logging options
func (lc *LoggingConfig) SetDefaults() {
	if lc.Level == "" {
		lc.Level = string(logging.LogLevelNormal)
	}
	if lc.Format == "" {
		lc.Format = "text"
	}
	lc.Level = strings.ToLower(lc.Level)
	lc.Format = strings.ToLower(lc.Format)
}

// Validate validates the logging configuration
func (lc *LoggingConfig) Validate() error {
	switch logging.LogLevel(lc.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		return apperrors.NewConfigurationError(
			fmt.Sprintf("invalid log level '%s', must be one of: quiet, normal, verbose, debug", lc.Level), nil).
			WithContext("setting", "logging.level")
	}

	if lc.Format != "text" && lc.Format != "json" {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("invalid log format '%s', must be one of: text, json", lc.Format), nil).
			WithContext("setting", "logging.format")
	}
	return nil
}

// LoggerConfig converts the settings into a logging.Config
func (lc *LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Level:   logging.ParseLevel(lc.Level),
		Format:  lc.Format,
		LogFile: lc.File,
	}
}

// Redacted returns a copy that is safe to print
func (c *Config) Redacted() *Config {
	redacted := *c
	redacted.Database.URL = logging.SanitizeDSN(c.Database.URL)
	return &redacted
}
