package config

import (
	"errors"
	"strings"

	apperrors "dbvault/internal/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads
const EnvPrefix = "DBVAULT"

// flagKeys maps persistent flags onto configuration keys
var flagKeys = map[string]string{
	"database-url": "database.url",
	"pg-dump-path": "database.pg_dump_path",
	"psql-path":    "database.psql_path",
	"tls":          "database.tls",
	"backup-dir":   "backup.directory",
	"compression":  "backup.compression",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"log-file":     "logging.file",
	"audit-file":   "logging.audit_file",
	"no-color":     "no_color",
	"quiet":        "display.quiet",
}

// Loader reads configuration from a YAML file, the environment and CLI flags.
// Precedence, highest first: flags, environment, file, defaults.
type Loader struct {
	viper       *viper.Viper
	searchPaths []string
}

// NewLoader creates a loader that looks for .dbvault.yaml in the working
// directory and then in $HOME.
func NewLoader() *Loader {
	return &Loader{
		viper:       viper.New(),
		searchPaths: []string{".", "$HOME"},
	}
}

// AddFlags registers the persistent configuration flags on cmd and binds them
func (l *Loader) AddFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("database-url", "", "PostgreSQL connection string (env DBVAULT_DATABASE_URL or DATABASE_URL)")
	flags.String("pg-dump-path", "", "Path to the pg_dump binary")
	flags.String("psql-path", "", "Path to the psql binary")
	flags.Bool("tls", false, "Require TLS for database connections")
	flags.String("backup-dir", "", "Directory that holds backups and pointer files")
	flags.String("compression", "", "Archive compression: gzip, zstd or lz4")
	flags.String("log-level", "", "Log level: quiet, normal, verbose or debug")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("log-file", "", "Also write logs to this file")
	flags.String("audit-file", "", "Append backup and restore events to this JSON lines file")
	flags.Bool("no-color", false, "Disable colored output")
	flags.Bool("quiet", false, "Only print errors and command results")

	for flag, key := range flagKeys {
		if err := l.viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the configuration. An explicit configFile must exist; the default
// locations are optional.
func (l *Loader) Load(configFile string) (*Config, error) {
	if configFile != "" {
		l.viper.SetConfigFile(configFile)
	} else {
		l.viper.SetConfigName(".dbvault")
		l.viper.SetConfigType("yaml")
		for _, path := range l.searchPaths {
			l.viper.AddConfigPath(path)
		}
	}

	l.viper.SetEnvPrefix(EnvPrefix)
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.viper.AutomaticEnv()
	if err := l.viper.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}
	if err := l.viper.BindEnv("no_color", EnvPrefix+"_NO_COLOR", "NO_COLOR"); err != nil {
		return nil, err
	}
	l.setDefaults()

	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, apperrors.NewConfigurationError("error reading config file", err).
				WithContext("file", configFile)
		}
	}

	var config Config
	if err := l.viper.Unmarshal(&config); err != nil {
		return nil, apperrors.NewConfigurationError("error unmarshaling config", err)
	}
	if l.viper.GetBool("no_color") {
		config.Display.ColorEnabled = false
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ConfigFileUsed returns the path of the config file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}

// setDefaults registers every scalar key so AutomaticEnv can see it
func (l *Loader) setDefaults() {
	defaults := Default()

	l.viper.SetDefault("database.url", "")
	l.viper.SetDefault("database.pg_dump_path", defaults.Database.PgDumpPath)
	l.viper.SetDefault("database.psql_path", defaults.Database.PsqlPath)
	l.viper.SetDefault("database.tls", false)
	l.viper.SetDefault("database.timeout", defaults.Database.Timeout)

	l.viper.SetDefault("backup.directory", defaults.Backup.Directory)
	l.viper.SetDefault("backup.compression", string(defaults.Backup.Compression))
	l.viper.SetDefault("backup.compression_level", 0)

	l.viper.SetDefault("logging.level", defaults.Logging.Level)
	l.viper.SetDefault("logging.format", defaults.Logging.Format)
	l.viper.SetDefault("logging.file", "")
	l.viper.SetDefault("logging.audit_file", "")

	l.viper.SetDefault("display.color_enabled", true)
	l.viper.SetDefault("display.theme", defaults.Display.Theme)
	l.viper.SetDefault("display.output_format", defaults.Display.OutputFormat)
	l.viper.SetDefault("display.table_style", defaults.Display.TableStyle)
	l.viper.SetDefault("display.max_table_width", 0)
	l.viper.SetDefault("display.quiet", false)
	l.viper.SetDefault("no_color", false)
}
