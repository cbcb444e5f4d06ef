package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dbvault/internal/backup"
	apperrors "dbvault/internal/errors"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range EnvironmentVariables() {
		t.Setenv(key, "")
	}
}

func newTestLoader(t *testing.T) (*Loader, *cobra.Command) {
	t.Helper()
	clearEnv(t)
	loader := NewLoader()
	loader.searchPaths = []string{t.TempDir()}
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, loader.AddFlags(cmd))
	return loader, cmd
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	config := Default()

	assert.Equal(t, "pg_dump", config.Database.PgDumpPath)
	assert.Equal(t, "psql", config.Database.PsqlPath)
	assert.Equal(t, 30*time.Second, config.Database.Timeout)
	assert.Equal(t, "backups", config.Backup.Directory)
	assert.Equal(t, backup.CompressionTypeGzip, config.Backup.Compression)
	assert.Equal(t, "normal", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.Equal(t, "table", config.Display.OutputFormat)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		setting string
	}{
		{name: "negative timeout", mutate: func(c *Config) { c.Database.Timeout = -time.Second }, setting: "database.timeout"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, setting: "logging.level"},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, setting: "logging.format"},
		{name: "compression", mutate: func(c *Config) { c.Backup.Compression = "rar" }},
		{name: "display theme", mutate: func(c *Config) { c.Display.Theme = "neon" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.IsConfigurationError(err))
			if tt.setting != "" {
				var appErr *apperrors.AppError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, tt.setting, appErr.Context["setting"])
			}
		})
	}
}

func TestConfig_ValidateAllowsMissingURL(t *testing.T) {
	config := Default()
	config.Database.URL = ""
	assert.NoError(t, config.Validate())
}

func TestConfig_Redacted(t *testing.T) {
	config := Default()
	config.Database.URL = "postgres://app:s3cret@db:5432/app"

	redacted := config.Redacted()
	assert.NotContains(t, redacted.Database.URL, "s3cret")
	assert.Equal(t, "postgres://app:s3cret@db:5432/app", config.Database.URL)
}

func TestLoggingConfig_LoggerConfig(t *testing.T) {
	lc := LoggingConfig{Level: "DEBUG", Format: "JSON", File: "/tmp/x.log"}
	lc.SetDefaults()

	logger := lc.LoggerConfig()
	assert.Equal(t, "debug", string(logger.Level))
	assert.Equal(t, "json", logger.Format)
	assert.Equal(t, "/tmp/x.log", logger.LogFile)
}

func TestLoader_DefaultsWithoutFile(t *testing.T) {
	loader, _ := newTestLoader(t)

	config, err := loader.Load("")
	require.NoError(t, err)
	assert.Empty(t, loader.ConfigFileUsed())
	assert.Empty(t, config.Database.URL)
	assert.Equal(t, "backups", config.Backup.Directory)
	assert.True(t, config.Display.ColorEnabled)
}

func TestLoader_File(t *testing.T) {
	loader, _ := newTestLoader(t)
	path := writeConfigFile(t, `
database:
  url: postgres://file@localhost/app
  timeout: 45s
backup:
  directory: /srv/backups
  compression: zstd
  uploads:
    - name: avatars
      path: /srv/avatars
  config_files:
    - /etc/app/app.yaml
logging:
  level: verbose
`)

	config, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, loader.ConfigFileUsed())
	assert.Equal(t, "postgres://file@localhost/app", config.Database.URL)
	assert.Equal(t, 45*time.Second, config.Database.Timeout)
	assert.Equal(t, "/srv/backups", config.Backup.Directory)
	assert.Equal(t, backup.CompressionTypeZstd, config.Backup.Compression)
	assert.Equal(t, []backup.UploadSource{{Name: "avatars", Path: "/srv/avatars"}}, config.Backup.Uploads)
	assert.Equal(t, []string{"/etc/app/app.yaml"}, config.Backup.ConfigFiles)
	assert.Equal(t, "verbose", config.Logging.Level)
}

func TestLoader_SearchPath(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := t.TempDir()
	loader.searchPaths = []string{dir}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".dbvault.yaml"), []byte("backup:\n  directory: found\n"), 0644))

	config, err := loader.Load("")
	require.NoError(t, err)
	assert.Equal(t, "found", config.Backup.Directory)
}

func TestLoader_MissingExplicitFile(t *testing.T) {
	loader, _ := newTestLoader(t)

	_, err := loader.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigurationError(err))
}

func TestLoader_InvalidValues(t *testing.T) {
	loader, _ := newTestLoader(t)
	path := writeConfigFile(t, "logging:\n  level: shouting\n")

	_, err := loader.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestLoader_Environment(t *testing.T) {
	t.Run("DATABASE_URL fallback", func(t *testing.T) {
		loader, _ := newTestLoader(t)
		t.Setenv("DATABASE_URL", "postgres://fallback@localhost/app")

		config, err := loader.Load("")
		require.NoError(t, err)
		assert.Equal(t, "postgres://fallback@localhost/app", config.Database.URL)
	})

	t.Run("prefixed variable wins", func(t *testing.T) {
		loader, _ := newTestLoader(t)
		t.Setenv("DATABASE_URL", "postgres://fallback@localhost/app")
		t.Setenv("DBVAULT_DATABASE_URL", "postgres://prefixed@localhost/app")

		config, err := loader.Load("")
		require.NoError(t, err)
		assert.Equal(t, "postgres://prefixed@localhost/app", config.Database.URL)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		loader, _ := newTestLoader(t)
		path := writeConfigFile(t, "backup:\n  directory: from-file\n")
		t.Setenv("DBVAULT_BACKUP_DIRECTORY", "from-env")

		config, err := loader.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", config.Backup.Directory)
	})

	t.Run("NO_COLOR", func(t *testing.T) {
		loader, _ := newTestLoader(t)
		t.Setenv("NO_COLOR", "1")

		config, err := loader.Load("")
		require.NoError(t, err)
		assert.False(t, config.Display.ColorEnabled)
	})
}

func TestLoader_FlagsOverrideEverything(t *testing.T) {
	loader, cmd := newTestLoader(t)
	path := writeConfigFile(t, "backup:\n  directory: from-file\n  compression: gzip\n")
	t.Setenv("DBVAULT_BACKUP_DIRECTORY", "from-env")

	flags := cmd.PersistentFlags()
	require.NoError(t, flags.Set("backup-dir", "from-flag"))
	require.NoError(t, flags.Set("compression", "lz4"))
	require.NoError(t, flags.Set("tls", "true"))
	require.NoError(t, flags.Set("no-color", "true"))
	require.NoError(t, flags.Set("log-format", "json"))

	config, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", config.Backup.Directory)
	assert.Equal(t, backup.CompressionTypeLZ4, config.Backup.Compression)
	assert.True(t, config.Database.TLS)
	assert.False(t, config.Display.ColorEnabled)
	assert.Equal(t, "json", config.Logging.Format)
}

func TestSampleYAML_LoadsBack(t *testing.T) {
	data, err := SampleYAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "# dbvault configuration")
	assert.Contains(t, string(data), "timeout: 30s")

	loader, _ := newTestLoader(t)
	config, err := loader.Load(writeConfigFile(t, string(data)))
	require.NoError(t, err)

	sample := Sample()
	assert.Equal(t, sample.Database.URL, config.Database.URL)
	assert.Equal(t, sample.Database.Timeout, config.Database.Timeout)
	assert.Equal(t, sample.Backup.Uploads, config.Backup.Uploads)
	assert.Equal(t, sample.Backup.ConfigFiles, config.Backup.ConfigFiles)
	assert.Equal(t, 6, config.Backup.CompressionLevel)
	assert.Equal(t, sample.Logging.AuditFile, config.Logging.AuditFile)
}

func TestEnvironmentVariables(t *testing.T) {
	vars := EnvironmentVariables()

	assert.Contains(t, vars, "DATABASE_URL")
	assert.Contains(t, vars, "DBVAULT_DATABASE_URL")
	assert.Contains(t, vars, "DBVAULT_BACKUP_DIRECTORY")
	assert.Contains(t, vars, "DBVAULT_DATABASE_TIMEOUT")
	assert.IsIncreasing(t, vars)
}
