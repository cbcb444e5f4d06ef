package backup

import (
	"path/filepath"
	"strings"

	apperrors "dbvault/internal/errors"
)

// UploadSource is a named directory of user files included in full backups
type UploadSource struct {
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// Config holds the backup settings
type Config struct {
	Directory        string          `mapstructure:"directory" yaml:"directory"`
	Compression      CompressionType `mapstructure:"compression" yaml:"compression"`
	CompressionLevel int             `mapstructure:"compression_level" yaml:"compression_level"`
	Uploads          []UploadSource  `mapstructure:"uploads" yaml:"uploads"`
	// ConfigFiles is the allow-list of configuration files copied into full backups.
	ConfigFiles []string `mapstructure:"config_files" yaml:"config_files"`
}

// DefaultConfig returns the backup settings used when nothing is configured
func DefaultConfig() Config {
	config := Config{}
	config.SetDefaults()
	return config
}

// SetDefaults sets default values for unset fields
func (c *Config) SetDefaults() {
	if strings.TrimSpace(c.Directory) == "" {
		c.Directory = "backups"
	}
	if c.Compression == "" {
		c.Compression = CompressionTypeGzip
	}
	c.Compression = CompressionType(strings.ToLower(string(c.Compression)))
}

// Validate validates the backup configuration
func (c *Config) Validate() error {
	var errors ValidationErrors

	if strings.TrimSpace(c.Directory) == "" {
		errors.Add("backup.directory", "backup directory is required", nil)
	}

	if c.Compression != "" {
		if _, err := NewCompressionManager().GetCompressor(c.Compression); err != nil {
			errors.Add("backup.compression", "unsupported compression algorithm", string(c.Compression))
		}
	}

	seen := make(map[string]bool)
	for i, upload := range c.Uploads {
		switch {
		case upload.Name == "":
			errors.Add("backup.uploads", "upload source name is required", i)
		case upload.Name != filepath.Base(upload.Name) || upload.Name == "." || upload.Name == "..":
			errors.Add("backup.uploads", "upload source name must be a single path element", upload.Name)
		case seen[upload.Name]:
			errors.Add("backup.uploads", "duplicate upload source name", upload.Name)
		}
		seen[upload.Name] = true

		if strings.TrimSpace(upload.Path) == "" {
			errors.Add("backup.uploads", "upload source path is required", upload.Name)
		}
	}

	bases := make(map[string]bool)
	for _, file := range c.ConfigFiles {
		base := filepath.Base(file)
		if bases[base] {
			errors.Add("backup.config_files", "config files must have distinct base names", file)
		}
		bases[base] = true
	}

	if errors.HasErrors() {
		return apperrors.NewConfigurationError("invalid backup configuration", errors)
	}
	return nil
}

// UploadPath returns the configured directory for an upload source name
func (c *Config) UploadPath(name string) (string, bool) {
	for _, upload := range c.Uploads {
		if upload.Name == name {
			return upload.Path, true
		}
	}
	return "", false
}

// ConfigFilePath returns the configured path for a config file base name
func (c *Config) ConfigFilePath(base string) (string, bool) {
	for _, file := range c.ConfigFiles {
		if filepath.Base(file) == base {
			return file, true
		}
	}
	return "", false
}
