package display

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// DisplayConfig holds configuration for command output
type DisplayConfig struct {
	ColorEnabled  bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme         string `mapstructure:"theme" yaml:"theme"`
	OutputFormat  string `mapstructure:"output_format" yaml:"output_format"`
	TableStyle    string `mapstructure:"table_style" yaml:"table_style"`
	MaxTableWidth int    `mapstructure:"max_table_width" yaml:"max_table_width"`
	QuietMode     bool   `mapstructure:"quiet" yaml:"quiet"`

	Writer io.Writer `mapstructure:"-" yaml:"-"`
	// ErrWriter receives status lines when the output format is structured.
	ErrWriter io.Writer `mapstructure:"-" yaml:"-"`
}

// ThemeName represents available color themes
type ThemeName string

const (
	ThemeDark  ThemeName = "dark"
	ThemeLight ThemeName = "light"
	ThemePlain ThemeName = "plain"
)

// TableStyleName represents available table styles
type TableStyleName string

const (
	TableStyleDefault TableStyleName = "default"
	TableStyleRounded TableStyleName = "rounded"
	TableStyleCompact TableStyleName = "compact"
)

// DefaultDisplayConfig returns a default display configuration
func DefaultDisplayConfig() *DisplayConfig {
	config := &DisplayConfig{ColorEnabled: true}
	config.SetDefaults()
	return config
}

// Validate validates the display configuration
func (dc *DisplayConfig) Validate() error {
	var errs []string

	validThemes := []string{string(ThemeDark), string(ThemeLight), string(ThemePlain)}
	if !contains(validThemes, dc.Theme) {
		errs = append(errs, fmt.Sprintf("invalid theme '%s', must be one of: %s", dc.Theme, strings.Join(validThemes, ", ")))
	}

	validFormats := []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}
	if !contains(validFormats, dc.OutputFormat) {
		errs = append(errs, fmt.Sprintf("invalid output format '%s', must be one of: %s", dc.OutputFormat, strings.Join(validFormats, ", ")))
	}

	validTableStyles := []string{string(TableStyleDefault), string(TableStyleRounded), string(TableStyleCompact)}
	if !contains(validTableStyles, dc.TableStyle) {
		errs = append(errs, fmt.Sprintf("invalid table style '%s', must be one of: %s", dc.TableStyle, strings.Join(validTableStyles, ", ")))
	}

	if dc.MaxTableWidth < 0 || (dc.MaxTableWidth > 0 && dc.MaxTableWidth < 40) {
		errs = append(errs, fmt.Sprintf("max table width must be 0 (terminal width) or at least 40, got %d", dc.MaxTableWidth))
	}

	if len(errs) > 0 {
		return fmt.Errorf("display configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SetDefaults sets default values for unspecified configuration options
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = string(ThemeDark)
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatTable)
	}
	if dc.TableStyle == "" {
		dc.TableStyle = string(TableStyleDefault)
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
	if dc.ErrWriter == nil {
		dc.ErrWriter = os.Stderr
	}
}

// GetColorTheme returns the ColorTheme based on the theme name
func (dc *DisplayConfig) GetColorTheme() ColorTheme {
	return GetThemeByName(dc.Theme)
}

// GetTableStyle returns the TableStyle based on the style name
func (dc *DisplayConfig) GetTableStyle() TableStyle {
	style := DefaultTableStyle
	switch TableStyleName(dc.TableStyle) {
	case TableStyleRounded:
		style = RoundedTableStyle
	case TableStyleCompact:
		style = CompactTableStyle
	}
	style.MaxWidth = dc.MaxTableWidth
	return style
}

// IsColorEnabled returns true if colors should be used
func (dc *DisplayConfig) IsColorEnabled() bool {
	return dc.ColorEnabled && !dc.QuietMode
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
