package display

import (
	"fmt"
	"io"
	"strings"
)

// DisplayService provides centralized formatting and output management
type DisplayService interface {
	PrintHeader(title string)
	PrintTable(headers []string, rows [][]string)
	// PrintData writes v in the configured structured format. In table
	// format it falls back to fallback, which renders v for humans.
	PrintData(v interface{}, fallback func(io.Writer)) error

	Success(message string)
	Warning(message string)
	Error(message string)
	Info(message string)

	Format() OutputFormat
	SetFormat(format OutputFormat)
	SetOutput(writer io.Writer)
	GetConfig() *DisplayConfig
}

type displayService struct {
	config      *DisplayConfig
	colorSystem ColorSystem
	writer      io.Writer
	errWriter   io.Writer
}

// NewDisplayService creates a new display service with the given configuration
func NewDisplayService(config *DisplayConfig) DisplayService {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	return &displayService{
		config:      config,
		colorSystem: NewColorSystem(config.Writer, config.IsColorEnabled()),
		writer:      config.Writer,
		errWriter:   config.ErrWriter,
	}
}

// PrintHeader prints a formatted header
func (ds *displayService) PrintHeader(title string) {
	if ds.config.QuietMode || ds.Format().IsStructured() {
		return
	}

	separator := strings.Repeat("=", len(title)+4)
	header := fmt.Sprintf("%s\n  %s\n%s", separator, title, separator)
	fmt.Fprintln(ds.writer, ds.colorSystem.Colorize(header, ds.config.GetColorTheme().Primary))
}

// PrintTable renders rows as a table, or as records in a structured format
func (ds *displayService) PrintTable(headers []string, rows [][]string) {
	if ds.Format().IsStructured() {
		if err := Encode(ds.writer, ds.Format(), TableRecords(headers, rows)); err != nil {
			ds.Error(err.Error())
		}
		return
	}

	formatter := NewTableFormatter(ds.colorSystem, ds.config.GetColorTheme())
	formatter.SetStyle(ds.config.GetTableStyle())
	formatter.SetHeaders(headers)
	for _, row := range rows {
		formatter.AddRow(row)
	}
	formatter.RenderTo(ds.writer)
}

func (ds *displayService) PrintData(v interface{}, fallback func(io.Writer)) error {
	if ds.Format().IsStructured() {
		return Encode(ds.writer, ds.Format(), v)
	}
	fallback(ds.writer)
	return nil
}

func (ds *displayService) Success(message string) {
	ds.printStatusMessage("OK", message, ds.config.GetColorTheme().Success)
}

func (ds *displayService) Warning(message string) {
	ds.printStatusMessage("WARN", message, ds.config.GetColorTheme().Warning)
}

// Error is printed even in quiet mode
func (ds *displayService) Error(message string) {
	prefix := ds.colorSystem.Colorize("[ERROR]", ds.config.GetColorTheme().Error)
	fmt.Fprintf(ds.statusWriter(), "%s %s\n", prefix, message)
}

func (ds *displayService) Info(message string) {
	ds.printStatusMessage("INFO", message, ds.config.GetColorTheme().Info)
}

func (ds *displayService) Format() OutputFormat {
	return OutputFormat(ds.config.OutputFormat)
}

func (ds *displayService) SetFormat(format OutputFormat) {
	ds.config.OutputFormat = string(format)
}

func (ds *displayService) SetOutput(writer io.Writer) {
	ds.writer = writer
	ds.config.Writer = writer
}

func (ds *displayService) GetConfig() *DisplayConfig {
	return ds.config
}

func (ds *displayService) printStatusMessage(level, message string, color Color) {
	if ds.config.QuietMode {
		return
	}
	prefix := ds.colorSystem.Colorize("["+level+"]", color)
	fmt.Fprintf(ds.statusWriter(), "%s %s\n", prefix, message)
}

// statusWriter keeps structured output on the main writer free of status lines
func (ds *displayService) statusWriter() io.Writer {
	if ds.Format().IsStructured() {
		return ds.errWriter
	}
	return ds.writer
}
