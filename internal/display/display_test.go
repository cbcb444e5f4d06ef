package display

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestService(format OutputFormat) (DisplayService, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	service := NewDisplayService(&DisplayConfig{
		ColorEnabled:  true,
		OutputFormat:  string(format),
		MaxTableWidth: 120,
		Writer:        out,
		ErrWriter:     errOut,
	})
	return service, out, errOut
}

func TestColorSystem_NonTerminalWriter(t *testing.T) {
	cs := NewColorSystem(&bytes.Buffer{}, true)

	assert.False(t, cs.IsColorSupported())
	assert.Equal(t, "plain", cs.Colorize("plain", ColorRed))
	assert.Equal(t, "n=3", cs.Sprintf(ColorGreen, "n=%d", 3))
}

func TestGetThemeByName(t *testing.T) {
	assert.Equal(t, DarkColorTheme(), GetThemeByName("dark"))
	assert.Equal(t, LightColorTheme(), GetThemeByName("light"))
	assert.Equal(t, PlainTextTheme(), GetThemeByName("plain"))
	assert.Equal(t, DarkColorTheme(), GetThemeByName("unknown"))
}

func TestDisplayConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DisplayConfig)
		wantErr string
	}{
		{name: "defaults", mutate: func(*DisplayConfig) {}},
		{name: "bad theme", mutate: func(c *DisplayConfig) { c.Theme = "neon" }, wantErr: "invalid theme"},
		{name: "bad format", mutate: func(c *DisplayConfig) { c.OutputFormat = "xml" }, wantErr: "invalid output format"},
		{name: "bad style", mutate: func(c *DisplayConfig) { c.TableStyle = "fancy" }, wantErr: "invalid table style"},
		{name: "narrow table", mutate: func(c *DisplayConfig) { c.MaxTableWidth = 10 }, wantErr: "max table width"},
		{name: "negative width", mutate: func(c *DisplayConfig) { c.MaxTableWidth = -1 }, wantErr: "max table width"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultDisplayConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDisplayConfig_Lookups(t *testing.T) {
	config := &DisplayConfig{TableStyle: "compact", MaxTableWidth: 80, ColorEnabled: true, QuietMode: true}
	config.SetDefaults()

	assert.Equal(t, "dark", config.Theme)
	assert.Equal(t, "table", config.OutputFormat)
	style := config.GetTableStyle()
	assert.Equal(t, "compact", style.Name)
	assert.Equal(t, 80, style.MaxWidth)
	assert.False(t, config.IsColorEnabled())
}

func TestTableFormatter_Render(t *testing.T) {
	tf := NewTableFormatter(NewColorSystem(io.Discard, false), PlainTextTheme())
	tf.(*tableFormatter).terminalWidth = func() int { return 0 }
	tf.SetHeaders([]string{"Name", "Size"})
	tf.AddRow([]string{"a.sql", "10"})
	tf.AddRow([]string{"nightly.tar.gz", "2048"})
	tf.SetColumnAlignment(1, AlignRight)

	want := strings.Join([]string{
		"+----------------+------+",
		"| Name           | Size |",
		"+----------------+------+",
		"| a.sql          |   10 |",
		"| nightly.tar.gz | 2048 |",
		"+----------------+------+",
		"",
	}, "\n")
	assert.Equal(t, want, tf.Render())
}

func TestTableFormatter_Compact(t *testing.T) {
	tf := NewTableFormatter(nil, PlainTextTheme())
	tf.(*tableFormatter).terminalWidth = func() int { return 0 }
	tf.SetStyle(CompactTableStyle)
	tf.SetHeaders([]string{"Kind", "Path"})
	tf.AddRow([]string{"sql", "x.sql"})

	assert.Equal(t, " Kind  Path\n sql   x.sql\n", tf.Render())
}

func TestTableFormatter_Truncates(t *testing.T) {
	tf := NewTableFormatter(nil, PlainTextTheme())
	tf.(*tableFormatter).terminalWidth = func() int { return 0 }
	style := DefaultTableStyle
	style.MaxWidth = 12
	tf.SetStyle(style)
	tf.AddRow([]string{"abcdefghijklmnop"})

	lines := strings.Split(strings.TrimSpace(tf.Render()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "| abcde... |", lines[1])
}

func TestTableFormatter_Empty(t *testing.T) {
	tf := NewTableFormatter(nil, PlainTextTheme())
	assert.Empty(t, tf.Render())
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{in: "", want: FormatTable},
		{in: "JSON", want: FormatJSON},
		{in: " yaml ", want: FormatYAML},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5 MiB", FormatBytes(1536*1024))
}

func TestEncode(t *testing.T) {
	value := map[string]int{"tables": 2}

	var jsonOut bytes.Buffer
	require.NoError(t, Encode(&jsonOut, FormatJSON, value))
	assert.JSONEq(t, `{"tables": 2}`, jsonOut.String())

	var yamlOut bytes.Buffer
	require.NoError(t, Encode(&yamlOut, FormatYAML, value))
	assert.Equal(t, "tables: 2\n", yamlOut.String())

	assert.Error(t, Encode(io.Discard, FormatTable, value))
}

func TestDisplayService_TableOutput(t *testing.T) {
	service, out, _ := newTestService(FormatTable)

	service.PrintHeader("Backups")
	service.PrintTable([]string{"Name"}, [][]string{{"a.sql"}})
	service.Success("done")

	text := out.String()
	assert.Contains(t, text, "  Backups\n")
	assert.Contains(t, text, "| a.sql |")
	assert.Contains(t, text, "[OK] done\n")
}

func TestDisplayService_StructuredOutput(t *testing.T) {
	service, out, errOut := newTestService(FormatJSON)

	service.PrintHeader("Backups")
	service.PrintTable([]string{"Name", "Kind"}, [][]string{{"a.sql", "sql"}, {"b.json"}})
	service.Info("listed")

	var records []map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &records))
	assert.Equal(t, []map[string]string{
		{"name": "a.sql", "kind": "sql"},
		{"name": "b.json", "kind": ""},
	}, records)
	assert.Equal(t, "[INFO] listed\n", errOut.String())
}

func TestDisplayService_PrintData(t *testing.T) {
	service, out, _ := newTestService(FormatYAML)
	require.NoError(t, service.PrintData(map[string]string{"kind": "archive"}, func(io.Writer) {
		t.Fatal("fallback must not run for structured output")
	}))

	var decoded map[string]string
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "archive", decoded["kind"])

	service.SetFormat(FormatTable)
	out.Reset()
	require.NoError(t, service.PrintData(nil, func(w io.Writer) { io.WriteString(w, "human") }))
	assert.Equal(t, "human", out.String())
}

func TestDisplayService_QuietMode(t *testing.T) {
	service, out, _ := newTestService(FormatTable)
	service.GetConfig().QuietMode = true

	service.Info("hidden")
	service.Warning("hidden")
	service.Error("shown")

	assert.Equal(t, "[ERROR] shown\n", out.String())
}
