package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// TableFormatter interface for creating formatted tables
type TableFormatter interface {
	SetHeaders(headers []string)
	AddRow(row []string)
	SetColumnAlignment(column int, alignment Alignment)
	SetStyle(style TableStyle)
	Render() string
	RenderTo(writer io.Writer)
}

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

// TableStyle defines the visual style of a table
type TableStyle struct {
	Name            string
	BorderStyle     BorderStyle
	HeaderSeparator bool
	Padding         int
	// MaxWidth caps the table width; 0 uses the terminal width.
	MaxWidth int
}

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft     string
	TopRight    string
	BottomLeft  string
	BottomRight string
	Horizontal  string
	Vertical    string
	Cross       string
	TopTee      string
	BottomTee   string
	LeftTee     string
	RightTee    string
}

var (
	DefaultTableStyle = TableStyle{
		Name:            "default",
		BorderStyle:     ASCIIBorderStyle,
		HeaderSeparator: true,
		Padding:         1,
	}

	RoundedTableStyle = TableStyle{
		Name:            "rounded",
		BorderStyle:     RoundedBorderStyle,
		HeaderSeparator: true,
		Padding:         1,
	}

	CompactTableStyle = TableStyle{
		Name:    "compact",
		Padding: 1,
	}
)

var (
	ASCIIBorderStyle = BorderStyle{
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|", Cross: "+",
		TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	}

	RoundedBorderStyle = BorderStyle{
		TopLeft: "╭", TopRight: "╮", BottomLeft: "╰", BottomRight: "╯",
		Horizontal: "─", Vertical: "│", Cross: "┼",
		TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	}
)

type tableFormatter struct {
	headers       []string
	rows          [][]string
	alignments    map[int]Alignment
	style         TableStyle
	colorSystem   ColorSystem
	theme         ColorTheme
	terminalWidth func() int
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(colorSystem ColorSystem, theme ColorTheme) TableFormatter {
	return &tableFormatter{
		alignments:    make(map[int]Alignment),
		style:         DefaultTableStyle,
		colorSystem:   colorSystem,
		theme:         theme,
		terminalWidth: getTerminalWidth,
	}
}

func (tf *tableFormatter) SetHeaders(headers []string) {
	tf.headers = headers
}

func (tf *tableFormatter) AddRow(row []string) {
	tf.rows = append(tf.rows, row)
}

func (tf *tableFormatter) SetColumnAlignment(column int, alignment Alignment) {
	tf.alignments[column] = alignment
}

func (tf *tableFormatter) SetStyle(style TableStyle) {
	tf.style = style
}

// Render returns the formatted table as a string
func (tf *tableFormatter) Render() string {
	if len(tf.headers) == 0 && len(tf.rows) == 0 {
		return ""
	}

	colWidths := tf.adjustForMaxWidth(tf.calculateColumnWidths())
	border := tf.style.BorderStyle

	var result strings.Builder

	if border.Horizontal != "" {
		result.WriteString(tf.renderBorder(colWidths, border.TopLeft, border.TopTee, border.TopRight))
	}

	if len(tf.headers) > 0 {
		result.WriteString(tf.renderRow(tf.headers, colWidths, true))
		if tf.style.HeaderSeparator && border.Horizontal != "" {
			result.WriteString(tf.renderBorder(colWidths, border.LeftTee, border.Cross, border.RightTee))
		}
	}

	for _, row := range tf.rows {
		result.WriteString(tf.renderRow(row, colWidths, false))
	}

	if border.Horizontal != "" {
		result.WriteString(tf.renderBorder(colWidths, border.BottomLeft, border.BottomTee, border.BottomRight))
	}

	return result.String()
}

// RenderTo renders the table to the specified writer
func (tf *tableFormatter) RenderTo(writer io.Writer) {
	fmt.Fprint(writer, tf.Render())
}

// calculateColumnWidths returns each column's widest cell plus padding
func (tf *tableFormatter) calculateColumnWidths() []int {
	numCols := len(tf.headers)
	for _, row := range tf.rows {
		if len(row) > numCols {
			numCols = len(row)
		}
	}

	widths := make([]int, numCols)
	measure := func(row []string) {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(tf.headers)
	for _, row := range tf.rows {
		measure(row)
	}

	for i := range widths {
		widths[i] += tf.style.Padding * 2
	}
	return widths
}

// adjustForMaxWidth shrinks columns proportionally to fit the maximum width
func (tf *tableFormatter) adjustForMaxWidth(widths []int) []int {
	maxWidth := tf.style.MaxWidth
	if maxWidth == 0 {
		maxWidth = tf.terminalWidth()
	}
	if maxWidth <= 0 || len(widths) == 0 {
		return widths
	}

	total := 0
	for _, width := range widths {
		total += width
	}
	if tf.style.BorderStyle.Vertical != "" {
		total += len(widths) + 1
	}
	if total <= maxWidth {
		return widths
	}

	reduction := float64(total-maxWidth) / float64(len(widths))
	minWidth := tf.style.Padding*2 + 3
	for i := range widths {
		newWidth := int(float64(widths[i]) - reduction)
		if newWidth < minWidth {
			newWidth = minWidth
		}
		widths[i] = newWidth
	}
	return widths
}

func (tf *tableFormatter) renderBorder(widths []int, left, join, right string) string {
	var result strings.Builder
	result.WriteString(left)
	for i, width := range widths {
		result.WriteString(strings.Repeat(tf.style.BorderStyle.Horizontal, width))
		if i < len(widths)-1 {
			result.WriteString(join)
		}
	}
	result.WriteString(right)
	result.WriteString("\n")
	return result.String()
}

func (tf *tableFormatter) renderRow(row []string, widths []int, isHeader bool) string {
	var result strings.Builder
	vertical := tf.style.BorderStyle.Vertical

	result.WriteString(vertical)
	for i, width := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		result.WriteString(tf.formatCell(cell, width, tf.alignments[i], isHeader))
		result.WriteString(vertical)
	}

	return strings.TrimRight(result.String(), " ") + "\n"
}

// formatCell pads, truncates and aligns one cell. Color is applied after
// padding so escape codes never count towards the width.
func (tf *tableFormatter) formatCell(content string, width int, alignment Alignment, isHeader bool) string {
	contentWidth := width - tf.style.Padding*2
	if contentWidth < 0 {
		contentWidth = 0
	}

	if utf8.RuneCountInString(content) > contentWidth {
		runes := []rune(content)
		if contentWidth > 3 {
			content = string(runes[:contentWidth-3]) + "..."
		} else {
			content = string(runes[:contentWidth])
		}
	}

	totalPadding := contentWidth - utf8.RuneCountInString(content)
	var leftPad, rightPad int
	switch alignment {
	case AlignCenter:
		leftPad = totalPadding / 2
		rightPad = totalPadding - leftPad
	case AlignRight:
		leftPad = totalPadding
	default:
		rightPad = totalPadding
	}

	if isHeader && tf.colorSystem != nil {
		content = tf.colorSystem.Colorize(content, tf.theme.Primary)
	}

	return strings.Repeat(" ", leftPad+tf.style.Padding) + content + strings.Repeat(" ", rightPad+tf.style.Padding)
}

func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}
