package dump

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
	"time"

	apperrors "dbvault/internal/errors"
	"dbvault/internal/logging"

	"github.com/lib/pq"
)

const (
	// FormatVersion is the structured snapshot layout written by this build
	FormatVersion = 1
	// DocumentType identifies structured snapshot documents
	DocumentType = "dbvault.structured-snapshot"
)

// Document is a dialect-independent copy of every base table.
type Document struct {
	FormatVersion int         `json:"formatVersion"`
	GeneratedAt   time.Time   `json:"generatedAt"`
	Type          string      `json:"type"`
	Tables        []TableData `json:"tables"`
}

// ColumnDescriptor names a column and its declared storage type
type ColumnDescriptor struct {
	Name        string `json:"name"`
	StorageType string `json:"storageType"`
}

// TableData holds one table. Rows are positional and encode as objects
// keyed by column name, in column order.
type TableData struct {
	Name    string
	Columns []ColumnDescriptor
	Rows    [][]any
}

// Types returns the parsed column types in column order
func (t *TableData) Types() []ColumnType {
	types := make([]ColumnType, len(t.Columns))
	for i, c := range t.Columns {
		types[i] = ParseStorageType(c.StorageType)
	}
	return types
}

// MarshalJSON writes rows as ordered objects
func (t TableData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	name, err := json.Marshal(t.Name)
	if err != nil {
		return nil, err
	}
	columns, err := json.Marshal(t.Columns)
	if err != nil {
		return nil, err
	}
	if t.Columns == nil {
		columns = []byte("[]")
	}

	buf.WriteString(`{"name":`)
	buf.Write(name)
	buf.WriteString(`,"columns":`)
	buf.Write(columns)
	buf.WriteString(`,"rows":[`)

	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, fmt.Errorf("table %s row %d has %d values for %d columns", t.Name, r, len(row), len(t.Columns))
		}
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i, col := range t.Columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(col.Name)
			value, err := json.Marshal(row[i])
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", t.Name, col.Name, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(value)
		}
		buf.WriteByte('}')
	}

	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// UnmarshalJSON aligns row objects with the column list and normalizes each
// value for its storage type.
func (t *TableData) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    string                       `json:"name"`
		Columns []ColumnDescriptor           `json:"columns"`
		Rows    []map[string]json.RawMessage `json:"rows"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.Name = raw.Name
	t.Columns = raw.Columns
	t.Rows = make([][]any, 0, len(raw.Rows))

	types := t.Types()
	index := make(map[string]int, len(raw.Columns))
	for i, c := range raw.Columns {
		index[c.Name] = i
	}

	for r, object := range raw.Rows {
		for key := range object {
			if _, ok := index[key]; !ok {
				return fmt.Errorf("table %s row %d has unknown column %q", raw.Name, r, key)
			}
		}

		row := make([]any, len(raw.Columns))
		for i, c := range raw.Columns {
			value, err := decodeValue(object[c.Name], types[i])
			if err != nil {
				return fmt.Errorf("table %s row %d column %s: %w", raw.Name, r, c.Name, err)
			}
			row[i] = value
		}
		t.Rows = append(t.Rows, row)
	}

	return nil
}

// SnapshotEngine captures and reloads structured snapshots
type SnapshotEngine struct {
	logger *logging.Logger
	now    func() time.Time
}

// NewSnapshotEngine creates a structured snapshot engine
func NewSnapshotEngine(logger *logging.Logger) *SnapshotEngine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SnapshotEngine{logger: logger, now: time.Now}
}

// Capture reads every base table into a document
func (e *SnapshotEngine) Capture(ctx context.Context, db *sql.DB) (*Document, error) {
	var doc *Document
	err := ReadOnly(ctx, db, func(catalog *Catalog) error {
		var err error
		doc, err = e.CaptureCatalog(ctx, catalog)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CaptureCatalog reads every base table through an already open catalog
func (e *SnapshotEngine) CaptureCatalog(ctx context.Context, catalog *Catalog) (doc *Document, err error) {
	done := e.logger.LogOperationStart("snapshot_capture", nil)
	defer func() { done(err) }()

	doc = &Document{
		FormatVersion: FormatVersion,
		GeneratedAt:   e.now().UTC(),
		Type:          DocumentType,
		Tables:        []TableData{},
	}

	names, err := catalog.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		table, err := catalog.ReadTable(ctx, name)
		if err != nil {
			return nil, err
		}
		doc.Tables = append(doc.Tables, captureTable(table))
		e.logger.LogTableProcessed("snapshot", name, len(table.Columns), len(table.Rows))
	}
	return doc, nil
}

func captureTable(table *Table) TableData {
	data := TableData{
		Name:    table.Name,
		Columns: make([]ColumnDescriptor, len(table.Columns)),
		Rows:    make([][]any, 0, len(table.Rows)),
	}
	for i, c := range table.Columns {
		data.Columns[i] = ColumnDescriptor{Name: c.Name, StorageType: c.Type.Name}
	}
	for _, row := range table.Rows {
		values := make([]any, len(table.Columns))
		for i, c := range table.Columns {
			values[i] = documentValue(row[i], c.Type)
		}
		data.Rows = append(data.Rows, values)
	}
	return data
}

// Load replaces the contents of every table in doc inside one transaction.
// Any failure rolls the whole load back.
func (e *SnapshotEngine) Load(ctx context.Context, db *sql.DB, doc *Document) (err error) {
	if err := doc.Validate(); err != nil {
		return err
	}

	done := e.logger.LogOperationStart("snapshot_load", map[string]interface{}{"tables": len(doc.Tables)})
	defer func() { done(err) }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewQueryError("failed to begin restore transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				e.logger.WithField("error", rbErr.Error()).Warn("Rollback failed")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, "SET LOCAL session_replication_role = replica"); err != nil {
		return apperrors.NewQueryError("failed to disable triggers", err)
	}

	if len(doc.Tables) > 0 {
		names := make([]string, len(doc.Tables))
		for i, t := range doc.Tables {
			names[i] = t.Name
		}
		if _, err = tx.ExecContext(ctx, TruncateStatement(names)); err != nil {
			return apperrors.NewQueryError("failed to truncate tables", err)
		}
	}

	for i := range doc.Tables {
		if err = e.loadTable(ctx, tx, &doc.Tables[i]); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, "SET LOCAL session_replication_role = DEFAULT"); err != nil {
		return apperrors.NewQueryError("failed to re-enable triggers", err)
	}

	if err = tx.Commit(); err != nil {
		return apperrors.NewQueryError("failed to commit restore transaction", err)
	}
	return nil
}

func (e *SnapshotEngine) loadTable(ctx context.Context, tx *sql.Tx, table *TableData) error {
	if len(table.Columns) == 0 || len(table.Rows) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, InsertQuery(table.Name, table.Columns))
	if err != nil {
		return apperrors.NewQueryError(fmt.Sprintf("failed to prepare insert for %s", table.Name), err)
	}
	defer stmt.Close()

	types := table.Types()
	for r, row := range table.Rows {
		args := make([]any, len(row))
		for i, v := range row {
			arg, err := ParameterValue(v, types[i])
			if err != nil {
				return apperrors.NewQueryError(
					fmt.Sprintf("failed to convert %s.%s", table.Name, table.Columns[i].Name), err)
			}
			args[i] = arg
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return apperrors.NewQueryError(fmt.Sprintf("failed to insert row %d into %s", r, table.Name), err).
				WithContext("table", table.Name)
		}
	}

	e.logger.LogTableProcessed("snapshot_load", table.Name, len(table.Columns), len(table.Rows))
	return nil
}

// InsertQuery builds a parameterized insert for every column
func InsertQuery(table string, columns []ColumnDescriptor) string {
	names := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		names[i] = pq.QuoteIdentifier(c.Name)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(table), strings.Join(names, ", "), strings.Join(params, ", "))
}

// Validate checks the document header and row alignment
func (d *Document) Validate() error {
	if d == nil {
		return apperrors.NewAppError(apperrors.ErrorTypeArchive, "snapshot document is empty", nil)
	}
	if d.Type != DocumentType {
		return apperrors.NewAppError(apperrors.ErrorTypeArchive,
			fmt.Sprintf("unexpected document type %q", d.Type), nil)
	}
	if d.FormatVersion < 1 || d.FormatVersion > FormatVersion {
		return apperrors.NewAppError(apperrors.ErrorTypeArchive,
			fmt.Sprintf("unsupported snapshot format version %d", d.FormatVersion), nil)
	}
	for _, t := range d.Tables {
		for r, row := range t.Rows {
			if len(row) != len(t.Columns) {
				return apperrors.NewAppError(apperrors.ErrorTypeArchive,
					fmt.Sprintf("table %s row %d does not match its columns", t.Name, r), nil)
			}
		}
	}
	return nil
}

// Encode writes doc as JSON
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(doc); err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeSerialization, "failed to encode snapshot", err)
	}
	return nil
}

// Decode reads and validates a snapshot document. Numbers keep their exact text.
func Decode(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, apperrors.NewArchiveError("failed to decode snapshot", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// documentValue converts a driver value into its document form.
func documentValue(value any, column ColumnType) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		switch {
		case column.Binary:
			return `\x` + hex.EncodeToString(v)
		case column.PreservesText():
			return string(v)
		case column.Kind == KindJSON && json.Valid(v):
			return json.RawMessage(append([]byte(nil), v...))
		case column.Kind == KindArray:
			return NormalizeArrayLiteral(string(v))
		case column.Kind == KindNumber && numericPattern.MatchString(string(v)):
			return json.Number(v)
		default:
			return string(v)
		}
	case string:
		switch {
		case column.PreservesText():
			return v
		case column.Kind == KindJSON && json.Valid([]byte(v)):
			return json.RawMessage(v)
		case column.Kind == KindArray:
			return NormalizeArrayLiteral(v)
		}
		return v
	case time.Time:
		if column.Clock {
			return formatTime(v, column)
		}
		return v
	case float64:
		return nonFinite(v)
	case float32:
		return nonFinite(float64(v))
	}
	return value
}

func nonFinite(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

// decodeValue is the single ingestion-time normalization step for values
// read back from a document.
func decodeValue(raw json.RawMessage, column ColumnType) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if column.Kind == KindJSON {
		if column.PreservesText() && trimmed[0] == '"' {
			var text string
			if err := json.Unmarshal(trimmed, &text); err != nil {
				return nil, err
			}
			return text, nil
		}
		return json.RawMessage(append([]byte(nil), trimmed...)), nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}

	if s, ok := value.(string); ok && column.Kind == KindArray {
		return NormalizeArrayLiteral(s), nil
	}
	return value, nil
}

// ParameterValue converts a document value into a statement parameter.
func ParameterValue(value any, column ColumnType) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return string(v), nil
	case []byte:
		return v, nil
	case json.Number:
		return string(v), nil
	case time.Time:
		if column.Kind == KindJSON {
			encoded, err := json.Marshal(v)
			return string(encoded), err
		}
		return v, nil
	case string:
		if column.Kind == KindJSON && !column.PreservesText() {
			encoded, err := json.Marshal(v)
			return string(encoded), err
		}
		return v, nil
	case bool:
		if column.Kind == KindJSON {
			return fmt.Sprint(v), nil
		}
		return v, nil
	}

	kind := reflect.ValueOf(value).Kind()
	isList := kind == reflect.Slice || kind == reflect.Array

	switch {
	case column.Kind == KindArray && isList:
		return BraceLiteral(value)
	case column.Kind == KindJSON || isList || kind == reflect.Map || kind == reflect.Struct:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	}
	return value, nil
}
