package dump

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	apperrors "dbvault/internal/errors"

	"github.com/lib/pq"
)

// Schema is the namespace whose base tables are dumped.
const Schema = "public"

const listTablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`

const listColumnsQuery = `
		SELECT column_name, data_type, udt_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Table is one base table with its columns and materialized rows.
// Every row holds exactly one value per column, in column order.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]any
}

// Catalog reads table metadata and contents from information_schema
type Catalog struct {
	q Queryer
}

// NewCatalog creates a catalog reader over q
func NewCatalog(q Queryer) *Catalog {
	return &Catalog{q: q}
}

// ListTables returns the base table names in name order
func (c *Catalog) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.q.QueryContext(ctx, listTablesQuery, Schema)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.NewQueryError("failed to scan table name", err)
		}
		tables = append(tables, name)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryError("error iterating tables", err)
	}

	return tables, nil
}

// Columns returns the columns of table in physical order
func (c *Catalog) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := c.q.QueryContext(ctx, listColumnsQuery, Schema, table)
	if err != nil {
		return nil, apperrors.NewQueryError(fmt.Sprintf("failed to list columns of %s", table), err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var name, dataType, udtName string
		if err := rows.Scan(&name, &dataType, &udtName); err != nil {
			return nil, apperrors.NewQueryError("failed to scan column", err)
		}
		columns = append(columns, Column{Name: name, Type: ParseColumnType(dataType, udtName)})
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryError(fmt.Sprintf("error iterating columns of %s", table), err)
	}

	return columns, nil
}

// ReadRows selects every row of table. Values are returned as the driver
// produced them.
func (c *Catalog) ReadRows(ctx context.Context, table string, columns []Column) ([][]any, error) {
	if len(columns) == 0 {
		return nil, nil
	}

	rows, err := c.q.QueryContext(ctx, SelectAllQuery(table, columns))
	if err != nil {
		return nil, apperrors.NewQueryError(fmt.Sprintf("failed to read rows of %s", table), err)
	}
	defer rows.Close()

	var result [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, apperrors.NewQueryError(fmt.Sprintf("failed to scan row of %s", table), err)
		}
		result = append(result, values)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryError(fmt.Sprintf("error iterating rows of %s", table), err)
	}

	return result, nil
}

// ReadTable reads one table's columns and all of its rows
func (c *Catalog) ReadTable(ctx context.Context, name string) (*Table, error) {
	columns, err := c.Columns(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, err := c.ReadRows(ctx, name, columns)
	if err != nil {
		return nil, err
	}

	return &Table{Name: name, Columns: columns, Rows: rows}, nil
}

// ExportSnapshot exports the snapshot of the surrounding transaction so
// another session, such as pg_dump --snapshot, reads the same state.
// The transaction must stay open until that session has started.
func (c *Catalog) ExportSnapshot(ctx context.Context) (string, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT pg_export_snapshot()")
	if err != nil {
		return "", apperrors.NewQueryError("failed to export snapshot", err)
	}
	defer rows.Close()

	var id string
	if !rows.Next() {
		return "", apperrors.NewQueryError("failed to export snapshot", rows.Err())
	}
	if err := rows.Scan(&id); err != nil {
		return "", apperrors.NewQueryError("failed to read snapshot id", err)
	}
	return id, rows.Err()
}

// ReadOnly runs fn inside a read-only repeatable-read transaction so every
// table is read from the same snapshot.
func ReadOnly(ctx context.Context, db *sql.DB, fn func(*Catalog) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return apperrors.NewQueryError("failed to begin read transaction", err)
	}

	if err := fn(NewCatalog(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewQueryError("failed to finish read transaction", err)
	}
	return nil
}

// SelectAllQuery builds the statement reading every column of table
func SelectAllQuery(table string, columns []Column) string {
	return fmt.Sprintf("SELECT %s FROM %s", columnList(columns), pq.QuoteIdentifier(table))
}

// TruncateStatement empties every listed table and resets their identities
func TruncateStatement(tables []string) string {
	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = pq.QuoteIdentifier(t)
	}
	return fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE;", strings.Join(quoted, ", "))
}

func columnList(columns []Column) string {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = pq.QuoteIdentifier(col.Name)
	}
	return strings.Join(names, ", ")
}
