package dump

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "dbvault/internal/errors"
	"dbvault/internal/logging"

	"github.com/lib/pq"
)

const (
	disableTriggers = "SET session_replication_role = replica;"
	enableTriggers  = "SET session_replication_role = DEFAULT;"
)

// LogicalEngine writes a re-executable SQL script by walking every table
// and row. It is used when pg_dump cannot produce the artifact.
type LogicalEngine struct {
	logger     *logging.Logger
	serializer *Serializer
	now        func() time.Time
}

// NewLogicalEngine creates a logical dump engine
func NewLogicalEngine(logger *logging.Logger) *LogicalEngine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &LogicalEngine{
		logger:     logger,
		serializer: NewSerializer(logger),
		now:        time.Now,
	}
}

// Dump writes the script to w. On error the output written so far is not a
// valid artifact and must be discarded by the caller.
func (e *LogicalEngine) Dump(ctx context.Context, db *sql.DB, w io.Writer) error {
	return ReadOnly(ctx, db, func(catalog *Catalog) error {
		return e.DumpCatalog(ctx, catalog, w)
	})
}

// DumpCatalog writes the script from an already open catalog, so the dump
// can share a transaction with other readers.
func (e *LogicalEngine) DumpCatalog(ctx context.Context, catalog *Catalog, w io.Writer) error {
	done := e.logger.LogOperationStart("logical_dump", nil)
	err := e.write(ctx, catalog, w)
	done(err)
	return err
}

func (e *LogicalEngine) write(ctx context.Context, catalog *Catalog, w io.Writer) error {
	tables, err := catalog.ListTables(ctx)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(w)
	fmt.Fprintln(out, "-- dbvault logical dump")
	fmt.Fprintf(out, "-- Generated at %s\n\n", e.now().UTC().Format(time.RFC3339))
	fmt.Fprintln(out, "BEGIN;")
	fmt.Fprintln(out, disableTriggers)

	if len(tables) > 0 {
		fmt.Fprintln(out, TruncateStatement(tables))
	}

	for _, name := range tables {
		table, err := catalog.ReadTable(ctx, name)
		if err != nil {
			return err
		}
		if len(table.Columns) == 0 || len(table.Rows) == 0 {
			e.logger.WithField("table", name).Debug("Skipping empty table")
			continue
		}

		fmt.Fprintf(out, "\n-- Table: %s\n", name)
		for _, row := range table.Rows {
			fmt.Fprintln(out, e.InsertStatement(table.Name, table.Columns, row))
		}
		e.logger.LogTableProcessed("logical", name, len(table.Columns), len(table.Rows))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, enableTriggers)
	fmt.Fprintln(out, "COMMIT;")

	if err := out.Flush(); err != nil {
		return apperrors.NewFilesystemError("failed to write logical dump", err)
	}
	return nil
}

// InsertStatement renders one row as an INSERT with an explicit column list
func (e *LogicalEngine) InsertStatement(table string, columns []Column, row []any) string {
	values := make([]string, len(columns))
	for i, col := range columns {
		var v any
		if i < len(row) {
			v = row[i]
		}
		values[i] = e.serializer.Serialize(v, col.Type)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		pq.QuoteIdentifier(table), columnList(columns), strings.Join(values, ", "))
}
