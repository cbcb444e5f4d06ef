package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	apperrors "dbvault/internal/errors"
	"dbvault/internal/logging"
)

// ToolRunner drives the native PostgreSQL binaries. A missing or failing
// binary is reported as a tool_unavailable error so callers can fall back.
type ToolRunner interface {
	// Dump writes a plain-text SQL dump of the whole database to path.
	Dump(ctx context.Context, config Config, path string, opts DumpOptions) error
	// Apply executes the SQL script at path, stopping at the first error.
	Apply(ctx context.Context, config Config, path string) error
}

// DumpOptions tunes a single dump
type DumpOptions struct {
	// Snapshot is an exported snapshot id; the dump reads the state it
	// names instead of starting its own transaction.
	Snapshot string
}

// NativeTools runs pg_dump and psql through os/exec
type NativeTools struct {
	logger   *logging.Logger
	lookPath func(string) (string, error)
}

// NewNativeTools creates a runner for the pg_dump/psql binaries
func NewNativeTools(logger *logging.Logger) *NativeTools {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &NativeTools{logger: logger, lookPath: exec.LookPath}
}

// Dump runs pg_dump in plain format into path. The script drops existing
// objects first so it can be applied to a live database.
func (n *NativeTools) Dump(ctx context.Context, config Config, path string, opts DumpOptions) error {
	config.SetDefaults()
	args := []string{
		"--dbname=" + config.DSN(),
		"--format=plain",
		"--clean",
		"--if-exists",
		"--no-owner",
		"--no-privileges",
		"--file=" + path,
	}
	if opts.Snapshot != "" {
		args = append(args, "--snapshot="+opts.Snapshot)
	}
	return n.run(ctx, config, config.PgDumpPath, args)
}

// Apply runs psql with ON_ERROR_STOP inside a single transaction
func (n *NativeTools) Apply(ctx context.Context, config Config, path string) error {
	config.SetDefaults()
	args := []string{
		"--dbname=" + config.DSN(),
		"--no-psqlrc",
		"--quiet",
		"--single-transaction",
		"--set=ON_ERROR_STOP=1",
		"--file=" + path,
	}
	return n.run(ctx, config, config.PsqlPath, args)
}

// Available reports whether the named binary can be located
func (n *NativeTools) Available(binary string) bool {
	_, err := n.lookPath(binary)
	return err == nil
}

func (n *NativeTools) run(ctx context.Context, config Config, binary string, args []string) error {
	resolved, err := n.lookPath(binary)
	if err != nil {
		return apperrors.NewToolUnavailableError(binary, err)
	}

	cmd := exec.CommandContext(ctx, resolved, args...)
	cmd.Env = append(os.Environ(), config.ToolEnv()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	n.logger.WithField("tool", binary).Debug("Running native tool")

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return apperrors.NewToolUnavailableError(binary,
				fmt.Errorf("exited with status %d: %s", exitErr.ExitCode(), detail))
		}
		return apperrors.NewToolUnavailableError(binary, err)
	}

	return nil
}

// IsToolMissing reports whether err means the binary could not be located or started,
// as opposed to a binary that ran and failed.
func IsToolMissing(err error) bool {
	var execErr *exec.Error
	return errors.Is(err, exec.ErrNotFound) || errors.As(err, &execErr)
}
