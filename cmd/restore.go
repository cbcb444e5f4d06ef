package cmd

import (
	"fmt"
	"io"
	"strings"

	"dbvault/internal/backup"
	apperrors "dbvault/internal/errors"

	"github.com/spf13/cobra"
)

func (c *cli) newRestoreCommand() *cobra.Command {
	restoreCmd := &cobra.Command{
		Use:   "restore [path]",
		Short: "Restore the database from a SQL dump or structured snapshot",
		Long: `Restore the database from a SQL dump or a structured snapshot. Without a
path the target of the latest-backup pointer is used.

Restoring is destructive and requires --force. A fresh safety backup is
written before anything is changed and is never deleted automatically.

Examples:
  dbvault restore --force
  dbvault restore backups/nightly-20240301T020000.000Z.sql --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRestore(cmd, args, false)
		},
	}
	restoreCmd.Flags().Bool("force", false, "confirm that the database will be overwritten")
	return restoreCmd
}

func (c *cli) newFullRestoreCommand() *cobra.Command {
	fullRestoreCmd := &cobra.Command{
		Use:   "full-restore [path]",
		Short: "Restore the database, uploads and configuration files from an archive",
		Long: `Restore everything a full backup archive holds. Without a path the target of
the latest-full-backup pointer is used.

The archive checksums are verified first. A full safety backup is then
written before the database, upload directories and configuration files are
replaced. Requires --force.

Examples:
  dbvault full-restore --force
  dbvault full-restore backups/weekly-20240301T020000.000Z.tar.zst --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRestore(cmd, args, true)
		},
	}
	fullRestoreCmd.Flags().Bool("force", false, "confirm that the database and files will be overwritten")
	return fullRestoreCmd
}

func (c *cli) runRestore(cmd *cobra.Command, args []string, full bool) error {
	force, _ := cmd.Flags().GetBool("force")
	opts := backup.RestoreOptions{Path: labelArg(args), Force: force}
	if !force {
		return apperrors.NewConfirmationRequiredError(cmd.Name())
	}

	manager, cleanup, err := c.newManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var result *backup.RestoreResult
	if full {
		c.display.Warning("Overwriting the database, uploads and configuration files")
		result, err = manager.FullRestore(cmd.Context(), opts)
	} else {
		c.display.Warning("Overwriting the database")
		result, err = manager.Restore(cmd.Context(), opts)
	}
	if err != nil {
		return err
	}

	return c.display.PrintData(result, func(io.Writer) {
		c.display.Success(fmt.Sprintf("Restored %s using the %s method", result.Source, result.Method))
		c.display.Info("Safety backup: " + result.SafetyBackup)
		if len(result.FilesRestored) > 0 {
			c.display.Info("Files restored: " + strings.Join(result.FilesRestored, ", "))
		}
	})
}
