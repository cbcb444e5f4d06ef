package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dbvault/internal/backup"
	"dbvault/internal/display"

	"github.com/spf13/cobra"
)

// listEntry is one row of the list command
type listEntry struct {
	backup.Artifact `yaml:",inline"`
	Pointers        []string `json:"pointers,omitempty" yaml:"pointers,omitempty"`
}

func (c *cli) newBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup [label]",
		Short: "Write a SQL dump of the database",
		Long: `Write a SQL dump of the database into the backup directory and move the
latest-backup pointer to it.

pg_dump is used when it is available. Otherwise the built-in logical dump
engine writes an equivalent script, so a backup never depends on the native
tools being installed.

Examples:
  dbvault backup
  dbvault backup before-migration --backup-dir /var/backups/app`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.runBackup,
	}
}

func (c *cli) newFullBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "full-backup [label]",
		Short: "Archive the database, uploads and configuration files",
		Long: `Build a compressed archive holding a SQL dump, a structured snapshot, every
configured upload directory and every configured configuration file, then
move the latest-full-backup pointer to it. Missing upload directories and
configuration files are skipped and left out of the manifest.

Examples:
  dbvault full-backup
  dbvault full-backup weekly --compression zstd`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.runFullBackup,
	}
}

func (c *cli) newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups in the backup directory",
		Args:  cobra.NoArgs,
		RunE:  c.runList,
	}
}

func (c *cli) newInspectCommand() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Show the manifest of a full backup archive",
		Long: `Show the manifest of a full backup archive.

With --verify the artifact is read back the way a restore would read it:
archive checksums are checked, snapshots are decoded and SQL dumps must not
be empty. Verification works for every artifact kind and never touches the
database.

Examples:
  dbvault inspect backups/weekly-20240301T020000.000Z.tar.gz
  dbvault inspect backups/nightly-20240301T020000.000Z.sql --verify -o json`,
		Args: cobra.ExactArgs(1),
		RunE: c.runInspect,
	}
	inspectCmd.Flags().Bool("verify", false, "read the artifact back and verify its contents")
	return inspectCmd
}

func (c *cli) runBackup(cmd *cobra.Command, args []string) error {
	manager, cleanup, err := c.newManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	c.display.Info("Creating database backup...")
	artifact, err := manager.Backup(cmd.Context(), labelArg(args))
	if err != nil {
		return err
	}

	return c.display.PrintData(artifact, func(io.Writer) {
		c.display.Success(fmt.Sprintf("Backup written to %s (%s)", artifact.Path, display.FormatBytes(artifact.Size)))
	})
}

func (c *cli) runFullBackup(cmd *cobra.Command, args []string) error {
	manager, cleanup, err := c.newManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	c.display.Info("Creating full backup...")
	artifact, manifest, err := manager.FullBackup(cmd.Context(), labelArg(args))
	if err != nil {
		return err
	}

	result := struct {
		Artifact *backup.Artifact `json:"artifact" yaml:"artifact"`
		Manifest *backup.Manifest `json:"manifest" yaml:"manifest"`
	}{artifact, manifest}

	return c.display.PrintData(result, func(io.Writer) {
		c.display.Success(fmt.Sprintf("Full backup written to %s (%s)", artifact.Path, display.FormatBytes(artifact.Size)))
		c.display.Info("Included: " + strings.Join(manifest.Included, ", "))
	})
}

func (c *cli) runList(cmd *cobra.Command, args []string) error {
	manager, cleanup, err := c.newManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	artifacts, err := manager.List()
	if err != nil {
		return err
	}
	pointers, err := manager.Pointers()
	if err != nil {
		return err
	}

	entries := listEntries(artifacts, pointers)
	return c.display.PrintData(entries, func(io.Writer) {
		if len(entries) == 0 {
			c.display.Info("No backups found in " + c.config.Backup.Directory)
			return
		}

		c.display.PrintHeader("Backups in " + c.config.Backup.Directory)
		rows := make([][]string, 0, len(entries))
		for _, entry := range entries {
			rows = append(rows, []string{
				filepath.Base(entry.Path),
				string(entry.Kind),
				display.FormatBytes(entry.Size),
				entry.Timestamp.UTC().Format(time.RFC3339),
				strings.Join(entry.Pointers, ", "),
			})
		}
		c.display.PrintTable([]string{"Name", "Kind", "Size", "Created", "Pointers"}, rows)
	})
}

func (c *cli) runInspect(cmd *cobra.Command, args []string) error {
	manager, cleanup, err := c.newManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	path := args[0]
	if verify, _ := cmd.Flags().GetBool("verify"); verify {
		report, err := manager.Verify(cmd.Context(), path)
		if err != nil {
			return err
		}
		return c.display.PrintData(report, func(io.Writer) {
			c.display.PrintTable([]string{"Field", "Value"}, [][]string{
				{"Path", report.Path},
				{"Kind", string(report.Kind)},
				{"Tables", fmt.Sprint(report.Tables)},
				{"Rows", fmt.Sprint(report.Rows)},
				{"Checksums verified", strings.Join(report.Verified, ", ")},
			})
			c.display.Success("Artifact verified")
		})
	}

	manifest, err := manager.Inspect(path)
	if err != nil {
		return err
	}
	return c.display.PrintData(manifest, func(io.Writer) {
		c.display.PrintTable([]string{"Field", "Value"}, manifestRows(manifest))
	})
}

// listEntries attaches the names of the pointers that target each artifact
func listEntries(artifacts []backup.Artifact, pointers map[string]string) []listEntry {
	byTarget := make(map[string][]string)
	for name, target := range pointers {
		byTarget[absPath(target)] = append(byTarget[absPath(target)], name)
	}

	entries := make([]listEntry, 0, len(artifacts))
	for _, artifact := range artifacts {
		names := byTarget[absPath(artifact.Path)]
		sort.Strings(names)
		entries = append(entries, listEntry{Artifact: artifact, Pointers: names})
	}
	return entries
}

func manifestRows(manifest *backup.Manifest) [][]string {
	rows := [][]string{
		{"Label", manifest.Label},
		{"Created", manifest.CreatedAt.UTC().Format(time.RFC3339)},
		{"Compression", string(manifest.Compression)},
		{"Format version", fmt.Sprint(manifest.FormatVersion)},
		{"Uploads", strings.Join(manifest.Uploads, ", ")},
		{"Config files", strings.Join(manifest.ConfigFiles, ", ")},
	}

	entries := make([]string, 0, len(manifest.Checksums))
	for entry := range manifest.Checksums {
		entries = append(entries, entry)
	}
	sort.Strings(entries)
	for _, entry := range entries {
		rows = append(rows, []string{manifest.ChecksumAlgorithm + " " + entry, manifest.Checksums[entry]})
	}
	return rows
}

func labelArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
