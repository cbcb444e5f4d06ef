package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"dbvault/internal/backup"
	"dbvault/internal/config"
	"dbvault/internal/display"
	apperrors "dbvault/internal/errors"
	"dbvault/internal/logging"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = runtime.Version()
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	if gv != "" && gv != "unknown" {
		goVersion = gv
	}
}

// cli carries the state shared by every command of one invocation
type cli struct {
	loader  *config.Loader
	cfgFile string

	config  *config.Config
	logger  *logging.Logger
	display display.DisplayService

	out    io.Writer
	errOut io.Writer

	// configureManager lets tests replace the datastore collaborators.
	configureManager func(*backup.Options)
}

// Execute builds the command tree and runs it. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("Error: "+apperrors.FormatUserError(err)))
		os.Exit(1)
	}
}

// NewRootCommand creates the dbvault command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(&cli{
		loader: config.NewLoader(),
		out:    os.Stdout,
		errOut: os.Stderr,
	})
}

func newRootCommand(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbvault",
		Short: "Back up and restore a PostgreSQL database and its files",
		Long: `dbvault produces restorable backups of a PostgreSQL database and restores
them with a safety backup taken first.

A plain backup is a SQL dump written by pg_dump, or by the built-in logical
dump engine when pg_dump is unavailable. A full backup bundles the dump, a
structured JSON snapshot, upload directories and configuration files into one
compressed archive.

Examples:
  # Dump the database using DATABASE_URL
  dbvault backup nightly

  # Bundle the database and files into one archive
  dbvault full-backup --compression zstd

  # Restore the most recent backup
  dbvault restore --force

  # Restore a specific archive
  dbvault full-restore backups/weekly-20240301T020000.000Z.tar.gz --force`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initialize,
	}
	rootCmd.SetOut(c.out)
	rootCmd.SetErr(c.errOut)

	rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default is ./.dbvault.yaml or $HOME/.dbvault.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "output format: table, json or yaml")
	if err := c.loader.AddFlags(rootCmd); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		c.newBackupCommand(),
		c.newFullBackupCommand(),
		c.newRestoreCommand(),
		c.newFullRestoreCommand(),
		c.newListCommand(),
		c.newInspectCommand(),
		c.newConfigCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

// initialize loads the configuration and builds the logger and display
func (c *cli) initialize(cmd *cobra.Command, args []string) error {
	cfg, err := c.loader.Load(c.cfgFile)
	if err != nil {
		return err
	}

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		format, err := display.ParseOutputFormat(output)
		if err != nil {
			return apperrors.NewConfigurationError(err.Error(), nil)
		}
		cfg.Display.OutputFormat = string(format)
	}
	cfg.Display.Writer = c.out
	cfg.Display.ErrWriter = c.errOut

	loggerConfig := cfg.Logging.LoggerConfig()
	loggerConfig.Output = c.errOut
	logger, err := logging.NewLogger(loggerConfig)
	if err != nil {
		return apperrors.NewConfigurationError("failed to initialize logging", err).
			WithContext("setting", "logging.file")
	}

	c.config = cfg
	c.logger = logger
	c.display = display.NewDisplayService(&cfg.Display)

	if used := c.loader.ConfigFileUsed(); used != "" {
		logger.WithField("file", used).Debug("Loaded configuration file")
	}
	return nil
}

// newManager wires a backup manager from the loaded configuration. The audit
// correlation ID is attached to the command context as the request ID.
func (c *cli) newManager(cmd *cobra.Command) (backup.Service, func(), error) {
	audit, err := backup.NewAuditLogger(backup.AuditLoggerConfig{
		Logger:       c.logger,
		AuditLogFile: c.config.Logging.AuditFile,
	})
	if err != nil {
		return nil, nil, apperrors.NewFilesystemError("failed to open audit log", err)
	}
	cmd.SetContext(logging.CreateContextWithRequestID(cmd.Context(), audit.GetCorrelationID()))

	opts := backup.Options{
		Database: c.config.Database,
		Backup:   c.config.Backup,
		Logger:   c.logger,
		Audit:    audit,
	}
	if c.configureManager != nil {
		c.configureManager(&opts)
	}

	manager, err := backup.NewManager(opts)
	if err != nil {
		audit.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := manager.Close(); err != nil {
			c.logger.Warnf("Failed to close database connection: %v", err)
		}
		audit.Close()
	}
	return manager, cleanup, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		// Version output needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dbvault version %s\n", version)
			fmt.Fprintf(out, "Build time: %s\n", buildTime)
			fmt.Fprintf(out, "Git commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
