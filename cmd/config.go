package cmd

import (
	"fmt"
	"io"
	"sort"

	"dbvault/internal/config"
	"dbvault/internal/database"
	apperrors "dbvault/internal/errors"

	"github.com/spf13/cobra"
)

func (c *cli) newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print a sample configuration, or show and check the current one",
		Long: `Configuration is read from a YAML file, DBVAULT_* environment variables
and command-line flags, in increasing order of precedence. DATABASE_URL is
used when no connection string is configured otherwise.

Without a subcommand a sample configuration file is printed.

Examples:
  dbvault config > .dbvault.yaml
  dbvault config show
  dbvault config check`,
		Args: cobra.NoArgs,
		RunE: printSample,
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "sample",
			Short: "Print a sample configuration file",
			Args:  cobra.NoArgs,
			// The sample must print even when the current configuration is broken.
			PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
			RunE:              printSample,
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				header := ""
				if used := c.loader.ConfigFileUsed(); used != "" {
					header = fmt.Sprintf("# loaded from %s\n", used)
				}
				data, err := config.MarshalYAML(c.config.Redacted(), header)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "env",
			Short: "List the environment variables that are read",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				for _, name := range config.EnvironmentVariables() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Check that backups can run with the current configuration",
			Args:  cobra.NoArgs,
			RunE:  c.runConfigCheck,
		},
	)
	return configCmd
}

func printSample(cmd *cobra.Command, args []string) error {
	data, err := config.SampleYAML()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func (c *cli) runConfigCheck(cmd *cobra.Command, args []string) error {
	result := config.RunHealthCheck(c.config, database.NewNativeTools(c.logger))

	err := c.display.PrintData(result, func(w io.Writer) {
		components := make([]string, 0, len(result.ComponentStatus))
		for component := range result.ComponentStatus {
			components = append(components, component)
		}
		sort.Strings(components)

		rows := make([][]string, 0, len(components))
		for _, component := range components {
			rows = append(rows, []string{component, result.ComponentStatus[component]})
		}
		c.display.PrintTable([]string{"Component", "Status"}, rows)
		for _, issue := range result.Issues {
			c.display.Warning(issue)
		}
	})
	if err != nil {
		return err
	}

	if result.OverallHealth == config.StatusUnhealthy {
		return apperrors.NewConfigurationError("configuration check failed", nil).
			WithUserMessage(fmt.Sprintf("Configuration check failed: %d issue(s) found", len(result.Issues)))
	}
	c.display.Success("Overall health: " + result.OverallHealth)
	return nil
}
