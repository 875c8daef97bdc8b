package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robodata/rdm/cmd/rdm/commands"
	"github.com/robodata/rdm/logger"
)

var rootCmd = &cobra.Command{
	Use:   "rdm",
	Short: "rdm - Robot trajectory dataset management",
	Long: `rdm - Convert, validate, and inspect robot trajectory datasets.

Datasets move between container formats through a canonical model, so
any readable format converts to any writable one.

Available commands:
  convert  - Convert one dataset to another format
  batch    - Convert every dataset under a directory
  validate - Check a dataset against the schema rules
  info     - Show a dataset's metadata and tree
  formats  - List registered container formats

Examples:
  rdm convert demo.zarr demo.json       # Single conversion
  rdm batch ./raw ./out --to json       # Parallel batch conversion
  rdm validate demo.zarr                # Structural validation
  rdm info demo.zarr                    # Metadata and tree summary`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		level := logger.VerbosityToLevel(verbosity).String()
		if commands.LogLevelFlag != "" {
			level = commands.LogLevelFlag
		}
		if err := logger.Initialize(commands.JSONLogFlag, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v",
		"Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigFlag, "config", "",
		"Path to a configuration file (default: built-in defaults plus RDM_* environment)")
	rootCmd.PersistentFlags().StringVar(&commands.LogLevelFlag, "log-level", "",
		"Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&commands.JSONLogFlag, "json-logs", false,
		"Emit logs as JSON")

	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.ConvertCmd)
	rootCmd.AddCommand(commands.BatchCmd)
	rootCmd.AddCommand(commands.ValidateCmd)
	rootCmd.AddCommand(commands.InfoCmd)
	rootCmd.AddCommand(commands.FormatsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
