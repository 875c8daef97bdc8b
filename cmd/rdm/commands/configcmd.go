package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/robodata/rdm/config"
)

// ConfigCmd manages the rdm configuration file.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage rdm configuration",
	Long: `Show the effective configuration or write a default configuration
file to edit.

Examples:
  rdm config show                     # Print effective configuration
  rdm config init rdm.toml            # Write the defaults to a file
  rdm config init rdm.toml --force    # Overwrite, keeping a backup`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Render()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a default configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if err := config.WriteDefault(args[0], force); err != nil {
			return err
		}
		pterm.Success.Printf("Wrote default configuration to %s\n", args[0])
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file, keeping a .back copy")
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configInitCmd)
}
