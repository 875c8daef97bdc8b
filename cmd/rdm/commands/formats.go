package commands

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/robodata/rdm/format"
)

// FormatsCmd lists the registered container formats.
var FormatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List registered container formats",
	RunE:  runFormats,
}

func runFormats(cmd *cobra.Command, args []string) error {
	for _, id := range format.List() {
		adapter, err := format.Lookup(id)
		if err != nil {
			return err
		}
		desc := adapter.Descriptor()
		caps := []string{}
		if desc.Capabilities.Read {
			caps = append(caps, "read")
		}
		if desc.Capabilities.Write {
			caps = append(caps, "write")
		}
		pterm.Printf("%-8s %-20s %s\n",
			desc.ID,
			strings.Join(desc.Extensions, ", "),
			strings.Join(caps, "+"))
	}
	return nil
}
