package commands

import (
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
)

// InfoCmd summarizes a dataset.
var InfoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Show a dataset's metadata and tree",
	Long: `Print a dataset's metadata block and its group/array tree with
shapes, dtypes, and chunk grids. No chunk data is read.

Examples:
  rdm info demo.zarr
  rdm info demo.json`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var infoFormatFlag string

func init() {
	InfoCmd.Flags().StringVar(&infoFormatFlag, "format", "", "Format id (default: detect from extension)")
}

func runInfo(cmd *cobra.Command, args []string) error {
	adapter, err := resolveAdapter(infoFormatFlag, args[0])
	if err != nil {
		return err
	}

	r, err := adapter.OpenReader(args[0], format.Options{})
	if err != nil {
		return errors.Wrapf(err, "open %s", args[0])
	}
	defer r.Close()

	md, err := r.ReadMetadata()
	if err != nil {
		return errors.Wrapf(err, "read metadata of %s", args[0])
	}

	pterm.Info.Printf("%s (%s)\n", args[0], adapter.Descriptor().ID)
	if len(md) > 0 {
		keys := make([]string, 0, len(md))
		for k := range md {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pterm.Println("Metadata:")
		for _, k := range keys {
			pterm.Printf("  %s: %s\n", k, md[k])
		}
	}

	it, err := r.IterTree()
	if err != nil {
		return errors.Wrapf(err, "read tree of %s", args[0])
	}
	pterm.Println("Tree:")
	groups, arrays := 0, 0
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		indent := strings.Repeat("  ", strings.Count(entry.Path, "/"))
		if entry.Path == "/" {
			indent = ""
		}
		switch entry.Desc.Kind {
		case format.NodeGroup:
			groups++
			pterm.Printf("%s%s/\n", indent, entry.Path)
		case format.NodeArray:
			arrays++
			if entry.Desc.ChunkShape != nil {
				pterm.Printf("%s%s  %s %v chunks %v\n",
					indent, entry.Path, entry.Desc.Dtype, entry.Desc.Shape, entry.Desc.ChunkShape)
			} else {
				pterm.Printf("%s%s  %s %v\n",
					indent, entry.Path, entry.Desc.Dtype, entry.Desc.Shape)
			}
		}
	}
	pterm.Printf("%d group(s), %d array(s)\n", groups, arrays)
	return nil
}
