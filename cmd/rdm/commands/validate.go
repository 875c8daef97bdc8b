package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
)

// ValidateCmd checks a dataset in place.
var ValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Check a dataset against the schema rules",
	Long: `Validate a dataset container in place: structure documents parse,
array metadata satisfies the model invariants, and every chunk the
grids imply is present.

Exit status is non-zero when any error-severity issue is found.

Examples:
  rdm validate demo.zarr
  rdm validate demo.json --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var validateFormatFlag string

func init() {
	ValidateCmd.Flags().StringVar(&validateFormatFlag, "format", "", "Format id (default: detect from extension)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	adapter, err := resolveAdapter(validateFormatFlag, args[0])
	if err != nil {
		return err
	}

	res, err := adapter.Validate(args[0])
	if err != nil {
		return errors.Wrapf(err, "validate %s", args[0])
	}

	printValidation(res)
	if res.OK {
		pterm.Success.Printf("%s is valid (%d warning(s))\n", args[0], len(res.Issues))
		return nil
	}
	return errors.Newf("%s failed validation with %d error(s)", args[0], res.ErrorCount())
}

// resolveAdapter looks a format up by id, or detects it from the path.
func resolveAdapter(id, path string) (format.Adapter, error) {
	if id != "" {
		return format.Lookup(id)
	}
	return format.Detect(path)
}
