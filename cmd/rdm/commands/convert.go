package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/robodata/rdm/convert"
	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
	"github.com/robodata/rdm/validate"
)

// ConvertCmd converts a single dataset.
var ConvertCmd = &cobra.Command{
	Use:   "convert <source> <target>",
	Short: "Convert one dataset to another format",
	Long: `Convert a dataset from one container format to another.

Formats are detected from the path extensions unless overridden with
--from / --to. The target only appears once the conversion finishes;
an aborted run leaves nothing behind.

Examples:
  rdm convert demo.zarr demo.json
  rdm convert demo.json demo.zarr --to zarr
  rdm convert demo.zarr out.json --timeout 120`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

var (
	convertFromFlag    string
	convertToFlag      string
	convertTimeoutFlag int
	convertStrictFlag  bool
)

func init() {
	ConvertCmd.Flags().StringVar(&convertFromFlag, "from", "", "Source format id (default: detect from extension)")
	ConvertCmd.Flags().StringVar(&convertToFlag, "to", "", "Target format id (default: detect from extension)")
	ConvertCmd.Flags().IntVar(&convertTimeoutFlag, "timeout", 0, "Abort after this many seconds (0 = no limit)")
	ConvertCmd.Flags().BoolVar(&convertStrictFlag, "strict", false, "Abort on validation errors regardless of configuration")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if convertStrictFlag {
		cfg.Validation.Strict = true
		cfg.Validation.CheckSchema = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if convertTimeoutFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(convertTimeoutFlag)*time.Second)
		defer cancel()
	}

	eng := convert.NewEngine(format.DefaultRegistry(), cfg)

	spinner, _ := pterm.DefaultSpinner.Start("Converting ", args[0], " to ", args[1])
	rep, err := eng.Convert(ctx, convert.Request{
		SourcePath:   args[0],
		TargetPath:   args[1],
		SourceFormat: convertFromFlag,
		TargetFormat: convertToFlag,
	})
	if err != nil {
		if spinner != nil {
			spinner.Fail("Conversion failed")
		}
		printValidation(rep.Validation)
		return errors.Wrapf(err, "convert %s", args[0])
	}
	if spinner != nil {
		spinner.Success("Conversion finished")
	}

	pterm.Info.Printf("Report %s\n", rep.ID)
	pterm.Printf("  Source:        %s (%s)\n", rep.SourcePath, rep.SourceFormat)
	pterm.Printf("  Target:        %s (%s)\n", rep.TargetPath, rep.TargetFormat)
	pterm.Printf("  Bytes read:    %d\n", rep.BytesRead)
	pterm.Printf("  Bytes written: %d\n", rep.BytesWritten)
	pterm.Printf("  Duration:      %s\n", rep.Duration.Round(time.Millisecond))
	printValidation(rep.Validation)
	return nil
}

// printValidation shows validation issues from a conversion, if any.
func printValidation(res *validate.Result) {
	if res == nil {
		return
	}
	for _, issue := range res.Issues {
		if issue.Severity == validate.SeverityError {
			pterm.Error.Println(issue.String())
		} else {
			pterm.Warning.Println(issue.String())
		}
	}
}
