package commands

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/robodata/rdm/convert"
	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
)

// BatchCmd converts every dataset under a directory.
var BatchCmd = &cobra.Command{
	Use:     "batch <source-dir> <target-dir>",
	Aliases: []string{"batch-convert"},
	Short:   "Convert every dataset under a directory",
	Long: `Discover every container of the source format under a directory and
convert each into a mirrored path under the target directory.

Conversions run on a worker pool; one failed file does not stop the
rest. Ctrl-C finishes running conversions and skips the unstarted ones.

Examples:
  rdm batch ./raw ./out --from zarr --to json
  rdm batch ./raw ./out --from zarr --to json --include "episode_*"
  rdm batch ./raw ./out --from zarr --to json --workers 4`,
	Args: cobra.ExactArgs(2),
	RunE: runBatch,
}

var (
	batchFromFlag    string
	batchToFlag      string
	batchIncludeFlag string
	batchWorkersFlag int
)

func init() {
	BatchCmd.Flags().StringVar(&batchFromFlag, "from", "", "Source format id (required)")
	BatchCmd.Flags().StringVar(&batchToFlag, "to", "", "Target format id (required)")
	BatchCmd.Flags().StringVar(&batchIncludeFlag, "include", "", "Glob filter over relative source paths")
	BatchCmd.Flags().IntVar(&batchWorkersFlag, "workers", 0, "Worker count override (0 = configuration)")
	_ = BatchCmd.MarkFlagRequired("from")
	_ = BatchCmd.MarkFlagRequired("to")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if batchWorkersFlag > 0 {
		cfg.Conversion.NumWorkers = batchWorkersFlag
		cfg.Conversion.Parallel = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := convert.NewEngine(format.DefaultRegistry(), cfg)

	spinner, _ := pterm.DefaultSpinner.Start("Converting datasets under ", args[0])
	batch, err := eng.BatchConvert(ctx, convert.BatchRequest{
		SourceDir:    args[0],
		TargetDir:    args[1],
		SourceFormat: batchFromFlag,
		TargetFormat: batchToFlag,
		Include:      batchIncludeFlag,
	})
	if err != nil {
		if spinner != nil {
			spinner.Fail("Batch failed to start")
		}
		return errors.Wrap(err, "batch conversion")
	}
	if spinner != nil {
		if batch.Failed > 0 {
			spinner.Warning("Batch finished with failures")
		} else {
			spinner.Success("Batch finished")
		}
	}

	pterm.Info.Printf("Batch of %d dataset(s)\n", len(batch.Reports))
	pterm.Printf("  Succeeded: %d\n", batch.Succeeded)
	pterm.Printf("  Failed:    %d\n", batch.Failed)
	pterm.Printf("  Skipped:   %d\n", batch.Skipped)
	pterm.Printf("  Duration:  %s\n", batch.Duration.Round(time.Millisecond))

	for _, rep := range batch.Reports {
		switch rep.Status {
		case convert.StatusFailed:
			pterm.Error.Printf("%s: %s\n", rep.SourcePath, rep.Error)
		case convert.StatusSkipped:
			pterm.Warning.Printf("%s: skipped\n", rep.SourcePath)
		}
	}

	if batch.Failed > 0 {
		return errors.Newf("%d of %d conversion(s) failed", batch.Failed, len(batch.Reports))
	}
	return nil
}
