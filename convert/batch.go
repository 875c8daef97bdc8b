package convert

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
	"github.com/robodata/rdm/logger"
)

// BatchRequest names one batch run: every container of the source
// format found under SourceDir is converted into a mirrored path under
// TargetDir.
type BatchRequest struct {
	SourceDir    string
	TargetDir    string
	SourceFormat string
	TargetFormat string
	// Include optionally filters discovered containers by a glob over
	// their slash-separated relative paths, e.g. "episode_*/**".
	Include string
}

// BatchConvert discovers, converts, and reports. A single failed file
// does not abort the batch; cancellation skips jobs that have not
// started. Reports come back in discovery order.
func (e *Engine) BatchConvert(ctx context.Context, req BatchRequest) (*BatchReport, error) {
	start := time.Now()
	log := logger.Named("batch")

	if req.SourceFormat == "" || req.TargetFormat == "" {
		return nil, errors.Configurationf("batch conversion needs explicit source and target formats")
	}
	srcAdapter, err := e.registry.Lookup(req.SourceFormat)
	if err != nil {
		return nil, err
	}
	tgtAdapter, err := e.registry.Lookup(req.TargetFormat)
	if err != nil {
		return nil, err
	}

	sources, err := discover(req.SourceDir, srcAdapter.Descriptor(), req.Include)
	if err != nil {
		return nil, err
	}
	log.Infow("batch discovered sources",
		"source_dir", req.SourceDir,
		"count", len(sources))

	workers := e.workerCount()
	if warning := checkMemoryPressure(workers); warning != "" {
		log.Warnw("memory pressure", "warning", warning)
	}

	// Extension swapping can map distinct sources onto one target
	// (a.json and a.json.gz both become a.zarr). The first claimant in
	// discovery order wins; later ones fail up front instead of racing
	// a concurrent writer over the same path.
	targets := make([]string, len(sources))
	claimed := make(map[string]string, len(sources))
	for i, source := range sources {
		target := mirrorTarget(req.SourceDir, req.TargetDir, source,
			srcAdapter.Descriptor(), tgtAdapter.Descriptor())
		if _, ok := claimed[target]; !ok {
			claimed[target] = source
			targets[i] = target
		}
	}

	reports := make([]*Report, len(sources))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, source := range sources {
		i, source := i, source
		target := targets[i]
		if target == "" {
			collision := mirrorTarget(req.SourceDir, req.TargetDir, source,
				srcAdapter.Descriptor(), tgtAdapter.Descriptor())
			rep := newReport(source, collision)
			rep.SourceFormat = srcAdapter.Descriptor().ID
			rep.TargetFormat = tgtAdapter.Descriptor().ID
			reports[i] = rep.fail(errors.Configurationf(
				"target %s already claimed by %s", collision, claimed[collision]))
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				rep := newReport(source, target)
				rep.SourceFormat = srcAdapter.Descriptor().ID
				rep.TargetFormat = tgtAdapter.Descriptor().ID
				rep.Status = StatusSkipped
				reports[i] = rep
				return nil
			}

			jobCtx := ctx
			if e.cfg.Conversion.TimeoutSeconds > 0 {
				var cancel context.CancelFunc
				jobCtx, cancel = context.WithTimeout(ctx,
					time.Duration(e.cfg.Conversion.TimeoutSeconds)*time.Second)
				defer cancel()
			}

			rep, err := e.Convert(jobCtx, Request{
				SourcePath:   source,
				TargetPath:   target,
				SourceFormat: req.SourceFormat,
				TargetFormat: req.TargetFormat,
			})
			if err != nil {
				log.Warnw("conversion failed",
					"source", source,
					"error", err)
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()

	batch := &BatchReport{Reports: reports, Duration: time.Since(start)}
	for _, rep := range reports {
		switch rep.Status {
		case StatusSucceeded:
			batch.Succeeded++
		case StatusSkipped:
			batch.Skipped++
		default:
			batch.Failed++
		}
	}
	log.Infow("batch finished",
		"succeeded", batch.Succeeded,
		"failed", batch.Failed,
		"skipped", batch.Skipped,
		"duration", batch.Duration)
	return batch, nil
}

// workerCount resolves the configured pool size.
func (e *Engine) workerCount() int {
	if !e.cfg.Conversion.Parallel {
		return 1
	}
	if n := e.cfg.Conversion.NumWorkers; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// discover walks a directory tree for containers matching the format's
// extensions, in lexicographic order. Matched directories (directory
// stores) are not descended into.
func discover(root string, desc format.Descriptor, include string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.WrapIO(err, "open source directory")
	}
	if !info.IsDir() {
		return nil, errors.Configurationf("%s: source must be a directory", root)
	}

	var matcher glob.Glob
	if include != "" {
		matcher, err = glob.Compile(include, '/')
		if err != nil {
			return nil, errors.Configurationf("bad include pattern %q: %v", include, err)
		}
	}

	var sources []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.WrapIO(err, "walk source directory")
		}
		if path == root || !matchesExtension(d.Name(), desc.Extensions) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.WrapIO(err, "walk source directory")
		}
		if matcher != nil && !matcher.Match(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		sources = append(sources, path)
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(sources)
	return sources, nil
}

// mirrorTarget maps a discovered source path onto the target tree,
// swapping the extension for the target format's primary one.
func mirrorTarget(sourceDir, targetDir, source string, srcDesc, tgtDesc format.Descriptor) string {
	rel, err := filepath.Rel(sourceDir, source)
	if err != nil {
		rel = filepath.Base(source)
	}
	for _, ext := range srcDesc.Extensions {
		if strings.HasSuffix(strings.ToLower(rel), ext) {
			rel = rel[:len(rel)-len(ext)]
			break
		}
	}
	if len(tgtDesc.Extensions) > 0 {
		rel += tgtDesc.Extensions[0]
	}
	return filepath.Join(targetDir, rel)
}

func matchesExtension(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
