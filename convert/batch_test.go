package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robodata/rdm/dataset"
	"github.com/robodata/rdm/format"
	"github.com/robodata/rdm/format/jsonfmt"
	"github.com/robodata/rdm/format/zarrfmt"
)

// writeStoreAt writes a minimal valid store at the given path.
func writeStoreAt(t *testing.T, target string) {
	t.Helper()
	w, err := zarrfmt.New().OpenWriter(target, format.Options{})
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(map[string]string{"format_version": "1.0"}))
	require.NoError(t, w.DeclareNode("/steps", format.NodeDescriptor{
		Kind:       format.NodeArray,
		Dtype:      dataset.Int32,
		Shape:      []int64{8},
		ChunkShape: []int64{4},
	}))
	require.NoError(t, w.WriteChunk("/steps", 0, densePattern(16)))
	require.NoError(t, w.WriteChunk("/steps", 1, densePattern(16)))
	require.NoError(t, w.Finalize())
	require.NoError(t, w.Close())
}

func TestBatchConvertMixedOutcomes(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()

	writeStoreAt(t, filepath.Join(sourceDir, "a.zarr"))
	writeStoreAt(t, filepath.Join(sourceDir, "b.zarr"))
	writeStoreAt(t, filepath.Join(sourceDir, "c.zarr"))
	// Corrupt the middle store's group document.
	require.NoError(t, os.WriteFile(
		filepath.Join(sourceDir, "b.zarr", ".zgroup"), []byte("{broken"), 0o644))

	eng := NewEngine(testRegistry(t), testConfig())
	batch, err := eng.BatchConvert(context.Background(), BatchRequest{
		SourceDir:    sourceDir,
		TargetDir:    targetDir,
		SourceFormat: "zarr",
		TargetFormat: "json",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, 0, batch.Skipped)
	require.Len(t, batch.Reports, 3)

	// Discovery order is lexicographic.
	assert.Equal(t, filepath.Join(sourceDir, "a.zarr"), batch.Reports[0].SourcePath)
	assert.Equal(t, filepath.Join(sourceDir, "b.zarr"), batch.Reports[1].SourcePath)
	assert.Equal(t, filepath.Join(sourceDir, "c.zarr"), batch.Reports[2].SourcePath)
	assert.Equal(t, StatusSucceeded, batch.Reports[0].Status)
	assert.Equal(t, StatusFailed, batch.Reports[1].Status)
	assert.Equal(t, StatusSucceeded, batch.Reports[2].Status)

	assert.FileExists(t, filepath.Join(targetDir, "a.json"))
	assert.NoFileExists(t, filepath.Join(targetDir, "b.json"))
	assert.FileExists(t, filepath.Join(targetDir, "c.json"))
}

func TestBatchMirrorsNestedPaths(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()
	writeStoreAt(t, filepath.Join(sourceDir, "run_01", "demo.zarr"))

	eng := NewEngine(testRegistry(t), testConfig())
	batch, err := eng.BatchConvert(context.Background(), BatchRequest{
		SourceDir:    sourceDir,
		TargetDir:    targetDir,
		SourceFormat: "zarr",
		TargetFormat: "json",
	})
	require.NoError(t, err)
	require.Equal(t, 1, batch.Succeeded)
	assert.FileExists(t, filepath.Join(targetDir, "run_01", "demo.json"))
}

func TestBatchIncludeFilter(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()
	writeStoreAt(t, filepath.Join(sourceDir, "keep_a.zarr"))
	writeStoreAt(t, filepath.Join(sourceDir, "keep_b.zarr"))
	writeStoreAt(t, filepath.Join(sourceDir, "drop_c.zarr"))

	eng := NewEngine(testRegistry(t), testConfig())
	batch, err := eng.BatchConvert(context.Background(), BatchRequest{
		SourceDir:    sourceDir,
		TargetDir:    targetDir,
		SourceFormat: "zarr",
		TargetFormat: "json",
		Include:      "keep_*",
	})
	require.NoError(t, err)
	require.Len(t, batch.Reports, 2)
	assert.Equal(t, 2, batch.Succeeded)
	assert.NoFileExists(t, filepath.Join(targetDir, "drop_c.json"))
}

func TestBatchBadIncludePattern(t *testing.T) {
	eng := NewEngine(testRegistry(t), testConfig())
	_, err := eng.BatchConvert(context.Background(), BatchRequest{
		SourceDir:    t.TempDir(),
		TargetDir:    t.TempDir(),
		SourceFormat: "zarr",
		TargetFormat: "json",
		Include:      "[",
	})
	require.Error(t, err)
}

func TestBatchCancelledSkipsJobs(t *testing.T) {
	sourceDir := t.TempDir()
	writeStoreAt(t, filepath.Join(sourceDir, "a.zarr"))
	writeStoreAt(t, filepath.Join(sourceDir, "b.zarr"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := NewEngine(testRegistry(t), testConfig())
	batch, err := eng.BatchConvert(ctx, BatchRequest{
		SourceDir:    sourceDir,
		TargetDir:    t.TempDir(),
		SourceFormat: "zarr",
		TargetFormat: "json",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Succeeded)
	assert.Equal(t, 2, batch.Skipped)
	for _, rep := range batch.Reports {
		assert.Equal(t, StatusSkipped, rep.Status)
	}
}

func TestBatchNeedsExplicitFormats(t *testing.T) {
	eng := NewEngine(testRegistry(t), testConfig())
	_, err := eng.BatchConvert(context.Background(), BatchRequest{
		SourceDir: t.TempDir(),
		TargetDir: t.TempDir(),
	})
	require.Error(t, err)
}

func TestBatchRoundTripPreservesData(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()
	writeStoreAt(t, filepath.Join(sourceDir, "demo.zarr"))

	eng := NewEngine(testRegistry(t), testConfig())
	batch, err := eng.BatchConvert(context.Background(), BatchRequest{
		SourceDir:    sourceDir,
		TargetDir:    targetDir,
		SourceFormat: "zarr",
		TargetFormat: "json",
	})
	require.NoError(t, err)
	require.Equal(t, 1, batch.Succeeded)

	r, err := jsonfmt.New().OpenReader(filepath.Join(targetDir, "demo.json"), format.Options{})
	require.NoError(t, err)
	defer r.Close()
	buf, err := r.ReadChunk("/steps", 0)
	require.NoError(t, err)
	assert.Equal(t, append(densePattern(16), densePattern(16)...), buf)
}

// writeDocAt writes a minimal valid document at the given path.
func writeDocAt(t *testing.T, target string, opts format.Options) {
	t.Helper()
	w, err := jsonfmt.New().OpenWriter(target, opts)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(map[string]string{"format_version": "1.0"}))
	require.NoError(t, w.DeclareNode("/steps", format.NodeDescriptor{
		Kind:  format.NodeArray,
		Dtype: dataset.Int32,
		Shape: []int64{8},
	}))
	require.NoError(t, w.WriteChunk("/steps", 0, densePattern(32)))
	require.NoError(t, w.Finalize())
	require.NoError(t, w.Close())
}

func TestBatchTargetCollision(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()

	// Both map to a.zarr once the extension is swapped; only the first
	// in discovery order may produce it.
	writeDocAt(t, filepath.Join(sourceDir, "a.json"), format.Options{})
	writeDocAt(t, filepath.Join(sourceDir, "a.json.gz"), format.Options{Compression: "gzip"})

	eng := NewEngine(testRegistry(t), testConfig())
	batch, err := eng.BatchConvert(context.Background(), BatchRequest{
		SourceDir:    sourceDir,
		TargetDir:    targetDir,
		SourceFormat: "json",
		TargetFormat: "zarr",
	})
	require.NoError(t, err)

	require.Len(t, batch.Reports, 2)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)

	assert.Equal(t, filepath.Join(sourceDir, "a.json"), batch.Reports[0].SourcePath)
	assert.Equal(t, StatusSucceeded, batch.Reports[0].Status)
	assert.Equal(t, filepath.Join(sourceDir, "a.json.gz"), batch.Reports[1].SourcePath)
	assert.Equal(t, StatusFailed, batch.Reports[1].Status)
	assert.Contains(t, batch.Reports[1].Error, "already claimed")

	assert.DirExists(t, filepath.Join(targetDir, "a.zarr"))
}
