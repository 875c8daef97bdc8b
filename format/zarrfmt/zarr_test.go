package zarrfmt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robodata/rdm/dataset"
	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
)

// chunkPattern fills a buffer with a value derived from the chunk index
// so round-trip tests can tell chunks apart.
func chunkPattern(index int64, size int64) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte((index*31 + int64(i)) % 251)
	}
	return buf
}

// buildStore writes a small two-episode store and returns its path.
func buildStore(t *testing.T, codec string) string {
	t.Helper()
	target := filepath.Join(t.TempDir(), "demo.zarr")

	w, err := New().OpenWriter(target, format.Options{Compression: codec, CompressionLevel: 3})
	require.NoError(t, err)

	require.NoError(t, w.WriteMetadata(map[string]string{
		"format_version": "1.0",
		"robot":          "arm-7dof",
	}))

	steps := format.NodeDescriptor{
		Kind:       format.NodeArray,
		Dtype:      dataset.Float32,
		Shape:      []int64{100, 3},
		ChunkShape: []int64{10, 3},
	}
	for _, ep := range []string{"/episode_0", "/episode_1"} {
		require.NoError(t, w.DeclareNode(ep, format.NodeDescriptor{
			Kind:       format.NodeGroup,
			Attributes: map[string]string{"task": "pick"},
		}))
		require.NoError(t, w.DeclareNode(ep+"/steps", steps))
		for i := int64(0); i < 10; i++ {
			require.NoError(t, w.WriteChunk(ep+"/steps", i, chunkPattern(i, 120)))
		}
	}

	require.NoError(t, w.Finalize())
	require.NoError(t, w.Close())
	return target
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, codec := range []string{CodecNone, CodecGzip, CodecZstd} {
		t.Run(codec, func(t *testing.T) {
			target := buildStore(t, codec)

			r, err := New().OpenReader(target, format.Options{})
			require.NoError(t, err)
			defer r.Close()

			md, err := r.ReadMetadata()
			require.NoError(t, err)
			assert.Equal(t, "1.0", md["format_version"])
			assert.Equal(t, "arm-7dof", md["robot"])

			it, err := r.IterTree()
			require.NoError(t, err)
			var paths []string
			for {
				entry, ok := it.Next()
				if !ok {
					break
				}
				paths = append(paths, entry.Path)
			}
			assert.Equal(t, []string{
				"/",
				"/episode_0", "/episode_0/steps",
				"/episode_1", "/episode_1/steps",
			}, paths)

			for i := int64(0); i < 10; i++ {
				buf, err := r.ReadChunk("/episode_0/steps", i)
				require.NoError(t, err)
				assert.Equal(t, chunkPattern(i, 120), buf)
			}
		})
	}
}

func TestGroupAttributesSurvive(t *testing.T) {
	target := buildStore(t, CodecNone)

	r, err := New().OpenReader(target, format.Options{})
	require.NoError(t, err)
	defer r.Close()

	it, err := r.IterTree()
	require.NoError(t, err)
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		if entry.Path == "/episode_0" {
			assert.Equal(t, "pick", entry.Desc.Attributes["task"])
			return
		}
	}
	t.Fatal("episode group not found")
}

func TestSingleChunkArray(t *testing.T) {
	target := filepath.Join(t.TempDir(), "scalar.zarr")

	w, err := New().OpenWriter(target, format.Options{})
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(map[string]string{"format_version": "1.0"}))
	require.NoError(t, w.DeclareNode("/flags", format.NodeDescriptor{
		Kind:  format.NodeArray,
		Dtype: dataset.Bool,
		Shape: []int64{4, 2},
	}))
	require.NoError(t, w.WriteChunk("/flags", 0, []byte{1, 0, 1, 0, 0, 1, 1, 1}))
	require.NoError(t, w.Finalize())
	require.NoError(t, w.Close())

	// The declared grid defaults to the full shape.
	assert.FileExists(t, filepath.Join(target, "flags", "0.0"))

	r, err := New().OpenReader(target, format.Options{})
	require.NoError(t, err)
	defer r.Close()
	buf, err := r.ReadChunk("/flags", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 1, 0, 0, 1, 1, 1}, buf)
}

func TestCloseWithoutFinalizeLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "aborted.zarr")

	w, err := New().OpenWriter(target, format.Options{})
	require.NoError(t, err)
	require.NoError(t, w.DeclareNode("/x", format.NodeDescriptor{
		Kind:       format.NodeArray,
		Dtype:      dataset.Int8,
		Shape:      []int64{4},
		ChunkShape: []int64{4},
	}))
	require.NoError(t, w.WriteChunk("/x", 0, []byte{1, 2, 3, 4}))
	require.NoError(t, w.Close())

	assert.NoDirExists(t, target)
	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, left, "staging directory should be gone")
}

func TestFinalizeTwice(t *testing.T) {
	target := filepath.Join(t.TempDir(), "once.zarr")
	w, err := New().OpenWriter(target, format.Options{})
	require.NoError(t, err)
	require.NoError(t, w.Finalize())
	assert.Error(t, w.Finalize())
	require.NoError(t, w.Close())
	assert.DirExists(t, target)
}

func TestDeclareNodeConflict(t *testing.T) {
	w, err := New().OpenWriter(filepath.Join(t.TempDir(), "c.zarr"), format.Options{})
	require.NoError(t, err)
	defer w.Close()

	desc := format.NodeDescriptor{
		Kind:       format.NodeArray,
		Dtype:      dataset.Float32,
		Shape:      []int64{8},
		ChunkShape: []int64{4},
	}
	require.NoError(t, w.DeclareNode("/a", desc))
	require.NoError(t, w.DeclareNode("/a", desc), "identical redeclaration is fine")

	desc.Dtype = dataset.Float64
	err = w.DeclareNode("/a", desc)
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindSchemaMismatch))
}

func TestWriteChunkErrors(t *testing.T) {
	w, err := New().OpenWriter(filepath.Join(t.TempDir(), "e.zarr"), format.Options{})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.DeclareNode("/a", format.NodeDescriptor{
		Kind:       format.NodeArray,
		Dtype:      dataset.Int16,
		Shape:      []int64{6},
		ChunkShape: []int64{3},
	}))

	err = w.WriteChunk("/a", 0, []byte{1, 2, 3})
	require.Error(t, err, "chunk is 3 bytes, grid implies 6")
	assert.True(t, errors.HasKind(err, errors.KindSchemaMismatch))

	err = w.WriteChunk("/missing", 0, []byte{1, 2, 3, 4, 5, 6})
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindSchemaMismatch))
}

func TestValidateDetectsMissingChunk(t *testing.T) {
	target := buildStore(t, CodecGzip)
	require.NoError(t, os.Remove(filepath.Join(target, "episode_1", "steps", "4.0")))

	res, err := New().Validate(target)
	require.NoError(t, err)
	assert.False(t, res.OK)

	found := false
	for _, issue := range res.Issues {
		if issue.Code == "chunk_missing" && issue.Path == "/episode_1/steps" {
			found = true
		}
	}
	assert.True(t, found, "missing chunk file should be reported, got %v", res.Issues)
}

func TestValidateCleanStore(t *testing.T) {
	target := buildStore(t, CodecZstd)
	res, err := New().Validate(target)
	require.NoError(t, err)
	assert.True(t, res.OK, "issues: %v", res.Issues)
}

func TestCorruptArrayDocument(t *testing.T) {
	target := buildStore(t, CodecNone)
	doc := filepath.Join(target, "episode_0", "steps", arrayDoc)
	require.NoError(t, os.WriteFile(doc, []byte("{not json"), 0o644))

	r, err := New().OpenReader(target, format.Options{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.IterTree()
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindCorruptContainer))
}

func TestOpenReaderRejectsNonStore(t *testing.T) {
	dir := t.TempDir() // no .zgroup
	_, err := New().OpenReader(dir, format.Options{})
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindCorruptContainer))

	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New().OpenReader(file, format.Options{})
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindCorruptContainer))
}

func TestReadChunkMissingFile(t *testing.T) {
	target := buildStore(t, CodecNone)
	require.NoError(t, os.Remove(filepath.Join(target, "episode_0", "steps", "7.0")))

	r, err := New().OpenReader(target, format.Options{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadChunk("/episode_0/steps", 7)
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindCorruptContainer))
}

func TestWideByteStringsGetTrailingDimension(t *testing.T) {
	// A store written elsewhere may declare fixed 4-byte strings.
	dir := filepath.Join(t.TempDir(), "labels.zarr")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "word"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".zgroup"),
		[]byte(`{"zarr_format": 2}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".zattrs"),
		[]byte(`{"format_version": "1.0"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "word", ".zarray"),
		[]byte(`{"chunks":[2],"compressor":null,"dtype":"|S4","shape":[2],"zarr_format":2}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "word", "0"),
		[]byte("stopmove"), 0o644))

	r, err := New().OpenReader(dir, format.Options{})
	require.NoError(t, err)
	defer r.Close()

	it, err := r.IterTree()
	require.NoError(t, err)
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		if entry.Path == "/word" {
			assert.Equal(t, dataset.Bytes, entry.Desc.Dtype)
			assert.Equal(t, []int64{2, 4}, entry.Desc.Shape)
			assert.Equal(t, []int64{2, 4}, entry.Desc.ChunkShape)
		}
	}

	buf, err := r.ReadChunk("/word", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("stopmove"), buf)

	res, err := New().Validate(dir)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestConcurrentWritersStageSeparately(t *testing.T) {
	target := filepath.Join(t.TempDir(), "demo.zarr")

	w1, err := openWriter(target, format.Options{})
	require.NoError(t, err)
	w2, err := openWriter(target, format.Options{})
	require.NoError(t, err)
	assert.NotEqual(t, w1.stage, w2.stage)

	desc := format.NodeDescriptor{
		Kind:  format.NodeArray,
		Dtype: dataset.Uint8,
		Shape: []int64{4},
	}
	require.NoError(t, w1.DeclareNode("/a", desc))
	require.NoError(t, w2.DeclareNode("/a", desc))
	require.NoError(t, w1.WriteChunk("/a", 0, []byte{1, 2, 3, 4}))
	require.NoError(t, w2.WriteChunk("/a", 0, []byte{5, 6, 7, 8}))

	require.NoError(t, w1.Finalize())
	require.NoError(t, w1.Close())
	require.NoError(t, w2.Close())

	r, err := New().OpenReader(target, format.Options{})
	require.NoError(t, err)
	defer r.Close()
	buf, err := r.ReadChunk("/a", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)

	stale, err := filepath.Glob(target + ".tmp-*")
	require.NoError(t, err)
	assert.Empty(t, stale, "aborted writer leaves no staging directory")
}
