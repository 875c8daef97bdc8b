package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/validate"
)

type stubAdapter struct {
	desc Descriptor
}

func (s *stubAdapter) Descriptor() Descriptor { return s.desc }
func (s *stubAdapter) OpenReader(string, Options) (ReaderHandle, error) {
	return nil, errors.New("not implemented")
}
func (s *stubAdapter) OpenWriter(string, Options) (WriterHandle, error) {
	return nil, errors.New("not implemented")
}
func (s *stubAdapter) Validate(string) (*validate.Result, error) {
	return validate.NewResult(), nil
}

func newStub(id string, exts ...string) *stubAdapter {
	return &stubAdapter{desc: Descriptor{
		ID:           id,
		Extensions:   exts,
		Capabilities: Capabilities{Read: true, Write: true},
	}}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub("zarr", ".zarr")))

	a, err := r.Lookup("zarr")
	require.NoError(t, err)
	assert.Equal(t, "zarr", a.Descriptor().ID)
}

func TestRegistryDuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub("json", ".json")))

	err := r.Register(newStub("json", ".json"))
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestRegistryUnknownID(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("hdf5")
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub("zarr", ".zarr")))
	require.NoError(t, r.Register(newStub("json", ".json")))

	assert.Equal(t, []string{"json", "zarr"}, r.List())
}

func TestRegistryDetect(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub("zarr", ".zarr")))
	require.NoError(t, r.Register(newStub("json", ".json", ".json.gz")))

	a, err := r.Detect("/data/run_001.zarr")
	require.NoError(t, err)
	assert.Equal(t, "zarr", a.Descriptor().ID)

	a, err = r.Detect("/data/RUN.JSON")
	require.NoError(t, err)
	assert.Equal(t, "json", a.Descriptor().ID)

	_, err = r.Detect("/data/run.h5")
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestTreeIter(t *testing.T) {
	it := NewTreeIter([]TreeEntry{
		{Path: "/", Desc: NodeDescriptor{Kind: NodeGroup}},
		{Path: "/obs", Desc: NodeDescriptor{Kind: NodeArray}},
	})

	e, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, "/", e.Path)

	e, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, "/obs", e.Path)

	_, ok = it.Next()
	assert.False(t, ok)
}

func TestParseOptions(t *testing.T) {
	raw := map[string]interface{}{
		"compression":        "zstd",
		"compression_level":  3,
		"chunk_target_bytes": int64(1 << 20),
		"strict":             true,
	}
	opts, err := ParseOptions("zarr", raw,
		"compression", "compression_level", "chunk_target_bytes", "chunk_shape", "strict")
	require.NoError(t, err)

	assert.Equal(t, "zstd", opts.Compression)
	assert.Equal(t, 3, opts.CompressionLevel)
	assert.EqualValues(t, 1<<20, opts.ChunkTargetBytes)
	assert.True(t, opts.Strict)
}

func TestParseOptionsUnknownKey(t *testing.T) {
	raw := map[string]interface{}{"compresion": "gzip"} // typo must not be ignored
	_, err := ParseOptions("zarr", raw, "compression")
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestParseOptionsBadType(t *testing.T) {
	raw := map[string]interface{}{"compression_level": "high"}
	_, err := ParseOptions("zarr", raw, "compression_level")
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestParseOptionsChunkShapeFromConfigList(t *testing.T) {
	// Viper delivers TOML arrays as []interface{}.
	raw := map[string]interface{}{"chunk_shape": []interface{}{10, 3}}
	opts, err := ParseOptions("zarr", raw, "chunk_shape")
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 3}, opts.ChunkShape)
}
