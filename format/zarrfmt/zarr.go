// Package zarrfmt implements the chunked hierarchical directory adapter.
//
// The on-disk layout follows the Zarr v2 convention: the store is a
// directory tree where every group holds a .zgroup document, every array
// a .zarray document (shape, chunks, dtype, compressor) plus one file per
// chunk named by its dotted grid coordinates ("0.0"), and node attributes
// live in .zattrs. Dataset-level metadata is the root group's .zattrs.
package zarrfmt

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/robodata/rdm/dataset"
	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
	"github.com/robodata/rdm/validate"
)

const (
	// FormatID is the registry id of this adapter.
	FormatID = "zarr"

	zarrFormatVersion = 2

	groupDoc = ".zgroup"
	arrayDoc = ".zarray"
	attrsDoc = ".zattrs"
)

// allowedOptions are the configuration keys this adapter recognizes.
var allowedOptions = []string{
	"compression", "compression_level", "chunk_target_bytes", "chunk_shape", "strict",
}

// groupMeta is the .zgroup document.
type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// compressorMeta is the compressor section of a .zarray document.
// A null compressor means raw chunks.
type compressorMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// arrayMeta is the .zarray document.
type arrayMeta struct {
	Chunks     []int64         `json:"chunks"`
	Compressor *compressorMeta `json:"compressor"`
	DType      string          `json:"dtype"`
	Shape      []int64         `json:"shape"`
	ZarrFormat int             `json:"zarr_format"`
}

// Adapter is the chunked hierarchical directory adapter.
type Adapter struct{}

// New returns the zarr adapter.
func New() *Adapter { return &Adapter{} }

// Descriptor implements format.Adapter.
func (a *Adapter) Descriptor() format.Descriptor {
	return format.Descriptor{
		ID:                   FormatID,
		Extensions:           []string{".zarr"},
		Capabilities:         format.Capabilities{Read: true, Write: true},
		RequiredMetadataKeys: []string{"format_version"},
		OptionKeys:           allowedOptions,
		DefaultOptions: map[string]interface{}{
			"compression":       CodecGzip,
			"compression_level": 5,
		},
	}
}

// OpenReader implements format.Adapter.
func (a *Adapter) OpenReader(path string, opts format.Options) (format.ReaderHandle, error) {
	return openReader(path, opts)
}

// OpenWriter implements format.Adapter.
func (a *Adapter) OpenWriter(path string, opts format.Options) (format.WriterHandle, error) {
	return openWriter(path, opts)
}

// Validate checks a store's structure without reading chunk data: tree
// metadata documents parse, descriptors satisfy the model invariants,
// and every chunk file the grid implies is present.
func (a *Adapter) Validate(path string) (*validate.Result, error) {
	res := validate.NewResult()

	r, err := openReader(path, format.Options{})
	if err != nil {
		res.AddError("corrupt", "", "%s", err.Error())
		return res, nil
	}
	defer r.Close()

	md, err := r.ReadMetadata()
	if err != nil {
		res.AddError("corrupt", "", "%s", err.Error())
		return res, nil
	}

	ds, err := readStructure(r)
	if err != nil {
		res.AddError("corrupt", "", "%s", err.Error())
		return res, nil
	}
	ds.Metadata = md

	structural := validate.Validate(ds, validate.Config{
		RequiredMetadataKeys: a.Descriptor().RequiredMetadataKeys,
	})
	res.Issues = append(res.Issues, structural.Issues...)
	if !structural.OK {
		res.OK = false
	}

	r.checkChunkFiles(res)
	return res, nil
}

// readStructure builds a descriptor-only dataset (no chunk data) from a
// reader's tree iteration.
func readStructure(r format.ReaderHandle) (*dataset.Dataset, error) {
	it, err := r.IterTree()
	if err != nil {
		return nil, err
	}
	ds := dataset.New()
	groups := map[string]*dataset.Group{"/": ds.Root}

	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		if entry.Path == "/" {
			for k, v := range entry.Desc.Attributes {
				ds.Root.SetAttribute(k, v)
			}
			continue
		}
		parentPath, name := splitNodePath(entry.Path)
		parent, ok := groups[parentPath]
		if !ok {
			return nil, errors.CorruptContainerf("node %s has no parent group", entry.Path)
		}
		switch entry.Desc.Kind {
		case format.NodeGroup:
			g, err := parent.AddGroup(name)
			if err != nil {
				return nil, errors.WithKind(err, errors.KindCorruptContainer)
			}
			for k, v := range entry.Desc.Attributes {
				g.SetAttribute(k, v)
			}
			groups[entry.Path] = g
		case format.NodeArray:
			arr := dataset.NewArray(name, entry.Desc.Dtype, entry.Desc.Shape)
			arr.ChunkShape = entry.Desc.ChunkShape
			if err := parent.AddArray(arr); err != nil {
				return nil, errors.WithKind(err, errors.KindCorruptContainer)
			}
		}
	}
	return ds, nil
}

func splitNodePath(p string) (parent, name string) {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/", strings.TrimPrefix(p, "/")
	}
	return p[:i], p[i+1:]
}

// chunkFileName returns the dotted-coordinate chunk file name, "0" for
// rank-0 arrays.
func chunkFileName(coords []int64) string {
	if len(coords) == 0 {
		return "0"
	}
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return strings.Join(parts, ".")
}

// normalizeChunks fills in the chunk grid for arrays declared without
// one. The store always records an explicit grid, so the writer and a
// later reader agree on chunk file names.
func normalizeChunks(desc format.NodeDescriptor) format.NodeDescriptor {
	if desc.ChunkShape != nil || len(desc.Shape) == 0 {
		return desc
	}
	chunks := make([]int64, len(desc.Shape))
	for i, d := range desc.Shape {
		if d < 1 {
			d = 1
		}
		chunks[i] = d
	}
	desc.ChunkShape = chunks
	return desc
}

// gridArray wraps a node descriptor in an Array so the chunk grid math
// lives in one place.
func gridArray(desc format.NodeDescriptor) *dataset.Array {
	a := dataset.NewArray("", desc.Dtype, desc.Shape)
	a.ChunkShape = desc.ChunkShape
	return a
}

// diskGrid is the grid as recorded in a .zarray document. It names the
// chunk files; for wide byte strings it lacks the trailing byte
// dimension the descriptor carries.
func diskGrid(meta arrayMeta) *dataset.Array {
	a := dataset.NewArray("", dataset.Uint8, meta.Shape)
	a.ChunkShape = meta.Chunks
	return a
}

func marshalDoc(v interface{}) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal store document")
	}
	return append(out, '\n'), nil
}
