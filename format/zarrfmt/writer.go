package zarrfmt

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
)

// writer stages a store under a temporary sibling directory and renames
// it onto the target path during Finalize. An abort (Close without
// Finalize) removes the staging directory, so a failed conversion never
// leaves a partial store that could pass for a complete one.
type writer struct {
	target    string
	stage     string
	opts      format.Options
	metadata  map[string]string
	rootAttrs map[string]string
	order     []string // declaration order
	nodes     map[string]format.NodeDescriptor
	finalized bool
	closed    bool
}

func openWriter(path string, opts format.Options) (*writer, error) {
	// The suffix is unique per handle so concurrent writers aimed at
	// the same target cannot interleave their staged chunks.
	stage := fmt.Sprintf("%s.tmp-%s", path, uuid.NewString())
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return nil, errors.WrapIO(err, "create staging directory")
	}
	return &writer{
		target: path,
		stage:  stage,
		opts:   opts,
		nodes:  map[string]format.NodeDescriptor{},
	}, nil
}

// WriteMetadata stores the dataset-level metadata for Finalize.
func (w *writer) WriteMetadata(md map[string]string) error {
	w.metadata = make(map[string]string, len(md))
	for k, v := range md {
		w.metadata[k] = v
	}
	return nil
}

// DeclareNode registers a node. Declaration has no filesystem side
// effects; everything material happens in WriteChunk and Finalize.
func (w *writer) DeclareNode(path string, desc format.NodeDescriptor) error {
	if path == "/" {
		// The root group always exists; only its attributes matter.
		// They share the root document with the dataset metadata.
		w.rootAttrs = desc.Attributes
		return nil
	}
	if prev, exists := w.nodes[path]; exists {
		if !reflect.DeepEqual(prev, desc) {
			return errors.SchemaMismatchf("%s: redeclared with conflicting descriptor", path)
		}
		return nil
	}
	if desc.Kind == format.NodeArray {
		if err := gridArray(desc).CheckInvariants(); err != nil {
			return errors.Wrapf(err, "declare %s", path)
		}
	}
	w.nodes[path] = desc
	w.order = append(w.order, path)
	return nil
}

// WriteChunk compresses and writes one chunk file under the staging
// directory.
func (w *writer) WriteChunk(arrayPath string, index int64, buf []byte) error {
	desc, ok := w.nodes[arrayPath]
	if !ok || desc.Kind != format.NodeArray {
		return errors.SchemaMismatchf("%s: chunk write to undeclared array", arrayPath)
	}
	grid := gridArray(normalizeChunks(desc))
	want, err := grid.ChunkByteSize(index)
	if err != nil {
		return errors.Wrapf(err, "%s", arrayPath)
	}
	if int64(len(buf)) != want {
		return errors.SchemaMismatchf(
			"%s: chunk %d is %d bytes, declared grid implies %d",
			arrayPath, index, len(buf), want)
	}
	coords, err := grid.ChunkCoords(index)
	if err != nil {
		return errors.Wrapf(err, "%s", arrayPath)
	}

	encoded, err := compress(w.opts.Compression, w.opts.CompressionLevel, buf)
	if err != nil {
		return errors.Wrapf(err, "%s: chunk %d", arrayPath, index)
	}

	dir := filepath.Join(w.stage, filepath.FromSlash(strings.TrimPrefix(arrayPath, "/")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapIO(err, "create array directory")
	}
	if err := os.WriteFile(filepath.Join(dir, chunkFileName(coords)), encoded, 0o644); err != nil {
		return errors.WrapIO(err, fmt.Sprintf("%s: write chunk %d", arrayPath, index))
	}
	return nil
}

// Finalize writes all metadata documents and renames the staging
// directory onto the target path. Must be called exactly once.
func (w *writer) Finalize() error {
	if w.finalized {
		return errors.New("store already finalized")
	}

	if err := w.writeDocs(); err != nil {
		return err
	}

	// Replace any stale target atomically-enough for a local store:
	// remove then rename. The staging dir is complete at this point.
	if err := os.RemoveAll(w.target); err != nil {
		return errors.WrapIO(err, "remove stale target")
	}
	if err := os.Rename(w.stage, w.target); err != nil {
		return errors.WrapIO(err, "publish store")
	}
	w.finalized = true
	return nil
}

func (w *writer) writeDocs() error {
	if err := w.writeGroupDocs(w.stage, nil); err != nil {
		return err
	}
	// Root attributes and dataset metadata share the root document;
	// metadata keys win on conflict.
	rootDoc := make(map[string]string, len(w.rootAttrs)+len(w.metadata))
	for k, v := range w.rootAttrs {
		rootDoc[k] = v
	}
	for k, v := range w.metadata {
		rootDoc[k] = v
	}
	if len(rootDoc) > 0 {
		if err := w.writeAttrs(w.stage, rootDoc); err != nil {
			return err
		}
	}
	for _, path := range w.order {
		desc := w.nodes[path]
		dir := filepath.Join(w.stage, filepath.FromSlash(strings.TrimPrefix(path, "/")))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapIO(err, "create node directory")
		}
		switch desc.Kind {
		case format.NodeGroup:
			if err := w.writeGroupDocs(dir, desc.Attributes); err != nil {
				return err
			}
		case format.NodeArray:
			if err := w.writeArrayDocs(dir, desc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *writer) writeGroupDocs(dir string, attrs map[string]string) error {
	doc, err := marshalDoc(groupMeta{ZarrFormat: zarrFormatVersion})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, groupDoc), doc, 0o644); err != nil {
		return errors.WrapIO(err, "write group document")
	}
	if len(attrs) > 0 {
		return w.writeAttrs(dir, attrs)
	}
	return nil
}

func (w *writer) writeArrayDocs(dir string, desc format.NodeDescriptor) error {
	meta := arrayMeta{
		Chunks:     normalizeChunks(desc).ChunkShape,
		DType:      desc.Dtype.NumpyTag(),
		Shape:      desc.Shape,
		ZarrFormat: zarrFormatVersion,
	}
	if w.opts.Compression != "" && w.opts.Compression != CodecNone {
		meta.Compressor = &compressorMeta{ID: w.opts.Compression, Level: w.opts.CompressionLevel}
	}
	doc, err := marshalDoc(meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, arrayDoc), doc, 0o644); err != nil {
		return errors.WrapIO(err, "write array document")
	}
	if len(desc.Attributes) > 0 {
		return w.writeAttrs(dir, desc.Attributes)
	}
	return nil
}

func (w *writer) writeAttrs(dir string, attrs map[string]string) error {
	doc, err := marshalDoc(attrs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, attrsDoc), doc, 0o644); err != nil {
		return errors.WrapIO(err, "write attributes document")
	}
	return nil
}

// Close releases the handle. Without a prior Finalize the staged output
// is discarded.
func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.finalized {
		return os.RemoveAll(w.stage)
	}
	return nil
}
