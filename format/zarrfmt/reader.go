package zarrfmt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robodata/rdm/dataset"
	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
	"github.com/robodata/rdm/validate"
)

// reader reads one store directory. Handles are single-use; IterTree
// restarts only by reopening.
type reader struct {
	root   string
	arrays map[string]format.NodeDescriptor // array path -> descriptor, filled by walks
	metas  map[string]arrayMeta             // array path -> raw .zarray
}

func openReader(path string, _ format.Options) (*reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapIO(err, "open store")
	}
	if !info.IsDir() {
		return nil, errors.CorruptContainerf("%s: store must be a directory", path)
	}
	if _, err := readGroupDoc(filepath.Join(path, groupDoc)); err != nil {
		return nil, err
	}
	return &reader{
		root:   path,
		arrays: map[string]format.NodeDescriptor{},
		metas:  map[string]arrayMeta{},
	}, nil
}

func (r *reader) Close() error { return nil }

// ReadMetadata returns the root .zattrs document.
func (r *reader) ReadMetadata() (map[string]string, error) {
	return readAttrsDoc(filepath.Join(r.root, attrsDoc))
}

// IterTree walks the store depth-first with children in lexicographic
// order, the source's natural order for a directory store.
func (r *reader) IterTree() (*format.TreeIter, error) {
	var entries []format.TreeEntry
	entries = append(entries, format.TreeEntry{
		Path: "/",
		Desc: format.NodeDescriptor{Kind: format.NodeGroup},
	})
	if err := r.walkDir(r.root, "/", &entries); err != nil {
		return nil, err
	}
	return format.NewTreeIter(entries), nil
}

func (r *reader) walkDir(dir, nodePath string, entries *[]format.TreeEntry) error {
	children, err := os.ReadDir(dir)
	if err != nil {
		return errors.WrapIO(err, "read store directory")
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

	for _, child := range children {
		if !child.IsDir() {
			continue // metadata documents and chunk files
		}
		childDir := filepath.Join(dir, child.Name())
		childPath := joinNodePath(nodePath, child.Name())

		switch {
		case fileExists(filepath.Join(childDir, arrayDoc)):
			desc, meta, err := r.readArrayNode(childDir, childPath)
			if err != nil {
				return err
			}
			r.arrays[childPath] = desc
			r.metas[childPath] = meta
			*entries = append(*entries, format.TreeEntry{Path: childPath, Desc: desc})
		case fileExists(filepath.Join(childDir, groupDoc)):
			attrs, err := readAttrsDoc(filepath.Join(childDir, attrsDoc))
			if err != nil {
				return err
			}
			*entries = append(*entries, format.TreeEntry{
				Path: childPath,
				Desc: format.NodeDescriptor{Kind: format.NodeGroup, Attributes: attrs},
			})
			if err := r.walkDir(childDir, childPath, entries); err != nil {
				return err
			}
		default:
			return errors.CorruptContainerf(
				"%s: directory is neither group nor array (missing %s/%s)",
				childDir, groupDoc, arrayDoc)
		}
	}
	return nil
}

func (r *reader) readArrayNode(dir, nodePath string) (format.NodeDescriptor, arrayMeta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, arrayDoc))
	if err != nil {
		return format.NodeDescriptor{}, arrayMeta{}, errors.WrapIO(err, "read array metadata")
	}
	var meta arrayMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return format.NodeDescriptor{}, arrayMeta{}, errors.CorruptContainerf(
			"%s: malformed %s: %v", nodePath, arrayDoc, err)
	}
	if meta.ZarrFormat != zarrFormatVersion {
		return format.NodeDescriptor{}, arrayMeta{}, errors.CorruptContainerf(
			"%s: unsupported store format version %d", nodePath, meta.ZarrFormat)
	}
	dtype, width, err := dataset.ParseNumpyTag(meta.DType)
	if err != nil {
		return format.NodeDescriptor{}, arrayMeta{}, err
	}
	attrs, err := readAttrsDoc(filepath.Join(dir, attrsDoc))
	if err != nil {
		return format.NodeDescriptor{}, arrayMeta{}, err
	}
	shape, chunks := meta.Shape, meta.Chunks
	if dtype == dataset.Bytes && width > 1 {
		// Wide byte strings become an extra trailing byte dimension.
		shape = append(append([]int64{}, shape...), width)
		if chunks != nil {
			chunks = append(append([]int64{}, chunks...), width)
		}
	}
	desc := format.NodeDescriptor{
		Kind:       format.NodeArray,
		Attributes: attrs,
		Dtype:      dtype,
		Shape:      shape,
		ChunkShape: chunks,
	}
	if err := gridArray(desc).CheckInvariants(); err != nil {
		return format.NodeDescriptor{}, arrayMeta{}, errors.WithKind(
			errors.Wrapf(err, "%s: invalid array metadata", nodePath),
			errors.KindCorruptContainer)
	}
	return desc, meta, nil
}

// ReadChunk returns the decompressed raw bytes of one chunk.
func (r *reader) ReadChunk(arrayPath string, index int64) ([]byte, error) {
	desc, meta, err := r.arrayAt(arrayPath)
	if err != nil {
		return nil, err
	}
	grid := gridArray(desc)
	// Chunk files are named by the on-disk grid, which has one fewer
	// dimension than the descriptor for wide byte strings.
	coords, err := diskGrid(meta).ChunkCoords(index)
	if err != nil {
		return nil, errors.WithKind(
			errors.Wrapf(err, "%s", arrayPath), errors.KindCorruptContainer)
	}

	chunkFile := filepath.Join(r.root, filepath.FromSlash(strings.TrimPrefix(arrayPath, "/")), chunkFileName(coords))
	raw, err := os.ReadFile(chunkFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.CorruptContainerf("%s: missing chunk %d (%s)", arrayPath, index, chunkFileName(coords))
		}
		return nil, errors.WrapIO(err, fmt.Sprintf("%s: read chunk %d", arrayPath, index))
	}

	codec := CodecNone
	if meta.Compressor != nil {
		codec = meta.Compressor.ID
	}
	buf, err := decompress(codec, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: chunk %d", arrayPath, index)
	}

	want, err := grid.ChunkByteSize(index)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) != want {
		return nil, errors.CorruptContainerf(
			"%s: chunk %d is %d bytes, grid implies %d", arrayPath, index, len(buf), want)
	}
	return buf, nil
}

// arrayAt resolves an array path to its cached descriptor, walking the
// tree on first use.
func (r *reader) arrayAt(arrayPath string) (format.NodeDescriptor, arrayMeta, error) {
	if desc, ok := r.arrays[arrayPath]; ok {
		return desc, r.metas[arrayPath], nil
	}
	if _, err := r.IterTree(); err != nil {
		return format.NodeDescriptor{}, arrayMeta{}, err
	}
	desc, ok := r.arrays[arrayPath]
	if !ok {
		return format.NodeDescriptor{}, arrayMeta{}, errors.CorruptContainerf("no array at %s", arrayPath)
	}
	return desc, r.metas[arrayPath], nil
}

// checkChunkFiles verifies every chunk file the grid implies exists.
// Chunk payloads are not read; this is the cheap per-file validation.
func (r *reader) checkChunkFiles(res *validate.Result) {
	paths := make([]string, 0, len(r.arrays))
	for p := range r.arrays {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		grid := diskGrid(r.metas[p])
		for i := int64(0); i < grid.NumChunks(); i++ {
			coords, err := grid.ChunkCoords(i)
			if err != nil {
				continue
			}
			chunkFile := filepath.Join(r.root, filepath.FromSlash(strings.TrimPrefix(p, "/")), chunkFileName(coords))
			if !fileExists(chunkFile) {
				res.AddError("chunk_missing", p, "missing chunk file %s", chunkFileName(coords))
			}
		}
	}
}

func joinNodePath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readGroupDoc(path string) (groupMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return groupMeta{}, errors.CorruptContainerf("%s: missing group document", filepath.Dir(path))
		}
		return groupMeta{}, errors.WrapIO(err, "read group document")
	}
	var meta groupMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return groupMeta{}, errors.CorruptContainerf("%s: malformed group document: %v", filepath.Dir(path), err)
	}
	if meta.ZarrFormat != zarrFormatVersion {
		return groupMeta{}, errors.CorruptContainerf("unsupported store format version %d", meta.ZarrFormat)
	}
	return meta, nil
}

// readAttrsDoc reads a .zattrs document. Absent files mean no
// attributes. Non-string scalar values are stringified: the canonical
// model keeps metadata as strings.
func readAttrsDoc(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errors.WrapIO(err, "read attributes document")
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errors.CorruptContainerf("%s: malformed attributes: %v", path, err)
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}
