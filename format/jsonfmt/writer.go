package jsonfmt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/robodata/rdm/dataset"
	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
)

// writer accumulates the whole document in memory and writes it in one
// shot during Finalize, through a temporary file renamed onto the
// target. An abort never leaves a target behind.
type writer struct {
	target    string
	opts      format.Options
	metadata  map[string]string
	rootAttrs map[string]string
	order     []string
	nodes     map[string]format.NodeDescriptor
	payloads  map[string]*dataset.Array // assembly buffers, chunked per declaration
	finalized bool
	closed    bool
}

func openWriter(path string, opts format.Options) (*writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WrapIO(err, "create target directory")
		}
	}
	return &writer{
		target:   path,
		opts:     opts,
		nodes:    map[string]format.NodeDescriptor{},
		payloads: map[string]*dataset.Array{},
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

// DeclareNode registers a node in declaration order.
func (w *writer) DeclareNode(path string, desc format.NodeDescriptor) error {
	if path == "/" {
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
		arr := dataset.NewArray("", desc.Dtype, desc.Shape)
		arr.ChunkShape = desc.ChunkShape
		if err := arr.CheckInvariants(); err != nil {
			return errors.Wrapf(err, "declare %s", path)
		}
	}
	w.nodes[path] = desc
	w.order = append(w.order, path)
	return nil
}

// WriteChunk folds one chunk of the declared grid into the array's
// assembly buffer. The document stores the dense payload; the grid only
// exists on the wire.
func (w *writer) WriteChunk(arrayPath string, index int64, buf []byte) error {
	desc, ok := w.nodes[arrayPath]
	if !ok || desc.Kind != format.NodeArray {
		return errors.SchemaMismatchf("%s: chunk write to undeclared array", arrayPath)
	}
	assembly, ok := w.payloads[arrayPath]
	if !ok {
		assembly = dataset.NewArray("", desc.Dtype, desc.Shape)
		assembly.ChunkShape = desc.ChunkShape
		w.payloads[arrayPath] = assembly
	}
	if err := assembly.InsertChunk(index, buf); err != nil {
		return errors.WithKind(
			errors.Wrapf(err, "%s", arrayPath), errors.KindSchemaMismatch)
	}
	return nil
}

// Finalize assembles and writes the document. Must be called exactly
// once.
func (w *writer) Finalize() error {
	if w.finalized {
		return errors.New("document already finalized")
	}

	root, err := w.buildTree()
	if err != nil {
		return err
	}
	doc := storeDoc{Metadata: w.metadata, Root: root}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}

	indent := w.opts.Indent
	if indent <= 0 {
		indent = 2
	}
	out, err := json.MarshalIndent(doc, "", strings.Repeat(" ", indent))
	if err != nil {
		return errors.Wrap(err, "marshal document")
	}
	out = append(out, '\n')

	if w.opts.Compression == "gzip" || strings.HasSuffix(w.target, ".gz") {
		out, err = gzipBytes(out, w.opts.CompressionLevel)
		if err != nil {
			return err
		}
	}

	tmp := fmt.Sprintf("%s.tmp-%s", w.target, uuid.NewString())
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return errors.WrapIO(err, "write document")
	}
	if err := os.Rename(tmp, w.target); err != nil {
		os.Remove(tmp)
		return errors.WrapIO(err, "publish document")
	}
	w.finalized = true
	return nil
}

// buildTree folds the declared nodes into a nested document tree.
func (w *writer) buildTree() (*nodeDoc, error) {
	root := &nodeDoc{Kind: kindGroup, Name: "/", Attributes: w.rootAttrs}
	byPath := map[string]*nodeDoc{"/": root}

	for _, path := range w.order {
		desc := w.nodes[path]
		parentPath, name := splitNodePath(path)
		parent, ok := byPath[parentPath]
		if !ok {
			return nil, errors.SchemaMismatchf("%s: declared before its parent group", path)
		}
		if parent.Kind != kindGroup {
			return nil, errors.SchemaMismatchf("%s: parent is not a group", path)
		}

		node := &nodeDoc{Name: name, Attributes: desc.Attributes}
		switch desc.Kind {
		case format.NodeGroup:
			node.Kind = kindGroup
		case format.NodeArray:
			node.Kind = kindArray
			node.Dtype = desc.Dtype.String()
			node.Shape = desc.Shape
			if assembly := w.payloads[path]; assembly != nil {
				node.Data = base64.StdEncoding.EncodeToString(assembly.Data())
			}
		default:
			return nil, errors.SchemaMismatchf("%s: unknown node kind", path)
		}
		parent.Children = append(parent.Children, node)
		byPath[path] = node
	}
	return root, nil
}

func gzipBytes(buf []byte, level int) ([]byte, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	var out bytes.Buffer
	zw, err := gzip.NewWriterLevel(&out, level)
	if err != nil {
		return nil, errors.Configurationf("gzip level %d: %v", level, err)
	}
	if _, err := zw.Write(buf); err != nil {
		return nil, errors.WrapIO(err, "gzip document")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.WrapIO(err, "gzip document")
	}
	return out.Bytes(), nil
}

// Close releases the handle. Nothing touches the filesystem before
// Finalize, so an abort has nothing to clean up.
func (w *writer) Close() error {
	w.closed = true
	return nil
}
