package jsonfmt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/robodata/rdm/dataset"
	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
	"github.com/robodata/rdm/validate"
)

// gzipMagic is the two-byte gzip header.
var gzipMagic = []byte{0x1f, 0x8b}

// reader holds the fully parsed document. The format is not streamable
// on the read side; the whole file is decoded on open.
type reader struct {
	doc    storeDoc
	arrays map[string]*nodeDoc // array path -> node, filled on open
	order  []string            // depth-first entry paths
}

func openReader(path string, _ format.Options) (*reader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO(err, "open document")
	}
	if bytes.HasPrefix(raw, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.CorruptContainerf("%s: bad gzip stream: %v", path, err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return nil, errors.CorruptContainerf("%s: bad gzip stream: %v", path, err)
		}
	}

	var doc storeDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.CorruptContainerf("%s: malformed document: %v", path, err)
	}
	if doc.Root == nil {
		return nil, errors.CorruptContainerf("%s: document has no root node", path)
	}
	if doc.Root.Kind != kindGroup {
		return nil, errors.CorruptContainerf("%s: root node must be a group", path)
	}

	r := &reader{doc: doc, arrays: map[string]*nodeDoc{}}
	if err := r.index(doc.Root, "/"); err != nil {
		return nil, err
	}
	return r, nil
}

// index walks the raw tree once, recording entry order and array nodes.
func (r *reader) index(node *nodeDoc, path string) error {
	r.order = append(r.order, path)
	if node.Kind == kindArray {
		r.arrays[path] = node
		return nil
	}
	seen := map[string]bool{}
	for _, child := range node.Children {
		if child == nil || child.Name == "" {
			return errors.CorruptContainerf("%s: unnamed child node", path)
		}
		if seen[child.Name] {
			return errors.CorruptContainerf("%s: duplicate child %q", path, child.Name)
		}
		seen[child.Name] = true
		switch child.Kind {
		case kindGroup, kindArray:
		default:
			return errors.CorruptContainerf("%s/%s: unknown node kind %q", path, child.Name, child.Kind)
		}
		if err := r.index(child, joinNodePath(path, child.Name)); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) Close() error { return nil }

// ReadMetadata returns the document's metadata block.
func (r *reader) ReadMetadata() (map[string]string, error) {
	md := make(map[string]string, len(r.doc.Metadata))
	for k, v := range r.doc.Metadata {
		md[k] = v
	}
	return md, nil
}

// IterTree walks the tree depth-first in document order.
func (r *reader) IterTree() (*format.TreeIter, error) {
	entries := make([]format.TreeEntry, 0, len(r.order))

	var walk func(node *nodeDoc, path string) error
	walk = func(node *nodeDoc, path string) error {
		desc, err := describe(node, path)
		if err != nil {
			return err
		}
		entries = append(entries, format.TreeEntry{Path: path, Desc: desc})
		for _, child := range node.Children {
			if err := walk(child, joinNodePath(path, child.Name)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(r.doc.Root, "/"); err != nil {
		return nil, err
	}
	return format.NewTreeIter(entries), nil
}

// describe converts a raw node into a descriptor, validating array
// metadata on the way.
func describe(node *nodeDoc, path string) (format.NodeDescriptor, error) {
	if node.Kind == kindGroup {
		return format.NodeDescriptor{Kind: format.NodeGroup, Attributes: node.Attributes}, nil
	}
	dtype, err := dataset.ParseDtype(node.Dtype)
	if err != nil {
		return format.NodeDescriptor{}, errors.WithKind(
			errors.Wrapf(err, "%s", path), errors.KindCorruptContainer)
	}
	desc := format.NodeDescriptor{
		Kind:       format.NodeArray,
		Attributes: node.Attributes,
		Dtype:      dtype,
		Shape:      node.Shape,
	}
	arr := dataset.NewArray("", dtype, node.Shape)
	if err := arr.CheckInvariants(); err != nil {
		return format.NodeDescriptor{}, errors.WithKind(
			errors.Wrapf(err, "%s: invalid array metadata", path),
			errors.KindCorruptContainer)
	}
	return desc, nil
}

// ReadChunk decodes an array's inline payload. Arrays in this format
// are always a single chunk, so only index 0 is valid.
func (r *reader) ReadChunk(arrayPath string, index int64) ([]byte, error) {
	node, ok := r.arrays[arrayPath]
	if !ok {
		return nil, errors.CorruptContainerf("no array at %s", arrayPath)
	}
	if index != 0 {
		return nil, errors.CorruptContainerf("%s: chunk %d out of range, arrays hold one chunk", arrayPath, index)
	}
	buf, err := base64.StdEncoding.DecodeString(node.Data)
	if err != nil {
		return nil, errors.CorruptContainerf("%s: bad payload encoding: %v", arrayPath, err)
	}
	dtype, err := dataset.ParseDtype(node.Dtype)
	if err != nil {
		return nil, err
	}
	want := dataset.NewArray("", dtype, node.Shape).ByteSize()
	if int64(len(buf)) != want {
		return nil, errors.CorruptContainerf(
			"%s: payload is %d bytes, shape implies %d", arrayPath, len(buf), want)
	}
	return buf, nil
}

// checkPayloads verifies every array payload decodes to the declared
// size.
func (r *reader) checkPayloads(res *validate.Result) {
	for _, path := range r.order {
		if _, ok := r.arrays[path]; !ok {
			continue
		}
		if _, err := r.ReadChunk(path, 0); err != nil {
			res.AddError("chunk_missing", path, "%s", err.Error())
		}
	}
}

func joinNodePath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
