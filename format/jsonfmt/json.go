// Package jsonfmt implements the single-document interchange adapter.
//
// A store is one JSON file: dataset metadata plus the whole node tree,
// with array payloads inlined as base64 little-endian bytes. Every
// array is a single chunk. The document can be gzip-compressed, which
// the reader detects from the file's magic bytes rather than its name.
package jsonfmt

import (
	"strings"

	"github.com/robodata/rdm/dataset"
	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
	"github.com/robodata/rdm/validate"
)

// FormatID is the registry id of this adapter.
const FormatID = "json"

var allowedOptions = []string{"compression", "indent", "strict"}

// nodeDoc is one tree node in the document. Groups carry children in
// declaration order; arrays carry their payload.
type nodeDoc struct {
	Kind       string            `json:"kind"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Children   []*nodeDoc        `json:"children,omitempty"`
	Dtype      string            `json:"dtype,omitempty"`
	Shape      []int64           `json:"shape,omitempty"`
	Data       string            `json:"data,omitempty"` // base64, little-endian
}

// storeDoc is the top-level document.
type storeDoc struct {
	Metadata map[string]string `json:"metadata"`
	Root     *nodeDoc          `json:"root"`
}

const (
	kindGroup = "group"
	kindArray = "array"
)

// Adapter is the single-document interchange adapter.
type Adapter struct{}

// New returns the json adapter.
func New() *Adapter { return &Adapter{} }

// Descriptor implements format.Adapter.
func (a *Adapter) Descriptor() format.Descriptor {
	return format.Descriptor{
		ID:                   FormatID,
		Extensions:           []string{".json", ".json.gz"},
		Capabilities:         format.Capabilities{Read: true, Write: true},
		RequiredMetadataKeys: []string{"format_version"},
		OptionKeys:           allowedOptions,
		DefaultOptions: map[string]interface{}{
			"compression": "none",
			"indent":      2,
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

// Validate parses the document and checks it against the canonical
// model, including that every array payload matches its declared size.
func (a *Adapter) Validate(path string) (*validate.Result, error) {
	res := validate.NewResult()

	r, err := openReader(path, format.Options{})
	if err != nil {
		res.AddError("corrupt", "", "%s", err.Error())
		return res, nil
	}
	defer r.Close()

	ds, err := buildDataset(r)
	if err != nil {
		res.AddError("corrupt", "", "%s", err.Error())
		return res, nil
	}

	structural := validate.Validate(ds, validate.Config{
		RequiredMetadataKeys: a.Descriptor().RequiredMetadataKeys,
	})
	res.Issues = append(res.Issues, structural.Issues...)
	if !structural.OK {
		res.OK = false
	}

	r.checkPayloads(res)
	return res, nil
}

// buildDataset assembles a descriptor-only dataset from a reader.
func buildDataset(r *reader) (*dataset.Dataset, error) {
	md, err := r.ReadMetadata()
	if err != nil {
		return nil, err
	}
	it, err := r.IterTree()
	if err != nil {
		return nil, err
	}
	ds := dataset.New()
	ds.Metadata = md
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
