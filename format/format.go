// Package format defines the adapter boundary of rdm: the descriptor and
// registry for supported container formats, and the read/write/validate
// contract every adapter implements. The conversion engine only ever
// talks to this contract; no format-specific API leaks past it.
package format

import (
	"github.com/robodata/rdm/dataset"
	"github.com/robodata/rdm/validate"
)

// Capabilities declares which directions a format supports.
type Capabilities struct {
	Read  bool
	Write bool
}

// Descriptor describes a supported container kind. One is registered per
// adapter at process initialization.
type Descriptor struct {
	ID                   string
	Extensions           []string // recognized file extensions, e.g. ".zarr"
	Capabilities         Capabilities
	RequiredMetadataKeys []string
	// OptionKeys are the configuration keys the adapter accepts; anything
	// else in a raw options map is a configuration error.
	OptionKeys     []string
	DefaultOptions map[string]interface{}
}

// NodeKind discriminates tree nodes in the adapter contract.
type NodeKind int

const (
	NodeGroup NodeKind = iota
	NodeArray
)

// NodeDescriptor describes one node yielded by tree iteration or declared
// to a writer. Array fields are zero for groups.
type NodeDescriptor struct {
	Kind       NodeKind
	Attributes map[string]string
	Dtype      dataset.Dtype
	Shape      []int64
	ChunkShape []int64 // nil = single chunk
}

// TreeIter is a finite, lazy producer of (path, NodeDescriptor) pairs in
// the source's natural order. It is restartable only by reopening the
// handle; a handle supports at most one live iterator.
type TreeIter struct {
	entries []TreeEntry
	pos     int
}

// TreeEntry is one step of tree iteration.
type TreeEntry struct {
	Path string
	Desc NodeDescriptor
}

// NewTreeIter builds an iterator over pre-ordered entries. Adapters that
// enumerate lazily from disk wrap their own ordering into this.
func NewTreeIter(entries []TreeEntry) *TreeIter {
	return &TreeIter{entries: entries}
}

// Next returns the next entry, or ok=false when the iteration is done.
func (it *TreeIter) Next() (TreeEntry, bool) {
	if it.pos >= len(it.entries) {
		return TreeEntry{}, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}

// ReaderHandle reads one container. Handles are single-use and owned by
// exactly one conversion; Close releases resources without side effects.
type ReaderHandle interface {
	// ReadMetadata returns the dataset-level metadata.
	ReadMetadata() (map[string]string, error)
	// IterTree yields every group and array in natural order.
	IterTree() (*TreeIter, error)
	// ReadChunk returns the raw little-endian bytes of one chunk.
	ReadChunk(arrayPath string, index int64) ([]byte, error)
	Close() error
}

// WriterHandle writes one container. Until Finalize returns nil the
// output is not durable or valid; Close without Finalize discards any
// staged output so an aborted conversion leaves nothing behind.
type WriterHandle interface {
	WriteMetadata(md map[string]string) error
	// DeclareNode registers a node. No filesystem writes happen here.
	DeclareNode(path string, desc NodeDescriptor) error
	WriteChunk(arrayPath string, index int64, buf []byte) error
	// Finalize makes the output durable. Must be called exactly once.
	Finalize() error
	Close() error
}

// Adapter is the per-format capability implemented once per container
// kind: open for read, open for write, validate in place.
type Adapter interface {
	Descriptor() Descriptor
	OpenReader(path string, opts Options) (ReaderHandle, error)
	OpenWriter(path string, opts Options) (WriterHandle, error)
	// Validate checks a file against structural rules without fully
	// materializing it.
	Validate(path string) (*validate.Result, error)
}
