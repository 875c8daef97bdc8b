// Package dataset defines the canonical in-memory model for robot
// trajectory data: a tree of named groups and typed arrays with attached
// metadata. Every format adapter translates to and from this model, so
// conversion between any two formats goes through it losslessly.
//
// Instances are created fresh per load or conversion and discarded after
// the operation; the model holds no process-wide state.
package dataset

import (
	"path"

	"github.com/robodata/rdm/errors"
)

// Node is either a *Group or an *Array.
type Node interface {
	Name() string
}

// Dataset is the root entity: one root group plus dataset-level metadata
// (format version, creation time, source format).
type Dataset struct {
	Root     *Group
	Metadata map[string]string
}

// New creates an empty dataset with a root group.
func New() *Dataset {
	return &Dataset{
		Root:     &Group{name: "/"},
		Metadata: map[string]string{},
	}
}

// Walk traverses the tree depth-first in child insertion order, calling fn
// for every group and array with its slash-separated path. The root group
// is visited first with path "/".
func (d *Dataset) Walk(fn func(p string, n Node) error) error {
	return walkGroup("/", d.Root, fn)
}

func walkGroup(p string, g *Group, fn func(string, Node) error) error {
	if err := fn(p, g); err != nil {
		return err
	}
	for _, child := range g.children {
		childPath := path.Join(p, child.Name())
		switch c := child.(type) {
		case *Group:
			if err := walkGroup(childPath, c, fn); err != nil {
				return err
			}
		case *Array:
			if err := fn(childPath, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lookup resolves a slash-separated path to a node, or nil when absent.
func (d *Dataset) Lookup(p string) Node {
	if p == "/" || p == "" {
		return d.Root
	}
	var found Node
	_ = d.Walk(func(np string, n Node) error {
		if np == p {
			found = n
			return errStopWalk
		}
		return nil
	})
	return found
}

var errStopWalk = errors.New("stop walk")

// Group is a named container node. Children keep insertion order and
// names are unique within a group; each child is owned by exactly one
// parent.
type Group struct {
	name       string
	children   []Node
	childIndex map[string]int
	Attributes map[string]string
}

// NewGroup creates an empty group with the given name.
func NewGroup(name string) *Group {
	return &Group{name: name}
}

func (g *Group) Name() string { return g.name }

// Children returns the child nodes in insertion order.
func (g *Group) Children() []Node { return g.children }

// Child returns the named child, or nil.
func (g *Group) Child(name string) Node {
	if g.childIndex == nil {
		return nil
	}
	i, ok := g.childIndex[name]
	if !ok {
		return nil
	}
	return g.children[i]
}

func (g *Group) add(n Node) error {
	if n.Name() == "" {
		return errors.New("child name must not be empty")
	}
	if g.childIndex == nil {
		g.childIndex = map[string]int{}
	}
	if _, exists := g.childIndex[n.Name()]; exists {
		return errors.Newf("duplicate child name %q in group %q", n.Name(), g.name)
	}
	g.childIndex[n.Name()] = len(g.children)
	g.children = append(g.children, n)
	return nil
}

// AddGroup creates and attaches a child group.
func (g *Group) AddGroup(name string) (*Group, error) {
	child := NewGroup(name)
	if err := g.add(child); err != nil {
		return nil, err
	}
	return child, nil
}

// AddArray attaches an array to the group.
func (g *Group) AddArray(a *Array) error {
	return g.add(a)
}

// SetAttribute sets a node-local metadata value.
func (g *Group) SetAttribute(key, value string) {
	if g.Attributes == nil {
		g.Attributes = map[string]string{}
	}
	g.Attributes[key] = value
}

// Array is a leaf entity holding dense numeric or fixed-length byte data.
// The backing buffer is optional: streamed conversions never materialize
// it, while in-memory datasets (tests, small files) attach it via SetData.
type Array struct {
	name       string
	Dtype      Dtype
	Shape      []int64
	ChunkShape []int64 // nil means the whole array is a single chunk
	data       []byte
}

// NewArray creates an array descriptor without backing data.
func NewArray(name string, dtype Dtype, shape []int64) *Array {
	return &Array{name: name, Dtype: dtype, Shape: shape}
}

func (a *Array) Name() string { return a.name }

// ElemCount returns the total number of elements implied by Shape.
func (a *Array) ElemCount() int64 {
	n := int64(1)
	for _, dim := range a.Shape {
		n *= dim
	}
	return n
}

// ByteSize returns the size of the dense backing buffer.
func (a *Array) ByteSize() int64 {
	return a.ElemCount() * a.Dtype.Size()
}

// SetData attaches a resident dense buffer. The length must match the
// element count implied by Shape.
func (a *Array) SetData(buf []byte) error {
	if int64(len(buf)) != a.ByteSize() {
		return errors.SchemaMismatchf(
			"array %q: buffer is %d bytes, shape %v of %s implies %d",
			a.name, len(buf), a.Shape, a.Dtype, a.ByteSize())
	}
	a.data = buf
	return nil
}

// Data returns the resident buffer, or nil when the array is not
// materialized.
func (a *Array) Data() []byte { return a.data }

// CheckInvariants verifies the shape/chunk-shape contract of the model.
func (a *Array) CheckInvariants() error {
	if !a.Dtype.Valid() {
		return errors.SchemaMismatchf("array %q: dtype outside the enumerated set", a.name)
	}
	for _, dim := range a.Shape {
		if dim < 0 {
			return errors.SchemaMismatchf("array %q: negative dimension in shape %v", a.name, a.Shape)
		}
	}
	if a.ChunkShape == nil {
		return nil
	}
	if len(a.ChunkShape) != len(a.Shape) {
		return errors.SchemaMismatchf(
			"array %q: chunk_shape rank %d != shape rank %d",
			a.name, len(a.ChunkShape), len(a.Shape))
	}
	for i, c := range a.ChunkShape {
		if c <= 0 {
			return errors.SchemaMismatchf("array %q: chunk_shape[%d] = %d must be positive", a.name, i, c)
		}
		if c > a.Shape[i] && a.Shape[i] > 0 {
			return errors.SchemaMismatchf(
				"array %q: chunk_shape[%d] = %d exceeds shape %d",
				a.name, i, c, a.Shape[i])
		}
	}
	return nil
}
