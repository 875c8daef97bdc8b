package dataset

import (
	"github.com/robodata/rdm/errors"
)

// Chunks are addressed by a linear index in row-major order over the
// chunk grid. The linear order is the streaming order of a conversion:
// chunk i+1 is never written before chunk i.

// chunkCounts returns the number of chunks along each dimension.
// Without a chunk shape the whole array is one chunk.
func (a *Array) chunkCounts() []int64 {
	if a.ChunkShape == nil {
		return nil // single chunk covering the full shape
	}
	counts := make([]int64, len(a.Shape))
	for i, dim := range a.Shape {
		counts[i] = (dim + a.ChunkShape[i] - 1) / a.ChunkShape[i]
	}
	return counts
}

// NumChunks returns the total number of chunks in the grid. An array
// with a zero-size dimension holds no elements and therefore no chunks,
// whether the grid is explicit or implied.
func (a *Array) NumChunks() int64 {
	if a.ElemCount() == 0 {
		return 0
	}
	counts := a.chunkCounts()
	if counts == nil {
		return 1
	}
	n := int64(1)
	for _, c := range counts {
		n *= c
	}
	return n
}

// ChunkCoords decodes a linear chunk index into grid coordinates.
func (a *Array) ChunkCoords(index int64) ([]int64, error) {
	if index < 0 || index >= a.NumChunks() {
		return nil, errors.Newf("chunk index %d out of range [0, %d)", index, a.NumChunks())
	}
	counts := a.chunkCounts()
	if counts == nil {
		return []int64{}, nil
	}
	coords := make([]int64, len(counts))
	for d := len(counts) - 1; d >= 0; d-- {
		coords[d] = index % counts[d]
		index /= counts[d]
	}
	return coords, nil
}

// ChunkShapeAt returns the effective shape of chunk index, clipped at the
// array boundary. Boundary chunks are smaller than ChunkShape when the
// chunk grid does not evenly partition the array.
func (a *Array) ChunkShapeAt(index int64) ([]int64, error) {
	coords, err := a.ChunkCoords(index)
	if err != nil {
		return nil, err
	}
	if a.ChunkShape == nil {
		out := make([]int64, len(a.Shape))
		copy(out, a.Shape)
		return out, nil
	}
	out := make([]int64, len(a.Shape))
	for d := range out {
		out[d] = a.ChunkShape[d]
		if rem := a.Shape[d] - coords[d]*a.ChunkShape[d]; rem < out[d] {
			out[d] = rem
		}
	}
	return out, nil
}

// ChunkByteSize returns the byte size of chunk index after clipping.
func (a *Array) ChunkByteSize(index int64) (int64, error) {
	shape, err := a.ChunkShapeAt(index)
	if err != nil {
		return 0, err
	}
	n := a.Dtype.Size()
	for _, dim := range shape {
		n *= dim
	}
	return n, nil
}

// ExtractChunk copies chunk index out of the resident dense buffer.
// The array must be materialized via SetData.
func (a *Array) ExtractChunk(index int64) ([]byte, error) {
	if a.data == nil {
		return nil, errors.Newf("array %q has no resident data", a.name)
	}
	size, err := a.ChunkByteSize(index)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if err := a.copyChunk(index, buf, true); err != nil {
		return nil, err
	}
	return buf, nil
}

// InsertChunk copies a chunk-sized buffer into the resident dense buffer
// at the position of chunk index. Used when materializing a streamed
// source into memory.
func (a *Array) InsertChunk(index int64, chunk []byte) error {
	if a.data == nil {
		a.data = make([]byte, a.ByteSize())
	}
	size, err := a.ChunkByteSize(index)
	if err != nil {
		return err
	}
	if int64(len(chunk)) != size {
		return errors.CorruptContainerf(
			"array %q chunk %d: got %d bytes, expected %d",
			a.name, index, len(chunk), size)
	}
	return a.copyChunk(index, chunk, false)
}

// copyChunk moves data between the dense buffer and a chunk buffer.
// The chunk is a row-major hyperrectangle; rows along the last dimension
// are contiguous in both layouts, so the copy walks an odometer over the
// leading dimensions and moves one row at a time.
func (a *Array) copyChunk(index int64, chunk []byte, extract bool) error {
	coords, err := a.ChunkCoords(index)
	if err != nil {
		return err
	}
	clipped, err := a.ChunkShapeAt(index)
	if err != nil {
		return err
	}
	for _, dim := range clipped {
		if dim == 0 {
			return nil
		}
	}
	elem := a.Dtype.Size()

	rank := len(a.Shape)
	if rank == 0 {
		// Scalar array: a single element.
		if extract {
			copy(chunk, a.data)
		} else {
			copy(a.data, chunk)
		}
		return nil
	}

	// Element strides of the dense array, row-major.
	strides := make([]int64, rank)
	strides[rank-1] = 1
	for d := rank - 2; d >= 0; d-- {
		strides[d] = strides[d+1] * a.Shape[d+1]
	}

	// Chunk origin within the dense array, in elements.
	origin := make([]int64, rank)
	if a.ChunkShape != nil {
		for d := range origin {
			origin[d] = coords[d] * a.ChunkShape[d]
		}
	}

	rowLen := clipped[rank-1] * elem
	if rowLen == 0 {
		return nil
	}

	// Odometer over the leading dimensions of the chunk.
	pos := make([]int64, rank-1)
	var chunkOff int64
	for {
		denseElem := int64(0)
		for d := 0; d < rank-1; d++ {
			denseElem += (origin[d] + pos[d]) * strides[d]
		}
		denseElem += origin[rank-1] * strides[rank-1]
		denseOff := denseElem * elem

		if extract {
			copy(chunk[chunkOff:chunkOff+rowLen], a.data[denseOff:denseOff+rowLen])
		} else {
			copy(a.data[denseOff:denseOff+rowLen], chunk[chunkOff:chunkOff+rowLen])
		}
		chunkOff += rowLen

		// Advance the odometer.
		d := rank - 2
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < clipped[d] {
				break
			}
			pos[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}
