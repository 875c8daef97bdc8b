// Package convert implements the streaming conversion engine and the
// parallel batch orchestrator. A conversion reads a source container
// through its format adapter, re-chunks every array for the target
// format, and publishes the target only after a successful Finalize, so
// an aborted run never leaves a valid-looking output behind.
package convert

import (
	"context"
	"time"

	"github.com/robodata/rdm/config"
	"github.com/robodata/rdm/dataset"
	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
	"github.com/robodata/rdm/logger"
	"github.com/robodata/rdm/validate"
)

// defaultChunkTargetBytes sizes computed chunk shapes when neither the
// source grid nor the configuration decides.
const defaultChunkTargetBytes = 1 << 20

// Engine converts datasets between registered formats.
type Engine struct {
	registry *format.Registry
	cfg      *config.Config
}

// NewEngine builds an engine over a registry and a configuration
// snapshot.
func NewEngine(registry *format.Registry, cfg *config.Config) *Engine {
	return &Engine{registry: registry, cfg: cfg}
}

// Request names one conversion. Empty format ids are detected from the
// path extension.
type Request struct {
	SourcePath   string
	TargetPath   string
	SourceFormat string
	TargetFormat string
}

// Convert runs one conversion. The returned report is always populated;
// the error mirrors report.Err for callers that want to branch on it.
func (e *Engine) Convert(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	rep := newReport(req.SourcePath, req.TargetPath)
	defer func() { rep.Duration = time.Since(start) }()

	src, tgt, err := e.resolveAdapters(req)
	if err != nil {
		return rep.fail(err), err
	}
	rep.SourceFormat = src.Descriptor().ID
	rep.TargetFormat = tgt.Descriptor().ID

	log := logger.Named("convert")
	log.Debugw("conversion starting",
		"id", rep.ID,
		"source", req.SourcePath,
		"target", req.TargetPath,
		"source_format", rep.SourceFormat,
		"target_format", rep.TargetFormat)

	srcOpts, err := e.adapterOptions(src)
	if err != nil {
		return rep.fail(err), err
	}
	tgtOpts, err := e.adapterOptions(tgt)
	if err != nil {
		return rep.fail(err), err
	}

	reader, err := src.OpenReader(req.SourcePath, srcOpts)
	if err != nil {
		return rep.fail(err), err
	}
	defer reader.Close()

	metadata, err := reader.ReadMetadata()
	if err != nil {
		return rep.fail(err), err
	}
	entries, err := collectEntries(reader)
	if err != nil {
		return rep.fail(err), err
	}

	if e.cfg.Validation.Strict || e.cfg.Validation.CheckSchema {
		res, err := e.preValidate(src, metadata, entries)
		if err != nil {
			return rep.fail(err), err
		}
		rep.Validation = res
		if e.cfg.Validation.Strict && res.ErrorCount() > 0 {
			err := errors.SchemaMismatchf(
				"%s: source failed validation with %d error(s)",
				req.SourcePath, res.ErrorCount())
			return rep.fail(err), err
		}
	}

	writer, err := tgt.OpenWriter(req.TargetPath, tgtOpts)
	if err != nil {
		return rep.fail(err), err
	}
	// Close without Finalize discards staged output on any abort path.
	defer writer.Close()

	if err := writer.WriteMetadata(stampMetadata(metadata, rep.SourceFormat)); err != nil {
		return rep.fail(err), err
	}

	for _, entry := range entries {
		desc := entry.Desc
		if desc.Kind == format.NodeArray {
			desc.ChunkShape = targetChunkShape(desc, tgtOpts)
		}
		// The root is declared too so its attributes carry over.
		if err := writer.DeclareNode(entry.Path, desc); err != nil {
			return rep.fail(err), err
		}
	}

	for _, entry := range entries {
		if entry.Desc.Kind != format.NodeArray {
			continue
		}
		tgtChunks := targetChunkShape(entry.Desc, tgtOpts)
		if err := e.copyArray(ctx, reader, writer, entry, tgtChunks, rep); err != nil {
			return rep.fail(err), err
		}
	}

	if err := writer.Finalize(); err != nil {
		return rep.fail(err), err
	}

	rep.Status = StatusSucceeded
	log.Infow("conversion finished",
		"id", rep.ID,
		"target", req.TargetPath,
		"bytes_read", rep.BytesRead,
		"bytes_written", rep.BytesWritten,
		"duration", time.Since(start))
	return rep, nil
}

// resolveAdapters looks up the source and target adapters, detecting
// formats from path extensions when the request leaves them empty.
func (e *Engine) resolveAdapters(req Request) (src, tgt format.Adapter, err error) {
	if req.SourcePath == "" || req.TargetPath == "" {
		return nil, nil, errors.Configurationf("conversion needs a source and a target path")
	}
	src, err = e.adapterFor(req.SourceFormat, req.SourcePath)
	if err != nil {
		return nil, nil, err
	}
	tgt, err = e.adapterFor(req.TargetFormat, req.TargetPath)
	if err != nil {
		return nil, nil, err
	}
	if !src.Descriptor().Capabilities.Read {
		return nil, nil, errors.UnsupportedCapabilityf(
			"format %s cannot be read from", src.Descriptor().ID)
	}
	if !tgt.Descriptor().Capabilities.Write {
		return nil, nil, errors.UnsupportedCapabilityf(
			"format %s cannot be written to", tgt.Descriptor().ID)
	}
	return src, tgt, nil
}

func (e *Engine) adapterFor(id, path string) (format.Adapter, error) {
	if id != "" {
		return e.registry.Lookup(id)
	}
	return e.registry.Detect(path)
}

// adapterOptions merges the adapter defaults under the configured
// formats.<id> map and parses the result.
func (e *Engine) adapterOptions(a format.Adapter) (format.Options, error) {
	desc := a.Descriptor()
	raw := map[string]interface{}{}
	for k, v := range desc.DefaultOptions {
		raw[k] = v
	}
	for k, v := range e.cfg.FormatOptions(desc.ID) {
		raw[k] = v
	}
	return format.ParseOptions(desc.ID, raw, desc.OptionKeys...)
}

// collectEntries drains the tree iterator into a slice so the engine can
// declare every node before moving any chunk data.
func collectEntries(r format.ReaderHandle) ([]format.TreeEntry, error) {
	it, err := r.IterTree()
	if err != nil {
		return nil, err
	}
	var entries []format.TreeEntry
	for {
		entry, ok := it.Next()
		if !ok {
			return entries, nil
		}
		entries = append(entries, entry)
	}
}

// preValidate runs the schema validator over the source structure before
// any target bytes exist.
func (e *Engine) preValidate(src format.Adapter, metadata map[string]string, entries []format.TreeEntry) (*validate.Result, error) {
	ds, err := datasetFromEntries(metadata, entries)
	if err != nil {
		return nil, err
	}
	rules := make([]validate.Rule, len(e.cfg.Validation.Rules))
	for i, r := range e.cfg.Validation.Rules {
		rules[i] = validate.Rule{Left: r.Left, Right: r.Right}
	}
	res := validate.Validate(ds, validate.Config{
		Strict:               e.cfg.Validation.Strict,
		CheckSchema:          e.cfg.Validation.CheckSchema,
		Rules:                rules,
		RequiredMetadataKeys: src.Descriptor().RequiredMetadataKeys,
	})
	return res, nil
}

// datasetFromEntries builds a descriptor-only dataset out of a tree
// iteration.
func datasetFromEntries(metadata map[string]string, entries []format.TreeEntry) (*dataset.Dataset, error) {
	ds := dataset.New()
	ds.Metadata = metadata
	groups := map[string]*dataset.Group{"/": ds.Root}

	for _, entry := range entries {
		if entry.Path == "/" {
			for k, v := range entry.Desc.Attributes {
				ds.Root.SetAttribute(k, v)
			}
			continue
		}
		parentPath, name := splitPath(entry.Path)
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

// copyArray moves one array's data from reader to writer, re-chunking
// when the grids differ. The array is fully drained before the engine
// moves to the next one; peak memory stays at one source plus one
// target chunk.
func (e *Engine) copyArray(ctx context.Context, r format.ReaderHandle, w format.WriterHandle, entry format.TreeEntry, tgtChunks []int64, rep *Report) error {
	srcGrid := dataset.NewArray("", entry.Desc.Dtype, entry.Desc.Shape)
	srcGrid.ChunkShape = entry.Desc.ChunkShape
	if srcGrid.ElemCount() == 0 {
		return nil // zero-size dimension, nothing to move
	}

	if int64Sliceeq(effectiveChunks(entry.Desc.Shape, entry.Desc.ChunkShape),
		effectiveChunks(entry.Desc.Shape, tgtChunks)) {
		// Grids match; chunks pass straight through.
		for i := int64(0); i < srcGrid.NumChunks(); i++ {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			buf, err := r.ReadChunk(entry.Path, i)
			if err != nil {
				return err
			}
			rep.BytesRead += int64(len(buf))
			if err := w.WriteChunk(entry.Path, i, buf); err != nil {
				return err
			}
			rep.BytesWritten += int64(len(buf))
		}
		return nil
	}

	// Grids differ; each target chunk is cut from the source chunks
	// overlapping its window. Boundary-straddling source chunks get
	// re-read rather than cached, keeping memory bounded.
	srcGrid.ChunkShape = effectiveChunks(entry.Desc.Shape, entry.Desc.ChunkShape)
	tgtGrid := dataset.NewArray("", entry.Desc.Dtype, entry.Desc.Shape)
	tgtGrid.ChunkShape = effectiveChunks(entry.Desc.Shape, tgtChunks)
	counted := make(map[int64]bool, srcGrid.NumChunks())

	for ti := int64(0); ti < tgtGrid.NumChunks(); ti++ {
		tCoords, err := tgtGrid.ChunkCoords(ti)
		if err != nil {
			return errors.Wrapf(err, "%s", entry.Path)
		}
		tShape, err := tgtGrid.ChunkShapeAt(ti)
		if err != nil {
			return errors.Wrapf(err, "%s", entry.Path)
		}
		tOrigin := make([]int64, len(tCoords))
		for d := range tCoords {
			tOrigin[d] = tCoords[d] * tgtGrid.ChunkShape[d]
		}
		size, err := tgtGrid.ChunkByteSize(ti)
		if err != nil {
			return errors.Wrapf(err, "%s", entry.Path)
		}
		tBuf := make([]byte, size)

		err = eachOverlappingChunk(srcGrid, tOrigin, tShape, func(si int64, sCoords []int64) error {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			sBuf, err := r.ReadChunk(entry.Path, si)
			if err != nil {
				return err
			}
			if !counted[si] {
				rep.BytesRead += int64(len(sBuf))
				counted[si] = true
			}
			sOrigin := make([]int64, len(sCoords))
			for d := range sCoords {
				sOrigin[d] = sCoords[d] * srcGrid.ChunkShape[d]
			}
			sShape, err := srcGrid.ChunkShapeAt(si)
			if err != nil {
				return err
			}
			copyWindow(tBuf, tOrigin, tShape, sBuf, sOrigin, sShape, entry.Desc.Dtype.Size())
			return nil
		})
		if err != nil {
			return err
		}

		if err := w.WriteChunk(entry.Path, ti, tBuf); err != nil {
			return err
		}
		rep.BytesWritten += int64(len(tBuf))
	}
	return nil
}

// eachOverlappingChunk visits every chunk of grid whose extent
// intersects the window at origin with the given shape, in linear chunk
// order.
func eachOverlappingChunk(grid *dataset.Array, origin, shape []int64, fn func(index int64, coords []int64) error) error {
	rank := len(origin)
	counts := make([]int64, rank)
	lo := make([]int64, rank)
	hi := make([]int64, rank)
	for d := 0; d < rank; d++ {
		counts[d] = (grid.Shape[d] + grid.ChunkShape[d] - 1) / grid.ChunkShape[d]
		lo[d] = origin[d] / grid.ChunkShape[d]
		hi[d] = (origin[d] + shape[d] + grid.ChunkShape[d] - 1) / grid.ChunkShape[d]
		if hi[d] > counts[d] {
			hi[d] = counts[d]
		}
		if lo[d] >= hi[d] {
			return nil
		}
	}
	if rank == 0 {
		return fn(0, nil)
	}

	coords := make([]int64, rank)
	copy(coords, lo)
	for {
		index := int64(0)
		for d := 0; d < rank; d++ {
			index = index*counts[d] + coords[d]
		}
		if err := fn(index, coords); err != nil {
			return err
		}
		d := rank - 1
		for ; d >= 0; d-- {
			coords[d]++
			if coords[d] < hi[d] {
				break
			}
			coords[d] = lo[d]
		}
		if d < 0 {
			return nil
		}
	}
}

// copyWindow copies the intersection of two row-major hyperrectangles,
// each backed by its own dense buffer with the given global origin and
// shape. Rows along the last dimension are contiguous in both layouts.
func copyWindow(dst []byte, dstOrigin, dstShape []int64, src []byte, srcOrigin, srcShape []int64, elem int64) {
	rank := len(dstShape)
	if rank == 0 {
		copy(dst, src)
		return
	}

	lo := make([]int64, rank)
	hi := make([]int64, rank)
	for d := 0; d < rank; d++ {
		lo[d] = dstOrigin[d]
		if srcOrigin[d] > lo[d] {
			lo[d] = srcOrigin[d]
		}
		hi[d] = dstOrigin[d] + dstShape[d]
		if end := srcOrigin[d] + srcShape[d]; end < hi[d] {
			hi[d] = end
		}
		if hi[d] <= lo[d] {
			return
		}
	}

	dstStride := rowMajorStrides(dstShape)
	srcStride := rowMajorStrides(srcShape)
	rowLen := (hi[rank-1] - lo[rank-1]) * elem

	cur := make([]int64, rank)
	copy(cur, lo)
	for {
		var dOff, sOff int64
		for d := 0; d < rank; d++ {
			dOff += (cur[d] - dstOrigin[d]) * dstStride[d]
			sOff += (cur[d] - srcOrigin[d]) * srcStride[d]
		}
		dOff *= elem
		sOff *= elem
		copy(dst[dOff:dOff+rowLen], src[sOff:sOff+rowLen])

		d := rank - 2
		for ; d >= 0; d-- {
			cur[d]++
			if cur[d] < hi[d] {
				break
			}
			cur[d] = lo[d]
		}
		if d < 0 {
			return
		}
	}
}

// rowMajorStrides returns element strides for a dense row-major buffer.
func rowMajorStrides(shape []int64) []int64 {
	strides := make([]int64, len(shape))
	strides[len(shape)-1] = 1
	for d := len(shape) - 2; d >= 0; d-- {
		strides[d] = strides[d+1] * shape[d+1]
	}
	return strides
}

// targetChunkShape applies the re-chunking policy: an explicit
// configured shape wins, then a compatible source grid, then a shape
// computed from the chunk byte budget along the leading dimension.
func targetChunkShape(desc format.NodeDescriptor, opts format.Options) []int64 {
	if len(desc.Shape) == 0 {
		return nil
	}
	if opts.ChunkShape != nil && len(opts.ChunkShape) == len(desc.Shape) && fitsShape(opts.ChunkShape, desc.Shape) {
		out := make([]int64, len(opts.ChunkShape))
		copy(out, opts.ChunkShape)
		return out
	}
	if desc.ChunkShape != nil {
		out := make([]int64, len(desc.ChunkShape))
		copy(out, desc.ChunkShape)
		return out
	}
	budget := opts.ChunkTargetBytes
	if budget <= 0 {
		budget = defaultChunkTargetBytes
	}
	return computeChunkShape(desc, budget)
}

// computeChunkShape sizes the leading dimension so a chunk stays at or
// under the byte budget, keeping trailing dimensions whole.
func computeChunkShape(desc format.NodeDescriptor, budget int64) []int64 {
	out := make([]int64, len(desc.Shape))
	copy(out, desc.Shape)
	for i := range out {
		if out[i] < 1 {
			out[i] = 1
		}
	}

	rowBytes := desc.Dtype.Size()
	for _, dim := range out[1:] {
		rowBytes *= dim
	}
	lead := budget / rowBytes
	if lead < 1 {
		lead = 1
	}
	if lead < out[0] {
		out[0] = lead
	}
	return out
}

// stampMetadata copies the source metadata and records provenance.
func stampMetadata(src map[string]string, sourceFormat string) map[string]string {
	out := make(map[string]string, len(src)+2)
	for k, v := range src {
		out[k] = v
	}
	out["source_format"] = sourceFormat
	out["converted_at"] = time.Now().UTC().Format(time.RFC3339)
	if _, ok := out["format_version"]; !ok {
		out["format_version"] = "1.0"
	}
	return out
}

// effectiveChunks normalizes a nil grid to the single full-shape chunk
// so grid comparisons line up.
func effectiveChunks(shape, chunks []int64) []int64 {
	if chunks != nil || len(shape) == 0 {
		return chunks
	}
	out := make([]int64, len(shape))
	for i, d := range shape {
		if d < 1 {
			d = 1
		}
		out[i] = d
	}
	return out
}

func fitsShape(chunks, shape []int64) bool {
	for i, c := range chunks {
		if c <= 0 || (shape[i] > 0 && c > shape[i]) {
			return false
		}
	}
	return true
}

func int64Sliceeq(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ctxErr maps context termination onto the error taxonomy.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.WithKind(errors.Wrap(err, "conversion timed out"), errors.KindTimeout)
		}
		return errors.Wrap(err, "conversion cancelled")
	}
	return nil
}

func splitPath(p string) (parent, name string) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			if i == 0 {
				return "/", p[1:]
			}
			return p[:i], p[i+1:]
		}
	}
	return "/", p
}
