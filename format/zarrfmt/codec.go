package zarrfmt

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/robodata/rdm/errors"
)

// Codec ids recognized in the compressor metadata and the
// formats.zarr.compression option.
const (
	CodecNone = "none"
	CodecGzip = "gzip"
	CodecZstd = "zstd"
)

// compress encodes a chunk buffer with the given codec. Level 0 means
// the codec default.
func compress(codec string, level int, buf []byte) ([]byte, error) {
	switch codec {
	case "", CodecNone:
		return buf, nil
	case CodecGzip:
		if level == 0 {
			level = gzip.DefaultCompression
		}
		var out bytes.Buffer
		zw, err := gzip.NewWriterLevel(&out, level)
		if err != nil {
			return nil, errors.Configurationf("gzip level %d: %v", level, err)
		}
		if _, err := zw.Write(buf); err != nil {
			return nil, errors.WrapIO(err, "gzip compress")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.WrapIO(err, "gzip compress")
		}
		return out.Bytes(), nil
	case CodecZstd:
		opts := []zstd.EOption{}
		if level > 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}
		zw, err := zstd.NewWriter(nil, opts...)
		if err != nil {
			return nil, errors.Configurationf("zstd level %d: %v", level, err)
		}
		defer zw.Close()
		return zw.EncodeAll(buf, nil), nil
	default:
		return nil, errors.Configurationf("unknown compression codec %q", codec)
	}
}

// decompress decodes a chunk buffer compressed with the given codec.
func decompress(codec string, buf []byte) ([]byte, error) {
	switch codec {
	case "", CodecNone:
		return buf, nil
	case CodecGzip:
		zr, err := gzip.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, errors.CorruptContainerf("gzip chunk: %v", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, errors.CorruptContainerf("gzip chunk: %v", err)
		}
		return out, nil
	case CodecZstd:
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.WrapIO(err, "zstd reader")
		}
		defer zr.Close()
		out, err := zr.DecodeAll(buf, nil)
		if err != nil {
			return nil, errors.CorruptContainerf("zstd chunk: %v", err)
		}
		return out, nil
	default:
		return nil, errors.CorruptContainerf("unknown compression codec %q", codec)
	}
}
