package format

import (
	"github.com/robodata/rdm/errors"
)

// Options carries the adapter options recognized across formats. Each
// adapter accepts a subset; unknown keys in the raw configuration map are
// a configuration error at adapter construction, never silently ignored.
type Options struct {
	// Compression is a codec id ("none", "gzip", "zstd").
	Compression string
	// CompressionLevel is codec-specific; 0 means the codec default.
	CompressionLevel int
	// ChunkTargetBytes sizes computed chunk shapes; 0 means the
	// engine default.
	ChunkTargetBytes int64
	// ChunkShape overrides the target chunk shape outright.
	ChunkShape []int64
	// Strict tightens schema handling inside the adapter.
	Strict bool
	// Indent controls pretty-printing for document formats.
	Indent int
}

// ParseOptions builds Options from a raw configuration map, accepting
// only the keys the adapter names. Values arrive via viper, so numbers
// may be any integer width.
func ParseOptions(formatID string, raw map[string]interface{}, allowed ...string) (Options, error) {
	allowedSet := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = true
	}

	var opts Options
	for key, val := range raw {
		if !allowedSet[key] {
			return Options{}, errors.Configurationf(
				"format %s: unknown option %q", formatID, key)
		}
		var err error
		switch key {
		case "compression":
			opts.Compression, err = asString(val)
		case "compression_level":
			opts.CompressionLevel, err = asInt(val)
		case "chunk_target_bytes":
			var n int
			n, err = asInt(val)
			opts.ChunkTargetBytes = int64(n)
		case "chunk_shape":
			opts.ChunkShape, err = asInt64Slice(val)
		case "strict":
			opts.Strict, err = asBool(val)
		case "indent":
			opts.Indent, err = asInt(val)
		}
		if err != nil {
			return Options{}, errors.WithKind(
				errors.Wrapf(err, "format %s: option %q", formatID, key),
				errors.KindConfiguration)
		}
	}
	return opts, nil
}

func asString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.Newf("expected string, got %T", v)
	}
	return s, nil
}

func asBool(v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, errors.Newf("expected bool, got %T", v)
	}
	return b, nil
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, errors.Newf("expected integer, got %T", v)
	}
}

func asInt64Slice(v interface{}) ([]int64, error) {
	switch s := v.(type) {
	case []int64:
		out := make([]int64, len(s))
		copy(out, s)
		return out, nil
	case []int:
		out := make([]int64, len(s))
		for i, n := range s {
			out[i] = int64(n)
		}
		return out, nil
	case []interface{}:
		out := make([]int64, len(s))
		for i, item := range s {
			n, err := asInt(item)
			if err != nil {
				return nil, err
			}
			out[i] = int64(n)
		}
		return out, nil
	default:
		return nil, errors.Newf("expected integer list, got %T", v)
	}
}
