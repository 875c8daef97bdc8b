package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robodata/rdm/errors"
)

// Dtype identifies the element type of an Array. The set is closed:
// adapters map their native type tags onto it and reject anything that
// does not fit rather than coercing silently.
type Dtype int

const (
	DtypeInvalid Dtype = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Bool
	// Bytes is one byte of a fixed-length byte string. Strings wider
	// than a byte carry their length as an extra trailing dimension of
	// the Array shape, so a [10] array of 4-byte strings is shaped
	// [10, 4]. ParseNumpyTag applies the convention when mapping
	// "|S<n>" tags.
	Bytes
)

// Size returns the element width in bytes.
func (d Dtype) Size() int64 {
	switch d {
	case Int8, Uint8, Bool, Bytes:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether d is a member of the enumerated set.
func (d Dtype) Valid() bool {
	return d > DtypeInvalid && d <= Bytes
}

func (d Dtype) String() string {
	switch d {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// numpyTags maps little-endian numpy type strings (as used by chunked
// container metadata) onto the canonical set.
var numpyTags = map[string]Dtype{
	"|b1": Bool,
	"|i1": Int8,
	"|u1": Uint8,
	"<i2": Int16,
	"<i4": Int32,
	"<i8": Int64,
	"<u2": Uint16,
	"<u4": Uint32,
	"<u8": Uint64,
	"<f4": Float32,
	"<f8": Float64,
	"|S1": Bytes,
}

// NumpyTag returns the little-endian numpy type string for d.
func (d Dtype) NumpyTag() string {
	for tag, dt := range numpyTags {
		if dt == d {
			return tag
		}
	}
	return ""
}

// ParseDtype maps a type name onto the canonical set. Both Go-style names
// ("float32") and numpy-style tags ("<f4", "|b1") are accepted.
// Unmappable names are a configuration error, never a silent coercion.
func ParseDtype(s string) (Dtype, error) {
	for d := Int8; d <= Bytes; d++ {
		if d.String() == s {
			return d, nil
		}
	}
	if d, ok := numpyTags[s]; ok {
		return d, nil
	}
	return DtypeInvalid, errors.Configurationf("unmappable dtype %q", s)
}

// ParseNumpyTag maps a numpy type string onto the canonical set and
// returns the per-element byte width. Fixed-length byte strings
// ("|S<n>") map to Bytes with width n; adapters fold the width into an
// extra trailing dimension of the array shape.
func ParseNumpyTag(s string) (Dtype, int64, error) {
	if d, ok := numpyTags[s]; ok {
		return d, d.Size(), nil
	}
	if strings.HasPrefix(s, "|S") {
		if n, err := strconv.ParseInt(s[2:], 10, 64); err == nil && n > 0 {
			return Bytes, n, nil
		}
	}
	return DtypeInvalid, 0, errors.Configurationf("unmappable dtype %q", s)
}
