// SPDX-License-Identifier: MIT
// Package sample describes the complex element types a radio front-end
// produces and converts pool buffers into complex64 analysis samples.
//
// Buffers hold elements in native byte order, exactly as the raw sink writes
// them; no conversion happens on the raw path.
package sample

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unsafe"
)

// ErrUnknownFormat is returned by ParseFormat for unsupported type names.
var ErrUnknownFormat = errors.New("unknown sample type")

// SC16 is one complex sample as a pair of signed 16-bit integers.
type SC16 struct {
	I, Q int16
}

// Element is the set of element types a pool buffer can be viewed as.
type Element interface {
	SC16 | complex64 | complex128
}

// Format identifies the configured element type.
type Format int

const (
	FormatSC16 Format = iota + 1
	FormatFC32
	FormatFC64
)

// ParseFormat accepts the recorder type names ("short", "float", "double")
// and their cpu format aliases ("sc16", "fc32", "fc64").
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "short", "sc16":
		return FormatSC16, nil
	case "float", "fc32":
		return FormatFC32, nil
	case "double", "fc64":
		return FormatFC64, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnknownFormat, name)
	}
}

// Size returns the element size in bytes.
func (f Format) Size() int {
	switch f {
	case FormatSC16:
		return int(unsafe.Sizeof(SC16{}))
	case FormatFC32:
		return int(unsafe.Sizeof(complex64(0)))
	case FormatFC64:
		return int(unsafe.Sizeof(complex128(0)))
	default:
		return 0
	}
}

// CPUFormat returns the host-side format name (sc16, fc32, fc64).
func (f Format) CPUFormat() string {
	switch f {
	case FormatSC16:
		return "sc16"
	case FormatFC32:
		return "fc32"
	case FormatFC64:
		return "fc64"
	default:
		return ""
	}
}

// String returns the recorder type name.
func (f Format) String() string {
	switch f {
	case FormatSC16:
		return "short"
	case FormatFC32:
		return "float"
	case FormatFC64:
		return "double"
	default:
		return "unknown"
	}
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	return f.Size() > 0
}

// View reinterprets b as a slice of T. b must come from Alloc (or be
// otherwise aligned to T); trailing bytes that do not form a whole element
// are excluded.
func View[T Element](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// Bytes reinterprets a typed slice as its backing bytes.
func Bytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// Alloc returns a zeroed byte buffer of size bytes aligned for every
// Element type.
func Alloc(size int) []byte {
	words := make([]complex128, (size+15)/16)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), len(words)*16)[:size]
}

// Decode converts whole elements of src into dst and returns how many
// samples were written: min(len(dst), elements in src).
func (f Format) Decode(dst []complex64, src []byte) int {
	switch f {
	case FormatSC16:
		in := View[SC16](src)
		n := min(len(dst), len(in))
		for i := range n {
			dst[i] = complex(float32(in[i].I), float32(in[i].Q))
		}
		return n
	case FormatFC32:
		return copy(dst, View[complex64](src))
	case FormatFC64:
		in := View[complex128](src)
		n := min(len(dst), len(in))
		for i := range n {
			dst[i] = complex64(in[i])
		}
		return n
	default:
		return 0
	}
}

// Encode converts src into whole elements of dst and returns how many
// samples were written. SC16 components are rounded and saturated to the
// int16 range; callers scale to full range first.
func (f Format) Encode(dst []byte, src []complex64) int {
	switch f {
	case FormatSC16:
		out := View[SC16](dst)
		n := min(len(out), len(src))
		for i := range n {
			out[i] = SC16{I: toInt16(real(src[i])), Q: toInt16(imag(src[i]))}
		}
		return n
	case FormatFC32:
		return copy(View[complex64](dst), src)
	case FormatFC64:
		out := View[complex128](dst)
		n := min(len(out), len(src))
		for i := range n {
			out[i] = complex128(src[i])
		}
		return n
	default:
		return 0
	}
}

func toInt16(v float32) int16 {
	r := math.Round(float64(v))
	switch {
	case r > math.MaxInt16:
		return math.MaxInt16
	case r < math.MinInt16:
		return math.MinInt16
	default:
		return int16(r)
	}
}
