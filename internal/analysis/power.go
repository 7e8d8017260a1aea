// SPDX-License-Identifier: MIT
package analysis

import (
	"encoding/binary"
	"math"

	"iqpipe/internal/fft"
)

// PowerFloor is the smallest normalized power converted to dB (-200 dB), so
// silent input stays finite.
const PowerFloor = 1e-20

// PowerDB returns 10*log10(|x|² / windowSum), floored at PowerFloor.
func PowerDB(x complex64, windowSum float32) float32 {
	re, im := float64(real(x)), float64(imag(x))
	p := (re*re + im*im) / float64(windowSum)
	if p < PowerFloor || math.IsNaN(p) {
		p = PowerFloor
	}
	return float32(10 * math.Log10(p))
}

// Spectrogram converts transformed frames to little-endian float32 dB
// values, Rows() per frame, frames in time order, and keeps the per-bin
// mean of the last matrix it encoded.
type Spectrogram struct {
	windowSum float32
	buf       []byte
	mean      []float64
}

// NewSpectrogram creates an encoder normalizing by windowSum.
func NewSpectrogram(windowSum float32) *Spectrogram {
	return &Spectrogram{windowSum: windowSum}
}

// Encode converts m and returns the encoded bytes. The slice is reused by
// the next call.
func (s *Spectrogram) Encode(m *fft.Matrix) []byte {
	rows, cols := m.Rows(), m.Cols()
	n := rows * cols * 4
	if cap(s.buf) < n {
		s.buf = make([]byte, n)
	}
	s.buf = s.buf[:n]
	if cap(s.mean) < rows {
		s.mean = make([]float64, rows)
	}
	s.mean = s.mean[:rows]
	clear(s.mean)

	off := 0
	for k := range cols {
		for i, x := range m.Col(k) {
			db := PowerDB(x, s.windowSum)
			s.mean[i] += float64(db)
			binary.LittleEndian.PutUint32(s.buf[off:], math.Float32bits(db))
			off += 4
		}
	}
	if cols > 0 {
		for i := range s.mean {
			s.mean[i] /= float64(cols)
		}
	}
	return s.buf
}

// MeanInto copies the per-bin mean dB of the last encoded matrix into dst
// and returns the number of bins copied.
func (s *Spectrogram) MeanInto(dst []float32) int {
	n := min(len(dst), len(s.mean))
	for i := range n {
		dst[i] = float32(s.mean[i])
	}
	return n
}

// Bins returns the row count of the last encoded matrix.
func (s *Spectrogram) Bins() int { return len(s.mean) }

// Decode parses little-endian float32 values, the inverse of Encode's
// byte layout. Trailing bytes that do not form a value are ignored.
func Decode(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
