// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"

	"iqpipe/internal/fft"
)

// Windower slices a sample vector into overlapping frames of Size()
// samples, advancing Stride() samples between frames, and applies the
// analysis window to each frame.
type Windower struct {
	nfft    int
	overlap int
	win     Window
}

// NewWindower validates the framing parameters and builds the window.
func NewWindower(nfft, overlap int, fn WindowFunc) (*Windower, error) {
	if nfft < 1 {
		return nil, fmt.Errorf("fft size %d must be positive", nfft)
	}
	if overlap < 0 || overlap >= nfft {
		return nil, fmt.Errorf("overlap %d must be in [0, %d)", overlap, nfft)
	}
	return &Windower{nfft: nfft, overlap: overlap, win: NewWindow(nfft, fn)}, nil
}

// Size returns the frame length.
func (w *Windower) Size() int { return w.nfft }

// Overlap returns the number of samples shared by consecutive frames.
func (w *Windower) Overlap() int { return w.overlap }

// Stride returns the advance between frame starts.
func (w *Windower) Stride() int { return w.nfft - w.overlap }

// Window returns the analysis window.
func (w *Windower) Window() Window { return w.win }

// Columns returns how many frames a vector of n samples yields:
// floor((n - overlap) / stride), or 0 when n is shorter than one frame.
func (w *Windower) Columns(n int) int {
	if n < w.nfft {
		return 0
	}
	return (n - w.overlap) / w.Stride()
}

// Fill resizes dst to Size() x Columns(len(samples)) and writes the
// windowed frames in time order. It returns the column count.
func (w *Windower) Fill(dst *fft.Matrix, samples []complex64) int {
	cols := w.Columns(len(samples))
	dst.Resize(w.nfft, cols)
	stride := w.Stride()
	for m := range cols {
		frame := samples[m*stride : m*stride+w.nfft]
		col := dst.Col(m)
		for i, v := range frame {
			c := w.win.coeffs[i]
			col[i] = complex(real(v)*c, imag(v)*c)
		}
	}
	return cols
}
