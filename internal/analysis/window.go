// SPDX-License-Identifier: MIT
// Package analysis turns accumulated complex samples into windowed analysis
// frames and converts transformed frames into normalized power in dB.
package analysis

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc selects the analysis window applied to every frame.
type WindowFunc int

const (
	Hamming WindowFunc = iota
	Hann
	Blackman
	BlackmanNuttall
	BartlettHann
	Nuttall
)

// String returns the lower-case window name.
func (w WindowFunc) String() string {
	switch w {
	case Hamming:
		return "hamming"
	case Hann:
		return "hann"
	case Blackman:
		return "blackman"
	case BlackmanNuttall:
		return "blackmannuttall"
	case BartlettHann:
		return "bartletthann"
	case Nuttall:
		return "nuttall"
	default:
		return fmt.Sprintf("window(%d)", int(w))
	}
}

// ParseWindowFunc converts a case-insensitive name to a WindowFunc. An empty
// name selects Hamming.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "hamming":
		return Hamming, nil
	case "hann", "hanning":
		return Hann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "bartletthann":
		return BartlettHann, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hamming, fmt.Errorf("unknown window function %q", name)
	}
}

// Window is a fixed real coefficient vector plus the sum of its
// coefficients, which normalizes the output power. Immutable once built.
type Window struct {
	Func   WindowFunc
	coeffs []float32
	sum    float32
}

// NewWindow builds a window of size points.
func NewWindow(size int, fn WindowFunc) Window {
	coeffs := make([]float64, size)
	// gonum scales the slice in place, so start from ones.
	for i := range coeffs {
		coeffs[i] = 1
	}
	switch fn {
	case Hann:
		window.Hann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		fn = Hamming
		window.Hamming(coeffs)
	}

	w := Window{Func: fn, coeffs: make([]float32, size)}
	var sum float64
	for i, c := range coeffs {
		w.coeffs[i] = float32(c)
		sum += c
	}
	w.sum = float32(sum)
	return w
}

// Len returns the number of coefficients.
func (w Window) Len() int { return len(w.coeffs) }

// Sum returns the coefficient sum.
func (w Window) Sum() float32 { return w.sum }

// Coeff returns coefficient i.
func (w Window) Coeff(i int) float32 { return w.coeffs[i] }
