// SPDX-License-Identifier: MIT
package fft

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Transformer is the capability the dispatch stage calls once per FFT slot.
// Transform computes one forward, unnormalized FFT per column of in and
// stores the result in out, which has the same shape.
//
// Setup runs once before the pipeline starts and Teardown once after it
// stops; a Setup error aborts the start. Transform is only ever called from
// a single goroutine.
type Transformer interface {
	Name() string
	Setup() error
	Transform(in, out *Matrix) error
	Teardown() error
}

// Software transforms column by column on the CPU. No batching.
type Software struct {
	size int
	plan *fourier.CmplxFFT
	work workspace
}

// NewSoftware creates a software backend for FFTs of length size.
func NewSoftware(size int) *Software {
	return &Software{size: size}
}

// Name implements Transformer.
func (s *Software) Name() string { return "software" }

// Setup implements Transformer.
func (s *Software) Setup() error {
	if s.size < 1 {
		return fmt.Errorf("software fft: invalid size %d", s.size)
	}
	s.plan = fourier.NewCmplxFFT(s.size)
	s.work = newWorkspace(s.size)
	return nil
}

// Transform implements Transformer.
func (s *Software) Transform(in, out *Matrix) error {
	if in.Rows() != s.size {
		return fmt.Errorf("software fft: matrix has %d rows, want %d", in.Rows(), s.size)
	}
	out.CopySize(in)
	for k := range in.Cols() {
		transformColumn(s.plan, s.work, in.Col(k), out.Col(k))
	}
	return nil
}

// Teardown implements Transformer.
func (s *Software) Teardown() error {
	s.plan = nil
	s.work = workspace{}
	return nil
}

// workspace holds the complex128 buffers gonum transforms through.
type workspace struct {
	in, out []complex128
}

func newWorkspace(size int) workspace {
	return workspace{in: make([]complex128, size), out: make([]complex128, size)}
}

// transformColumn runs one FFT of src into dst. src and dst may alias.
func transformColumn(plan *fourier.CmplxFFT, work workspace, src, dst []complex64) {
	for i, v := range src {
		work.in[i] = complex128(v)
	}
	plan.Coefficients(work.out, work.in)
	for i, v := range work.out {
		dst[i] = complex64(v)
	}
}

var _ Transformer = (*Software)(nil)
