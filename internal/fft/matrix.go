// SPDX-License-Identifier: MIT
// Package fft holds the windowed sample matrix and the pluggable transform
// backends that turn each matrix column into its spectrum.
package fft

// Matrix is a column-major complex matrix: each column is one analysis frame
// of Rows() samples, columns are in time order.
//
// Resize keeps the backing array whenever it is large enough, so a matrix
// that is reused with the same shape never allocates again.
type Matrix struct {
	rows, cols int
	data       []complex64
}

// Resize sets the shape. Contents are unspecified afterwards.
func (m *Matrix) Resize(rows, cols int) {
	n := rows * cols
	if cap(m.data) < n {
		m.data = make([]complex64, n)
	}
	m.data = m.data[:n]
	m.rows, m.cols = rows, cols
}

// CopySize gives m the same shape as src.
func (m *Matrix) CopySize(src *Matrix) {
	m.Resize(src.rows, src.cols)
}

// Rows returns the column length (FFT size).
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of frames.
func (m *Matrix) Cols() int { return m.cols }

// Col returns column k as a slice aliasing the matrix.
func (m *Matrix) Col(k int) []complex64 {
	return m.data[k*m.rows : (k+1)*m.rows]
}

// Data returns the whole matrix, column after column.
func (m *Matrix) Data() []complex64 { return m.data }
