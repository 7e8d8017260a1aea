// SPDX-License-Identifier: MIT
package fft

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"iqpipe/pkg/utils"
)

const testFFTSize = 64

func randomMatrix(rows, cols int, seed int64) *Matrix {
	r := rand.New(rand.NewSource(seed))
	m := &Matrix{}
	m.Resize(rows, cols)
	for i := range m.Data() {
		m.Data()[i] = complex(r.Float32()*2-1, r.Float32()*2-1)
	}
	return m
}

// naiveDFT is the O(n²) reference transform.
func naiveDFT(x []complex64) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	for k := range n {
		var sum complex128
		for j := range n {
			angle := -2 * math.Pi * float64(k*j) / float64(n)
			sum += complex128(x[j]) * cmplx.Rect(1, angle)
		}
		out[k] = sum
	}
	return out
}

func assertClose(t *testing.T, got []complex64, want []complex128, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length %d, want %d", len(got), len(want))
	}
	for i := range got {
		if d := cmplx.Abs(complex128(got[i]) - want[i]); d > tol {
			t.Fatalf("bin %d: got %v, want %v (|diff| %.3g)", i, got[i], want[i], d)
		}
	}
}

func TestSoftwareMatchesDFT(t *testing.T) {
	in := randomMatrix(testFFTSize, 3, 1)
	out := &Matrix{}

	s := NewSoftware(testFFTSize)
	if err := s.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer s.Teardown()

	if err := s.Transform(in, out); err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out.Rows() != testFFTSize || out.Cols() != 3 {
		t.Fatalf("output shape %dx%d", out.Rows(), out.Cols())
	}
	for k := range in.Cols() {
		assertClose(t, out.Col(k), naiveDFT(in.Col(k)), 1e-3)
	}
}

func TestSoftwareResolvesTones(t *testing.T) {
	const n = 256
	in := &Matrix{}
	in.Resize(n, 1)
	copy(in.Col(0), utils.GenerateComplexWave(n, n))

	out := &Matrix{}
	s := NewSoftware(n)
	if err := s.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer s.Teardown()
	if err := s.Transform(in, out); err != nil {
		t.Fatalf("transform: %v", err)
	}

	// Tones at +fs/16, +fs/8 and -3fs/16 with amplitudes 0.5, 0.3, 0.2.
	want := map[int]float64{16: 0.5 * n, 32: 0.3 * n, n - 48: 0.2 * n}
	for bin, x := range out.Col(0) {
		mag := cmplx.Abs(complex128(x))
		if w, ok := want[bin]; ok {
			if math.Abs(mag-w) > 1e-2 {
				t.Errorf("bin %d: magnitude %.3f, want %.3f", bin, mag, w)
			}
		} else if mag > 1e-2 {
			t.Errorf("bin %d: leakage %.3g", bin, mag)
		}
	}
}

func TestSoftwareImpulse(t *testing.T) {
	in := &Matrix{}
	in.Resize(8, 1)
	in.Col(0)[0] = 1

	out := &Matrix{}
	s := NewSoftware(8)
	if err := s.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := s.Transform(in, out); err != nil {
		t.Fatalf("transform: %v", err)
	}
	for i, v := range out.Col(0) {
		if v != 1 {
			t.Errorf("bin %d = %v, want 1", i, v)
		}
	}
}

func TestSoftwareRejectsWrongSize(t *testing.T) {
	s := NewSoftware(testFFTSize)
	if err := s.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	in := randomMatrix(testFFTSize/2, 1, 2)
	if err := s.Transform(in, &Matrix{}); err == nil {
		t.Fatal("expected error for mismatched row count")
	}

	if err := NewSoftware(0).Setup(); err == nil {
		t.Fatal("expected error for zero size")
	}
}

func TestOffloadMatchesSoftware(t *testing.T) {
	// 7 columns with batch 3 leaves a clipped final batch of 1.
	for _, batch := range []int{1, 3, 7, 16} {
		in := randomMatrix(testFFTSize, 7, int64(batch))

		want := &Matrix{}
		s := NewSoftware(testFFTSize)
		if err := s.Setup(); err != nil {
			t.Fatalf("setup: %v", err)
		}
		if err := s.Transform(in, want); err != nil {
			t.Fatalf("software: %v", err)
		}

		got := &Matrix{}
		o := NewOffload(DeviceConfig{ID: 0, Size: testFFTSize, Batch: batch}, nil)
		if err := o.Setup(); err != nil {
			t.Fatalf("batch %d setup: %v", batch, err)
		}
		if err := o.Transform(in, got); err != nil {
			t.Fatalf("batch %d transform: %v", batch, err)
		}
		if err := o.Teardown(); err != nil {
			t.Fatalf("batch %d teardown: %v", batch, err)
		}

		for i, v := range got.Data() {
			if v != want.Data()[i] {
				t.Fatalf("batch %d: value %d = %v, want %v", batch, i, v, want.Data()[i])
			}
		}
	}
}

// countingDevice records how many columns each upload carried.
type countingDevice struct {
	*hostDevice
	uploads []int
}

func (d *countingDevice) Upload(src []complex64) error {
	d.uploads = append(d.uploads, len(src)/d.cfg.Size)
	return d.hostDevice.Upload(src)
}

func TestOffloadBatching(t *testing.T) {
	var dev *countingDevice
	open := func(cfg DeviceConfig) (Device, error) {
		dev = &countingDevice{hostDevice: newHostDevice(cfg)}
		return dev, nil
	}

	o := NewOffload(DeviceConfig{Size: 16, Batch: 4}, open)
	if err := o.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := o.Transform(randomMatrix(16, 10, 3), &Matrix{}); err != nil {
		t.Fatalf("transform: %v", err)
	}

	want := []int{4, 4, 2}
	if len(dev.uploads) != len(want) {
		t.Fatalf("uploads %v, want %v", dev.uploads, want)
	}
	for i := range want {
		if dev.uploads[i] != want[i] {
			t.Fatalf("uploads %v, want %v", dev.uploads, want)
		}
	}
}

func TestOffloadSetupFailures(t *testing.T) {
	failing := func(DeviceConfig) (Device, error) { return nil, errors.New("no driver") }

	tests := []struct {
		name string
		cfg  DeviceConfig
		open OpenFunc
	}{
		{"zero batch", DeviceConfig{Size: 16, Batch: 0}, nil},
		{"zero size", DeviceConfig{Size: 0, Batch: 1}, nil},
		{"unknown device", DeviceConfig{ID: 3, Size: 16, Batch: 1}, nil},
		{"open error", DeviceConfig{Size: 16, Batch: 1}, failing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewOffload(tt.cfg, tt.open).Setup()
			if !errors.Is(err, ErrDeviceSetup) {
				t.Fatalf("expected ErrDeviceSetup, got %v", err)
			}
		})
	}

	if err := NewOffload(DeviceConfig{Size: 16, Batch: 1}, nil).Transform(randomMatrix(16, 1, 4), &Matrix{}); err == nil {
		t.Fatal("expected error transforming before setup")
	}
}

func TestMatrixResizeReuses(t *testing.T) {
	m := &Matrix{}
	m.Resize(16, 8)
	first := &m.Data()[0]

	m.Resize(16, 4)
	if len(m.Data()) != 64 || &m.Data()[0] != first {
		t.Fatal("shrinking resize should reuse the backing array")
	}
	m.Resize(16, 8)
	if &m.Data()[0] != first {
		t.Fatal("resize within capacity should reuse the backing array")
	}

	m.Col(2)[0] = 5
	if m.Data()[32] != 5 {
		t.Fatal("columns must be contiguous and in order")
	}
}

func TestTransformZeroAllocs(t *testing.T) {
	in := randomMatrix(testFFTSize, 4, 5)
	out := &Matrix{}
	s := NewSoftware(testFFTSize)
	if err := s.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Warm-up sizes the output matrix.
	_ = s.Transform(in, out)
	allocs := testing.AllocsPerRun(100, func() {
		_ = s.Transform(in, out)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Transform hot path, got %.1f", allocs)
	}
}

func BenchmarkSoftware(b *testing.B) {
	in := randomMatrix(256, 64, 6)
	out := &Matrix{}
	s := NewSoftware(256)
	if err := s.Setup(); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for b.Loop() {
		_ = s.Transform(in, out)
	}
}
