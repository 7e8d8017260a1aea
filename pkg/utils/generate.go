// SPDX-License-Identifier: MIT
// Package utils holds signal generators and test doubles shared by sources
// and tests.
package utils

import (
	"math"
	"math/rand"
	"sync"
)

// MockTransport records everything sent to it. Safe for concurrent use.
type MockTransport struct {
	mu     sync.Mutex
	frames []any
	closed bool
}

// Send stores data for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, data)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Frames returns a copy of everything sent so far.
func (m *MockTransport) Frames() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.frames...)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Tone writes a complex exponential of the given frequency and amplitude
// into dst, starting at sample offset start so consecutive calls are phase
// continuous.
func Tone(dst []complex64, start int, sampleRate, frequency, amplitude float64) {
	for i := range dst {
		phase := 2 * math.Pi * frequency * float64(start+i) / sampleRate
		dst[i] = complex(float32(amplitude*math.Cos(phase)), float32(amplitude*math.Sin(phase)))
	}
}

// GenerateTone returns n samples of a complex tone.
func GenerateTone(n int, sampleRate, frequency, amplitude float64) []complex64 {
	buf := make([]complex64, n)
	Tone(buf, 0, sampleRate, frequency, amplitude)
	return buf
}

// AddNoise adds uniform noise in [-amplitude, amplitude) to both components.
func AddNoise(dst []complex64, r *rand.Rand, amplitude float64) {
	for i := range dst {
		re := (r.Float64()*2 - 1) * amplitude
		im := (r.Float64()*2 - 1) * amplitude
		dst[i] += complex(float32(re), float32(im))
	}
}

// GenerateUniform returns n samples with both components uniform in
// [-1, 1), reproducible from seed.
func GenerateUniform(n int, seed int64) []complex64 {
	buf := make([]complex64, n)
	AddNoise(buf, rand.New(rand.NewSource(seed)), 1)
	return buf
}

// GenerateComplexWave returns three superimposed tones at 1/16, 1/8 and
// -3/16 of the sample rate.
func GenerateComplexWave(n int, sampleRate float64) []complex64 {
	buf := make([]complex64, n)
	tmp := make([]complex64, n)
	for _, c := range []struct{ f, a float64 }{
		{sampleRate / 16, 0.5},
		{sampleRate / 8, 0.3},
		{-3 * sampleRate / 16, 0.2},
	} {
		Tone(tmp, 0, sampleRate, c.f, c.a)
		for i := range buf {
			buf[i] += tmp[i]
		}
	}
	return buf
}

// FindPeakBin returns the index of the largest value in
// values[startBin:endBin+1], clamped to the slice bounds.
func FindPeakBin(values []float32, startBin, endBin int) int {
	if len(values) == 0 {
		return 0
	}
	if startBin < 0 {
		startBin = 0
	}
	if endBin >= len(values) {
		endBin = len(values) - 1
	}

	peakBin := startBin
	peakValue := values[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if values[bin] > peakValue {
			peakValue = values[bin]
			peakBin = bin
		}
	}
	return peakBin
}
