// SPDX-License-Identifier: MIT
package pipeline

import (
	"errors"
	"fmt"

	"iqpipe/internal/analysis"
	"iqpipe/internal/sample"
)

// ErrInvalidConfig wraps every configuration error found by Validate.
var ErrInvalidConfig = errors.New("invalid pipeline configuration")

const (
	// SampleBuffers is the number of pool buffers and the sample queue size.
	SampleBuffers = 8
	// FFTSlots is the number of (input, output) matrix pairs and the size of
	// the FFT request and result rings.
	FFTSlots = 256
)

// Config is the start-time parameter set. It is immutable for the lifetime
// of a run.
type Config struct {
	RawPath string // raw sample sink, "" for none
	FFTPath string // spectrogram sink, "" for none

	Format     sample.Format
	MaxSamples int // elements per pool buffer
	ZLevel     int // gzip / zstd level

	NFFT       int // 0 disables spectral analysis
	Overlap    int
	Divisor    int // accumulator holds SampleRate/Divisor samples
	DS         int // forward every DS-th accumulator refill
	SampleRate int
	Window     analysis.WindowFunc

	UseOffload bool
	Batch      int // offload columns per device call
	DeviceID   int
}

// AnalysisEnabled reports whether an FFT stage runs.
func (c Config) AnalysisEnabled() bool { return c.NFFT > 0 }

// BufferSize returns the byte capacity of each pool buffer.
func (c Config) BufferSize() int { return c.MaxSamples * c.Format.Size() }

// AccumulatorLen returns the number of samples analysed per refill.
func (c Config) AccumulatorLen() int {
	if c.Divisor <= 0 {
		return 0
	}
	return c.SampleRate / c.Divisor
}

// ColumnsPerSlot returns the number of spectrogram rows one FFT slot
// produces.
func (c Config) ColumnsPerSlot() int {
	if !c.AnalysisEnabled() || c.Overlap >= c.NFFT {
		return 0
	}
	n := c.AccumulatorLen()
	if n < c.NFFT {
		return 0
	}
	return (n - c.Overlap) / (c.NFFT - c.Overlap)
}

// Validate checks the parameters a run cannot start without.
func (c Config) Validate() error {
	if !c.Format.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, sample.ErrUnknownFormat)
	}
	if c.MaxSamples < 1 {
		return fmt.Errorf("%w: max samples per buffer %d", ErrInvalidConfig, c.MaxSamples)
	}
	if !c.AnalysisEnabled() {
		return nil
	}
	switch {
	case c.Overlap < 0 || c.Overlap >= c.NFFT:
		return fmt.Errorf("%w: fft overlap %d must be in [0, %d)", ErrInvalidConfig, c.Overlap, c.NFFT)
	case c.DS < 1:
		return fmt.Errorf("%w: fft downsample stride %d must be at least 1", ErrInvalidConfig, c.DS)
	case c.Divisor < 1:
		return fmt.Errorf("%w: fft divisor %d must be at least 1", ErrInvalidConfig, c.Divisor)
	case c.SampleRate < 1:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	case c.SampleRate%c.Divisor != 0:
		return fmt.Errorf("%w: fft divisor %d is not a factor of sample rate %d", ErrInvalidConfig, c.Divisor, c.SampleRate)
	case c.AccumulatorLen() < c.NFFT:
		return fmt.Errorf("%w: accumulator of %d samples is shorter than fft size %d", ErrInvalidConfig, c.AccumulatorLen(), c.NFFT)
	}
	return nil
}
