// SPDX-License-Identifier: MIT
package analysis

// SpectrumProvider exposes the most recent spectrum row to live consumers
// (monitor transports, UDP publisher) without touching the pipeline's slots.
type SpectrumProvider interface {
	// LatestSpectrum returns the per-bin mean dB of the last collected FFT
	// slot, or nil before the first one. The slice must not be modified.
	LatestSpectrum() []float32
	// FFTSize returns the number of bins per row.
	FFTSize() int
	// SampleRate returns the input sample rate in Hz.
	SampleRate() float64
}

// BinFrequency returns the baseband offset in Hz of bin in an unshifted
// complex FFT of size nfft: bins past nfft/2 are negative frequencies.
func BinFrequency(bin, nfft int, sampleRate float64) float64 {
	if nfft <= 0 || bin < 0 || bin >= nfft {
		return 0
	}
	if bin >= (nfft+1)/2 {
		bin -= nfft
	}
	return float64(bin) * sampleRate / float64(nfft)
}

// SpectrumFrame is what the collect worker publishes to a live monitor for
// every FFT slot: the per-bin mean power of the slot's frames.
type SpectrumFrame struct {
	Seq     uint64    `json:"seq"`
	Columns int       `json:"columns"`
	Bins    []float32 `json:"bins"`
}
