// SPDX-License-Identifier: MIT
package source

import (
	"context"
	"math/rand"
	"time"

	"iqpipe/pkg/utils"
)

// SyntheticConfig describes the generated signal.
type SyntheticConfig struct {
	Options
	Frequency float64 // tone offset from DC, Hz
	Amplitude float64 // tone amplitude, full scale 1
	Noise     float64 // uniform noise amplitude, full scale 1
	Seed      int64
	// Realtime paces generation to SampleRate; otherwise buffers are
	// produced as fast as the pipeline accepts them.
	Realtime bool
}

// Synthetic generates a complex tone plus uniform noise. Like a radio front
// end it never waits: a slot still in flight counts as an overflow.
type Synthetic struct {
	cfg   SyntheticConfig
	rng   *rand.Rand
	block []complex64
}

// NewSynthetic validates cfg and returns a generator.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Synthetic{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		block: make([]complex64, cfg.SamplesPerBuffer),
	}, nil
}

func (s *Synthetic) Name() string { return "synthetic" }

// Run produces buffers until the sample limit is reached or ctx is done.
func (s *Synthetic) Run(ctx context.Context, p Producer) (Stats, error) {
	f := newFeeder(p, s.cfg.Format, false)
	limit := s.cfg.limit()
	scale := fullScale(s.cfg.Format)
	period := time.Duration(float64(time.Second) * float64(s.cfg.SamplesPerBuffer) / float64(s.cfg.SampleRate))

	var ticker *time.Ticker
	if s.cfg.Realtime {
		ticker = time.NewTicker(period)
		defer ticker.Stop()
	}

	logger.Infof("synthetic source: %.0f Hz tone at %d S/s, %d samples per buffer", s.cfg.Frequency, s.cfg.SampleRate, s.cfg.SamplesPerBuffer)
	var generated uint64
	for limit == 0 || generated < limit {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return f.stats, nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return f.stats, nil
		}

		n := len(s.block)
		if limit > 0 {
			n = int(min(uint64(n), limit-generated))
		}
		block := s.block[:n]
		utils.Tone(block, int(generated), float64(s.cfg.SampleRate), s.cfg.Frequency, s.cfg.Amplitude*float64(scale))
		if s.cfg.Noise > 0 {
			utils.AddNoise(block, s.rng, s.cfg.Noise*float64(scale))
		}
		generated += uint64(n)

		buf, ok := f.next(ctx)
		if !ok {
			continue
		}
		s.cfg.Format.Encode(buf, block)
		if err := f.commit(n); err != nil {
			return f.stats, err
		}
	}
	return f.stats, nil
}

var _ Source = (*Synthetic)(nil)
