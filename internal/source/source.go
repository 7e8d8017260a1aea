// SPDX-License-Identifier: MIT
/*
Package source implements the producers that feed a capture pipeline:
a synthetic IQ generator, a stereo WAV replay (I = left, Q = right) and a
portaudio soundcard input.

Every source follows the same producer protocol: take the next slot in
round-robin order, fill it, report the fill, enqueue it. A slot that is
still in flight, or a full sample queue, is data loss; sources count it
and the caller passes the overflow flag to Pipeline.Stop.
*/
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	applog "iqpipe/internal/log"
	"iqpipe/internal/pipeline"
	"iqpipe/internal/sample"
)

var logger = applog.New("source")

// Producer is the pipeline side a source writes into. *pipeline.Pipeline
// implements it.
type Producer interface {
	NumBuffers() int
	Acquire(slot int) ([]byte, int)
	ReportFill(slot, n int) error
	Enqueue(slot int) (int, error)
	Busy(slot int) bool
}

var _ Producer = (*pipeline.Pipeline)(nil)

// Source produces samples until it is exhausted, reaches its sample limit
// or ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, p Producer) (Stats, error)
}

// Options are shared by all sources.
type Options struct {
	Format           sample.Format
	SamplesPerBuffer int
	SampleRate       int
	// MaxSamples stops the source after this many samples; 0 is unlimited.
	MaxSamples uint64
	// Duration stops the source after this much capture time; 0 is
	// unlimited.
	Duration time.Duration
}

func (o Options) validate() error {
	if !o.Format.Valid() {
		return sample.ErrUnknownFormat
	}
	if o.SamplesPerBuffer < 1 {
		return fmt.Errorf("samples per buffer %d must be positive", o.SamplesPerBuffer)
	}
	if o.SampleRate < 1 {
		return fmt.Errorf("sample rate %d must be positive", o.SampleRate)
	}
	return nil
}

// limit returns the sample budget implied by MaxSamples and Duration, or 0.
func (o Options) limit() uint64 {
	n := o.MaxSamples
	if o.Duration > 0 {
		d := uint64(o.Duration.Seconds() * float64(o.SampleRate))
		if n == 0 || d < n {
			n = d
		}
	}
	return n
}

// Stats summarizes a source run.
type Stats struct {
	Samples   uint64 // samples enqueued
	Buffers   uint64 // buffers enqueued
	Overflows uint64 // buffers lost to a busy slot or a full queue
}

// Overflow reports whether any data was lost.
func (s Stats) Overflow() bool { return s.Overflows > 0 }

// feeder walks the pool slots in round-robin order on behalf of a source.
type feeder struct {
	p      Producer
	format sample.Format
	slot   int
	// wait makes a busy slot block instead of counting as overflow.
	wait  bool
	stats Stats
}

func newFeeder(p Producer, format sample.Format, wait bool) *feeder {
	return &feeder{p: p, format: format, wait: wait}
}

// next returns the storage of the current slot, or false when the slot is
// still in flight and the feeder does not wait.
func (f *feeder) next(ctx context.Context) ([]byte, bool) {
	for f.p.Busy(f.slot) {
		if ctx.Err() != nil {
			return nil, false
		}
		if !f.wait {
			f.stats.Overflows++
			return nil, false
		}
		time.Sleep(100 * time.Microsecond)
	}
	buf, _ := f.p.Acquire(f.slot)
	return buf, true
}

// commit reports n samples in the current slot and enqueues it.
func (f *feeder) commit(n int) error {
	if err := f.p.ReportFill(f.slot, n*f.format.Size()); err != nil {
		return err
	}
	next, err := f.p.Enqueue(f.slot)
	switch {
	case errors.Is(err, pipeline.ErrQueueFull):
		f.stats.Overflows++
		return nil
	case err != nil:
		return err
	}
	f.slot = next
	f.stats.Buffers++
	f.stats.Samples += uint64(n)
	return nil
}

// fullScale is the amplitude a unit-level float sample maps to.
func fullScale(f sample.Format) float32 {
	if f == sample.FormatSC16 {
		return 32767
	}
	return 1
}
