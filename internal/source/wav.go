// SPDX-License-Identifier: MIT
package source

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrInvalidWAV is returned for files the WAV decoder cannot read.
	ErrInvalidWAV = errors.New("invalid wav file")
	// ErrNotStereo is returned for WAV files without exactly two channels.
	ErrNotStereo = errors.New("wav file must have two channels (I, Q)")
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAV replays a stereo PCM recording as IQ data, left channel as I and
// right as Q. A file can always be re-read, so the source waits for slots
// instead of dropping data.
type WAV struct {
	path string
	opts Options

	file    *os.File
	decoder *wav.Decoder
	scale   float32
	pcm     *audio.IntBuffer
	block   []complex64
}

// OpenWAV opens path and checks it holds 2-channel integer PCM.
func OpenWAV(path string, opts Options) (*WAV, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	if decoder.WavAudioFormat != wavFormatPCM && decoder.WavAudioFormat != wavFormatExtensible {
		file.Close()
		return nil, fmt.Errorf("%w: %s: audio format %d is not integer PCM", ErrInvalidWAV, path, decoder.WavAudioFormat)
	}
	if decoder.NumChans != 2 {
		file.Close()
		return nil, fmt.Errorf("%w: %s has %d", ErrNotStereo, path, decoder.NumChans)
	}
	if int(decoder.SampleRate) != opts.SampleRate {
		logger.Warnf("%s is sampled at %d Hz, pipeline configured for %d Hz", path, decoder.SampleRate, opts.SampleRate)
	}

	n := opts.SamplesPerBuffer
	return &WAV{
		path:    path,
		opts:    opts,
		file:    file,
		decoder: decoder,
		scale:   fullScale(opts.Format) / float32(int64(1)<<(decoder.BitDepth-1)),
		pcm: &audio.IntBuffer{
			Data: make([]int, 2*n),
			Format: &audio.Format{
				NumChannels: 2,
				SampleRate:  int(decoder.SampleRate),
			},
			SourceBitDepth: int(decoder.BitDepth),
		},
		block: make([]complex64, n),
	}, nil
}

func (w *WAV) Name() string { return "wav" }

// Run replays the file until its end, the sample limit or ctx cancellation.
func (w *WAV) Run(ctx context.Context, p Producer) (Stats, error) {
	f := newFeeder(p, w.opts.Format, true)
	limit := w.opts.limit()

	logger.Infof("replaying %s (%d-bit, %d Hz)", w.path, w.decoder.BitDepth, w.decoder.SampleRate)
	for limit == 0 || f.stats.Samples < limit {
		if ctx.Err() != nil {
			return f.stats, nil
		}
		n, err := w.decoder.PCMBuffer(w.pcm)
		if err != nil {
			return f.stats, fmt.Errorf("decode %s: %w", w.path, err)
		}
		frames := n / 2
		if limit > 0 {
			frames = int(min(uint64(frames), limit-f.stats.Samples))
		}
		if frames == 0 {
			logger.Infof("end of %s after %d samples", w.path, f.stats.Samples)
			return f.stats, nil
		}

		for i := range frames {
			re := float32(w.pcm.Data[2*i]) * w.scale
			im := float32(w.pcm.Data[2*i+1]) * w.scale
			w.block[i] = complex(re, im)
		}

		buf, ok := f.next(ctx)
		if !ok {
			return f.stats, nil
		}
		w.opts.Format.Encode(buf, w.block[:frames])
		if err := f.commit(frames); err != nil {
			return f.stats, err
		}
	}
	return f.stats, nil
}

// Close releases the file.
func (w *WAV) Close() error {
	return w.file.Close()
}

var _ Source = (*WAV)(nil)
