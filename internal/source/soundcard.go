// SPDX-License-Identifier: MIT
package source

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// DefaultDeviceID selects the system default input device.
const DefaultDeviceID = -1

// SoundcardConfig selects the capture device.
type SoundcardConfig struct {
	Options
	DeviceID   int
	LowLatency bool
}

// Soundcard captures a stereo line input as IQ (left = I, right = Q), the
// way direct-conversion receivers feed a PC. The callback runs in real time
// and never waits: a slot still in flight counts as an overflow.
type Soundcard struct {
	cfg    SoundcardConfig
	device *portaudio.DeviceInfo
	block  []complex64
	scale  float32

	feeder  *feeder
	limit   uint64
	done    chan struct{}
	stopped sync.Once
	failed  atomic.Pointer[error]
}

// NewSoundcard resolves the input device. Initialize must have been called.
func NewSoundcard(cfg SoundcardConfig) (*Soundcard, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	device, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < 2 {
		return nil, fmt.Errorf("device %q has %d input channels, need 2 for IQ", device.Name, device.MaxInputChannels)
	}
	return &Soundcard{
		cfg:    cfg,
		device: device,
		block:  make([]complex64, cfg.SamplesPerBuffer),
		scale:  fullScale(cfg.Format),
	}, nil
}

func (s *Soundcard) Name() string { return "soundcard" }

// Run captures until the sample limit is reached or ctx is done.
func (s *Soundcard) Run(ctx context.Context, p Producer) (Stats, error) {
	s.feeder = newFeeder(p, s.cfg.Format, false)
	s.limit = s.cfg.limit()
	s.done = make(chan struct{})

	latency := s.device.DefaultHighInputLatency
	if s.cfg.LowLatency {
		latency = s.device.DefaultLowInputLatency
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: 2,
			Device:   s.device,
			Latency:  latency,
		},
		FramesPerBuffer: s.cfg.SamplesPerBuffer,
		SampleRate:      float64(s.cfg.SampleRate),
	}

	stream, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		return Stats{}, fmt.Errorf("open input stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return Stats{}, fmt.Errorf("start input stream: %w", err)
	}
	logger.Infof("capturing from %q at %d S/s (latency %s)", s.device.Name, s.cfg.SampleRate, latency.Round(time.Millisecond))

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	if err := stream.Stop(); err != nil {
		return s.feeder.stats, fmt.Errorf("stop input stream: %w", err)
	}
	if errp := s.failed.Load(); errp != nil {
		return s.feeder.stats, *errp
	}
	return s.feeder.stats, nil
}

// process is the stream callback. It only touches preallocated buffers.
func (s *Soundcard) process(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	select {
	case <-s.done:
		return
	default:
	}

	f := s.feeder
	frames := min(len(in)/2, len(s.block))
	if s.limit > 0 {
		frames = int(min(uint64(frames), s.limit-f.stats.Samples))
	}
	for i := range frames {
		s.block[i] = complex(in[2*i]*s.scale, in[2*i+1]*s.scale)
	}

	if buf, ok := f.next(context.Background()); ok {
		s.cfg.Format.Encode(buf, s.block[:frames])
		if err := f.commit(frames); err != nil {
			s.failed.CompareAndSwap(nil, &err)
			s.finish()
			return
		}
	}
	if s.limit > 0 && f.stats.Samples >= s.limit {
		s.finish()
	}
}

func (s *Soundcard) finish() {
	s.stopped.Do(func() { close(s.done) })
}

var _ Source = (*Soundcard)(nil)
