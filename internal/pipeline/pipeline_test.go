// SPDX-License-Identifier: MIT
package pipeline

import (
	"bytes"
	"errors"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"iqpipe/internal/analysis"
	"iqpipe/internal/fft"
	"iqpipe/internal/metrics"
	"iqpipe/internal/sample"
	"iqpipe/internal/sink"
	"iqpipe/pkg/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func rawConfig(dir, name string, f sample.Format, maxSamples int) Config {
	return Config{
		RawPath:    filepath.Join(dir, name),
		Format:     f,
		MaxSamples: maxSamples,
		ZLevel:     1,
	}
}

func start(t *testing.T, cfg Config, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithPollInterval(time.Millisecond)}, opts...)
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	return p
}

// produce feeds data through the pool in buffer-sized chunks without ever
// dropping, the way a well-behaved source would.
func produce(t *testing.T, p *Pipeline, data []byte) {
	t.Helper()
	size := p.Config().BufferSize()
	slot := 0
	for off := 0; off < len(data); off += size {
		for p.Busy(slot) {
			time.Sleep(100 * time.Microsecond)
		}
		buf, _ := p.Acquire(slot)
		n := copy(buf, data[off:min(off+size, len(data))])
		require.NoError(t, p.ReportFill(slot, n))
		for {
			next, err := p.Enqueue(slot)
			if errors.Is(err, ErrQueueFull) {
				time.Sleep(100 * time.Microsecond)
				continue
			}
			require.NoError(t, err)
			slot = next
			break
		}
	}
}

func readDecoded(t *testing.T, path string) []byte {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var r io.Reader = f
	switch sink.CompressionFor(path) {
	case sink.CompressionGzip:
		zr, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()
		r = zr
	case sink.CompressionZstd:
		zr, err := zstd.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()
		r = zr
	}
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func encode(t *testing.T, f sample.Format, samples []complex64) []byte {
	t.Helper()
	b := sample.Alloc(len(samples) * f.Size())
	require.Equal(t, len(samples), f.Encode(b, samples))
	return b
}

func TestRawRoundTrip(t *testing.T) {
	const k = 1000
	samples := utils.GenerateUniform(k, 1)
	for i := range samples {
		samples[i] *= 1000
	}

	for _, f := range []sample.Format{sample.FormatSC16, sample.FormatFC32, sample.FormatFC64} {
		for _, ext := range []string{".dat", ".dat.gz", ".dat.zst"} {
			t.Run(f.CPUFormat()+ext, func(t *testing.T) {
				dir := t.TempDir()
				cfg := rawConfig(dir, "raw"+ext, f, k)
				want := encode(t, f, samples)

				p := start(t, cfg)
				produce(t, p, want)
				require.NoError(t, p.Stop(false))

				assert.NoFileExists(t, sink.StagingPath(cfg.RawPath))
				assert.Equal(t, want, readDecoded(t, cfg.RawPath))
			})
		}
	}
}

func TestRawWritesReportedFillAcrossBuffers(t *testing.T) {
	dir := t.TempDir()
	cfg := rawConfig(dir, "raw.dat", sample.FormatSC16, 100)
	data := bytes.Repeat([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 1000) // 20 buffers of 400 bytes

	p := start(t, cfg)
	produce(t, p, data)
	// A short final buffer is written at its reported length.
	produce(t, p, data[:12])
	require.NoError(t, p.Stop(false))

	got := readDecoded(t, cfg.RawPath)
	assert.Equal(t, append(append([]byte(nil), data...), data[:12]...), got)
}

func TestEmptyRunCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	p := start(t, Config{Format: sample.FormatFC32, MaxSamples: 64, NFFT: 16, Divisor: 1, DS: 1, SampleRate: 64})
	assert.False(t, p.raw.Opened())
	assert.False(t, p.fftSink.Opened())
	require.NoError(t, p.Stop(false))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunWithoutDataFinalizesEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := rawConfig(dir, "raw.dat", sample.FormatFC32, 64)
	cfg.FFTPath = filepath.Join(dir, "fft.dat")

	p := start(t, cfg)
	require.NoError(t, p.Stop(false))

	for _, path := range []string{cfg.RawPath, cfg.FFTPath} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Zero(t, info.Size())
		assert.NoFileExists(t, sink.StagingPath(path))
	}
}

func TestOverflowNaming(t *testing.T) {
	dir := t.TempDir()
	cfg := rawConfig(dir, "raw.dat.gz", sample.FormatSC16, 16)
	cfg.FFTPath = filepath.Join(dir, "fft.dat")

	p := start(t, cfg)
	produce(t, p, make([]byte, 64))
	require.NoError(t, p.Stop(true))

	assert.NoFileExists(t, cfg.RawPath)
	assert.NoFileExists(t, cfg.FFTPath)
	assert.FileExists(t, sink.OverflowPath(cfg.RawPath))
	assert.FileExists(t, sink.OverflowPath(cfg.FFTPath))
	assert.Equal(t, make([]byte, 64), readDecoded(t, sink.OverflowPath(cfg.RawPath)))
}

func TestSpectrogramScenario(t *testing.T) {
	const n = 1024000
	dir := t.TempDir()
	cfg := Config{
		RawPath:    filepath.Join(dir, "raw.dat"),
		FFTPath:    filepath.Join(dir, "fft.dat"),
		Format:     sample.FormatFC32,
		MaxSamples: n,
		NFFT:       256,
		Overlap:    128,
		Divisor:    1,
		DS:         1,
		SampleRate: n,
	}
	require.Equal(t, 7999, cfg.ColumnsPerSlot())

	p := start(t, cfg)
	produce(t, p, encode(t, cfg.Format, utils.GenerateUniform(n, 2)))
	require.NoError(t, p.Stop(false))

	info, err := os.Stat(cfg.RawPath)
	require.NoError(t, err)
	assert.Equal(t, int64(n*8), info.Size())

	values := analysis.Decode(readDecoded(t, cfg.FFTPath))
	require.Len(t, values, 256*7999)

	var sum float64
	for _, v := range values {
		require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
		sum += float64(v)
	}
	mean := sum / float64(len(values))
	assert.Less(t, mean, 0.0)
	assert.Greater(t, mean, -20.0)

	assert.Len(t, p.LatestSpectrum(), 256)
	assert.Equal(t, 256, p.FFTSize())
	assert.Equal(t, float64(n), p.SampleRate())
}

func TestZeroInputIsFinite(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		FFTPath:    filepath.Join(dir, "fft.dat.zst"),
		Format:     sample.FormatSC16,
		MaxSamples: 4096,
		NFFT:       64,
		Overlap:    16,
		Divisor:    2,
		DS:         1,
		SampleRate: 8192,
		ZLevel:     3,
	}

	p := start(t, cfg)
	produce(t, p, make([]byte, 4096*4))
	require.NoError(t, p.Stop(false))

	values := analysis.Decode(readDecoded(t, cfg.FFTPath))
	require.Len(t, values, 64*cfg.ColumnsPerSlot())
	for _, v := range values {
		require.InDelta(t, -200, v, 1e-3)
	}
}

func TestDownsampleStrideAndLeftover(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RawPath:    filepath.Join(dir, "raw.dat"),
		FFTPath:    filepath.Join(dir, "fft.dat"),
		Format:     sample.FormatFC64,
		MaxSamples: 4096 + 500,
		NFFT:       256,
		Divisor:    4, // 1024-sample accumulator, 4 columns per slot
		DS:         2,
		SampleRate: 4096,
	}
	require.Equal(t, 4, cfg.ColumnsPerSlot())

	// Three buffers of 4596 samples: 4 refills each, the 500-sample tail of
	// every buffer is not analysed. 12 refills at stride 2 give 6 slots.
	data := encode(t, cfg.Format, utils.GenerateUniform(3*cfg.MaxSamples, 3))

	p := start(t, cfg)
	produce(t, p, data)
	require.NoError(t, p.Stop(false))

	assert.Equal(t, data, readDecoded(t, cfg.RawPath))
	values := analysis.Decode(readDecoded(t, cfg.FFTPath))
	assert.Len(t, values, 6*4*256)
}

// slowTransformer delays every transform to back up the request ring.
type slowTransformer struct {
	fft.Transformer
	delay time.Duration
	calls atomic.Int64
}

func (s *slowTransformer) Transform(in, out *fft.Matrix) error {
	time.Sleep(s.delay)
	s.calls.Add(1)
	return s.Transformer.Transform(in, out)
}

func TestSlowBackendDrainsOnStop(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		FFTPath:    filepath.Join(dir, "fft.dat"),
		Format:     sample.FormatFC32,
		MaxSamples: 1024,
		NFFT:       128,
		Overlap:    64,
		Divisor:    2,
		DS:         1,
		SampleRate: 2048,
	}
	const buffers = 40
	slow := &slowTransformer{Transformer: fft.NewSoftware(cfg.NFFT), delay: 2 * time.Millisecond}

	p := start(t, cfg, WithTransformer(slow))
	produce(t, p, encode(t, cfg.Format, utils.GenerateUniform(buffers*cfg.MaxSamples, 4)))
	require.NoError(t, p.Stop(false))

	assert.Equal(t, int64(buffers), slow.calls.Load())
	info, err := os.Stat(cfg.FFTPath)
	require.NoError(t, err)
	assert.Equal(t, int64(buffers*cfg.ColumnsPerSlot()*cfg.NFFT*4), info.Size())
}

func TestQueueFullDropsBuffer(t *testing.T) {
	dir := t.TempDir()
	cfg := rawConfig(dir, "raw.dat", sample.FormatSC16, 4)

	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipelineMetrics(registry)
	require.NoError(t, err)

	// A long poll keeps the drain worker asleep while the queue fills.
	p, err := New(cfg, WithPollInterval(300*time.Millisecond), WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, p.Start())
	time.Sleep(20 * time.Millisecond)

	slot := 0
	for range SampleBuffers {
		slot, err = p.Enqueue(slot)
		require.NoError(t, err)
	}
	assert.True(t, p.Busy(0))

	// Lapping the drain worker overflows the queue.
	next, err := p.Enqueue(slot)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, slot, next)
	assert.Equal(t, uint64(1), p.Dropped())

	require.NoError(t, p.Stop(true))
	assert.False(t, p.Busy(0))

	info, err := os.Stat(sink.OverflowPath(cfg.RawPath))
	require.NoError(t, err)
	assert.Equal(t, int64(SampleBuffers*16), info.Size())

	expected := `
# HELP iqpipe_buffers_dropped_total Sample buffers dropped because the sample queue was full
# TYPE iqpipe_buffers_dropped_total counter
iqpipe_buffers_dropped_total 1
# HELP iqpipe_buffers_enqueued_total Sample buffers accepted by the sample queue
# TYPE iqpipe_buffers_enqueued_total counter
iqpipe_buffers_enqueued_total 8
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"iqpipe_buffers_enqueued_total", "iqpipe_buffers_dropped_total"))
}

func TestMetricsCountSlotsAndBytes(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RawPath:    filepath.Join(dir, "raw.dat"),
		FFTPath:    filepath.Join(dir, "fft.dat"),
		Format:     sample.FormatFC32,
		MaxSamples: 512,
		NFFT:       64,
		Divisor:    1,
		DS:         1,
		SampleRate: 512,
	}
	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipelineMetrics(registry)
	require.NoError(t, err)

	p := start(t, cfg, WithMetrics(m))
	produce(t, p, make([]byte, 5*512*8))
	require.NoError(t, p.Stop(false))

	expected := `
# HELP iqpipe_fft_slots_collected_total FFT slots converted to power and written by the collect worker
# TYPE iqpipe_fft_slots_collected_total counter
iqpipe_fft_slots_collected_total 5
# HELP iqpipe_fft_slots_dispatched_total FFT slots transformed by the dispatch worker
# TYPE iqpipe_fft_slots_dispatched_total counter
iqpipe_fft_slots_dispatched_total 5
# HELP iqpipe_sink_bytes_total Uncompressed bytes written per sink
# TYPE iqpipe_sink_bytes_total counter
iqpipe_sink_bytes_total{sink="fft"} 10240
iqpipe_sink_bytes_total{sink="raw"} 20480
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"iqpipe_fft_slots_collected_total", "iqpipe_fft_slots_dispatched_total", "iqpipe_sink_bytes_total"))
}

func TestNullSinksRecordNoBytes(t *testing.T) {
	cfg := Config{
		Format:     sample.FormatFC32,
		MaxSamples: 512,
		NFFT:       64,
		Divisor:    1,
		DS:         1,
		SampleRate: 512,
	}
	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipelineMetrics(registry)
	require.NoError(t, err)

	p := start(t, cfg, WithMetrics(m))
	produce(t, p, make([]byte, 3*512*8))
	require.NoError(t, p.Stop(false))

	expected := `
# HELP iqpipe_fft_slots_collected_total FFT slots converted to power and written by the collect worker
# TYPE iqpipe_fft_slots_collected_total counter
iqpipe_fft_slots_collected_total 3
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"iqpipe_fft_slots_collected_total", "iqpipe_sink_bytes_total"))
}

func TestMonitorReceivesFrames(t *testing.T) {
	cfg := Config{
		Format:     sample.FormatFC32,
		MaxSamples: 1024,
		NFFT:       32,
		Overlap:    16,
		Divisor:    1,
		DS:         1,
		SampleRate: 1024,
	}
	mon := &utils.MockTransport{}

	p := start(t, cfg, WithMonitor(mon))
	assert.Nil(t, p.LatestSpectrum())
	produce(t, p, encode(t, cfg.Format, utils.GenerateTone(3*1024, 1024, 128, 1)))
	require.NoError(t, p.Stop(false))

	frames := mon.Frames()
	require.Len(t, frames, 3)
	for i, f := range frames {
		frame, ok := f.(analysis.SpectrumFrame)
		require.True(t, ok)
		assert.Equal(t, uint64(i+1), frame.Seq)
		assert.Equal(t, cfg.ColumnsPerSlot(), frame.Columns)
		require.Len(t, frame.Bins, 32)
		// 128 Hz at 1024 Hz sampling falls in bin 4 of 32.
		assert.Equal(t, 4, utils.FindPeakBin(frame.Bins, 0, 31))
	}
	assert.Equal(t, frames[2].(analysis.SpectrumFrame).Bins, p.LatestSpectrum())
}

func TestOffloadMatchesSoftware(t *testing.T) {
	samples := utils.GenerateUniform(4*2048, 5)
	run := func(useOffload bool) []byte {
		dir := t.TempDir()
		cfg := Config{
			FFTPath:    filepath.Join(dir, "fft.dat"),
			Format:     sample.FormatFC32,
			MaxSamples: 2048,
			NFFT:       128,
			Overlap:    32,
			Divisor:    1,
			DS:         1,
			SampleRate: 2048,
			UseOffload: useOffload,
			Batch:      5,
		}
		p := start(t, cfg)
		produce(t, p, encode(t, cfg.Format, samples))
		require.NoError(t, p.Stop(false))
		return readDecoded(t, cfg.FFTPath)
	}

	software, offload := run(false), run(true)
	require.NotEmpty(t, software)
	assert.Equal(t, software, offload)
}

type failingTransformer struct{ fft.Transformer }

func (failingTransformer) Transform(in, out *fft.Matrix) error {
	return errors.New("device lost")
}

func TestTransformErrorIsReported(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		FFTPath:    filepath.Join(dir, "fft.dat"),
		Format:     sample.FormatFC32,
		MaxSamples: 256,
		NFFT:       64,
		Divisor:    1,
		DS:         1,
		SampleRate: 256,
	}
	p := start(t, cfg, WithTransformer(failingTransformer{fft.NewSoftware(64)}))
	produce(t, p, make([]byte, 2*256*8))
	err := p.Stop(false)
	require.Error(t, err)
	assert.ErrorContains(t, err, "device lost")

	info, statErr := os.Stat(cfg.FFTPath)
	require.NoError(t, statErr)
	assert.Zero(t, info.Size())
}

func TestLifecycle(t *testing.T) {
	cfg := Config{Format: sample.FormatSC16, MaxSamples: 8}
	p, err := New(cfg, WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, StateStopped, p.State())

	require.ErrorIs(t, p.Stop(false), ErrNotRunning)
	_, err = p.Enqueue(0)
	require.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, p.Start())
	assert.Equal(t, StateRunning, p.State())
	require.ErrorIs(t, p.Start(), ErrAlreadyRunning)
	require.Error(t, p.ReportFill(0, 1000), "fill beyond capacity")
	_, err = p.Enqueue(SampleBuffers)
	require.Error(t, err)
	require.NoError(t, p.Stop(false))

	// The same pipeline can run again.
	require.NoError(t, p.Start())
	require.NoError(t, p.Stop(false))
	assert.Equal(t, StateStopped, p.State())
}

func TestAcquireOutsideRun(t *testing.T) {
	cfg := Config{Format: sample.FormatFC32, MaxSamples: 64, NFFT: 16, Divisor: 1, DS: 1, SampleRate: 64}
	p, err := New(cfg, WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	buf, n := p.Acquire(0)
	assert.Nil(t, buf, "before start")
	assert.Zero(t, n)
	assert.False(t, p.Busy(0))

	require.NoError(t, p.Start())
	buf, n = p.Acquire(0)
	assert.Len(t, buf, cfg.BufferSize())
	assert.Equal(t, cfg.BufferSize(), n)
	buf, _ = p.Acquire(SampleBuffers)
	assert.Nil(t, buf, "slot out of range")
	require.NoError(t, p.Stop(false))

	buf, n = p.Acquire(0)
	assert.Nil(t, buf, "after stop")
	assert.Zero(t, n)
	assert.Nil(t, p.pool.bufs)
	assert.Nil(t, p.acc)
	assert.Nil(t, p.slots)
	assert.Equal(t, SampleBuffers, p.pool.Len())
	for i := range SampleBuffers {
		assert.False(t, p.Busy(i), "slot %d", i)
	}
}

func TestSequentialInstances(t *testing.T) {
	for i := range 3 {
		dir := t.TempDir()
		cfg := rawConfig(dir, "raw.dat.zst", sample.FormatFC32, 32)
		cfg.FFTPath = filepath.Join(dir, "fft.dat")
		cfg.NFFT, cfg.Divisor, cfg.DS, cfg.SampleRate = 16, 1, 1, 32

		data := encode(t, cfg.Format, utils.GenerateUniform(64, int64(i)))
		p := start(t, cfg)
		produce(t, p, data)
		require.NoError(t, p.Stop(false))
		assert.Equal(t, data, readDecoded(t, cfg.RawPath))
	}
}

func TestConfigErrors(t *testing.T) {
	base := Config{Format: sample.FormatFC32, MaxSamples: 1024, NFFT: 256, Overlap: 128, Divisor: 4, DS: 1, SampleRate: 4096}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown format", func(c *Config) { c.Format = 0 }},
		{"no samples per buffer", func(c *Config) { c.MaxSamples = 0 }},
		{"divisor not a factor", func(c *Config) { c.Divisor = 3 }},
		{"zero divisor", func(c *Config) { c.Divisor = 0 }},
		{"accumulator shorter than fft", func(c *Config) { c.Divisor = 32 }},
		{"overlap equals fft size", func(c *Config) { c.Overlap = 256 }},
		{"negative overlap", func(c *Config) { c.Overlap = -1 }},
		{"zero downsample", func(c *Config) { c.DS = 0 }},
		{"zero rate", func(c *Config) { c.SampleRate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	// Analysis parameters are ignored when nfft is 0.
	_, err := New(Config{Format: sample.FormatSC16, MaxSamples: 1, Divisor: 3, SampleRate: 10})
	require.NoError(t, err)
}

func TestStartFailuresLeaveNothingBehind(t *testing.T) {
	t.Run("fft sink cannot open", func(t *testing.T) {
		dir := t.TempDir()
		cfg := rawConfig(dir, "raw.dat", sample.FormatSC16, 8)
		cfg.FFTPath = filepath.Join(dir, "missing", "fft.dat")

		p, err := New(cfg)
		require.NoError(t, err)
		require.Error(t, p.Start())
		assert.Equal(t, StateStopped, p.State())
		assert.NoFileExists(t, sink.StagingPath(cfg.RawPath))
		assert.NoFileExists(t, cfg.RawPath)
	})

	t.Run("offload device missing", func(t *testing.T) {
		dir := t.TempDir()
		cfg := rawConfig(dir, "raw.dat", sample.FormatFC32, 64)
		cfg.NFFT, cfg.Divisor, cfg.DS, cfg.SampleRate = 32, 1, 1, 64
		cfg.UseOffload, cfg.Batch, cfg.DeviceID = true, 4, 7

		p, err := New(cfg)
		require.NoError(t, err)
		require.ErrorIs(t, p.Start(), fft.ErrDeviceSetup)
		assert.NoFileExists(t, sink.StagingPath(cfg.RawPath))
	})

	t.Run("custom device opener", func(t *testing.T) {
		cfg := Config{Format: sample.FormatFC32, MaxSamples: 64, NFFT: 32, Divisor: 1, DS: 1, SampleRate: 64, UseOffload: true, Batch: 2}
		opened := false
		open := func(dc fft.DeviceConfig) (fft.Device, error) {
			opened = true
			return fft.OpenDevice(dc)
		}
		p := start(t, cfg, WithDeviceOpener(open))
		require.NoError(t, p.Stop(false))
		assert.True(t, opened)
	})
}

func TestConcurrentProducerAgainstStop(t *testing.T) {
	cfg := Config{Format: sample.FormatSC16, MaxSamples: 64}
	p := start(t, cfg)

	r := rand.New(rand.NewSource(9))
	slot := 0
	for range 200 {
		for p.Busy(slot) {
			time.Sleep(50 * time.Microsecond)
		}
		buf, _ := p.Acquire(slot)
		r.Read(buf)
		require.NoError(t, p.ReportFill(slot, len(buf)))
		if next, err := p.Enqueue(slot); err == nil {
			slot = next
		}
	}
	require.NoError(t, p.Stop(false))
	for i := range SampleBuffers {
		assert.False(t, p.Busy(i), "slot %d", i)
	}
}
