// SPDX-License-Identifier: MIT
/*
Package pipeline moves sample buffers from a hardware-paced producer to a
raw sink and, in parallel, through a windowed FFT stage to a spectrogram
sink.

	producer → sample queue (8, drop on full) → drain worker → raw sink
	                                                ↓ accumulator → windower
	           free slots ← collect worker ← result ring ← dispatch worker ← request ring (256, wait on full)
	                             ↓
	                       spectrogram sink

Thread Safety:
  - One producer goroutine calls Acquire, ReportFill, Enqueue and Busy
  - Three workers (drain, dispatch, collect) own everything else
  - Stages hand off slot indices through SPSC rings; a slot has exactly one
    owner at a time, so no locks guard buffer or matrix contents
  - Shutdown is a linear handshake on atomic flags: each worker runs one
    final pass after its upstream stage reports done
*/
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"iqpipe/internal/analysis"
	"iqpipe/internal/fft"
	applog "iqpipe/internal/log"
	"iqpipe/internal/metrics"
	"iqpipe/internal/queue"
	"iqpipe/internal/sink"
)

var logger = applog.New("pipeline")

var (
	// ErrQueueFull is returned by Enqueue when the sample queue has no room.
	// The buffer is dropped and the slot stays with the producer.
	ErrQueueFull = errors.New("sample buffer queue full (overflow)")
	// ErrNotRunning is returned by producer calls and Stop outside a run.
	ErrNotRunning = errors.New("pipeline not running")
	// ErrAlreadyRunning is returned by Start on a started pipeline.
	ErrAlreadyRunning = errors.New("pipeline already running")
)

// DefaultPollInterval is how long an idle worker sleeps before it polls
// its input ring again.
const DefaultPollInterval = 10 * time.Millisecond

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Monitor receives a SpectrumFrame per collected FFT slot. Send must not
// block; transport.Transport implementations satisfy it.
type Monitor interface {
	Send(data any) error
}

// Option customizes a Pipeline at construction.
type Option func(*Pipeline)

// WithTransformer replaces the backend selected from Config.UseOffload.
func WithTransformer(t fft.Transformer) Option {
	return func(p *Pipeline) { p.transformer = t }
}

// WithDeviceOpener sets how the offload backend opens its device.
func WithDeviceOpener(open fft.OpenFunc) Option {
	return func(p *Pipeline) { p.openDevice = open }
}

// WithMetrics reports counters to m.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithMonitor publishes a SpectrumFrame per FFT slot to m.
func WithMonitor(m Monitor) Option {
	return func(p *Pipeline) { p.monitor = m }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.poll = d
		}
	}
}

// fftSlot is one (input, output) matrix pair. failed marks a slot whose
// transform errored so the collector skips it.
type fftSlot struct {
	in, out fft.Matrix
	failed  bool
}

// Pipeline is the capture orchestrator. Build one with New, then Start,
// feed it from a single producer goroutine, and Stop it from that same
// goroutine after the last Enqueue.
type Pipeline struct {
	cfg         Config
	transformer fft.Transformer
	openDevice  fft.OpenFunc
	metrics     *metrics.PipelineMetrics
	monitor     Monitor
	poll        time.Duration

	state atomic.Int32

	// Per-run resources, rebuilt by Start.
	pool     *BufferPool
	samples  *queue.Ring
	requests *queue.Ring
	results  *queue.Ring
	free     *queue.Ring
	slots    []fftSlot
	windower *analysis.Windower
	spectro  *analysis.Spectrogram
	acc      []complex64
	dsCount  int
	raw      *sink.Sink
	fftSink  *sink.Sink

	producerDone atomic.Bool
	drainDone    atomic.Bool
	dispatchDone atomic.Bool
	wg           sync.WaitGroup

	err     atomic.Pointer[error]
	dropped atomic.Uint64
	seq     atomic.Uint64
	latest  atomic.Pointer[[]float32]
}

// New validates cfg and applies opts. No resources are allocated until
// Start.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(p)
	}
	if p.transformer == nil && cfg.AnalysisEnabled() {
		if cfg.UseOffload {
			p.transformer = fft.NewOffload(fft.DeviceConfig{
				ID:    cfg.DeviceID,
				Size:  cfg.NFFT,
				Batch: cfg.Batch,
			}, p.openDevice)
		} else {
			p.transformer = fft.NewSoftware(cfg.NFFT)
		}
	}
	return p, nil
}

// Config returns the run parameters.
func (p *Pipeline) Config() Config { return p.cfg }

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Start allocates the buffer pool and FFT slots, opens both sinks, sets up
// the transform backend and launches the workers. Any failure leaves the
// pipeline stopped with nothing on disk.
func (p *Pipeline) Start() error {
	if !p.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyRunning
	}
	if err := p.setup(); err != nil {
		p.state.Store(int32(StateStopped))
		return err
	}

	p.wg.Add(3)
	go p.drainWorker()
	go p.dispatchWorker()
	go p.collectWorker()

	p.state.Store(int32(StateRunning))
	logger.Infof("started: type %s, %d buffers of %d bytes, fft size %d", p.cfg.Format, SampleBuffers, p.cfg.BufferSize(), p.cfg.NFFT)
	return nil
}

func (p *Pipeline) setup() error {
	p.producerDone.Store(false)
	p.drainDone.Store(false)
	p.dispatchDone.Store(false)
	p.err.Store(nil)
	p.dropped.Store(0)
	p.seq.Store(0)
	p.latest.Store(nil)
	p.dsCount = 0

	p.pool = NewBufferPool(SampleBuffers, p.cfg.BufferSize())
	p.samples = queue.New(SampleBuffers, queue.DropOnFull)

	p.windower, p.spectro, p.acc, p.slots = nil, nil, nil, nil
	if p.cfg.AnalysisEnabled() {
		w, err := analysis.NewWindower(p.cfg.NFFT, p.cfg.Overlap, p.cfg.Window)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		p.windower = w
		p.spectro = analysis.NewSpectrogram(w.Window().Sum())
		p.acc = make([]complex64, p.cfg.AccumulatorLen())
		p.slots = make([]fftSlot, FFTSlots)
	}
	p.requests = queue.New(FFTSlots, queue.WaitOnFull)
	p.results = queue.New(FFTSlots, queue.WaitOnFull)
	p.free = queue.New(FFTSlots, queue.WaitOnFull)
	for i := range p.slots {
		p.free.TryPush(i)
	}

	raw, err := sink.Open(p.cfg.RawPath, p.cfg.ZLevel)
	if err != nil {
		return fmt.Errorf("open raw sink: %w", err)
	}
	fftSink, err := sink.Open(p.cfg.FFTPath, p.cfg.ZLevel)
	if err != nil {
		_ = raw.Abort()
		return fmt.Errorf("open fft sink: %w", err)
	}

	if p.cfg.AnalysisEnabled() {
		if err := p.transformer.Setup(); err != nil {
			_ = raw.Abort()
			_ = fftSink.Abort()
			return fmt.Errorf("fft backend %s: %w", p.transformer.Name(), err)
		}
		logger.Infof("fft backend %s, %d columns per slot, window %s", p.transformer.Name(), p.windower.Columns(len(p.acc)), p.cfg.Window)
	}
	p.raw, p.fftSink = raw, fftSink
	return nil
}

// Stop is the single shutdown trigger. It waits for every queued buffer and
// FFT slot to drain, then finalizes both sinks (as overflow-<name> when
// overflow is set) and tears down the backend. The returned error joins the
// first worker error with any finalize error.
func (p *Pipeline) Stop(overflow bool) error {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}
	logger.Infof("stopping (overflow %t)", overflow)

	p.producerDone.Store(true)
	p.wg.Wait()
	p.pool.releaseBuffers()
	p.acc, p.slots = nil, nil

	errs := []error{p.Err()}
	if err := p.raw.Close(overflow); err != nil {
		errs = append(errs, fmt.Errorf("raw sink: %w", err))
	}
	if err := p.fftSink.Close(overflow); err != nil {
		errs = append(errs, fmt.Errorf("fft sink: %w", err))
	}
	if p.cfg.AnalysisEnabled() {
		if err := p.transformer.Teardown(); err != nil {
			errs = append(errs, fmt.Errorf("fft backend teardown: %w", err))
		}
	}
	if n := p.dropped.Load(); n > 0 {
		logger.Warnf("%d sample buffers dropped on queue overflow", n)
	}

	p.state.Store(int32(StateStopped))
	logger.Infof("stopped")
	return errors.Join(errs...)
}

// NumBuffers returns the number of pool slots a producer cycles through.
func (p *Pipeline) NumBuffers() int { return SampleBuffers }

// Acquire returns the backing storage of slot and its current fill in
// bytes. The slot must not be in flight. Outside a run, or for a slot out
// of range, it returns nil and 0.
func (p *Pipeline) Acquire(slot int) ([]byte, int) {
	if p.State() != StateRunning || !p.pool.valid(slot) {
		return nil, 0
	}
	return p.pool.Acquire(slot)
}

// ReportFill records how many bytes of slot the producer filled.
func (p *Pipeline) ReportFill(slot, n int) error {
	if p.State() != StateRunning {
		return ErrNotRunning
	}
	if !p.pool.valid(slot) {
		return fmt.Errorf("slot %d out of range", slot)
	}
	return p.pool.SetFill(slot, n)
}

// Busy reports whether slot is still queued or being drained. A producer
// that finds its next slot busy would lap the drain worker.
func (p *Pipeline) Busy(slot int) bool {
	return p.pool.valid(slot) && p.pool.Busy(slot)
}

// Enqueue hands slot to the drain worker and returns the next slot in
// round-robin order. When the sample queue is full the buffer is dropped,
// the overflow is logged, and slot itself is returned with ErrQueueFull.
func (p *Pipeline) Enqueue(slot int) (int, error) {
	if p.State() != StateRunning {
		return slot, ErrNotRunning
	}
	if !p.pool.valid(slot) {
		return slot, fmt.Errorf("slot %d out of range", slot)
	}
	p.pool.markInFlight(slot)
	if err := p.samples.Push(slot); err != nil {
		p.pool.release(slot)
		p.dropped.Add(1)
		p.metrics.RecordEnqueue(true)
		logger.Warnf("%v", ErrQueueFull)
		return slot, ErrQueueFull
	}
	p.metrics.RecordEnqueue(false)
	return (slot + 1) % SampleBuffers, nil
}

// Dropped returns how many buffers Enqueue dropped this run.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// Err returns the first worker I/O or transform error of the run.
func (p *Pipeline) Err() error {
	if err := p.err.Load(); err != nil {
		return *err
	}
	return nil
}

// recordErr keeps the first error of the run.
func (p *Pipeline) recordErr(err error) {
	if err == nil {
		return
	}
	if p.err.CompareAndSwap(nil, &err) {
		logger.Errorf("%v", err)
	}
}

// LatestSpectrum implements analysis.SpectrumProvider.
func (p *Pipeline) LatestSpectrum() []float32 {
	if row := p.latest.Load(); row != nil {
		return *row
	}
	return nil
}

// FFTSize implements analysis.SpectrumProvider.
func (p *Pipeline) FFTSize() int { return p.cfg.NFFT }

// SampleRate implements analysis.SpectrumProvider.
func (p *Pipeline) SampleRate() float64 { return float64(p.cfg.SampleRate) }

var _ analysis.SpectrumProvider = (*Pipeline)(nil)
