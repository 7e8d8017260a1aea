// SPDX-License-Identifier: MIT
package fft

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	applog "iqpipe/internal/log"
)

var logger = applog.New("fft")

// ErrDeviceSetup wraps every failure while bringing up an offload device.
var ErrDeviceSetup = errors.New("fft device setup failed")

// DeviceConfig describes the session an offload device is opened for.
type DeviceConfig struct {
	ID    int // device index
	Size  int // FFT length
	Batch int // columns per device invocation
}

// Device is an accelerator session holding Size*Batch complex values of
// device memory.
type Device interface {
	Name() string
	// Upload copies whole columns into device memory.
	Upload(src []complex64) error
	// Execute transforms the uploaded columns in place.
	Execute() error
	// Download copies the uploaded range back to the host.
	Download(dst []complex64) error
	Close() error
}

// OpenFunc opens a device session.
type OpenFunc func(DeviceConfig) (Device, error)

// OpenDevice is the default OpenFunc. Device 0 is the host-memory device;
// no other devices are available in this build.
func OpenDevice(cfg DeviceConfig) (Device, error) {
	if cfg.ID != 0 {
		return nil, fmt.Errorf("no offload device with id %d", cfg.ID)
	}
	return newHostDevice(cfg), nil
}

// Offload streams a matrix to a device in batches of up to Batch columns,
// following data order. The last batch is clipped to the remaining columns.
type Offload struct {
	cfg  DeviceConfig
	open OpenFunc
	dev  Device
}

// NewOffload creates an offload backend. A nil open uses OpenDevice.
func NewOffload(cfg DeviceConfig, open OpenFunc) *Offload {
	if open == nil {
		open = OpenDevice
	}
	return &Offload{cfg: cfg, open: open}
}

// Name implements Transformer.
func (o *Offload) Name() string { return "offload" }

// Setup implements Transformer.
func (o *Offload) Setup() error {
	if o.cfg.Batch < 1 {
		return fmt.Errorf("%w: batch size %d", ErrDeviceSetup, o.cfg.Batch)
	}
	if o.cfg.Size < 1 {
		return fmt.Errorf("%w: fft size %d", ErrDeviceSetup, o.cfg.Size)
	}
	dev, err := o.open(o.cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceSetup, err)
	}
	o.dev = dev
	logger.Infof("using offload batch size %d on %s", o.cfg.Batch, dev.Name())
	return nil
}

// Transform implements Transformer.
func (o *Offload) Transform(in, out *Matrix) error {
	if o.dev == nil {
		return errors.New("offload fft: device not set up")
	}
	if in.Rows() != o.cfg.Size {
		return fmt.Errorf("offload fft: matrix has %d rows, want %d", in.Rows(), o.cfg.Size)
	}
	out.CopySize(in)

	rows, cols := in.Rows(), in.Cols()
	src, dst := in.Data(), out.Data()
	for k := 0; k < cols; k += o.cfg.Batch {
		n := min(o.cfg.Batch, cols-k)
		lo, hi := k*rows, (k+n)*rows
		if err := o.dev.Upload(src[lo:hi]); err != nil {
			return fmt.Errorf("offload fft: upload: %w", err)
		}
		if err := o.dev.Execute(); err != nil {
			return fmt.Errorf("offload fft: execute: %w", err)
		}
		if err := o.dev.Download(dst[lo:hi]); err != nil {
			return fmt.Errorf("offload fft: download: %w", err)
		}
	}
	return nil
}

// Teardown implements Transformer.
func (o *Offload) Teardown() error {
	if o.dev == nil {
		return nil
	}
	err := o.dev.Close()
	o.dev = nil
	return err
}

var _ Transformer = (*Offload)(nil)

// hostDevice emulates device memory in host RAM and runs the batch on the
// CPU.
type hostDevice struct {
	cfg  DeviceConfig
	mem  []complex64
	used int
	plan *fourier.CmplxFFT
	work workspace
}

func newHostDevice(cfg DeviceConfig) *hostDevice {
	return &hostDevice{
		cfg:  cfg,
		mem:  make([]complex64, cfg.Size*cfg.Batch),
		plan: fourier.NewCmplxFFT(cfg.Size),
		work: newWorkspace(cfg.Size),
	}
}

func (d *hostDevice) Name() string { return "host" }

func (d *hostDevice) Upload(src []complex64) error {
	if len(src) > len(d.mem) {
		return fmt.Errorf("upload of %d values exceeds device buffer of %d", len(src), len(d.mem))
	}
	if len(src)%d.cfg.Size != 0 {
		return fmt.Errorf("upload of %d values is not a whole number of columns", len(src))
	}
	d.used = copy(d.mem, src)
	return nil
}

func (d *hostDevice) Execute() error {
	for off := 0; off < d.used; off += d.cfg.Size {
		col := d.mem[off : off+d.cfg.Size]
		transformColumn(d.plan, d.work, col, col)
	}
	return nil
}

func (d *hostDevice) Download(dst []complex64) error {
	if len(dst) != d.used {
		return fmt.Errorf("download of %d values, %d uploaded", len(dst), d.used)
	}
	copy(dst, d.mem[:d.used])
	return nil
}

func (d *hostDevice) Close() error {
	d.mem = nil
	d.work = workspace{}
	return nil
}
