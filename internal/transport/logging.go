// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	"iqpipe/internal/analysis"
	applog "iqpipe/internal/log"
	"iqpipe/pkg/utils"
)

var logger = applog.New("transport")

// LoggingTransport implements Transport by logging a one-line summary of
// every spectrum frame at DEBUG, and every Every-th frame at INFO.
type LoggingTransport struct {
	every  uint64
	count  atomic.Uint64
	closed atomic.Bool
}

// NewLoggingTransport creates a LoggingTransport that promotes every n-th
// frame to INFO. n < 1 logs nothing at INFO.
func NewLoggingTransport(n int) *LoggingTransport {
	logger.Infof("using logging transport")
	lt := &LoggingTransport{}
	if n > 0 {
		lt.every = uint64(n)
	}
	return lt
}

// Send logs the received data.
func (lt *LoggingTransport) Send(data any) error {
	if lt.closed.Load() {
		return ErrClosed
	}
	n := lt.count.Add(1)
	frame, ok := data.(analysis.SpectrumFrame)
	if !ok {
		logger.Debugf("received %T", data)
		return nil
	}
	peak := utils.FindPeakBin(frame.Bins, 0, len(frame.Bins)-1)
	var level float32
	if len(frame.Bins) > 0 {
		level = frame.Bins[peak]
	}
	if lt.every > 0 && n%lt.every == 0 {
		logger.Infof("frame %d: %d columns, peak bin %d at %.1f dB", frame.Seq, frame.Columns, peak, level)
		return nil
	}
	logger.Debugf("frame %d: %d columns, peak bin %d at %.1f dB", frame.Seq, frame.Columns, peak, level)
	return nil
}

// Count returns the number of frames received.
func (lt *LoggingTransport) Count() uint64 { return lt.count.Load() }

// Close stops accepting frames.
func (lt *LoggingTransport) Close() error {
	if lt.closed.Swap(true) {
		return nil
	}
	logger.Infof("logging transport closed after %d frames", lt.count.Load())
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
