// SPDX-License-Identifier: MIT
/*
Package sink writes a flat binary stream to disk through an optional
compressing filter and finalizes it atomically.

Writes go to a hidden staging file (".<name>") next to the target. Close
renames the staging file to the target, or to "overflow-<name>" when the
capture lost data upstream. A crashed run therefore leaves only the dot-file
behind, never a file under its final name.

The compression filter is chosen from the target extension:
".gz" → gzip, ".zst" → zstd, anything else → pass-through.
*/
package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	applog "iqpipe/internal/log"
)

var logger = applog.New("sink")

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("sink: closed")

// Compression is the filter applied in front of the staging file.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// String returns the compression name used in logs.
func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// CompressionFor derives the filter from the path extension.
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return CompressionGzip
	case ".zst":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// Compression level bounds per filter. Levels are ignored for
// pass-through sinks.
const (
	MinGzipLevel = gzip.HuffmanOnly
	MaxGzipLevel = gzip.BestCompression
	MinZstdLevel = -1 // fastest
	MaxZstdLevel = 22
)

// ErrLevel is returned for a compression level the filter cannot use.
var ErrLevel = errors.New("compression level out of range")

// CheckLevel reports whether level is usable with compression c.
func CheckLevel(c Compression, level int) error {
	switch c {
	case CompressionGzip:
		if level < MinGzipLevel || level > MaxGzipLevel {
			return fmt.Errorf("%w: gzip level %d not in [%d, %d]", ErrLevel, level, MinGzipLevel, MaxGzipLevel)
		}
	case CompressionZstd:
		if level < MinZstdLevel || level > MaxZstdLevel {
			return fmt.Errorf("%w: zstd level %d not in [%d, %d]", ErrLevel, level, MinZstdLevel, MaxZstdLevel)
		}
	}
	return nil
}

// StagingPath returns the hidden dot-file used while writing path.
func StagingPath(path string) string {
	return prefixed(path, ".")
}

// OverflowPath returns the name a capture with upstream data loss is
// finalized under.
func OverflowPath(path string) string {
	return prefixed(path, "overflow-")
}

func prefixed(path, prefix string) string {
	return filepath.Join(filepath.Dir(path), prefix+filepath.Base(path))
}

const writeBufferSize = 1 << 20

// Sink is a single-writer output stream. The zero value is a null sink:
// Write and Close are no-ops, which is how an empty target path is handled.
type Sink struct {
	path        string
	staging     string
	compression Compression

	file    *os.File
	buf     *bufio.Writer
	filter  io.WriteCloser // nil for pass-through
	out     io.Writer      // head of the chain
	closed  bool
	err     error // first write error; sticky
	written atomic.Uint64
}

// Open creates the staging file for path and builds the filter chain.
// An empty path returns a null sink.
func Open(path string, level int) (*Sink, error) {
	if path == "" {
		return &Sink{}, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	s := &Sink{
		path:        abs,
		staging:     StagingPath(abs),
		compression: CompressionFor(abs),
	}
	if err := CheckLevel(s.compression, level); err != nil {
		return nil, err
	}

	logger.Infof("opening %s", s.staging)
	f, err := os.OpenFile(s.staging, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%s could not be opened: %w", s.staging, err)
	}
	s.file = f
	s.buf = bufio.NewWriterSize(f, writeBufferSize)

	switch s.compression {
	case CompressionGzip:
		zw, err := gzip.NewWriterLevel(s.buf, level)
		if err != nil {
			s.abort()
			return nil, fmt.Errorf("gzip level %d: %w", level, err)
		}
		s.filter = zw
	case CompressionZstd:
		zw, err := zstd.NewWriter(s.buf,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			s.abort()
			return nil, fmt.Errorf("zstd level %d: %w", level, err)
		}
		s.filter = zw
	}

	if s.filter != nil {
		s.out = s.filter
	} else {
		s.out = s.buf
	}
	logger.Infof("writing %s compressed output to %s", s.compression, s.path)
	return s, nil
}

// abort drops a half-built sink and its staging file.
func (s *Sink) abort() {
	_ = s.file.Close()
	_ = os.Remove(s.staging)
	s.file = nil
}

// Opened reports whether the sink writes to a file.
func (s *Sink) Opened() bool {
	return s != nil && s.file != nil
}

// Path returns the final target path ("" for a null sink).
func (s *Sink) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Compression returns the filter kind derived at open time.
func (s *Sink) Compression() Compression {
	return s.compression
}

// BytesWritten returns the number of uncompressed bytes accepted so far.
func (s *Sink) BytesWritten() uint64 {
	if s == nil {
		return 0
	}
	return s.written.Load()
}

// Err returns the first write error, if any.
func (s *Sink) Err() error {
	if s == nil {
		return nil
	}
	return s.err
}

// Write appends p to the stream. After the first failure every further
// write returns that error without touching the file.
func (s *Sink) Write(p []byte) (int, error) {
	if !s.Opened() {
		if s != nil && s.closed {
			return 0, ErrClosed
		}
		return len(p), nil
	}
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.out.Write(p)
	s.written.Add(uint64(n))
	if err != nil {
		s.err = fmt.Errorf("write %s: %w", s.staging, err)
		logger.Errorf("%v", s.err)
		return n, s.err
	}
	return n, nil
}

// Abort closes the sink without finalizing it and removes the staging file.
// It is used when a run fails before any data was captured.
func (s *Sink) Abort() error {
	if !s.Opened() {
		return nil
	}
	logger.Warnf("discarding %s", s.staging)
	var errs []error
	if s.filter != nil {
		errs = append(errs, s.filter.Close())
	}
	errs = append(errs, s.file.Close())
	s.file = nil
	s.closed = true
	if err := os.Remove(s.staging); err != nil {
		errs = append(errs, fmt.Errorf("remove %s: %w", s.staging, err))
	}
	return errors.Join(errs...)
}

// Close flushes the filter chain and renames the staging file into place.
// With overflow set the file is finalized as overflow-<name>. Closing a
// null or already closed sink is a no-op.
func (s *Sink) Close(overflow bool) error {
	if !s.Opened() {
		return nil
	}
	logger.Infof("closing %s", s.path)

	var errs []error
	if s.err != nil {
		errs = append(errs, s.err)
	}
	if s.filter != nil {
		if err := s.filter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s filter: %w", s.compression, err))
		}
	}
	if err := s.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush %s: %w", s.staging, err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", s.staging, err))
	}
	s.file = nil
	s.closed = true

	target := s.path
	if overflow {
		target = OverflowPath(s.path)
		logger.Warnf("overflow during capture, finalizing as %s", target)
	}
	if err := os.Rename(s.staging, target); err != nil {
		errs = append(errs, fmt.Errorf("finalize %s: %w", target, err))
	}
	return errors.Join(errs...)
}
