// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"iqpipe/internal/analysis"
)

const (
	headerSize = 4 + 8 + 2
	// MaxBins is the largest spectrum that fits one UDP datagram.
	MaxBins = (65507 - headerSize) / 4
	// DefaultInterval is the publish period when none is given (~60Hz).
	DefaultInterval = 16 * time.Millisecond
)

// UDPPublisher periodically fetches the latest spectrum row from a
// provider, packs it into a binary packet and sends it with a UDPSender.
// It runs in a separate goroutine managed by Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender
	provider analysis.SpectrumProvider
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ticker and doneChan during Start/Stop

	sequenceNum uint32
	lastRow     *float32 // first element of the last row sent, to skip repeats

	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates a publisher. An interval <= 0 uses
// DefaultInterval.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, provider analysis.SpectrumProvider) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("udp publisher: sender cannot be nil")
	}
	if provider == nil {
		return nil, errors.New("udp publisher: spectrum provider cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger.Infof("publisher interval %s, %d bins", interval, min(provider.FFTSize(), MaxBins))
	return &UDPPublisher{
		sender:       sender,
		provider:     provider,
		interval:     interval,
		packetBuffer: bytes.NewBuffer(make([]byte, 0, headerSize+4*min(provider.FFTSize(), MaxBins))),
	}, nil
}

// Start launches the publishing goroutine. Calling Start on a running
// publisher is a no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		logger.Warnf("publisher already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	ticker, done := p.ticker, p.doneChan

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-done:
				return
			}
		}
	}()
}

// Stop terminates the publishing goroutine and waits for it. Calling Stop
// on a stopped publisher is a no-op.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	logger.Infof("publisher stopped after %d packets", p.sequenceNum)
	return nil
}

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Bin Count         | uint16         | 2            | Number of floats (N)    |
| Power             | []float32      | N * 4        | Per-bin mean power, dB  |
+-----------------------------------------------------------------------------+

Bins are in FFT order: 0 is DC, bins past N/2 are negative frequencies.
*/

// buildAndSendPacket sends the latest spectrum row if it changed since the
// last packet.
func (p *UDPPublisher) buildAndSendPacket() {
	row := p.provider.LatestSpectrum()
	if len(row) == 0 || &row[0] == p.lastRow {
		return
	}
	p.lastRow = &row[0]
	row = row[:min(len(row), MaxBins)]

	p.sequenceNum++
	p.packetBuffer.Reset()
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[0:], p.sequenceNum)
	binary.BigEndian.PutUint64(header[4:], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint16(header[12:], uint16(len(row)))
	p.packetBuffer.Write(header[:])
	if err := binary.Write(p.packetBuffer, binary.BigEndian, row); err != nil {
		logger.Errorf("pack spectrum: %v", err)
		return
	}

	if err := p.sender.Send(p.packetBuffer.Bytes()); err == nil {
		logger.Debugf("sent packet %d (%d bytes)", p.sequenceNum, p.packetBuffer.Len())
	}
}

// Close implements io.Closer by stopping the publisher.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
