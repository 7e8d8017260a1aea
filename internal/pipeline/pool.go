// SPDX-License-Identifier: MIT
package pipeline

import (
	"fmt"
	"sync/atomic"

	"iqpipe/internal/sample"
)

// BufferPool is a fixed arena of equally sized sample buffers addressed by
// slot index. Buffers are allocated once and never grow; only the reported
// fill length changes.
//
// A slot is in flight from enqueue until the drain worker has written it.
// The producer owns a slot (and its fill length) only while it is not in
// flight. The in-flight count goes above one only when a producer laps the
// drain worker and queues a slot that is still queued.
type BufferPool struct {
	bufs     [][]byte
	fill     []int
	inFlight []atomic.Int32
	capacity int
}

// NewBufferPool allocates n buffers of capacity bytes each, aligned for
// every sample element type. Each fill length starts at capacity.
func NewBufferPool(n, capacity int) *BufferPool {
	p := &BufferPool{
		bufs:     make([][]byte, n),
		fill:     make([]int, n),
		inFlight: make([]atomic.Int32, n),
		capacity: capacity,
	}
	for i := range p.bufs {
		p.bufs[i] = sample.Alloc(capacity)
		p.fill[i] = capacity
	}
	return p
}

// Len returns the number of slots.
func (p *BufferPool) Len() int { return len(p.inFlight) }

// Capacity returns the byte size of every buffer.
func (p *BufferPool) Capacity() int { return p.capacity }

// Acquire returns the full backing storage of slot and its current fill.
func (p *BufferPool) Acquire(slot int) ([]byte, int) {
	return p.bufs[slot], p.fill[slot]
}

// SetFill records how many bytes of slot hold samples.
func (p *BufferPool) SetFill(slot, n int) error {
	if n < 0 || n > p.capacity {
		return fmt.Errorf("fill %d outside buffer capacity %d", n, p.capacity)
	}
	p.fill[slot] = n
	return nil
}

// Filled returns the filled prefix of slot.
func (p *BufferPool) Filled(slot int) []byte {
	return p.bufs[slot][:p.fill[slot]]
}

// Busy reports whether slot is queued or being drained.
func (p *BufferPool) Busy(slot int) bool {
	return p.inFlight[slot].Load() > 0
}

func (p *BufferPool) markInFlight(slot int) { p.inFlight[slot].Add(1) }

func (p *BufferPool) release(slot int) { p.inFlight[slot].Add(-1) }

// releaseBuffers drops the sample storage once no worker can touch it.
// The in-flight counters stay so Busy keeps answering after a run.
func (p *BufferPool) releaseBuffers() {
	p.bufs, p.fill = nil, nil
}

func (p *BufferPool) valid(slot int) bool {
	return p != nil && slot >= 0 && slot < len(p.inFlight)
}
