// SPDX-License-Identifier: MIT
/*
Package queue implements the bounded single-producer single-consumer rings
that move slot indices between pipeline stages.

A Ring carries its overflow policy:
  - DropOnFull: Push fails immediately with ErrFull. Used at the hardware
    ingress boundary, where the producer must never stall.
  - WaitOnFull: Push retries with a short fixed sleep until space frees up.
    Used between analysis stages, which must never lose a slot.

Thread Safety:
  - Push/TryPush from the producer goroutine only
  - Pop from the consumer goroutine only
  - Positions are monotonically increasing atomics; no locks
*/
package queue

import (
	"errors"
	"sync/atomic"
	"time"

	"iqpipe/pkg/bitint"
)

// ErrFull is returned by Push on a DropOnFull ring with no free space.
var ErrFull = errors.New("queue: ring full")

// Policy selects what Push does when the ring is full.
type Policy int

const (
	DropOnFull Policy = iota
	WaitOnFull
)

// String returns the policy name used in logs.
func (p Policy) String() string {
	switch p {
	case DropOnFull:
		return "drop-on-full"
	case WaitOnFull:
		return "wait-on-full"
	default:
		return "unknown"
	}
}

// DefaultRetryInterval is the micro-sleep between WaitOnFull push attempts.
const DefaultRetryInterval = 100 * time.Microsecond

// Ring is a lock-free SPSC ring of slot indices.
type Ring struct {
	// Producer and consumer positions live on separate cache lines.
	writePos atomic.Uint64
	_pad1    [56]byte
	readPos  atomic.Uint64
	_pad2    [56]byte

	buf    []int
	mask   uint64
	policy Policy
	retry  time.Duration
}

// New creates a ring holding at least capacity indices. The capacity is
// rounded up to a power of two.
func New(capacity int, policy Policy) *Ring {
	if !bitint.IsPowerOfTwo(capacity) {
		capacity = bitint.NextPowerOfTwo(capacity)
	}
	return &Ring{
		buf:    make([]int, capacity),
		mask:   uint64(capacity - 1),
		policy: policy,
		retry:  DefaultRetryInterval,
	}
}

// WithRetryInterval overrides the WaitOnFull sleep. It must be called
// before the ring is shared.
func (r *Ring) WithRetryInterval(d time.Duration) *Ring {
	if d > 0 {
		r.retry = d
	}
	return r
}

// RetryInterval returns the WaitOnFull sleep.
func (r *Ring) RetryInterval() time.Duration {
	return r.retry
}

// TryPush appends v if there is space and reports whether it did.
func (r *Ring) TryPush(v int) bool {
	w := r.writePos.Load()
	if w-r.readPos.Load() == uint64(len(r.buf)) {
		return false
	}
	r.buf[w&r.mask] = v
	// Publishing writePos after the store makes v visible to Pop.
	r.writePos.Store(w + 1)
	return true
}

// Push appends v according to the ring's policy. DropOnFull returns ErrFull
// when there is no space; WaitOnFull blocks until the consumer frees a slot.
func (r *Ring) Push(v int) error {
	if r.TryPush(v) {
		return nil
	}
	if r.policy == DropOnFull {
		return ErrFull
	}
	for !r.TryPush(v) {
		time.Sleep(r.retry)
	}
	return nil
}

// Pop removes the oldest index. It never blocks.
func (r *Ring) Pop() (int, bool) {
	rp := r.readPos.Load()
	if rp == r.writePos.Load() {
		return 0, false
	}
	v := r.buf[rp&r.mask]
	r.readPos.Store(rp + 1)
	return v, true
}

// Len returns the number of queued indices.
func (r *Ring) Len() int {
	return int(r.writePos.Load() - r.readPos.Load())
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Policy returns the overflow policy the ring was built with.
func (r *Ring) Policy() Policy {
	return r.policy
}
