// SPDX-License-Identifier: MIT
package pipeline

import (
	"fmt"
	"time"

	"iqpipe/internal/analysis"
	"iqpipe/internal/metrics"
)

// runStage polls pass until upstreamDone reports true, then runs one final
// pass so nothing queued before the upstream stage finished is lost.
func (p *Pipeline) runStage(name string, pass func(), upstreamDone func() bool) {
	for !upstreamDone() {
		pass()
		time.Sleep(p.poll)
	}
	pass()
	logger.Debugf("%s worker done", name)
}

func (p *Pipeline) drainWorker() {
	defer p.wg.Done()
	p.runStage("drain", p.drainPass, p.producerDone.Load)
	p.drainDone.Store(true)
}

func (p *Pipeline) dispatchWorker() {
	defer p.wg.Done()
	p.runStage("dispatch", p.dispatchPass, p.drainDone.Load)
	p.dispatchDone.Store(true)
}

func (p *Pipeline) collectWorker() {
	defer p.wg.Done()
	p.runStage("collect", p.collectPass, p.dispatchDone.Load)
}

// drainPass empties the sample queue: each buffer is analysed, written to
// the raw sink in full, and handed back to the producer.
func (p *Pipeline) drainPass() {
	for {
		slot, ok := p.samples.Pop()
		if !ok {
			return
		}
		buf := p.pool.Filled(slot)
		if p.windower != nil {
			p.accumulate(buf)
		}
		if p.raw.Opened() && p.raw.Err() == nil {
			n, err := p.raw.Write(buf)
			p.metrics.RecordSinkBytes(metrics.SinkRaw, n)
			p.recordErr(err)
		}
		p.pool.release(slot)
		logger.Debugf("drained slot %d (%d bytes)", slot, len(buf))
	}
}

// accumulate decodes buf into the accumulator one full refill at a time
// and queues every DS-th refill for transform. A trailing remainder shorter
// than the accumulator is not analysed.
func (p *Pipeline) accumulate(buf []byte) {
	refill := len(p.acc) * p.cfg.Format.Size()
	for off := 0; off+refill <= len(buf); off += refill {
		p.cfg.Format.Decode(p.acc, buf[off:off+refill])
		p.dsCount++
		if p.dsCount == p.cfg.DS {
			p.dsCount = 0
			p.queueFFT()
		}
	}
}

// queueFFT windows the accumulator into a free slot and pushes it onto the
// request ring, waiting for a slot or ring space rather than dropping.
func (p *Pipeline) queueFFT() {
	slot, ok := p.free.Pop()
	for !ok {
		time.Sleep(p.requests.RetryInterval())
		slot, ok = p.free.Pop()
	}
	s := &p.slots[slot]
	s.failed = false
	p.windower.Fill(&s.in, p.acc)
	_ = p.requests.Push(slot)
}

// dispatchPass transforms every requested slot in order.
func (p *Pipeline) dispatchPass() {
	for {
		slot, ok := p.requests.Pop()
		if !ok {
			return
		}
		s := &p.slots[slot]
		if err := p.transformer.Transform(&s.in, &s.out); err != nil {
			s.failed = true
			p.recordErr(fmt.Errorf("fft slot %d: %w", slot, err))
		} else {
			p.metrics.RecordDispatch()
		}
		_ = p.results.Push(slot)
	}
}

// collectPass converts every transformed slot to dB, writes it to the
// spectrogram sink, publishes the live row and frees the slot.
func (p *Pipeline) collectPass() {
	for {
		slot, ok := p.results.Pop()
		if !ok {
			return
		}
		s := &p.slots[slot]
		if !s.failed {
			p.collect(s)
		}
		_ = p.free.Push(slot)
	}
}

func (p *Pipeline) collect(s *fftSlot) {
	data := p.spectro.Encode(&s.out)
	if p.fftSink.Opened() && p.fftSink.Err() == nil {
		n, err := p.fftSink.Write(data)
		p.metrics.RecordSinkBytes(metrics.SinkFFT, n)
		p.recordErr(err)
	}
	p.metrics.RecordCollect()

	row := make([]float32, p.spectro.Bins())
	p.spectro.MeanInto(row)
	p.latest.Store(&row)

	if p.monitor != nil {
		frame := analysis.SpectrumFrame{Seq: p.seq.Add(1), Columns: s.out.Cols(), Bins: row}
		if err := p.monitor.Send(frame); err != nil {
			logger.Debugf("monitor send: %v", err)
		}
	}
}
