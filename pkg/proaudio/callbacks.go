package proaudio

// The callbacks below run on the driver's own thread. They never block,
// never allocate and never take the backend's locks.

// bufferSwitch fills output half index from the queue, de-interleaving
// the consumer's frames into per-channel driver buffers. Whatever the
// queue cannot cover is written as silence.
func (b *Backend) bufferSwitch(index int, direct bool) {
	sw := b.sw.Load()
	if sw == nil {
		return
	}
	b.switches.Add(1)

	frameSize := sw.channels * sw.sampleSize
	frame := 0
	written := 0

	for frame < sw.frames {
		e := b.queue.Peek()
		if e == nil {
			break
		}

		available := (e.length - e.read) / frameSize
		n := min(available, sw.frames-frame)
		for f := 0; f < n; f++ {
			src := e.buf.Data[e.read+f*frameSize:]
			dst := (frame + f) * sw.sampleSize
			for ch := 0; ch < sw.channels; ch++ {
				copy(sw.buffers[ch].Buffers[index][dst:dst+sw.sampleSize], src[ch*sw.sampleSize:])
			}
		}
		e.read += n * frameSize
		frame += n
		written += n * frameSize

		if e.length-e.read < frameSize {
			done, _ := b.queue.Pop()
			// a full recycle ring leaves the buffer to the collector
			b.recycle.Push(done.buf)
		}
	}

	if frame < sw.frames {
		start := frame * sw.sampleSize
		end := sw.frames * sw.sampleSize
		for ch := 0; ch < sw.channels; ch++ {
			clear(sw.buffers[ch].Buffers[index][start:end])
		}
		if b.started.Load() {
			b.underruns.Add(1)
		}
	}

	_ = sw.driver.OutputReady()
	if relay := b.relay.Load(); relay != nil {
		relay.Set()
	}

	b.queuedFrames.Add(-int64(frame))
	b.queuedBytes.Add(-int64(written))
	b.delivered.Add(int64(written))
}

func (b *Backend) sampleRateDidChange(rate float64) {
	b.log.Warnf(component, "driver sample rate changed to %.0f, resetting", rate)
	b.post(b.reset)
}

// message answers driver queries and requests
func (b *Backend) message(selector, value int) int {
	switch selector {
	case SelectorSupported:
		switch value {
		case EngineVersion, ResetRequest, ResyncRequest, LatenciesChanged, SupportsTimeInfo, Overload:
			return 1
		}
		return 0
	case EngineVersion:
		return 2
	case ResetRequest:
		b.post(b.reset)
		return 1
	case ResyncRequest:
		return 1
	case LatenciesChanged:
		b.post(b.updateLatency)
		return 0
	case SupportsTimeInfo:
		return 0
	case Overload:
		return 1
	}
	return 0
}
