package audio

import "sync/atomic"

// callbackCore holds everything the real-time callback touches. Buffers are
// allocated once at stream open; the callback never logs, never does I/O,
// and never grows a container, so it completes in bounded time regardless
// of consumer speed.
type callbackCore struct {
	channelMap  []int
	inChannels  int
	outChannels int
	maxFrames   int
	scratch     []float32 // mapped interleaved samples, reused every invocation

	blocks     *BlockQueue
	levels     *LevelQueue
	monitoring *atomic.Bool
	statuses   *atomic.Uint64
}

func newCallbackCore(channelMap []int, inChannels, outChannels, maxFrames int,
	blocks *BlockQueue, levels *LevelQueue,
	monitoring *atomic.Bool, statuses *atomic.Uint64) *callbackCore {
	return &callbackCore{
		channelMap:  channelMap,
		inChannels:  inChannels,
		outChannels: outChannels,
		maxFrames:   maxFrames,
		scratch:     make([]float32, maxFrames*len(channelMap)),
		blocks:      blocks,
		levels:      levels,
		monitoring:  monitoring,
		statuses:    statuses,
	}
}

// process is the body of one callback invocation. statusFlags is the raw
// flag word from the audio subsystem; any non-zero value means this buffer
// is suspect (overflow, underflow, priming) and is skipped, counted, and
// replaced with silence on the monitor output.
func (c *callbackCore) process(in, out []float32, statusFlags uint64) {
	if statusFlags != 0 {
		c.statuses.Add(1)
		zeroSamples(out)
		return
	}

	frames := len(in) / c.inChannels
	if frames == 0 {
		// Degenerate host invocation; nothing to meter or accumulate.
		zeroSamples(out)
		return
	}
	if frames > c.maxFrames {
		// The host delivered more frames than negotiated. Skip rather
		// than allocate on the audio thread.
		c.statuses.Add(1)
		zeroSamples(out)
		return
	}

	mc := len(c.channelMap)
	mapped := c.scratch[:frames*mc]
	for f := 0; f < frames; f++ {
		base := f * c.inChannels
		for i, src := range c.channelMap {
			mapped[f*mc+i] = in[base+src]
		}
	}

	// Ownership of the copy passes to the consumer; the scratch buffer is
	// reused on the next invocation.
	samples := make([]float32, len(mapped))
	copy(samples, mapped)
	c.blocks.TryPush(Block{Samples: samples, Channels: mc})

	c.levels.TryPush(DisplayLevel(Peak(mapped)))

	if out == nil {
		return
	}
	if !c.monitoring.Load() {
		zeroSamples(out)
		return
	}
	c.writeMonitor(mapped, out, frames)
}

// writeMonitor copies the mapped samples into the output buffer: a mono
// map is duplicated into every output channel, a stereo map writes its two
// channels directly (the second is repeated if the output is wider).
func (c *callbackCore) writeMonitor(mapped, out []float32, frames int) {
	mc := len(c.channelMap)
	oc := c.outChannels
	for f := 0; f < frames; f++ {
		for ch := 0; ch < oc; ch++ {
			src := ch
			if src >= mc {
				src = mc - 1
			}
			out[f*oc+ch] = mapped[f*mc+src]
		}
	}
}

func zeroSamples(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}
