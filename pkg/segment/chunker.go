package segment

import (
	"time"

	"github.com/cadenza-audio/cadenza/pkg/audio"
)

// Chunker is the batch front-end over a [Finder]. It runs the same split
// cascade as the streaming [Monitor] over a fully loaded buffer in one pass,
// so a recording chunked offline yields the same boundaries the monitor
// would have produced live.
type Chunker struct {
	finder *Finder
	proc   Processor
	bypass bool
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithChunkProcessor inserts a processing stage applied to the whole buffer
// before analysis (e.g. denoising).
func WithChunkProcessor(p Processor) ChunkerOption {
	return func(c *Chunker) { c.proc = p }
}

// WithBypass disables splitting entirely: Chunk returns the whole buffer as
// a single segment. Used when the caller wants one transcription pass over
// a short file.
func WithBypass() ChunkerOption {
	return func(c *Chunker) { c.bypass = true }
}

// NewChunker creates a chunker driving finder. The finder must not be
// shared with any other front-end.
func NewChunker(finder *Finder, opts ...ChunkerOption) *Chunker {
	c := &Chunker{finder: finder}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Chunk splits samples into segments. The trailing audio that never reached
// a split boundary is flushed as a final segment, so every speech sample in
// the input lands in exactly one segment (forced splits additionally repeat
// the overlap window). An empty input yields no segments.
func (c *Chunker) Chunk(samples []float32) ([]*Segment, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	if c.proc != nil {
		samples = c.proc(samples)
	}
	if c.bypass {
		out := make([]float32, len(samples))
		copy(out, samples)
		return []*Segment{{
			ID:      1,
			Samples: out,
			Start:   0,
			End:     audio.Duration(len(out)),
			Tier:    TierFlush,
		}}, nil
	}

	frameSize := c.frameSize()
	var segs []*Segment
	for len(samples) >= frameSize {
		seg, err := c.finder.Push(samples[:frameSize])
		if err != nil {
			return segs, err
		}
		samples = samples[frameSize:]
		if seg != nil {
			segs = append(segs, seg)
		}
	}
	c.finder.PushRaw(samples)
	if seg := c.finder.Flush(); seg != nil {
		segs = append(segs, seg)
	}
	return segs, nil
}

// TotalDuration is a convenience for callers logging batch progress.
func TotalDuration(segs []*Segment) time.Duration {
	var d time.Duration
	for _, s := range segs {
		d += s.Duration()
	}
	return d
}

func (c *Chunker) frameSize() int {
	if c.finder.vad != nil {
		return c.finder.vad.FrameSize()
	}
	return audio.TargetRate * 30 / 1000
}
