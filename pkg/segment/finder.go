package segment

import (
	"fmt"
	"time"

	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/provider/vad"
)

// Segment is a bounded slice of audio produced by the cascade and consumed
// exactly once by a transcription backend. Timestamps are relative to
// session start. IDs increase monotonically within one Finder.
type Segment struct {
	ID      uint64
	Samples []float32
	Start   time.Duration
	End     time.Duration

	// Tier records which cascade rung emitted the boundary.
	Tier Tier
}

// Duration returns the segment's play time.
func (s *Segment) Duration() time.Duration {
	return s.End - s.Start
}

// Finder accumulates an in-progress segment frame by frame and applies the
// [Config.Decide] cascade after every frame. It is the single split engine
// behind both front-ends: [Monitor] feeds it from a live ring buffer,
// [Chunker] from a preloaded buffer, and the boundaries that come out are
// identical for identical inputs.
//
// A nil VAD session disables silence detection entirely: every frame counts
// as speech and only the size tier can fire.
//
// Not safe for concurrent use; each Finder is owned by one front-end.
type Finder struct {
	cfg Config
	vad vad.SessionHandle

	nextID    uint64
	pos       time.Duration // absolute stream position
	segStart  time.Duration
	samples   []float32
	hadSpeech bool
}

// NewFinder creates a Finder with cfg (normalized) and an optional VAD
// session. The VAD session is owned by the caller and is reset at each
// emitted boundary.
func NewFinder(cfg Config, v vad.SessionHandle) *Finder {
	return &Finder{
		cfg:    cfg.Normalize(),
		vad:    v,
		nextID: 1,
	}
}

// Config returns the normalized split policy in effect.
func (f *Finder) Config() Config { return f.cfg }

// Push feeds one frame through VAD classification and the cascade. It
// returns a completed segment when a boundary fires at this frame, nil
// otherwise. Leading silence before any speech is not accumulated, so a
// silent room never grows an in-progress segment.
func (f *Finder) Push(frame []float32) (*Segment, error) {
	frameDur := audio.Duration(len(frame))

	cls := vad.ClassSpeech
	var silence time.Duration
	if f.vad != nil {
		var err error
		cls, err = f.vad.Classify(frame)
		if err != nil {
			return nil, fmt.Errorf("segment: classify frame: %w", err)
		}
		silence = f.vad.SilenceDuration()
	}

	if cls == vad.ClassSilence && !f.hadSpeech {
		// Discard leading silence; the next segment starts at first speech.
		f.pos += frameDur
		return nil, nil
	}

	if len(f.samples) == 0 {
		f.segStart = f.pos
	}
	f.samples = append(f.samples, frame...)
	if cls == vad.ClassSpeech {
		f.hadSpeech = true
	}
	f.pos += frameDur

	segDur := audio.Duration(len(f.samples))
	tier := f.cfg.Decide(segDur, silence, f.hadSpeech)
	if tier == TierNone {
		return nil, nil
	}
	return f.cut(tier), nil
}

// PushRaw appends samples to the in-progress segment without VAD
// classification or a cascade decision. Front-ends use it for the trailing
// partial frame ahead of a flush; the samples always count as content.
func (f *Finder) PushRaw(samples []float32) {
	if len(samples) == 0 {
		return
	}
	if len(f.samples) == 0 {
		f.segStart = f.pos
	}
	f.samples = append(f.samples, samples...)
	f.hadSpeech = true
	f.pos += audio.Duration(len(samples))
}

// Flush emits whatever is in progress as a final, possibly short segment.
// Returns nil when nothing meaningful accumulated. The Finder remains
// usable afterwards.
func (f *Finder) Flush() *Segment {
	if len(f.samples) == 0 || !f.hadSpeech {
		f.samples = nil
		f.hadSpeech = false
		return nil
	}
	return f.cut(TierFlush)
}

// cut closes the in-progress segment at the current position. On a size-tier
// split the trailing overlap window seeds the next segment, and the next
// segment's start is backdated accordingly.
func (f *Finder) cut(tier Tier) *Segment {
	seg := &Segment{
		ID:      f.nextID,
		Samples: f.samples,
		Start:   f.segStart,
		End:     f.segStart + audio.Duration(len(f.samples)),
		Tier:    tier,
	}
	f.nextID++

	if tier == TierSize {
		n := audio.SampleCount(f.cfg.Overlap)
		if n > len(seg.Samples) {
			n = len(seg.Samples)
		}
		overlap := make([]float32, n)
		copy(overlap, seg.Samples[len(seg.Samples)-n:])
		f.samples = overlap
		f.segStart = seg.End - audio.Duration(n)
		// hadSpeech carries over: a forced split only happens mid-speech.
	} else {
		f.samples = nil
		f.hadSpeech = false
	}

	if f.vad != nil {
		f.vad.Reset()
	}
	return seg
}
