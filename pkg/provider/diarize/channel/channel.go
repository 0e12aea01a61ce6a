// Package channel implements diarization by capture-source identity.
//
// When each participant arrives on its own capture source (e.g. microphone
// vs. system loopback), the source a sample came from is the speaker label.
// No model is involved and attribution is exact for two sources. The engine
// holds the per-source audio it was built with; the mixed samples passed to
// Diarize only bound the session duration.
package channel

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/provider/diarize"
)

const (
	frameDur = 30 * time.Millisecond

	// defaultThreshold is the per-frame RMS above which a source counts as
	// active, on the [0, 1] sample scale.
	defaultThreshold = 0.01

	// defaultMinGap merges activity intervals separated by less than this,
	// so a breath pause does not fragment a turn.
	defaultMinGap = 300 * time.Millisecond

	// defaultMinTurn drops activity intervals shorter than this, which are
	// usually clicks or bleed from the other source.
	defaultMinTurn = 200 * time.Millisecond
)

// Compile-time assertion that Engine satisfies diarize.Engine.
var _ diarize.Engine = (*Engine)(nil)

// Source is one capture channel with its full session audio.
type Source struct {
	// Name becomes the speaker label for every turn from this source.
	Name string

	// Samples is the source's mono audio for the whole session, at the
	// rate passed to Diarize.
	Samples []float32
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithThreshold overrides the activity RMS threshold.
func WithThreshold(v float64) Option {
	return func(e *Engine) {
		if v > 0 {
			e.threshold = v
		}
	}
}

// WithMinGap overrides the gap-merging window.
func WithMinGap(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.minGap = d
		}
	}
}

// WithMinTurn overrides the minimum turn length.
func WithMinTurn(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.minTurn = d
		}
	}
}

// Engine implements diarize.Engine over named capture sources.
type Engine struct {
	sources   []Source
	threshold float64
	minGap    time.Duration
	minTurn   time.Duration
}

// New creates an Engine over the given sources. At least one source with a
// non-empty name is required.
func New(sources []Source, opts ...Option) (*Engine, error) {
	if len(sources) == 0 {
		return nil, errors.New("channel: at least one source is required")
	}
	for _, s := range sources {
		if s.Name == "" {
			return nil, errors.New("channel: source name must not be empty")
		}
	}
	e := &Engine{
		sources:   sources,
		threshold: defaultThreshold,
		minGap:    defaultMinGap,
		minTurn:   defaultMinTurn,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Diarize returns each source's active-speech intervals labeled with the
// source name, ordered by start time across all sources.
func (e *Engine) Diarize(ctx context.Context, _ []float32, sampleRate int) ([]diarize.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, errors.New("channel: sampleRate must be positive")
	}

	var turns []diarize.Turn
	for _, src := range e.sources {
		turns = append(turns, e.activeIntervals(src, sampleRate)...)
	}
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Start < turns[j].Start })
	return turns, nil
}

// activeIntervals scans one source frame by frame and folds active frames
// into merged, filtered turns.
func (e *Engine) activeIntervals(src Source, sampleRate int) []diarize.Turn {
	frameSize := int(float64(sampleRate) * frameDur.Seconds())
	if frameSize <= 0 {
		return nil
	}

	var (
		turns   []diarize.Turn
		active  bool
		start   time.Duration
		lastEnd time.Duration
	)
	sampleDur := func(n int) time.Duration {
		return time.Duration(float64(n) / float64(sampleRate) * float64(time.Second))
	}

	flush := func(end time.Duration) {
		if !active {
			return
		}
		active = false
		// Merge with the previous turn when the gap is small.
		if n := len(turns); n > 0 && start-turns[n-1].End < e.minGap {
			turns[n-1].End = end
			return
		}
		turns = append(turns, diarize.Turn{Speaker: src.Name, Start: start, End: end})
	}

	for off := 0; off+frameSize <= len(src.Samples); off += frameSize {
		frameStart := sampleDur(off)
		frameEnd := sampleDur(off + frameSize)
		if audio.RMS(src.Samples[off:off+frameSize]) >= e.threshold {
			if !active {
				active = true
				start = frameStart
			}
			lastEnd = frameEnd
		} else if active {
			flush(lastEnd)
		}
	}
	flush(lastEnd)

	// Drop turns too short to be speech.
	out := turns[:0]
	for _, t := range turns {
		if t.Duration() >= e.minTurn {
			out = append(out, t)
		}
	}
	return out
}
