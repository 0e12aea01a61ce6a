package segment

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/provider/vad"
	vadmock "github.com/cadenza-audio/cadenza/pkg/provider/vad/mock"
)

const testFrame = 480 // 30 ms at 16 kHz

// speechFrames returns n frames of a 440 Hz tone at 0.5 amplitude.
func speechFrames(n int) []float32 {
	out := make([]float32, n*testFrame)
	for i := range out {
		out[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(audio.TargetRate)))
	}
	return out
}

// silenceFrames returns n frames of zeros.
func silenceFrames(n int) []float32 {
	return make([]float32, n*testFrame)
}

// peakClassify is a deterministic stand-in for a real VAD: any sample above
// 0.1 makes the frame speech.
func peakClassify(frame []float32) vad.Class {
	for _, s := range frame {
		if s > 0.1 || s < -0.1 {
			return vad.ClassSpeech
		}
	}
	return vad.ClassSilence
}

func newPeakSession() *vadmock.Session {
	return &vadmock.Session{ClassifyFunc: peakClassify, Frame: testFrame}
}

func pushAll(t *testing.T, f *Finder, samples []float32) []*Segment {
	t.Helper()
	var segs []*Segment
	for len(samples) >= testFrame {
		seg, err := f.Push(samples[:testFrame])
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		samples = samples[testFrame:]
		if seg != nil {
			segs = append(segs, seg)
		}
	}
	f.PushRaw(samples)
	return segs
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{}.Normalize()
	if cfg.SemanticSilence != DefaultSemanticSilence {
		t.Errorf("SemanticSilence = %v, want %v", cfg.SemanticSilence, DefaultSemanticSilence)
	}
	if cfg.VADSilence != DefaultVADSilence {
		t.Errorf("VADSilence = %v, want %v", cfg.VADSilence, DefaultVADSilence)
	}
	if cfg.MaxSegment != DefaultMaxSegment {
		t.Errorf("MaxSegment = %v, want %v", cfg.MaxSegment, DefaultMaxSegment)
	}

	low := Config{MaxSegment: 5 * time.Second}.Normalize()
	if low.MaxSegment != MinMaxSegment {
		t.Errorf("MaxSegment below floor = %v, want clamp to %v", low.MaxSegment, MinMaxSegment)
	}
	high := Config{MaxSegment: 4000 * time.Second}.Normalize()
	if high.MaxSegment != MaxMaxSegment {
		t.Errorf("MaxSegment above ceiling = %v, want clamp to %v", high.MaxSegment, MaxMaxSegment)
	}

	wide := Config{MaxSegment: MinMaxSegment, Overlap: time.Minute}.Normalize()
	if wide.Overlap != MinMaxSegment/2 {
		t.Errorf("Overlap = %v, want clamp to %v", wide.Overlap, MinMaxSegment/2)
	}
}

func TestDecideCascade(t *testing.T) {
	cfg := Config{}.Normalize()
	tests := []struct {
		name      string
		segDur    time.Duration
		silence   time.Duration
		hadSpeech bool
		want      Tier
	}{
		{"quiet start", 10 * time.Second, 10 * time.Second, false, TierNone},
		{"mid speech", 10 * time.Second, 0, true, TierNone},
		{"long pause", 10 * time.Second, 2 * time.Second, true, TierSemantic},
		{"long pause below min content", 500 * time.Millisecond, 2 * time.Second, true, TierNone},
		{"short pause early", 10 * time.Second, 600 * time.Millisecond, true, TierNone},
		{"short pause late", 160 * time.Second, 600 * time.Millisecond, true, TierVAD},
		{"long pause wins over vad", 160 * time.Second, 2 * time.Second, true, TierSemantic},
		{"ceiling", 300 * time.Second, 0, true, TierSize},
		{"ceiling without speech class", 300 * time.Second, 300 * time.Second, false, TierSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.Decide(tt.segDur, tt.silence, tt.hadSpeech); got != tt.want {
				t.Errorf("Decide(%v, %v, %v) = %v, want %v", tt.segDur, tt.silence, tt.hadSpeech, got, tt.want)
			}
		})
	}
}

func TestFinderSemanticSplit(t *testing.T) {
	// 3 s speech, 2.52 s silence, 3 s speech: the long pause must produce
	// exactly one semantic boundary, the trailing speech a flush segment.
	f := NewFinder(Config{}, newPeakSession())

	var input []float32
	input = append(input, speechFrames(100)...)
	input = append(input, silenceFrames(84)...)
	input = append(input, speechFrames(100)...)

	segs := pushAll(t, f, input)
	if last := f.Flush(); last != nil {
		segs = append(segs, last)
	}

	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Tier != TierSemantic {
		t.Errorf("first segment tier = %v, want %v", segs[0].Tier, TierSemantic)
	}
	if segs[1].Tier != TierFlush {
		t.Errorf("second segment tier = %v, want %v", segs[1].Tier, TierFlush)
	}
	if segs[0].End <= 3*time.Second || segs[0].End > 5520*time.Millisecond {
		t.Errorf("first segment ends at %v, want inside the silence run", segs[0].End)
	}
	if segs[1].Start < segs[0].End {
		t.Errorf("second segment starts at %v, before first ends at %v", segs[1].Start, segs[0].End)
	}
	if d := segs[1].Duration(); d != 3*time.Second {
		t.Errorf("second segment duration = %v, want 3s (leading silence discarded)", d)
	}
}

func TestFinderSizeCeilingAndOverlap(t *testing.T) {
	// Continuous tone with VAD disabled: only the size tier can fire. With
	// a 30 s ceiling and 40 s of input we expect a forced split and a flush,
	// with the overlap window repeated across the boundary.
	cfg := Config{MaxSegment: 30 * time.Second, Overlap: 500 * time.Millisecond}
	f := NewFinder(cfg, nil)

	input := speechFrames(40 * 1000 / 30) // 40 s
	segs := pushAll(t, f, input)
	if last := f.Flush(); last != nil {
		segs = append(segs, last)
	}

	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Tier != TierSize {
		t.Errorf("first segment tier = %v, want %v", segs[0].Tier, TierSize)
	}
	if d := segs[0].Duration(); d != 30*time.Second {
		t.Errorf("first segment duration = %v, want 30s", d)
	}
	if d := segs[0].Duration(); d > cfg.Normalize().MaxSegment {
		t.Errorf("segment duration %v exceeds ceiling %v", d, cfg.Normalize().MaxSegment)
	}

	wantStart := segs[0].End - 500*time.Millisecond
	if segs[1].Start != wantStart {
		t.Errorf("second segment starts at %v, want %v (500ms before first ends)", segs[1].Start, wantStart)
	}

	n := audio.SampleCount(500 * time.Millisecond)
	tail := segs[0].Samples[len(segs[0].Samples)-n:]
	head := segs[1].Samples[:n]
	for i := range tail {
		if tail[i] != head[i] {
			t.Fatalf("overlap mismatch at sample %d: tail %v, head %v", i, tail[i], head[i])
		}
	}
}

func TestFinderVADTier(t *testing.T) {
	// A short pause splits only once the segment has grown to half the
	// ceiling: 16.5 s of speech then silence, 30 s cap.
	cfg := Config{MaxSegment: 30 * time.Second}
	f := NewFinder(cfg, newPeakSession())

	var input []float32
	input = append(input, speechFrames(550)...) // 16.5 s
	input = append(input, silenceFrames(30)...) // 0.9 s

	segs := pushAll(t, f, input)
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].Tier != TierVAD {
		t.Errorf("tier = %v, want %v", segs[0].Tier, TierVAD)
	}
	if segs[0].End >= 17400*time.Millisecond {
		t.Errorf("segment ends at %v, want a boundary shortly into the pause", segs[0].End)
	}
}

func TestFinderDiscardsLeadingSilence(t *testing.T) {
	f := NewFinder(Config{}, newPeakSession())

	if segs := pushAll(t, f, silenceFrames(100)); len(segs) != 0 {
		t.Fatalf("silence produced %d segments, want 0", len(segs))
	}
	if seg := f.Flush(); seg != nil {
		t.Fatalf("flush after pure silence = %+v, want nil", seg)
	}

	pushAll(t, f, speechFrames(50))
	seg := f.Flush()
	if seg == nil {
		t.Fatal("flush after speech = nil, want a segment")
	}
	if seg.Start != 3*time.Second {
		t.Errorf("segment starts at %v, want 3s (after the discarded silence)", seg.Start)
	}
	if seg.Duration() != 1500*time.Millisecond {
		t.Errorf("segment duration = %v, want 1.5s", seg.Duration())
	}
}

func boundaries(segs []*Segment) [][3]int64 {
	out := make([][3]int64, len(segs))
	for i, s := range segs {
		out[i] = [3]int64{int64(s.Start), int64(s.End), int64(s.Tier)}
	}
	return out
}

func TestStreamingMatchesBatch(t *testing.T) {
	// The core contract: both front-ends over the same policy and the same
	// classifications cut the stream at identical places.
	var input []float32
	input = append(input, speechFrames(100)...)
	input = append(input, silenceFrames(90)...)
	input = append(input, speechFrames(200)...)
	input = append(input, silenceFrames(90)...)
	input = append(input, speechFrames(40)...)

	cfg := Config{MaxSegment: 30 * time.Second}

	chunker := NewChunker(NewFinder(cfg, newPeakSession()))
	batch, err := chunker.Chunk(input)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	ring := audio.NewRing(len(input))
	ring.Write(input)
	mon := NewMonitor(ring, NewFinder(cfg, newPeakSession()), WithPollInterval(time.Millisecond))
	mon.Start(context.Background())
	mon.Stop()

	var streamed []*Segment
	for seg := range mon.Segments() {
		streamed = append(streamed, seg)
	}

	bb, sb := boundaries(batch), boundaries(streamed)
	if len(bb) != len(sb) {
		t.Fatalf("batch produced %d segments, streaming %d", len(bb), len(sb))
	}
	for i := range bb {
		if bb[i] != sb[i] {
			t.Errorf("segment %d: batch %v, streaming %v", i, bb[i], sb[i])
		}
	}
}

func TestChunkerBypass(t *testing.T) {
	input := speechFrames(100)
	c := NewChunker(NewFinder(Config{}, newPeakSession()), WithBypass())
	segs, err := c.Chunk(input)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if len(segs[0].Samples) != len(input) {
		t.Errorf("segment holds %d samples, want %d", len(segs[0].Samples), len(input))
	}
	if segs[0].End != audio.Duration(len(input)) {
		t.Errorf("segment ends at %v, want %v", segs[0].End, audio.Duration(len(input)))
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	c := NewChunker(NewFinder(Config{}, newPeakSession()))
	segs, err := c.Chunk(nil)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if segs != nil {
		t.Errorf("got %d segments from empty input, want none", len(segs))
	}
}

func TestMonitorFlushOnStop(t *testing.T) {
	input := speechFrames(50)
	ring := audio.NewRing(len(input))
	ring.Write(input)

	mon := NewMonitor(ring, NewFinder(Config{}, newPeakSession()))
	mon.Start(context.Background())
	mon.Stop()
	mon.Stop() // idempotent

	var segs []*Segment
	for seg := range mon.Segments() {
		segs = append(segs, seg)
	}
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].Tier != TierFlush {
		t.Errorf("tier = %v, want %v", segs[0].Tier, TierFlush)
	}
	if d := segs[0].Duration(); d != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s", d)
	}
}
