package session_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cadenza-audio/cadenza/internal/observe"
	"github.com/cadenza-audio/cadenza/internal/session"
	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/capture"
	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
	asrmock "github.com/cadenza-audio/cadenza/pkg/provider/asr/mock"
	"github.com/cadenza-audio/cadenza/pkg/segment"
)

// fakeSource is an in-memory capture.Source. Its ring is pre-filled by the
// test; Stop returns the configured record.
type fakeSource struct {
	name   string
	record []float32

	mu        sync.Mutex
	stopCalls int
	ring      *audio.Ring
}

var _ capture.Source = (*fakeSource)(nil)

func newFakeSource(name string, ringCap int) *fakeSource {
	return &fakeSource{name: name, ring: audio.NewRing(ringCap)}
}

func (f *fakeSource) Name() string                    { return f.name }
func (f *fakeSource) Start(ctx context.Context) error { return nil }
func (f *fakeSource) Ring() *audio.Ring               { return f.ring }

func (f *fakeSource) Stop() ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.record, nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// tone produces d of a quiet sine at the pipeline rate.
func tone(d time.Duration) []float32 {
	n := audio.SampleCount(d)
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.2 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(audio.TargetRate)))
	}
	return out
}

func TestSessionTranscribesFlushSegment(t *testing.T) {
	src := newFakeSource("mic", audio.TargetRate*10)
	backend := &asrmock.Backend{Script: []asrmock.ScriptEntry{
		{Result: &asr.Result{Text: "hello world", Elapsed: time.Millisecond}},
	}}

	s := session.New(src, segment.Config{}, backend,
		session.WithMetrics(testMetrics(t)))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// No VAD and well under the size ceiling: everything lands in the
	// final flush segment on Stop.
	src.Ring().Write(tone(2 * time.Second))

	entries, _, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Err != nil {
		t.Fatalf("entry error: %v", e.Err)
	}
	if e.Result.Text != "hello world" {
		t.Errorf("text = %q, want %q", e.Result.Text, "hello world")
	}
	if e.Segment.Tier != segment.TierFlush {
		t.Errorf("tier = %v, want flush", e.Segment.Tier)
	}
	if got := e.Segment.Duration(); got != 2*time.Second {
		t.Errorf("segment duration = %v, want 2s", got)
	}
}

func TestSessionContinuesAfterSegmentError(t *testing.T) {
	src := newFakeSource("mic", audio.TargetRate*80)
	infErr := &asr.InferenceError{Backend: "mock", Err: errors.New("decode failed")}
	backend := &asrmock.Backend{Script: []asrmock.ScriptEntry{
		{Result: &asr.Result{Text: "one"}},
		{Err: infErr},
		{Result: &asr.Result{Text: "three"}},
	}}

	// 30 s ceiling, no VAD: 70 s of audio forces two size splits plus the
	// final flush.
	cfg := segment.Config{MaxSegment: 30 * time.Second}
	s := session.New(src, cfg, backend,
		session.WithMetrics(testMetrics(t)))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Ring().Write(tone(70 * time.Second))

	entries, _, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	for i, id := range []uint64{1, 2, 3} {
		if entries[i].Segment.ID != id {
			t.Errorf("entry %d segment ID = %d, want %d", i, entries[i].Segment.ID, id)
		}
	}
	if entries[0].Result.Text != "one" || entries[2].Result.Text != "three" {
		t.Errorf("unexpected texts %q, %q", entries[0].Result.Text, entries[2].Result.Text)
	}

	var wrapped *asr.InferenceError
	if !errors.As(entries[1].Err, &wrapped) {
		t.Fatalf("entry 1 error = %v, want InferenceError", entries[1].Err)
	}
	if entries[1].Result != nil {
		t.Errorf("failed entry carries a result")
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	src := newFakeSource("mic", audio.TargetRate*10)
	src.record = tone(time.Second)
	backend := &asrmock.Backend{}

	s := session.New(src, segment.Config{}, backend,
		session.WithMetrics(testMetrics(t)))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Ring().Write(tone(time.Second))

	first, firstRec, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	second, secondRec, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if len(first) != len(second) {
		t.Errorf("second Stop returned %d entries, want %d", len(second), len(first))
	}
	if len(firstRec) == 0 || len(secondRec) != len(firstRec) {
		t.Errorf("second Stop returned %d record samples, want %d", len(secondRec), len(firstRec))
	}
	if src.stopCalls != 1 {
		t.Errorf("source stopped %d times, want 1", src.stopCalls)
	}
}

func TestSessionDoubleStart(t *testing.T) {
	src := newFakeSource("mic", audio.TargetRate)
	s := session.New(src, segment.Config{}, &asrmock.Backend{},
		session.WithMetrics(testMetrics(t)))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded, want error")
	}
	if _, _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestConferenceSessionMixesAndLabels(t *testing.T) {
	// Source "a" speaks for the first two seconds, "b" from 3 s to 5 s.
	quiet := make([]float32, audio.SampleCount(3*time.Second))
	recA := append(tone(2*time.Second), quiet...)
	recB := append(make([]float32, audio.SampleCount(3*time.Second)), tone(2*time.Second)...)

	srcA := newFakeSource("a", audio.TargetRate*10)
	srcA.record = recA
	srcB := newFakeSource("b", audio.TargetRate*10)
	srcB.record = recB

	conf := capture.NewConference(srcA, srcB)
	backend := &asrmock.Backend{Script: []asrmock.ScriptEntry{
		{Result: &asr.Result{Text: "mixed take"}},
	}}

	// Fill both rings before starting so every mixer pass sees the sources
	// aligned.
	srcA.Ring().Write(recA)
	srcB.Ring().Write(recB)

	c := session.NewConference(conf, segment.Config{}, backend,
		session.WithConferenceMetrics(testMetrics(t)),
		session.WithDiarization(session.ChannelDiarization()))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	entries, mixed, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Result.Text != "mixed take" {
		t.Errorf("text = %q, want %q", entries[0].Result.Text, "mixed take")
	}
	// Both speakers overlap the single five-second segment equally; the
	// earlier turn wins the tie.
	if entries[0].Speaker != "a" {
		t.Errorf("speaker = %q, want %q", entries[0].Speaker, "a")
	}
	if got, want := len(mixed), audio.SampleCount(5*time.Second); got != want {
		t.Errorf("mixed record has %d samples, want %d", got, want)
	}
}

func TestConferenceSessionWithoutDiarization(t *testing.T) {
	src := newFakeSource("mic", audio.TargetRate*10)
	conf := capture.NewConference(src)
	backend := &asrmock.Backend{}

	c := session.NewConference(conf, segment.Config{}, backend,
		session.WithConferenceMetrics(testMetrics(t)))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Ring().Write(tone(time.Second))

	entries, _, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Speaker != "" {
		t.Errorf("speaker = %q, want empty", entries[0].Speaker)
	}
}

func TestConferenceSessionStopIsIdempotent(t *testing.T) {
	src := newFakeSource("mic", audio.TargetRate*10)
	conf := capture.NewConference(src)

	c := session.NewConference(conf, segment.Config{}, &asrmock.Backend{},
		session.WithConferenceMetrics(testMetrics(t)))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Ring().Write(tone(time.Second))

	first, firstMixed, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	second, secondMixed, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if len(first) != len(second) {
		t.Errorf("second Stop returned %d entries, want %d", len(second), len(first))
	}
	if len(firstMixed) == 0 || len(secondMixed) != len(firstMixed) {
		t.Errorf("second Stop returned %d mixed samples, want %d", len(secondMixed), len(firstMixed))
	}
	if src.stopCalls != 1 {
		t.Errorf("source stopped %d times, want 1", src.stopCalls)
	}
}

// level produces d of a constant-amplitude signal at the pipeline rate.
func level(d time.Duration, v float32) []float32 {
	out := make([]float32, audio.SampleCount(d))
	for i := range out {
		out[i] = v
	}
	return out
}

func TestConferenceMixKeepsLaggingSourceAligned(t *testing.T) {
	srcA := newFakeSource("a", audio.TargetRate*10)
	srcB := newFakeSource("b", audio.TargetRate*10)
	conf := capture.NewConference(srcA, srcB)

	c := session.NewConference(conf, segment.Config{}, &asrmock.Backend{},
		session.WithConferenceMetrics(testMetrics(t)))

	// Source "a" has two seconds ready immediately, "b" delivers its second
	// second late. The mix must still pair a's second second with b's, not
	// run ahead with a alone.
	srcA.Ring().Write(level(2*time.Second, 0.25))
	srcB.Ring().Write(level(time.Second, 0.25))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	srcB.Ring().Write(level(time.Second, -0.25))
	time.Sleep(150 * time.Millisecond)

	_, mixed, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got, want := len(mixed), audio.SampleCount(2*time.Second); got != want {
		t.Fatalf("mixed record has %d samples, want %d", got, want)
	}
	quarter := audio.SampleCount(500 * time.Millisecond)
	if v := mixed[quarter]; math.Abs(float64(v-0.5)) > 1e-3 {
		t.Errorf("first second mixes to %v, want 0.5", v)
	}
	if v := mixed[3*quarter]; math.Abs(float64(v)) > 1e-3 {
		t.Errorf("second second mixes to %v, want 0", v)
	}
}

func TestSessionRecordsTranscriptionSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		_ = tp.Shutdown(context.Background())
	})

	src := newFakeSource("mic", audio.TargetRate*10)
	backend := &asrmock.Backend{Script: []asrmock.ScriptEntry{
		{Err: errors.New("boom")},
	}}

	s := session.New(src, segment.Config{}, backend,
		session.WithMetrics(testMetrics(t)))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Ring().Write(tone(time.Second))
	if _, _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	var found bool
	for _, sp := range exp.GetSpans() {
		if sp.Name != "session.transcribe" {
			continue
		}
		found = true
		if len(sp.Events) == 0 {
			t.Error("failed transcription span has no recorded error event")
		}
	}
	if !found {
		t.Fatal("no session.transcribe span recorded")
	}
}
