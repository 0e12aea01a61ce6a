package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cadenza-audio/cadenza/internal/observe"
	"github.com/cadenza-audio/cadenza/pkg/capture"
	"github.com/cadenza-audio/cadenza/pkg/denoise"
	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
	"github.com/cadenza-audio/cadenza/pkg/provider/vad"
	"github.com/cadenza-audio/cadenza/pkg/segment"
)

// Option configures a Session.
type Option func(*Session)

// WithDenoiser inserts spectral denoising between the ring and VAD analysis.
// Denoise failures are logged and the raw samples pass through.
func WithDenoiser(d *denoise.Denoiser) Option {
	return func(s *Session) { s.denoiser = d }
}

// WithMetrics overrides the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithVAD attaches a VAD session driving the silence tiers. Without it only
// the size ceiling splits.
func WithVAD(v vad.SessionHandle) Option {
	return func(s *Session) { s.vad = v }
}

// Session is one live capture-and-transcribe run. Create with New, then
// Start; Stop flushes the in-progress segment and returns the transcript
// entries in segment order.
type Session struct {
	id       uuid.UUID
	source   capture.Source
	backend  asr.Backend
	splitCfg segment.Config
	vad      vad.SessionHandle
	denoiser *denoise.Denoiser
	metrics  *observe.Metrics

	monitor *segment.Monitor

	mu      sync.Mutex
	entries []Entry

	started  bool
	stopOnce sync.Once
	record   []float32
	stopErr  error
	wg       sync.WaitGroup
}

// New creates a Session over source, splitting per splitCfg and
// transcribing with backend.
func New(source capture.Source, splitCfg segment.Config, backend asr.Backend, opts ...Option) *Session {
	s := &Session{
		id:       uuid.New(),
		source:   source,
		backend:  backend,
		splitCfg: splitCfg,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	var monOpts []segment.MonitorOption
	if s.denoiser != nil {
		monOpts = append(monOpts, segment.WithProcessor(s.denoiseHook))
	}
	s.monitor = segment.NewMonitor(source.Ring(), segment.NewFinder(splitCfg, s.vad), monOpts...)
	return s
}

// ID returns the session's unique identifier, used in logs and output
// artifacts.
func (s *Session) ID() uuid.UUID { return s.id }

// Start opens the capture device and launches the monitor and the
// transcription worker.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session: already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.source.Start(ctx); err != nil {
		return err
	}
	s.metrics.ActiveSessions.Add(ctx, 1)

	// The monitor and worker outlive ctx: cancelling it signals the caller
	// to Stop, which flushes the in-progress segment and lets in-flight
	// transcription finish instead of abandoning it.
	runCtx := context.WithoutCancel(ctx)
	s.monitor.Start(runCtx)

	s.wg.Add(1)
	go s.transcribeLoop(runCtx)

	slog.Info("session started",
		"session", s.id,
		"source", s.source.Name(),
		"backend", s.backend.Name(),
		"max_segment", s.splitCfg.Normalize().MaxSegment,
	)
	return nil
}

// Stop tears the pipeline down: capture stops, the in-progress segment is
// flushed as a final short segment, in-flight transcription completes, and
// the transcript entries are returned in order along with the source's full
// session audio. Calling Stop again returns the same entries and audio.
func (s *Session) Stop(ctx context.Context) ([]Entry, []float32, error) {
	s.stopOnce.Do(func() {
		s.record, s.stopErr = s.source.Stop()
		s.monitor.Stop()
		s.wg.Wait()
		s.metrics.ActiveSessions.Add(ctx, -1)

		if n := s.source.Ring().Overwritten(); n > 0 {
			s.metrics.RingOverwrites.Add(ctx, int64(n),
				metric.WithAttributes(attribute.String("source", s.source.Name())))
			slog.Warn("capture ring overwrote unread audio", "session", s.id, "samples", n)
		}
		slog.Info("session stopped", "session", s.id, "segments", len(s.entries))
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries, s.record, s.stopErr
}

// transcribeLoop is the single serialized inference worker. Segments arrive
// in emission order and each produces exactly one entry.
func (s *Session) transcribeLoop(ctx context.Context) {
	defer s.wg.Done()

	for seg := range s.monitor.Segments() {
		s.metrics.RecordSegment(ctx, seg.Tier.String(), seg.Duration())

		segCtx, span := observe.StartSpan(ctx, "session.transcribe",
			trace.WithAttributes(
				attribute.String("backend", s.backend.Name()),
				attribute.String("tier", seg.Tier.String()),
			))
		log := observe.Logger(segCtx)

		entry := Entry{Segment: segmentInfo(seg), Backend: s.backend.Name()}
		res, err := s.backend.Transcribe(segCtx, seg.Samples)
		if err != nil {
			entry.Err = err
			span.RecordError(err)
			s.metrics.RecordTranscriptionError(segCtx, s.backend.Name(), errorKind(err))
			log.Error("segment transcription failed",
				"session", s.id, "segment", seg.ID, "tier", seg.Tier, "error", err)
		} else {
			entry.Result = res
			s.metrics.RecordTranscription(segCtx, s.backend.Name(), res.Elapsed)
			log.Debug("segment transcribed",
				"session", s.id, "segment", seg.ID, "tier", seg.Tier,
				"duration", seg.Duration(), "elapsed", res.Elapsed)
		}
		span.End()

		s.mu.Lock()
		s.entries = append(s.entries, entry)
		s.mu.Unlock()
	}
}

// denoiseHook adapts the denoiser to the monitor's processor slot. It never
// fails the pipeline: a malformed buffer passes through raw.
func (s *Session) denoiseHook(samples []float32) []float32 {
	start := time.Now()
	out, err := s.denoiser.Process(samples)
	if err != nil {
		slog.Warn("denoise failed, using raw samples", "session", s.id, "error", err)
		return samples
	}
	s.metrics.DenoiseDuration.Record(context.Background(), time.Since(start).Seconds())
	return out
}

// errorKind maps a transcription error to its metrics attribute.
func errorKind(err error) string {
	if errors.Is(err, asr.ErrBackendUnavailable) {
		return "unavailable"
	}
	return "inference"
}

// RingWindowFor sizes a capture ring for cfg: the segment ceiling plus
// slack, so a briefly stalled monitor cannot lose part of a single segment.
func RingWindowFor(cfg segment.Config) time.Duration {
	n := cfg.Normalize()
	return n.MaxSegment + 10*time.Second
}
