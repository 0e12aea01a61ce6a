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
	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/capture"
	"github.com/cadenza-audio/cadenza/pkg/denoise"
	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
	"github.com/cadenza-audio/cadenza/pkg/provider/diarize"
	"github.com/cadenza-audio/cadenza/pkg/provider/diarize/channel"
	"github.com/cadenza-audio/cadenza/pkg/provider/vad"
	"github.com/cadenza-audio/cadenza/pkg/segment"
)

// mixInterval is how often the conference mixer drains the per-source rings
// into the combined ring the monitor watches.
const mixInterval = 50 * time.Millisecond

// NamedRecord is one source's full session audio, labeled with the source
// name. The diarization strategy receives these at stop time.
type NamedRecord struct {
	Name    string
	Samples []float32
}

// DiarizeFunc attributes speaker turns after a conference stops. mixed is
// the full mixed-down session audio, records the per-source audio in source
// order. Implementations pick whichever input they need.
type DiarizeFunc func(ctx context.Context, mixed []float32, records []NamedRecord) ([]diarize.Turn, error)

// ChannelDiarization diarizes from the per-source records: each source is
// one speaker, active wherever its own channel carries energy.
func ChannelDiarization(opts ...channel.Option) DiarizeFunc {
	return func(ctx context.Context, _ []float32, records []NamedRecord) ([]diarize.Turn, error) {
		sources := make([]channel.Source, len(records))
		for i, r := range records {
			sources[i] = channel.Source{Name: r.Name, Samples: r.Samples}
		}
		eng, err := channel.New(sources, opts...)
		if err != nil {
			return nil, err
		}
		return eng.Diarize(ctx, nil, audio.TargetRate)
	}
}

// EngineDiarization diarizes the mixed-down session audio with eng,
// typically a neural engine behind an inference server.
func EngineDiarization(eng diarize.Engine) DiarizeFunc {
	return func(ctx context.Context, mixed []float32, _ []NamedRecord) ([]diarize.Turn, error) {
		return eng.Diarize(ctx, mixed, audio.TargetRate)
	}
}

// ConferenceOption configures a ConferenceSession.
type ConferenceOption func(*ConferenceSession)

// WithConferenceDenoiser inserts spectral denoising ahead of VAD analysis
// on the mixed stream.
func WithConferenceDenoiser(d *denoise.Denoiser) ConferenceOption {
	return func(c *ConferenceSession) { c.denoiser = d }
}

// WithConferenceMetrics overrides the metrics sink.
func WithConferenceMetrics(m *observe.Metrics) ConferenceOption {
	return func(c *ConferenceSession) { c.metrics = m }
}

// WithConferenceVAD attaches a VAD session driving the silence tiers.
func WithConferenceVAD(v vad.SessionHandle) ConferenceOption {
	return func(c *ConferenceSession) { c.vad = v }
}

// WithDiarization sets the speaker-attribution strategy run at Stop. Without
// it entries keep an empty Speaker.
func WithDiarization(fn DiarizeFunc) ConferenceOption {
	return func(c *ConferenceSession) { c.diarize = fn }
}

// ConferenceSession captures several sources at once (typically microphone
// plus loopback), mixes them into one stream for segmentation and
// transcription, and attributes speakers from the per-source audio when the
// session stops.
type ConferenceSession struct {
	id       uuid.UUID
	conf     *capture.Conference
	backend  asr.Backend
	splitCfg segment.Config
	vad      vad.SessionHandle
	denoiser *denoise.Denoiser
	metrics  *observe.Metrics
	diarize  DiarizeFunc

	mixRing *audio.Ring
	mixed   []float32 // full mixed record, mixer goroutine only until Stop
	monitor *segment.Monitor

	mu      sync.Mutex
	entries []Entry

	started  bool
	stopOnce sync.Once
	stopErr  error
	mixDone  chan struct{}
	wg       sync.WaitGroup
	workerWG sync.WaitGroup
}

// NewConference creates a conference session over conf's sources.
func NewConference(conf *capture.Conference, splitCfg segment.Config, backend asr.Backend, opts ...ConferenceOption) *ConferenceSession {
	c := &ConferenceSession{
		id:       uuid.New(),
		conf:     conf,
		backend:  backend,
		splitCfg: splitCfg,
		mixDone:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	c.mixRing = audio.NewRing(audio.SampleCount(RingWindowFor(splitCfg)))
	var monOpts []segment.MonitorOption
	if c.denoiser != nil {
		monOpts = append(monOpts, segment.WithProcessor(c.denoiseHook))
	}
	c.monitor = segment.NewMonitor(c.mixRing, segment.NewFinder(splitCfg, c.vad), monOpts...)
	return c
}

// ID returns the session's unique identifier.
func (c *ConferenceSession) ID() uuid.UUID { return c.id }

// Start opens every capture source, then launches the mixer, the monitor
// and the transcription worker. All or nothing: a source failure rolls back
// the sources already running.
func (c *ConferenceSession) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("session: conference already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.conf.Start(ctx); err != nil {
		return err
	}
	c.metrics.ActiveSessions.Add(ctx, 1)

	// Detached from ctx for the same reason as the single-source session:
	// cancellation means "stop gracefully", driven through Stop.
	runCtx := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go c.mixLoop(runCtx)

	c.monitor.Start(runCtx)
	c.workerWG.Add(1)
	go c.transcribeLoop(runCtx)

	names := make([]string, len(c.conf.Sources()))
	for i, src := range c.conf.Sources() {
		names[i] = src.Name()
	}
	slog.Info("conference session started",
		"session", c.id, "sources", names, "backend", c.backend.Name())
	return nil
}

// Stop tears the conference down: capture stops, the mixer drains the last
// samples, the in-progress segment flushes, transcription completes, and the
// configured diarization strategy labels the entries. Returns the labeled
// entries and the full mixed session audio; calling Stop again returns the
// same entries and audio.
func (c *ConferenceSession) Stop(ctx context.Context) ([]Entry, []float32, error) {
	c.stopOnce.Do(func() {
		records, err := c.conf.Stop()
		c.stopErr = err

		close(c.mixDone)
		c.wg.Wait() // mixer has written its final drain to the ring
		c.monitor.Stop()
		c.workerWG.Wait()
		c.metrics.ActiveSessions.Add(ctx, -1)

		for _, src := range c.conf.Sources() {
			if n := src.Ring().Overwritten(); n > 0 {
				c.metrics.RingOverwrites.Add(ctx, int64(n),
					metric.WithAttributes(attribute.String("source", src.Name())))
				slog.Warn("capture ring overwrote unread audio",
					"session", c.id, "source", src.Name(), "samples", n)
			}
		}

		if c.diarize != nil {
			c.labelSpeakers(ctx, records)
		}
		slog.Info("conference session stopped", "session", c.id, "segments", len(c.entries))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries, c.mixed, c.stopErr
}

// mixLoop drains every source ring at a fixed cadence, mixes the drained
// samples down to one mono stream, and writes it to the combined ring the
// monitor watches. Drained samples go into per-source pending buffers and
// each pass mixes only as many samples as every source has delivered, so a
// source whose device delivers late holds the mix back instead of drifting
// against the others across passes. Surplus stays pending for the next pass.
func (c *ConferenceSession) mixLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(mixInterval)
	defer ticker.Stop()

	sources := c.conf.Sources()
	pending := make([][]float32, len(sources))

	mix := func(final bool) {
		n := -1
		for i, src := range sources {
			pending[i] = append(pending[i], src.Ring().ReadAll()...)
			if n < 0 || len(pending[i]) < n {
				n = len(pending[i])
			}
		}
		if final {
			// Last pass: stopped sources never deliver the rest, so mix to
			// the longest pending buffer and let MixMono pad the tails.
			n = 0
			for i := range pending {
				if len(pending[i]) > n {
					n = len(pending[i])
				}
			}
		}
		if n <= 0 {
			return
		}

		var mixed []float32
		for i := range pending {
			chunk := pending[i]
			if len(chunk) > n {
				chunk = chunk[:n]
			}
			mixed = audio.MixMono(mixed, chunk)
			pending[i] = append(pending[i][:0], pending[i][len(chunk):]...)
		}
		c.mixRing.Write(mixed)
		c.mixed = append(c.mixed, mixed...)
	}

	for {
		select {
		case <-ctx.Done():
			mix(true)
			return
		case <-c.mixDone:
			mix(true)
			return
		case <-ticker.C:
			mix(false)
		}
	}
}

// transcribeLoop mirrors the single-source session worker: serialized FIFO
// inference over the mixed stream's segments.
func (c *ConferenceSession) transcribeLoop(ctx context.Context) {
	defer c.workerWG.Done()

	for seg := range c.monitor.Segments() {
		c.metrics.RecordSegment(ctx, seg.Tier.String(), seg.Duration())

		segCtx, span := observe.StartSpan(ctx, "session.transcribe",
			trace.WithAttributes(
				attribute.String("backend", c.backend.Name()),
				attribute.String("tier", seg.Tier.String()),
			))

		entry := Entry{Segment: segmentInfo(seg), Backend: c.backend.Name()}
		res, err := c.backend.Transcribe(segCtx, seg.Samples)
		if err != nil {
			entry.Err = err
			span.RecordError(err)
			c.metrics.RecordTranscriptionError(segCtx, c.backend.Name(), errorKind(err))
			observe.Logger(segCtx).Error("segment transcription failed",
				"session", c.id, "segment", seg.ID, "tier", seg.Tier, "error", err)
		} else {
			entry.Result = res
			c.metrics.RecordTranscription(segCtx, c.backend.Name(), res.Elapsed)
		}
		span.End()

		c.mu.Lock()
		c.entries = append(c.entries, entry)
		c.mu.Unlock()
	}
}

// labelSpeakers runs the diarization strategy over the session audio and
// merges the resulting turns into the entries. Diarization failure leaves
// the transcript unlabeled rather than failing the stop.
func (c *ConferenceSession) labelSpeakers(ctx context.Context, records [][]float32) {
	named := make([]NamedRecord, len(records))
	for i, rec := range records {
		named[i] = NamedRecord{Name: c.conf.Sources()[i].Name(), Samples: rec}
	}

	ctx, span := observe.StartSpan(ctx, "session.diarize")
	defer span.End()

	turns, err := c.diarize(ctx, c.mixed, named)
	if err != nil {
		span.RecordError(err)
		slog.Warn("diarization failed, transcript left unlabeled", "session", c.id, "error", err)
		return
	}

	c.mu.Lock()
	c.entries = MergeSpeakers(c.entries, turns)
	c.mu.Unlock()
	slog.Debug("speakers merged", "session", c.id, "turns", len(turns))
}

func (c *ConferenceSession) denoiseHook(samples []float32) []float32 {
	start := time.Now()
	out, err := c.denoiser.Process(samples)
	if err != nil {
		slog.Warn("denoise failed, using raw samples", "session", c.id, "error", err)
		return samples
	}
	c.metrics.DenoiseDuration.Record(context.Background(), time.Since(start).Seconds())
	return out
}
