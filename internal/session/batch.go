package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cadenza-audio/cadenza/internal/observe"
	"github.com/cadenza-audio/cadenza/pkg/denoise"
	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
	"github.com/cadenza-audio/cadenza/pkg/provider/vad"
	"github.com/cadenza-audio/cadenza/pkg/segment"
)

// BatchOption configures a RunBatch call.
type BatchOption func(*batchRunner)

// WithBatchVAD attaches a VAD session driving the silence tiers.
func WithBatchVAD(v vad.SessionHandle) BatchOption {
	return func(b *batchRunner) { b.vad = v }
}

// WithBatchDenoiser denoises the whole buffer before split analysis.
func WithBatchDenoiser(d *denoise.Denoiser) BatchOption {
	return func(b *batchRunner) { b.denoiser = d }
}

// WithBatchBypass skips splitting and transcribes the buffer in one pass.
func WithBatchBypass() BatchOption {
	return func(b *batchRunner) { b.bypass = true }
}

// WithBatchMetrics overrides the metrics sink.
func WithBatchMetrics(m *observe.Metrics) BatchOption {
	return func(b *batchRunner) { b.metrics = m }
}

// WithBatchDiarization labels speakers after transcription. The strategy
// receives the full (denoised) buffer as the mixed audio; batch input has no
// per-source records.
func WithBatchDiarization(fn DiarizeFunc) BatchOption {
	return func(b *batchRunner) { b.diarize = fn }
}

type batchRunner struct {
	vad      vad.SessionHandle
	denoiser *denoise.Denoiser
	bypass   bool
	metrics  *observe.Metrics
	diarize  DiarizeFunc
}

// RunBatch splits a fully loaded recording with the same cascade a live
// session uses and transcribes each segment in order. A failed segment gets
// its error recorded in its entry and the run continues; RunBatch itself
// only fails when the input cannot be segmented at all. Context cancellation
// aborts between segments with the entries produced so far.
func RunBatch(ctx context.Context, samples []float32, splitCfg segment.Config, backend asr.Backend, opts ...BatchOption) ([]Entry, error) {
	b := &batchRunner{}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}

	var chunkOpts []segment.ChunkerOption
	if b.denoiser != nil {
		chunkOpts = append(chunkOpts, segment.WithChunkProcessor(b.denoiseHook))
	}
	if b.bypass {
		chunkOpts = append(chunkOpts, segment.WithBypass())
	}
	chunker := segment.NewChunker(segment.NewFinder(splitCfg, b.vad), chunkOpts...)

	segs, err := chunker.Chunk(samples)
	if err != nil {
		return nil, err
	}
	slog.Info("batch chunked",
		"segments", len(segs), "total", segment.TotalDuration(segs), "backend", backend.Name())

	entries := make([]Entry, 0, len(segs))
	for _, seg := range segs {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		b.metrics.RecordSegment(ctx, seg.Tier.String(), seg.Duration())

		segCtx, span := observe.StartSpan(ctx, "batch.transcribe",
			trace.WithAttributes(
				attribute.String("backend", backend.Name()),
				attribute.String("tier", seg.Tier.String()),
			))

		entry := Entry{Segment: segmentInfo(seg), Backend: backend.Name()}
		res, terr := backend.Transcribe(segCtx, seg.Samples)
		if terr != nil {
			entry.Err = terr
			span.RecordError(terr)
			b.metrics.RecordTranscriptionError(segCtx, backend.Name(), errorKind(terr))
			observe.Logger(segCtx).Error("segment transcription failed",
				"segment", seg.ID, "tier", seg.Tier, "error", terr)
		} else {
			entry.Result = res
			b.metrics.RecordTranscription(segCtx, backend.Name(), res.Elapsed)
		}
		span.End()
		entries = append(entries, entry)
	}

	if b.diarize != nil {
		dctx, span := observe.StartSpan(ctx, "batch.diarize")
		turns, derr := b.diarize(dctx, samples, nil)
		if derr != nil {
			span.RecordError(derr)
			slog.Warn("diarization failed, transcript left unlabeled", "error", derr)
		} else {
			entries = MergeSpeakers(entries, turns)
		}
		span.End()
	}
	return entries, nil
}

// FailedSegments counts entries whose transcription errored, split by
// availability failures versus inference failures.
func FailedSegments(entries []Entry) (unavailable, inference int) {
	for _, e := range entries {
		if e.Err == nil {
			continue
		}
		if errors.Is(e.Err, asr.ErrBackendUnavailable) {
			unavailable++
		} else {
			inference++
		}
	}
	return unavailable, inference
}

func (b *batchRunner) denoiseHook(samples []float32) []float32 {
	start := time.Now()
	out, err := b.denoiser.Process(samples)
	if err != nil {
		slog.Warn("denoise failed, using raw samples", "error", err)
		return samples
	}
	b.metrics.DenoiseDuration.Record(context.Background(), time.Since(start).Seconds())
	return out
}
