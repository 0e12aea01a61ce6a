package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cadenza-audio/cadenza/internal/session"
	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
	asrmock "github.com/cadenza-audio/cadenza/pkg/provider/asr/mock"
	"github.com/cadenza-audio/cadenza/pkg/provider/diarize"
	"github.com/cadenza-audio/cadenza/pkg/segment"
)

func TestRunBatchContinuesAfterSegmentError(t *testing.T) {
	backend := &asrmock.Backend{Script: []asrmock.ScriptEntry{
		{Result: &asr.Result{Text: "first"}},
		{Err: &asr.InferenceError{Backend: "mock", Err: errors.New("decode failed")}},
		{Result: &asr.Result{Text: "third"}},
	}}

	// 30 s ceiling, no VAD: 70 s splits into two full segments plus the
	// flushed remainder.
	entries, err := session.RunBatch(context.Background(), tone(70*time.Second),
		segment.Config{MaxSegment: 30 * time.Second}, backend,
		session.WithBatchMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Result.Text != "first" || entries[2].Result.Text != "third" {
		t.Errorf("unexpected texts %q, %q", entries[0].Result.Text, entries[2].Result.Text)
	}
	if entries[1].Err == nil {
		t.Fatal("entry 1 has no error")
	}

	unavailable, inference := session.FailedSegments(entries)
	if unavailable != 0 || inference != 1 {
		t.Errorf("FailedSegments = (%d, %d), want (0, 1)", unavailable, inference)
	}
}

func TestRunBatchBypass(t *testing.T) {
	backend := &asrmock.Backend{Script: []asrmock.ScriptEntry{
		{Result: &asr.Result{Text: "whole file"}},
	}}

	samples := tone(90 * time.Second)
	entries, err := session.RunBatch(context.Background(), samples,
		segment.Config{MaxSegment: 30 * time.Second}, backend,
		session.WithBatchMetrics(testMetrics(t)),
		session.WithBatchBypass())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if got := entries[0].Segment.Duration(); got != 90*time.Second {
		t.Errorf("segment duration = %v, want 90s", got)
	}
	if len(backend.Calls) != 1 || backend.Calls[0] != len(samples) {
		t.Errorf("backend calls = %v, want one call with %d samples", backend.Calls, len(samples))
	}
}

func TestRunBatchEmptyInput(t *testing.T) {
	entries, err := session.RunBatch(context.Background(), nil,
		segment.Config{}, &asrmock.Backend{},
		session.WithBatchMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestRunBatchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &asrmock.Backend{
		TranscribeFunc: func(ctx context.Context, samples []float32) (*asr.Result, error) {
			cancel() // abort after the first segment
			return &asr.Result{Text: "partial"}, nil
		},
	}

	entries, err := session.RunBatch(ctx, tone(70*time.Second),
		segment.Config{MaxSegment: 30 * time.Second}, backend,
		session.WithBatchMetrics(testMetrics(t)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1 before cancellation", len(entries))
	}
}

func TestRunBatchDiarization(t *testing.T) {
	backend := &asrmock.Backend{Script: []asrmock.ScriptEntry{
		{Result: &asr.Result{Text: "labeled"}},
	}}

	fn := func(ctx context.Context, mixed []float32, records []session.NamedRecord) ([]diarize.Turn, error) {
		if len(mixed) != audio.SampleCount(2*time.Second) {
			t.Errorf("diarize got %d samples, want full buffer", len(mixed))
		}
		return []diarize.Turn{{Speaker: "speaker-0", Start: 0, End: 2 * time.Second}}, nil
	}

	entries, err := session.RunBatch(context.Background(), tone(2*time.Second),
		segment.Config{}, backend,
		session.WithBatchMetrics(testMetrics(t)),
		session.WithBatchDiarization(fn))
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if entries[0].Speaker != "speaker-0" {
		t.Errorf("speaker = %q, want speaker-0", entries[0].Speaker)
	}
}
