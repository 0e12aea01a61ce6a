// Package whisper provides an asr.Backend backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once in New and shared across calls. whisper.cpp
// contexts are not reentrant, so Transcribe serializes internally; the
// transcription worker upstream already issues calls one at a time, the lock
// just makes the backend safe regardless.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
)

const defaultLanguage = "en"

// Compile-time assertion that Backend satisfies asr.Backend.
var _ asr.Backend = (*Backend)(nil)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithLanguage sets the language code passed to whisper.cpp (e.g. "en",
// "de"). "auto" enables language detection. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.language = lang }
}

// WithThreads caps the CPU threads whisper.cpp uses per inference. Zero
// leaves the binding's default in place.
func WithThreads(n int) Option {
	return func(b *Backend) { b.threads = n }
}

// Backend implements asr.Backend using a locally loaded whisper.cpp model.
type Backend struct {
	mu       sync.Mutex
	model    whisperlib.Model
	language string
	threads  int
	closed   bool
}

// New loads the whisper.cpp model from modelPath. The caller must call Close
// when the backend is no longer needed.
func New(modelPath string, opts ...Option) (*Backend, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	b := &Backend{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name implements asr.Backend.
func (b *Backend) Name() string { return "whisper" }

// Transcribe runs whisper.cpp inference over samples using a fresh context.
func (b *Backend) Transcribe(ctx context.Context, samples []float32) (*asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, asr.ErrBackendUnavailable
	}

	start := time.Now()

	wctx, err := b.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("%w: create context: %v", asr.ErrBackendUnavailable, err)
	}
	if err := wctx.SetLanguage(b.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", b.language, "error", err)
	}
	if b.threads > 0 {
		wctx.SetThreads(uint(b.threads))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, &asr.InferenceError{Backend: b.Name(), Err: err}
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &asr.InferenceError{Backend: b.Name(), Err: fmt.Errorf("read segment: %w", err)}
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return &asr.Result{
		Text:     strings.Join(parts, " "),
		Language: wctx.DetectedLanguage(),
		Elapsed:  time.Since(start),
	}, nil
}

// Close releases the whisper model. Safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.model.Close()
}
