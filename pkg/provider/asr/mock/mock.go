// Package mock provides an asr.Backend test double with scriptable results
// and call recording.
package mock

import (
	"context"
	"sync"

	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
)

// Compile-time assertion that Backend satisfies asr.Backend.
var _ asr.Backend = (*Backend)(nil)

// Backend is a configurable mock implementation of asr.Backend.
// The zero value returns an empty Result for every call.
type Backend struct {
	mu sync.Mutex

	// TranscribeFunc, when set, handles every call.
	TranscribeFunc func(ctx context.Context, samples []float32) (*asr.Result, error)

	// Script is consumed one entry per call when TranscribeFunc is nil.
	// After the script runs out, calls return an empty Result.
	Script []ScriptEntry

	// BackendName overrides the reported name. Defaults to "mock".
	BackendName string

	// Calls records the sample count of each Transcribe call in order.
	Calls []int

	// CloseCallCount records Close invocations.
	CloseCallCount int

	scriptPos int
}

// ScriptEntry is one precomputed Transcribe outcome.
type ScriptEntry struct {
	Result *asr.Result
	Err    error
}

// Transcribe implements asr.Backend.
func (b *Backend) Transcribe(ctx context.Context, samples []float32) (*asr.Result, error) {
	b.mu.Lock()
	b.Calls = append(b.Calls, len(samples))
	fn := b.TranscribeFunc
	var entry *ScriptEntry
	if fn == nil && b.scriptPos < len(b.Script) {
		entry = &b.Script[b.scriptPos]
		b.scriptPos++
	}
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples)
	}
	if entry != nil {
		return entry.Result, entry.Err
	}
	return &asr.Result{}, nil
}

// Name implements asr.Backend.
func (b *Backend) Name() string {
	if b.BackendName != "" {
		return b.BackendName
	}
	return "mock"
}

// Close implements asr.Backend and records the call.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCallCount++
	return nil
}
