// Package mock provides a diarize.Engine test double.
package mock

import (
	"context"
	"sync"

	"github.com/cadenza-audio/cadenza/pkg/provider/diarize"
)

// Compile-time assertion that Engine satisfies diarize.Engine.
var _ diarize.Engine = (*Engine)(nil)

// Engine is a configurable mock implementation of diarize.Engine.
// The zero value returns no turns for every call.
type Engine struct {
	mu sync.Mutex

	// DiarizeFunc, when set, handles every call.
	DiarizeFunc func(ctx context.Context, samples []float32, sampleRate int) ([]diarize.Turn, error)

	// Turns and Err are returned when DiarizeFunc is nil.
	Turns []diarize.Turn
	Err   error

	// Calls records (sample count, sample rate) per call.
	Calls [][2]int
}

// Diarize implements diarize.Engine.
func (e *Engine) Diarize(ctx context.Context, samples []float32, sampleRate int) ([]diarize.Turn, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, [2]int{len(samples), sampleRate})
	fn := e.DiarizeFunc
	turns, err := e.Turns, e.Err
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples, sampleRate)
	}
	return turns, err
}
