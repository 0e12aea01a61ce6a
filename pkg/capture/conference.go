package capture

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Conference groups the capture sources of a two-party (or multi-party)
// session, typically one microphone and one loopback. Starting is all or
// nothing: if any source fails to open, the ones already running are rolled
// back so no device is left dangling.
type Conference struct {
	sources []Source
}

// NewConference creates a Conference over sources. Order is preserved and
// becomes the speaker-label order for channel-based diarization.
func NewConference(sources ...Source) *Conference {
	return &Conference{sources: sources}
}

// Sources returns the grouped sources in order.
func (c *Conference) Sources() []Source { return c.sources }

// Start starts every source. On any failure the already-started sources are
// stopped and the first error is returned.
func (c *Conference) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	started := make([]bool, len(c.sources))
	for i, src := range c.sources {
		g.Go(func() error {
			if err := src.Start(gctx); err != nil {
				return err
			}
			started[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for i, src := range c.sources {
			if started[i] {
				_, _ = src.Stop()
			}
		}
		return err
	}
	return nil
}

// Stop stops every source and returns each source's full session audio,
// indexed like Sources. The first stop error is returned after all sources
// have been stopped.
func (c *Conference) Stop() ([][]float32, error) {
	records := make([][]float32, len(c.sources))
	var firstErr error
	for i, src := range c.sources {
		rec, err := src.Stop()
		records[i] = rec
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return records, firstErr
}
