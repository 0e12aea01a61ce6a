package segment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cadenza-audio/cadenza/pkg/audio"
)

// defaultPollInterval is how often the monitor drains the capture ring.
// Short enough that the ring (30 s) never comes close to overwriting unread
// audio under normal scheduling.
const defaultPollInterval = 100 * time.Millisecond

// Processor is an optional stage applied to drained samples before VAD and
// split analysis (e.g. denoising). It must return samples at the same rate;
// implementations that can fail should handle the failure and return the
// input unchanged, since segmentation must keep running on raw audio.
type Processor func([]float32) []float32

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithPollInterval overrides the ring polling interval.
func WithPollInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProcessor inserts a processing stage between the ring and the VAD.
func WithProcessor(p Processor) MonitorOption {
	return func(m *Monitor) { m.proc = p }
}

// WithSegmentBuffer sets the outbound channel depth. Default 16.
func WithSegmentBuffer(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.outBuf = n
		}
	}
}

// Monitor is the streaming front-end over a [Finder]. It runs on its own
// goroutine, polls a capture ring at a fixed interval, feeds new samples to
// the VAD frame by frame, and emits completed segments on [Monitor.Segments]
// in FIFO order. On Stop the in-progress segment is flushed as a final,
// possibly short segment rather than discarded.
type Monitor struct {
	ring     *audio.Ring
	finder   *Finder
	interval time.Duration
	proc     Processor
	outBuf   int

	out chan *Segment

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a monitor draining ring into finder. The finder must
// not be shared with any other front-end.
func NewMonitor(ring *audio.Ring, finder *Finder, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		ring:     ring,
		finder:   finder,
		interval: defaultPollInterval,
		outBuf:   16,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.out = make(chan *Segment, m.outBuf)
	return m
}

// Segments returns the outbound channel. It is closed after Stop (or ctx
// cancellation) once the final flush segment, if any, has been emitted.
// Segments must be consumed in order; the channel is the FIFO handoff to
// the transcription worker.
func (m *Monitor) Segments() <-chan *Segment { return m.out }

// Start launches the polling goroutine. Subsequent calls are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.run(ctx)
	})
}

// Stop terminates the polling loop, flushes the in-progress segment, and
// closes the Segments channel. Safe to call more than once; blocks until
// the goroutine has exited.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	defer close(m.out)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var pending []float32 // partial frame carried between polls

	drain := func() {
		samples := m.ring.ReadAll()
		if len(samples) == 0 {
			return
		}
		if m.proc != nil {
			samples = m.proc(samples)
		}
		pending = append(pending, samples...)

		frameSize := m.frameSize()
		for len(pending) >= frameSize {
			frame := pending[:frameSize]
			pending = pending[frameSize:]

			seg, err := m.finder.Push(frame)
			if err != nil {
				slog.Warn("segment monitor: dropping frame", "err", err)
				continue
			}
			if seg != nil {
				m.emit(ctx, seg)
			}
		}
	}

	// finish performs the final drain and flush before the channel closes.
	finish := func() {
		drain()
		m.finder.PushRaw(pending)
		if seg := m.finder.Flush(); seg != nil {
			m.emit(ctx, seg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			finish()
			return
		case <-m.done:
			finish()
			return
		case <-ticker.C:
			drain()
		}
	}
}

func (m *Monitor) emit(ctx context.Context, seg *Segment) {
	select {
	case m.out <- seg:
	case <-ctx.Done():
	}
}

func (m *Monitor) frameSize() int {
	if m.finder.vad != nil {
		return m.finder.vad.FrameSize()
	}
	// No VAD: frame the stream at 30 ms so the size tier still evaluates
	// at a regular cadence.
	return audio.TargetRate * 30 / 1000
}
