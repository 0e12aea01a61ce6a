package audio

import "sync"

// Ring is a fixed-capacity circular buffer of float32 samples. Once full,
// writes overwrite the oldest samples, so the writer never blocks and memory
// stays bounded regardless of how far the reader lags. This is the
// backpressure policy at the capture boundary: drop oldest, never stall the
// audio callback.
//
// Capacity is fixed at construction; no operation allocates beyond
// O(capacity). All methods are safe for concurrent use, but the intended
// discipline is exactly one writer (the capture source) and one reader
// (the segmentation monitor) per ring.
type Ring struct {
	mu          sync.Mutex
	buf         []float32
	head        int // next write position
	length      int // number of valid samples
	overwritten uint64
}

// NewRing creates a ring holding up to capacity samples.
// A capacity of 30 seconds at [TargetRate] is 480 000 samples.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]float32, capacity)}
}

// Write appends samples, overwriting the oldest data once at capacity.
// It never blocks and never grows the backing store.
func (r *Ring) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A write larger than the whole ring reduces to its last cap samples.
	if len(samples) >= len(r.buf) {
		r.overwritten += uint64(r.length + len(samples) - len(r.buf))
		copy(r.buf, samples[len(samples)-len(r.buf):])
		r.head = 0
		r.length = len(r.buf)
		return
	}

	for _, s := range samples {
		r.buf[r.head] = s
		r.head = (r.head + 1) % len(r.buf)
		if r.length < len(r.buf) {
			r.length++
		} else {
			r.overwritten++
		}
	}
}

// ReadAll drains the buffer, returning every available sample in write order.
// Returns nil when the buffer is empty. The returned slice is a copy.
func (r *Ring) ReadAll() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.length == 0 {
		return nil
	}
	out := make([]float32, r.length)
	start := (r.head - r.length + len(r.buf)) % len(r.buf)
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	r.head = 0
	r.length = 0
	return out
}

// PeekLast returns a copy of the most recent n samples without consuming
// them. If fewer than n samples are available it returns what is there.
func (r *Ring) PeekLast(n int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.length {
		n = r.length
	}
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	start := (r.head - n + len(r.buf)) % len(r.buf)
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Clear resets the buffer to empty without releasing the backing store.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.length = 0
}

// Len returns the number of samples currently buffered.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Cap returns the fixed capacity in samples.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overwritten returns the total number of samples lost to overwrite since
// construction. Useful as a consumer-lag signal for metrics.
func (r *Ring) Overwritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overwritten
}
