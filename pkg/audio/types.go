// Package audio provides the sample-stream foundation for the Cadenza
// pipeline: 32-bit float mono samples at a fixed 16 kHz target rate, a
// fixed-capacity overwrite-oldest ring buffer, and the conversion helpers
// used at the capture and inference boundaries.
//
// Every stage downstream of resampling assumes [TargetRate] mono float32
// samples in the range [-1, 1]. Stages that receive audio at any other rate
// must resample first (see [ResampleMono]).
package audio

import "time"

// TargetRate is the sample rate (Hz) of every stream downstream of the
// capture/resample boundary.
const TargetRate = 16000

// Duration returns the play time of n samples at [TargetRate].
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / TargetRate
}

// SampleCount returns the number of samples at [TargetRate] covering d.
// The result is rounded down.
func SampleCount(d time.Duration) int {
	return int(d * TargetRate / time.Second)
}
