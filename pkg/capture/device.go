package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/cadenza-audio/cadenza/pkg/audio"
)

// defaultRingWindow is how much recent audio the ring retains for the
// monitor. 30 s of headroom covers even a badly stalled consumer.
const defaultRingWindow = 30 * time.Second

// DeviceOption configures a DeviceSource.
type DeviceOption func(*DeviceSource)

// WithRingWindow overrides the ring buffer's retention window.
func WithRingWindow(d time.Duration) DeviceOption {
	return func(s *DeviceSource) {
		if d > 0 {
			s.ringWindow = d
		}
	}
}

// DeviceSource implements Source over one miniaudio capture device.
type DeviceSource struct {
	name       string
	deviceType malgo.DeviceType
	ringWindow time.Duration
	format     malgo.FormatType

	ring *audio.Ring

	mu       sync.Mutex
	record   []float32
	started  bool
	stopOnce sync.Once
	stopErr  error

	mctx   *malgo.AllocatedContext
	device *malgo.Device
}

// Compile-time assertion that DeviceSource satisfies Source.
var _ Source = (*DeviceSource)(nil)

// NewMicrophone creates a source over the default capture device.
func NewMicrophone(opts ...DeviceOption) *DeviceSource {
	return newDevice("mic", malgo.Capture, opts...)
}

// NewLoopback creates a source over the system output loopback, capturing
// what the machine is playing (e.g. the remote side of a call). Loopback
// availability depends on the platform backend.
func NewLoopback(opts ...DeviceOption) *DeviceSource {
	return newDevice("loopback", malgo.Loopback, opts...)
}

func newDevice(name string, dt malgo.DeviceType, opts ...DeviceOption) *DeviceSource {
	s := &DeviceSource{
		name:       name,
		deviceType: dt,
		ringWindow: defaultRingWindow,
	}
	for _, o := range opts {
		o(s)
	}
	s.ring = audio.NewRing(audio.SampleCount(s.ringWindow))
	return s
}

// Name implements Source.
func (s *DeviceSource) Name() string { return s.name }

// Ring implements Source.
func (s *DeviceSource) Ring() *audio.Ring { return s.ring }

// Start implements Source. The device is asked for mono audio at the
// pipeline rate directly, so miniaudio resamples device-side. Float32 frames
// are preferred so onRecv stays copy-only; backends that refuse float32 fall
// back to 16-bit PCM with conversion in the callback.
func (s *DeviceSource) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &CaptureError{Source: s.name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return &CaptureError{Source: s.name, Err: errors.New("already started")}
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return &CaptureError{Source: s.name, Err: err}
	}

	cfg := malgo.DefaultDeviceConfig(s.deviceType)
	cfg.Capture.Channels = 1
	cfg.SampleRate = audio.TargetRate
	cfg.Alsa.NoMMap = 1

	device, err := s.initDevice(mctx, cfg)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return &CaptureError{Source: s.name, Err: err}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return &CaptureError{Source: s.name, Err: err}
	}

	s.mctx = mctx
	s.device = device
	s.started = true
	return nil
}

// initDevice opens the capture device, trying float32 frames first and
// 16-bit PCM second. Records the negotiated format for onRecv.
func (s *DeviceSource) initDevice(mctx *malgo.AllocatedContext, cfg malgo.DeviceConfig) (*malgo.Device, error) {
	var lastErr error
	for _, format := range []malgo.FormatType{malgo.FormatF32, malgo.FormatS16} {
		cfg.Capture.Format = format
		device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
			Data: s.onRecv,
		})
		if err == nil {
			s.format = format
			return device, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// onRecv is the miniaudio data callback. It must complete in bounded time:
// decode the frames, write the ring, append the record.
func (s *DeviceSource) onRecv(_, in []byte, frameCount uint32) {
	n := int(frameCount)
	if n == 0 {
		return
	}
	var samples []float32
	switch s.format {
	case malgo.FormatS16:
		if len(in) < n*2 {
			return
		}
		samples = audio.PCM16ToFloat32(in[:n*2])
	default:
		if len(in) < n*4 {
			return
		}
		samples = make([]float32, n)
		for i := 0; i < n; i++ {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4 : i*4+4]))
		}
	}
	s.ring.Write(samples)

	s.mu.Lock()
	s.record = append(s.record, samples...)
	s.mu.Unlock()
}

// Stop implements Source. The first call tears the device down; every call
// returns the accumulated session audio.
func (s *DeviceSource) Stop() ([]float32, error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		device, mctx := s.device, s.mctx
		s.device, s.mctx = nil, nil
		started := s.started
		s.started = false
		s.mu.Unlock()

		if !started {
			return
		}
		device.Uninit()
		if err := mctx.Uninit(); err != nil {
			s.stopErr = &CaptureError{Source: s.name, Err: err}
		}
		mctx.Free()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record, s.stopErr
}
