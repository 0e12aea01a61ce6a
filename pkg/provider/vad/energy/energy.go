// Package energy implements a pure-Go voice activity detector based on
// short-term RMS energy against an adaptive noise-floor threshold.
//
// The detector is cheap enough to run on every frame. Hysteresis (separate
// consecutive-frame requirements for entering and leaving speech) prevents
// flickering between classes on breathy or plosive audio, and the noise floor
// adapts with an exponential moving average over frames classified as
// silence, so a noisy room raises the effective threshold instead of turning
// everything into speech.
package energy

import (
	"fmt"
	"time"

	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/provider/vad"
)

const (
	// frameSize is 30 ms at 16 kHz. Energy statistics over shorter windows
	// are too jittery to threshold reliably.
	frameSize = 480

	// defaultThreshold is the baseline RMS level ([0, 1] scale) that
	// separates speech from silence before noise-floor adaptation.
	defaultThreshold = 0.015

	// floorRatio scales the adapted noise floor into a speech threshold:
	// a frame must be this many times louder than the ambient floor.
	floorRatio = 3.0

	// floorAlpha is the EMA coefficient for noise-floor adaptation.
	floorAlpha = 0.05

	// speechRunFrames and silenceRunFrames implement hysteresis: frames of
	// the opposite class required before the state flips.
	speechRunFrames  = 2
	silenceRunFrames = 3
)

// Engine creates adaptive energy VAD sessions. The zero value is usable.
type Engine struct{}

// Compile-time assertion that Engine implements vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession creates a session. cfg.SampleRate must be the pipeline target
// rate; cfg.Threshold overrides the baseline RMS threshold when non-zero.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != audio.TargetRate {
		return nil, fmt.Errorf("energy: unsupported sample rate %d (want %d)", cfg.SampleRate, audio.TargetRate)
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if threshold >= 1 {
		return nil, fmt.Errorf("energy: threshold %v out of range (0, 1)", threshold)
	}
	return &session{
		baseThreshold: threshold,
		noiseFloor:    threshold / floorRatio,
	}, nil
}

// session holds the per-stream detector state. Not goroutine-safe; owned by
// the segmentation loop.
type session struct {
	baseThreshold float64
	noiseFloor    float64

	inSpeech    bool
	speechRun   int
	silenceRun  int
	silenceAcc  time.Duration
	closed      bool
}

var _ vad.SessionHandle = (*session)(nil)

func (s *session) FrameSize() int { return frameSize }

// Classify computes the frame RMS, adapts the noise floor on quiet frames,
// and applies hysteresis before reporting the class.
func (s *session) Classify(frame []float32) (vad.Class, error) {
	if s.closed {
		return vad.ClassSilence, fmt.Errorf("energy: session is closed")
	}
	if len(frame) != frameSize {
		return vad.ClassSilence, fmt.Errorf("energy: frame size %d, want %d", len(frame), frameSize)
	}

	level := audio.RMS(frame)
	threshold := s.noiseFloor * floorRatio
	if threshold < s.baseThreshold {
		threshold = s.baseThreshold
	}
	loud := level >= threshold

	if !loud {
		// Quiet frame: fold into the ambient floor estimate.
		s.noiseFloor = (1-floorAlpha)*s.noiseFloor + floorAlpha*level
	}

	if s.inSpeech {
		if loud {
			s.silenceRun = 0
		} else {
			s.silenceRun++
			if s.silenceRun >= silenceRunFrames {
				s.inSpeech = false
				s.silenceRun = 0
			}
		}
	} else {
		if loud {
			s.speechRun++
			if s.speechRun >= speechRunFrames {
				s.inSpeech = true
				s.speechRun = 0
			}
		} else {
			s.speechRun = 0
		}
	}

	if s.inSpeech {
		s.silenceAcc = 0
		return vad.ClassSpeech, nil
	}
	s.silenceAcc += audio.Duration(frameSize)
	return vad.ClassSilence, nil
}

func (s *session) SilenceDuration() time.Duration { return s.silenceAcc }

func (s *session) Reset() {
	s.inSpeech = false
	s.speechRun = 0
	s.silenceRun = 0
	s.silenceAcc = 0
}

func (s *session) Close() error {
	s.closed = true
	return nil
}
