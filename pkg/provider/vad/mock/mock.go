// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script per-frame classifications and inspect the frames
// that were submitted. The mock faithfully implements the silence-duration
// contract (reset on speech, accumulate on silence) so segmentation logic
// can be exercised against it.
package mock

import (
	"sync"
	"time"

	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the handle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call in order.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
//
// Classification order of precedence: ClassifyFunc if set, then the next
// unconsumed Script entry, then Default. Frame size defaults to 480 samples
// (30 ms at 16 kHz) when Frame is zero.
type Session struct {
	mu sync.Mutex

	// ClassifyFunc, when set, decides the class of each frame.
	ClassifyFunc func(frame []float32) vad.Class

	// Script is consumed one entry per Classify call.
	Script []vad.Class

	// Default is returned once Script is exhausted (and ClassifyFunc is nil).
	Default vad.Class

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	// Frame overrides the frame size reported by FrameSize.
	Frame int

	// --- Call records ---

	ClassifyCalls  int
	ResetCallCount int
	CloseCallCount int

	scriptPos  int
	silenceAcc time.Duration
}

// Classify returns the scripted class and maintains the silence accumulator
// per the vad.SessionHandle contract.
func (s *Session) Classify(frame []float32) (vad.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClassifyCalls++
	if s.ClassifyErr != nil {
		return vad.ClassSilence, s.ClassifyErr
	}

	cls := s.Default
	switch {
	case s.ClassifyFunc != nil:
		cls = s.ClassifyFunc(frame)
	case s.scriptPos < len(s.Script):
		cls = s.Script[s.scriptPos]
		s.scriptPos++
	}

	if cls == vad.ClassSpeech {
		s.silenceAcc = 0
	} else {
		s.silenceAcc += audio.Duration(s.frameSize())
	}
	return cls, nil
}

// SilenceDuration returns the accumulated silence run.
func (s *Session) SilenceDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silenceAcc
}

// FrameSize returns Frame, defaulting to 480.
func (s *Session) FrameSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameSize()
}

func (s *Session) frameSize() int {
	if s.Frame > 0 {
		return s.Frame
	}
	return 480
}

// Reset clears the silence accumulator and records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.silenceAcc = 0
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

var _ vad.SessionHandle = (*Session)(nil)
