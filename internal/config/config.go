// Package config provides the configuration schema and loader for the
// cadenza transcription pipeline.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VADEngine selects the voice activity detector for a session.
type VADEngine string

const (
	// VADEnergy is the fast adaptive energy detector.
	VADEnergy VADEngine = "energy"

	// VADSilero is the neural Silero detector. Needs a model file.
	VADSilero VADEngine = "silero"

	// VADNone disables silence detection; only the size ceiling splits.
	VADNone VADEngine = "none"
)

// IsValid reports whether v is a recognised VAD engine.
func (v VADEngine) IsValid() bool {
	switch v {
	case VADEnergy, VADSilero, VADNone:
		return true
	}
	return false
}

// Backend selects the speech recognition engine.
type Backend string

const (
	// BackendWhisper runs whisper.cpp in-process.
	BackendWhisper Backend = "whisper"

	// BackendParakeet talks to a local Parakeet transducer server.
	BackendParakeet Backend = "parakeet"

	// BackendOpenAI uses the OpenAI transcription API.
	BackendOpenAI Backend = "openai"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	switch b {
	case BackendWhisper, BackendParakeet, BackendOpenAI:
		return true
	}
	return false
}

// DiarizationMode selects how speaker labels are produced.
type DiarizationMode string

const (
	DiarizationNone    DiarizationMode = "none"
	DiarizationChannel DiarizationMode = "channel"
	DiarizationNeural  DiarizationMode = "neural"
)

// IsValid reports whether d is a recognised diarization mode.
func (d DiarizationMode) IsValid() bool {
	switch d {
	case DiarizationNone, DiarizationChannel, DiarizationNeural:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Capture     CaptureConfig     `yaml:"capture"`
	Denoise     DenoiseConfig     `yaml:"denoise"`
	VAD         VADConfig         `yaml:"vad"`
	Split       SplitConfig       `yaml:"split"`
	ASR         ASRConfig         `yaml:"asr"`
	Diarization DiarizationConfig `yaml:"diarization"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level controls verbosity. Defaults to "info".
	Level LogLevel `yaml:"level"`

	// JSON switches the handler to structured JSON output.
	JSON bool `yaml:"json"`
}

// CaptureConfig selects the audio sources for a live session.
type CaptureConfig struct {
	// Microphone captures the default input device.
	Microphone bool `yaml:"microphone"`

	// Loopback captures system output (the remote side of a call).
	Loopback bool `yaml:"loopback"`
}

// DenoiseConfig controls the spectral noise reduction stage.
type DenoiseConfig struct {
	// Enabled inserts denoising between capture and VAD analysis.
	Enabled bool `yaml:"enabled"`

	// Aggressiveness scales noise removal. 1.0 is neutral; zero means the
	// default.
	Aggressiveness float64 `yaml:"aggressiveness"`
}

// VADConfig selects and tunes the voice activity detector.
type VADConfig struct {
	// Engine picks the detector. Defaults to "energy".
	Engine VADEngine `yaml:"engine"`

	// ModelPath locates the Silero ONNX model. Required for the silero
	// engine, ignored otherwise.
	ModelPath string `yaml:"model_path"`

	// Threshold overrides the engine's speech probability or energy
	// threshold. Zero means the engine default.
	Threshold float64 `yaml:"threshold"`
}

// SplitConfig tunes the cascading segmentation policy. Zero values take the
// pipeline defaults; max_segment_secs is clamped to [30, 1800].
type SplitConfig struct {
	SemanticSilenceMs int `yaml:"semantic_silence_ms"`
	VADSilenceMs      int `yaml:"vad_silence_ms"`
	MaxSegmentSecs    int `yaml:"max_segment_secs"`
	OverlapWindowMs   int `yaml:"overlap_window_ms"`
}

// SemanticSilence returns the semantic threshold as a duration.
func (s SplitConfig) SemanticSilence() time.Duration {
	return time.Duration(s.SemanticSilenceMs) * time.Millisecond
}

// VADSilence returns the sentence-boundary threshold as a duration.
func (s SplitConfig) VADSilence() time.Duration {
	return time.Duration(s.VADSilenceMs) * time.Millisecond
}

// MaxSegment returns the segment ceiling as a duration.
func (s SplitConfig) MaxSegment() time.Duration {
	return time.Duration(s.MaxSegmentSecs) * time.Second
}

// Overlap returns the forced-split overlap window as a duration.
func (s SplitConfig) Overlap() time.Duration {
	return time.Duration(s.OverlapWindowMs) * time.Millisecond
}

// ASRConfig selects and configures the transcription backend.
type ASRConfig struct {
	// Backend picks the engine. Defaults to "whisper".
	Backend Backend `yaml:"backend"`

	// ModelPath locates the whisper.cpp model file. Required for the
	// whisper backend.
	ModelPath string `yaml:"model_path"`

	// ServerURL locates the Parakeet server. Required for the parakeet
	// backend.
	ServerURL string `yaml:"server_url"`

	// APIKey authenticates against the OpenAI API. Required for the
	// openai backend.
	APIKey string `yaml:"api_key"`

	// Language is the recognition language hint (e.g. "en"). Empty lets
	// the engine detect.
	Language string `yaml:"language"`
}

// DiarizationConfig selects the speaker attribution mode.
type DiarizationConfig struct {
	// Mode picks the variant. Defaults to "none".
	Mode DiarizationMode `yaml:"mode"`

	// ServerURL locates the speaker-separation server. Required for the
	// neural mode.
	ServerURL string `yaml:"server_url"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics and /healthz on ListenAddr.
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the TCP address for the metrics server (e.g. ":9100").
	ListenAddr string `yaml:"listen_addr"`
}
