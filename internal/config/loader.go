package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Default returns a Config with the defaults applied: info logging,
// microphone capture, the energy VAD, the whisper backend, and no
// diarization.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: LogInfo},
		Capture: CaptureConfig{Microphone: true},
		VAD:     VADConfig{Engine: VADEnergy},
		ASR:     ASRConfig{Backend: BackendWhisper},
		Diarization: DiarizationConfig{
			Mode: DiarizationNone,
		},
		Metrics: MetricsConfig{ListenAddr: ":9100"},
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}

	if !cfg.VAD.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("vad.engine %q is invalid; valid values: energy, silero, none", cfg.VAD.Engine))
	}
	if cfg.VAD.Engine == VADSilero && cfg.VAD.ModelPath == "" {
		errs = append(errs, errors.New("vad.model_path is required for the silero engine"))
	}
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.3f is out of range [0, 1]", cfg.VAD.Threshold))
	}

	if cfg.Denoise.Aggressiveness < 0 {
		errs = append(errs, fmt.Errorf("denoise.aggressiveness %.2f must not be negative", cfg.Denoise.Aggressiveness))
	}

	if cfg.Split.SemanticSilenceMs < 0 || cfg.Split.VADSilenceMs < 0 ||
		cfg.Split.MaxSegmentSecs < 0 || cfg.Split.OverlapWindowMs < 0 {
		errs = append(errs, errors.New("split durations must not be negative"))
	}
	if s := cfg.Split.MaxSegmentSecs; s != 0 && (s < 30 || s > 1800) {
		errs = append(errs, fmt.Errorf("split.max_segment_secs %d is out of range [30, 1800]", s))
	}

	if !cfg.ASR.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("asr.backend %q is invalid; valid values: whisper, parakeet, openai", cfg.ASR.Backend))
	}
	switch cfg.ASR.Backend {
	case BackendWhisper:
		if cfg.ASR.ModelPath == "" {
			errs = append(errs, errors.New("asr.model_path is required for the whisper backend"))
		}
	case BackendParakeet:
		if cfg.ASR.ServerURL == "" {
			errs = append(errs, errors.New("asr.server_url is required for the parakeet backend"))
		}
	case BackendOpenAI:
		if cfg.ASR.APIKey == "" {
			errs = append(errs, errors.New("asr.api_key is required for the openai backend"))
		}
	}

	if !cfg.Diarization.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("diarization.mode %q is invalid; valid values: none, channel, neural", cfg.Diarization.Mode))
	}
	if cfg.Diarization.Mode == DiarizationNeural && cfg.Diarization.ServerURL == "" {
		errs = append(errs, errors.New("diarization.server_url is required for the neural mode"))
	}
	if cfg.Diarization.Mode == DiarizationChannel && !(cfg.Capture.Microphone && cfg.Capture.Loopback) {
		errs = append(errs, errors.New("diarization.mode channel needs both capture.microphone and capture.loopback"))
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("metrics.listen_addr is required when metrics are enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %w", errors.Join(errs...))
	}
	return nil
}
