// Package openai provides an asr.Backend backed by the OpenAI transcription
// API. It is the cloud fallback for machines without a local engine.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
)

const defaultModel = string(oai.AudioModelWhisper1)

// Compile-time assertion that Backend satisfies asr.Backend.
var _ asr.Backend = (*Backend)(nil)

// config holds optional configuration for the backend.
type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Option is a functional option for Backend.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. for a
// compatible local proxy.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the ISO-639-1 language hint. Empty lets the API detect.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Backend implements asr.Backend using the OpenAI API.
type Backend struct {
	client   oai.Client
	model    string
	language string
}

// New constructs a Backend. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Backend{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Name implements asr.Backend.
func (b *Backend) Name() string { return "openai" }

// Transcribe uploads samples as a WAV file to the transcription endpoint.
func (b *Backend) Transcribe(ctx context.Context, samples []float32) (*asr.Result, error) {
	start := time.Now()

	wav := audio.EncodeWAV(samples, audio.TargetRate)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model: oai.AudioModel(b.model),
	}
	if b.language != "" {
		params.Language = oai.String(b.language)
	}

	resp, err := b.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			// Auth failures and overload mean no request can succeed.
			if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusServiceUnavailable {
				return nil, fmt.Errorf("%w: %v", asr.ErrBackendUnavailable, err)
			}
			return nil, &asr.InferenceError{Backend: b.Name(), Err: err}
		}
		// Transport-level failure: endpoint unreachable.
		return nil, fmt.Errorf("%w: %v", asr.ErrBackendUnavailable, err)
	}

	return &asr.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: b.language,
		Elapsed:  time.Since(start),
	}, nil
}

// Close implements asr.Backend. The API client holds no local resources.
func (b *Backend) Close() error { return nil }
