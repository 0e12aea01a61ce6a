// Package parakeet provides an asr.Backend that talks to a locally running
// Parakeet transducer server over HTTP.
//
// The server exposes POST /transcribe accepting multipart/form-data with a
// WAV file field and responding with JSON {"text": "...", "language": "..."}.
// A GET /health endpoint reports readiness; a server that is still loading
// model weights answers 503 and the backend maps that to
// asr.ErrBackendUnavailable.
//
// Usage:
//
//	b, err := parakeet.New("http://localhost:9090",
//	    parakeet.WithTimeout(60*time.Second),
//	)
//	res, err := b.Transcribe(ctx, samples)
package parakeet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
)

const defaultTimeout = 60 * time.Second

// Compile-time assertion that Backend satisfies asr.Backend.
var _ asr.Backend = (*Backend)(nil)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithLanguage sets the language hint forwarded to the server. Empty lets
// the server auto-detect.
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s, sized for
// the longest segment the pipeline can emit.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// Backend implements asr.Backend against a Parakeet HTTP server.
type Backend struct {
	serverURL  string
	language   string
	httpClient *http.Client
}

// New creates a Backend for the Parakeet server at serverURL (e.g.
// "http://localhost:9090"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Backend, error) {
	if serverURL == "" {
		return nil, errors.New("parakeet: serverURL must not be empty")
	}
	b := &Backend{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name implements asr.Backend.
func (b *Backend) Name() string { return "parakeet" }

// Ready probes the server's health endpoint. A non-nil error means the
// server is unreachable or still loading its model.
func (b *Backend) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("parakeet: create health request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", asr.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned HTTP %d", asr.ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

// Transcribe encodes samples as a 16 kHz mono WAV file and POSTs it to the
// server's /transcribe endpoint.
func (b *Backend) Transcribe(ctx context.Context, samples []float32) (*asr.Result, error) {
	start := time.Now()

	wav := audio.EncodeWAV(samples, audio.TargetRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, fmt.Errorf("parakeet: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("parakeet: write wav data: %w", err)
	}
	if b.language != "" {
		if err := mw.WriteField("language", b.language); err != nil {
			return nil, fmt.Errorf("parakeet: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("parakeet: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverURL+"/transcribe", &body)
	if err != nil {
		return nil, fmt.Errorf("parakeet: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", asr.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: server returned HTTP 503", asr.ErrBackendUnavailable)
	default:
		return nil, &asr.InferenceError{Backend: b.Name(), Err: fmt.Errorf("server returned HTTP %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &asr.InferenceError{Backend: b.Name(), Err: fmt.Errorf("read response body: %w", err)}
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &asr.InferenceError{Backend: b.Name(), Err: fmt.Errorf("parse JSON response: %w", err)}
	}

	return &asr.Result{
		Text:     strings.TrimSpace(result.Text),
		Language: result.Language,
		Elapsed:  time.Since(start),
	}, nil
}

// Close implements asr.Backend. The HTTP client holds no per-backend
// resources beyond idle connections.
func (b *Backend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}
