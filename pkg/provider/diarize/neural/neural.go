// Package neural implements diarization through a local speaker-separation
// inference server.
//
// The server exposes POST /diarize accepting multipart/form-data with a WAV
// file and responding with JSON:
//
//	{"turns": [{"speaker": 0, "start": 1.20, "end": 3.45}, ...]}
//
// Speaker indices are stable within one request but carry no identity across
// sessions; they surface as "speaker-0", "speaker-1" labels. Turns may
// overlap when the model reports overlapping speech.
package neural

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/provider/diarize"
)

const defaultTimeout = 120 * time.Second

// Compile-time assertion that Engine satisfies diarize.Engine.
var _ diarize.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithTimeout sets the per-request HTTP timeout. Defaults to 120 s; neural
// separation over a long session is slow.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// Engine implements diarize.Engine against a speaker-separation server.
type Engine struct {
	serverURL  string
	httpClient *http.Client
}

// New creates an Engine for the server at serverURL (e.g.
// "http://localhost:9091"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("neural: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Diarize uploads samples as a WAV file and parses the server's turns.
func (e *Engine) Diarize(ctx context.Context, samples []float32, sampleRate int) ([]diarize.Turn, error) {
	if sampleRate <= 0 {
		return nil, errors.New("neural: sampleRate must be positive")
	}
	if len(samples) == 0 {
		return nil, nil
	}

	wav := audio.EncodeWAV(samples, sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "session.wav")
	if err != nil {
		return nil, fmt.Errorf("neural: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("neural: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("neural: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/diarize", &body)
	if err != nil {
		return nil, fmt.Errorf("neural: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("neural: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("neural: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("neural: read response body: %w", err)
	}

	var result struct {
		Turns []struct {
			Speaker int     `json:"speaker"`
			Start   float64 `json:"start"`
			End     float64 `json:"end"`
		} `json:"turns"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("neural: parse JSON response: %w", err)
	}

	turns := make([]diarize.Turn, 0, len(result.Turns))
	for _, t := range result.Turns {
		if t.End <= t.Start {
			continue
		}
		turns = append(turns, diarize.Turn{
			Speaker: fmt.Sprintf("speaker-%d", t.Speaker),
			Start:   time.Duration(t.Start * float64(time.Second)),
			End:     time.Duration(t.End * float64(time.Second)),
		})
	}
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Start < turns[j].Start })
	return turns, nil
}
