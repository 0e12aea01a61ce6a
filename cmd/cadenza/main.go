// Command cadenza captures, segments and transcribes speech, either live
// from the machine's audio devices or from a recorded WAV file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cadenza-audio/cadenza/internal/config"
	"github.com/cadenza-audio/cadenza/internal/health"
	"github.com/cadenza-audio/cadenza/internal/observe"
	"github.com/cadenza-audio/cadenza/internal/session"
	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/capture"
	"github.com/cadenza-audio/cadenza/pkg/denoise"
	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
	asropenai "github.com/cadenza-audio/cadenza/pkg/provider/asr/openai"
	"github.com/cadenza-audio/cadenza/pkg/provider/asr/parakeet"
	"github.com/cadenza-audio/cadenza/pkg/provider/asr/whisper"
	"github.com/cadenza-audio/cadenza/pkg/provider/diarize/neural"
	"github.com/cadenza-audio/cadenza/pkg/provider/vad"
	"github.com/cadenza-audio/cadenza/pkg/provider/vad/energy"
	"github.com/cadenza-audio/cadenza/pkg/provider/vad/silero"
	"github.com/cadenza-audio/cadenza/pkg/segment"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	filePath := flag.String("file", "", "transcribe this WAV file instead of capturing live")
	bypass := flag.Bool("bypass", false, "with -file: skip splitting and transcribe in one pass")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cadenza: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cadenza: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("cadenza starting",
		"config", *configPath,
		"backend", cfg.ASR.Backend,
		"vad", cfg.VAD.Engine,
		"diarization", cfg.Diarization.Mode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "cadenza"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Transcription backend ─────────────────────────────────────────────────
	backend, checkers, err := buildBackend(cfg)
	if err != nil {
		slog.Error("failed to build transcription backend", "err", err)
		return 1
	}
	defer backend.Close()

	// ── Metrics / health server ───────────────────────────────────────────────
	if cfg.Metrics.Enabled {
		startMetricsServer(cfg.Metrics.ListenAddr, checkers)
	}

	// ── VAD session ───────────────────────────────────────────────────────────
	vadSession, err := buildVAD(cfg)
	if err != nil {
		slog.Error("failed to build VAD session", "err", err)
		return 1
	}
	if vadSession != nil {
		defer vadSession.Close()
	}

	var denoiser *denoise.Denoiser
	if cfg.Denoise.Enabled {
		var opts []denoise.Option
		if cfg.Denoise.Aggressiveness > 0 {
			opts = append(opts, denoise.WithAggressiveness(cfg.Denoise.Aggressiveness))
		}
		denoiser = denoise.New(opts...)
	}

	splitCfg := segment.Config{
		SemanticSilence: cfg.Split.SemanticSilence(),
		VADSilence:      cfg.Split.VADSilence(),
		MaxSegment:      cfg.Split.MaxSegment(),
		Overlap:         cfg.Split.Overlap(),
	}

	printStartupSummary(cfg)

	var entries []session.Entry
	if *filePath != "" {
		entries, err = runBatch(ctx, cfg, *filePath, *bypass, splitCfg, backend, vadSession, denoiser)
	} else {
		entries, err = runLive(ctx, cfg, splitCfg, backend, vadSession, denoiser)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	printTranscript(entries)
	slog.Info("goodbye")
	return 0
}

// ── Live capture ──────────────────────────────────────────────────────────────

func runLive(ctx context.Context, cfg *config.Config, splitCfg segment.Config, backend asr.Backend, vadSession vad.SessionHandle, denoiser *denoise.Denoiser) ([]session.Entry, error) {
	ringWindow := capture.WithRingWindow(session.RingWindowFor(splitCfg))

	var sources []capture.Source
	if cfg.Capture.Microphone {
		sources = append(sources, capture.NewMicrophone(ringWindow))
	}
	if cfg.Capture.Loopback {
		sources = append(sources, capture.NewLoopback(ringWindow))
	}
	if len(sources) == 0 {
		return nil, errors.New("no capture source enabled")
	}

	diarizeFn, err := buildDiarization(cfg)
	if err != nil {
		return nil, err
	}

	// A single source with no speaker attribution gets the simple session;
	// everything else goes through the conference mixer.
	if len(sources) == 1 && diarizeFn == nil {
		s := session.New(sources[0], splitCfg, backend,
			session.WithVAD(vadSession),
			session.WithDenoiser(denoiser))
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
		slog.Info("recording — press Ctrl+C to stop and transcribe")
		<-ctx.Done()
		entries, _, err := s.Stop(context.Background())
		return entries, err
	}

	conf := capture.NewConference(sources...)
	opts := []session.ConferenceOption{
		session.WithConferenceVAD(vadSession),
		session.WithConferenceDenoiser(denoiser),
	}
	if diarizeFn != nil {
		opts = append(opts, session.WithDiarization(diarizeFn))
	}
	c := session.NewConference(conf, splitCfg, backend, opts...)
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	slog.Info("recording conference — press Ctrl+C to stop and transcribe")
	<-ctx.Done()
	entries, _, err := c.Stop(context.Background())
	return entries, err
}

// ── Batch transcription ───────────────────────────────────────────────────────

func runBatch(ctx context.Context, cfg *config.Config, path string, bypass bool, splitCfg segment.Config, backend asr.Backend, vadSession vad.SessionHandle, denoiser *denoise.Denoiser) ([]session.Entry, error) {
	samples, err := loadWAV(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	slog.Info("file loaded", "path", path, "duration", audio.Duration(len(samples)))

	opts := []session.BatchOption{
		session.WithBatchVAD(vadSession),
	}
	if denoiser != nil {
		opts = append(opts, session.WithBatchDenoiser(denoiser))
	}
	if bypass {
		opts = append(opts, session.WithBatchBypass())
	}
	switch cfg.Diarization.Mode {
	case config.DiarizationNeural:
		eng, err := neural.New(cfg.Diarization.ServerURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithBatchDiarization(session.EngineDiarization(eng)))
	case config.DiarizationChannel:
		slog.Warn("channel diarization needs live conference sources, skipping for file input")
	}
	return session.RunBatch(ctx, samples, splitCfg, backend, opts...)
}

// loadWAV decodes a WAV file and converts it to the pipeline format, mono
// float32 at 16 kHz.
func loadWAV(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	return pipelineSamples(buf, int(dec.BitDepth)), nil
}

func pipelineSamples(buf *gaudio.IntBuffer, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	if buf.Format.NumChannels == 2 {
		samples = audio.StereoToMono(samples)
	}
	return audio.ResampleMono(samples, buf.Format.SampleRate, audio.TargetRate)
}

// ── Component wiring ──────────────────────────────────────────────────────────

func buildBackend(cfg *config.Config) (asr.Backend, []health.Checker, error) {
	switch cfg.ASR.Backend {
	case config.BackendWhisper:
		var opts []whisper.Option
		if cfg.ASR.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.ASR.Language))
		}
		b, err := whisper.New(cfg.ASR.ModelPath, opts...)
		if err != nil {
			return nil, nil, err
		}
		return b, []health.Checker{health.ModelFileChecker("whisper-model", cfg.ASR.ModelPath)}, nil

	case config.BackendParakeet:
		var opts []parakeet.Option
		if cfg.ASR.Language != "" {
			opts = append(opts, parakeet.WithLanguage(cfg.ASR.Language))
		}
		b, err := parakeet.New(cfg.ASR.ServerURL, opts...)
		if err != nil {
			return nil, nil, err
		}
		return b, []health.Checker{health.BackendChecker("parakeet", b.Ready)}, nil

	case config.BackendOpenAI:
		var opts []asropenai.Option
		if cfg.ASR.Language != "" {
			opts = append(opts, asropenai.WithLanguage(cfg.ASR.Language))
		}
		b, err := asropenai.New(cfg.ASR.APIKey, opts...)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.ASR.Backend)
	}
}

func buildVAD(cfg *config.Config) (vad.SessionHandle, error) {
	var eng vad.Engine
	switch cfg.VAD.Engine {
	case config.VADNone:
		return nil, nil
	case config.VADEnergy:
		eng = energy.New()
	case config.VADSilero:
		sileroEng, err := silero.New(cfg.VAD.ModelPath)
		if err != nil {
			return nil, err
		}
		eng = sileroEng
	default:
		return nil, fmt.Errorf("unknown vad engine %q", cfg.VAD.Engine)
	}
	return eng.NewSession(vad.Config{
		SampleRate: audio.TargetRate,
		Threshold:  cfg.VAD.Threshold,
	})
}

func buildDiarization(cfg *config.Config) (session.DiarizeFunc, error) {
	switch cfg.Diarization.Mode {
	case config.DiarizationNone, "":
		return nil, nil
	case config.DiarizationChannel:
		return session.ChannelDiarization(), nil
	case config.DiarizationNeural:
		eng, err := neural.New(cfg.Diarization.ServerURL)
		if err != nil {
			return nil, err
		}
		return session.EngineDiarization(eng), nil
	default:
		return nil, fmt.Errorf("unknown diarization mode %q", cfg.Diarization.Mode)
	}
}

func startMetricsServer(addr string, checkers []health.Checker) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	go func() {
		slog.Info("metrics server listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
}

// ── Transcript output ─────────────────────────────────────────────────────────

func printTranscript(entries []session.Entry) {
	if len(entries) == 0 {
		fmt.Println("(no speech captured)")
		return
	}
	for _, e := range entries {
		prefix := fmt.Sprintf("[%s - %s]", fmtTimestamp(e.Segment.Start), fmtTimestamp(e.Segment.End))
		if e.Speaker != "" {
			prefix += " " + e.Speaker + ":"
		}
		if e.Err != nil {
			fmt.Printf("%s <transcription failed: %v>\n", prefix, e.Err)
			continue
		}
		fmt.Printf("%s %s\n", prefix, strings.TrimSpace(e.Result.Text))
	}
}

func fmtTimestamp(d time.Duration) string {
	d = d.Round(100 * time.Millisecond)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := float64(d%time.Minute) / float64(time.Second)
	return fmt.Sprintf("%02d:%02d:%04.1f", h, m, s)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var lvl slog.Level
	switch cfg.Level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         cadenza — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printLine("Backend", string(cfg.ASR.Backend))
	printLine("VAD", string(cfg.VAD.Engine))
	printLine("Denoise", onOff(cfg.Denoise.Enabled))
	printLine("Diarization", string(cfg.Diarization.Mode))
	printLine("Microphone", onOff(cfg.Capture.Microphone))
	printLine("Loopback", onOff(cfg.Capture.Loopback))
	if cfg.Metrics.Enabled {
		printLine("Metrics", cfg.Metrics.ListenAddr)
	} else {
		printLine("Metrics", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printLine(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "(disabled)"
}
