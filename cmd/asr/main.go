// Command asr streams raw PCM audio from stdin to a realtime speech
// transcription service and prints the service's events to stdout, one
// JSON record per line. Logs go to stderr so stdout stays machine-readable.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/config"
	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/observability"
	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/resilience"
	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/session"
	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/sink"
	"github.com/Mufanc/qwen3-asr-realtime-cli/internal/transport"
)

// version is set at build time via -ldflags.
var version = "dev"

var flags = struct {
	apiKey          string
	baseURL         string
	model           string
	sampleRate      int
	language        string
	vadThreshold    float64
	vadSilenceMs    int
	chunkSize       int
	keepOpen        bool
	connectAttempts int
	logLevel        string
	logPretty       bool
	metricsAddr     string
}{}

var rootCmd = &cobra.Command{
	Use:           "asr",
	Short:         "Realtime speech transcription from stdin",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `asr reads raw PCM audio (s16le, mono) from stdin, streams it to a
realtime transcription service over a persistent connection and emits the
service's events on stdout as newline-delimited JSON.

Capture from a microphone with ffmpeg:

  ffmpeg -f pulse -i default -ar 16000 -ac 1 -f s16le - | asr          (Linux)
  ffmpeg -f avfoundation -i ":0" -ar 16000 -ac 1 -f s16le - | asr      (macOS)

Transcribe an existing recording:

  ffmpeg -i speech.mp3 -ar 16000 -ac 1 -f s16le - | asr

The API key is read from DASHSCOPE_API_KEY if --api-key is not given.`,
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.apiKey, "api-key", "", "service API key (default $DASHSCOPE_API_KEY)")
	f.StringVar(&flags.baseURL, "base-url", "", "realtime endpoint URL (ws:// or wss://)")
	f.StringVar(&flags.model, "model", "", "transcription model name")
	f.IntVar(&flags.sampleRate, "sample-rate", 0, "input sample rate in Hz")
	f.StringVar(&flags.language, "language", "", "transcription language code")
	f.Float64Var(&flags.vadThreshold, "vad-threshold", 0, "server VAD activation threshold in [0,1]")
	f.IntVar(&flags.vadSilenceMs, "vad-silence-ms", 0, "server VAD silence duration in milliseconds")
	f.IntVar(&flags.chunkSize, "chunk-size", 0, "audio bytes per outbound message")
	f.BoolVar(&flags.keepOpen, "keep", false, "keep the session open after stdin ends")
	f.IntVar(&flags.connectAttempts, "connect-attempts", 0, "dial attempts before giving up")
	f.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.BoolVar(&flags.logPretty, "log-pretty", false, "human-readable log output on stderr")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "debug listener address for /metrics and /health (e.g. :9090)")
}

// applyFlags lays explicitly set flags over the environment configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("api-key") {
		cfg.APIKey = flags.apiKey
	}
	if set("base-url") {
		cfg.BaseURL = flags.baseURL
	}
	if set("model") {
		cfg.Model = flags.model
	}
	if set("sample-rate") {
		cfg.SampleRate = flags.sampleRate
	}
	if set("language") {
		cfg.Language = flags.language
	}
	if set("vad-threshold") {
		cfg.VADThreshold = flags.vadThreshold
	}
	if set("vad-silence-ms") {
		cfg.VADSilenceMs = flags.vadSilenceMs
	}
	if set("chunk-size") {
		cfg.ChunkSize = flags.chunkSize
	}
	if set("keep") {
		cfg.KeepOpen = flags.keepOpen
	}
	if set("connect-attempts") {
		cfg.ConnectAttempts = flags.connectAttempts
	}
	if set("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if set("log-pretty") {
		cfg.LogPretty = flags.logPretty
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Audio has to come through a pipe. An interactive terminal on stdin
	// means the user forgot one, so show the usage instead of hanging.
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return cmd.Help()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.WithSessionID(observability.NewSessionID())
	logger.Info().
		Str("version", version).
		Str("model", cfg.Model).
		Int("sample_rate", cfg.SampleRate).
		Str("language", cfg.Language).
		Msg("starting transcription session")

	metrics := observability.NewSessionMetrics()
	if cfg.MetricsAddr != "" {
		errCh := observability.StartDebugListener(cfg.MetricsAddr, version)
		go func() {
			if err := <-errCh; err != nil {
				logger.Error().Err(err).Msg("debug listener failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := &retryingDialer{
		inner: &transport.WebSocketDialer{
			BaseURL:         cfg.BaseURL,
			Model:           cfg.Model,
			APIKey:          cfg.APIKey,
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.ReadBufferSize,
		},
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.ConnectAttempts,
			InitialBackoff:    time.Duration(cfg.ConnectBackoff) * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		},
		logger: logger,
	}

	out := sink.NewWriter(os.Stdout)
	engine := session.NewEngine(cfg, dialer, out, logger, metrics)

	start := time.Now()
	runErr := engine.Run(ctx, os.Stdin)
	if runErr != nil {
		logger.Error().Err(runErr).
			Stringer("state", engine.State()).
			Msg("session failed")
		return runErr
	}

	logger.Info().
		Uint64("audio_bytes", engine.BytesRead()).
		Uint64("events_emitted", out.Emitted()).
		Dur("duration", time.Since(start)).
		Msg("session closed")
	return nil
}

// retryingDialer retries the dial with backoff. Retrying sits outside the
// session engine, which only ever sees the final outcome.
type retryingDialer struct {
	inner  transport.Dialer
	retry  *resilience.RetryConfig
	logger zerolog.Logger
}

func (d *retryingDialer) Dial(ctx context.Context) (transport.Conn, error) {
	var conn transport.Conn
	attempt := 0
	err := resilience.Retry(ctx, func() error {
		attempt++
		c, err := d.inner.Dial(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
			return err
		}
		conn = c
		return nil
	}, d.retry)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
