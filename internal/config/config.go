package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for one transcription session.
// It is assembled by the CLI layer (env + flags) and handed to the
// session engine as a finished value.
type Config struct {
	// Remote ASR endpoint
	BaseURL string `envconfig:"ASR_BASE_URL" default:"wss://dashscope.aliyuncs.com/api-ws/v1/realtime"`
	Model   string `envconfig:"ASR_MODEL" default:"qwen3-asr-flash-realtime"`
	APIKey  string `envconfig:"DASHSCOPE_API_KEY"`

	// Audio input format (raw PCM s16le mono on stdin)
	SampleRate int    `envconfig:"ASR_SAMPLE_RATE" default:"16000"`
	Language   string `envconfig:"ASR_LANGUAGE" default:"zh"`

	// Server-side VAD tuning, relayed verbatim in the session handshake
	VADThreshold float64 `envconfig:"ASR_VAD_THRESHOLD" default:"0.2"`
	VADSilenceMs int     `envconfig:"ASR_VAD_SILENCE_MS" default:"800"`

	// Outbound framing policy
	ChunkSize      int `envconfig:"ASR_CHUNK_SIZE" default:"6400"`       // bytes per audio message, must be sample-aligned
	ReadBufferSize int `envconfig:"ASR_READ_BUFFER_SIZE" default:"8192"` // stdin read burst size

	// Session lifecycle budgets
	ConfigureTimeout time.Duration `envconfig:"ASR_CONFIGURE_TIMEOUT" default:"10s"` // wait for session ack
	DrainTimeout     time.Duration `envconfig:"ASR_DRAIN_TIMEOUT" default:"5s"`      // wait for in-flight events after commit
	HardStopTimeout  time.Duration `envconfig:"ASR_HARD_STOP_TIMEOUT" default:"3s"`  // cancellation deadline before forced close

	// Keep the session open after stdin ends instead of draining
	KeepOpen bool `envconfig:"ASR_KEEP_OPEN" default:"false"`

	// Dial policy (outside the session engine; a retried dial still
	// reports at most one connect failure)
	ConnectAttempts int `envconfig:"ASR_CONNECT_ATTEMPTS" default:"1"`
	ConnectBackoff  int `envconfig:"ASR_CONNECT_BACKOFF" default:"500"` // milliseconds

	// Observability
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty   bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:""` // e.g. ":9090"; empty disables the debug listener
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Validate performs range and non-emptiness checks. It is called after the
// CLI layer has applied flag overrides, so the checks see the final values.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required (set DASHSCOPE_API_KEY or --api-key)")
	}
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base url must not be empty")
	}
	if !strings.HasPrefix(c.BaseURL, "ws://") && !strings.HasPrefix(c.BaseURL, "wss://") {
		return fmt.Errorf("base url must be a ws:// or wss:// endpoint, got %q", c.BaseURL)
	}
	if c.Language == "" {
		return fmt.Errorf("language must not be empty")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return fmt.Errorf("vad threshold must be in [0,1], got %g", c.VADThreshold)
	}
	if c.VADSilenceMs <= 0 {
		return fmt.Errorf("vad silence duration must be positive, got %dms", c.VADSilenceMs)
	}
	if c.ChunkSize <= 0 || c.ChunkSize%2 != 0 {
		return fmt.Errorf("chunk size must be a positive multiple of the 2-byte sample width, got %d", c.ChunkSize)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be positive, got %d", c.ReadBufferSize)
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("connect attempts must be at least 1, got %d", c.ConnectAttempts)
	}
	return nil
}
