package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the meeting scribe service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Conferencing platform configuration
	ConferenceURL       string `envconfig:"CONFERENCE_URL" required:"true"`        // WebSocket endpoint of the conferencing platform
	ConferenceAPIKey    string `envconfig:"CONFERENCE_API_KEY" required:"true"`    // API key for joining rooms
	ConferenceAPISecret string `envconfig:"CONFERENCE_API_SECRET" required:"true"` // API secret for joining rooms

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// Anthropic notes generation configuration
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY" required:"true"`
	NotesModel      string `envconfig:"NOTES_MODEL" default:"claude-sonnet-4-20250514"`
	NotesMaxTokens  int    `envconfig:"NOTES_MAX_TOKENS" default:"2000"`

	// Backend API for transcript broadcast and notes persistence
	BackendAPIURL string `envconfig:"BACKEND_API_URL" required:"true"`

	// Audio configuration
	SourceSampleRate int `envconfig:"SOURCE_SAMPLE_RATE" default:"48000"` // Conferencing platform native rate
	STTSampleRate    int `envconfig:"STT_SAMPLE_RATE" default:"16000"`    // Rate required by Deepgram

	// Transcript store configuration
	MaxTranscriptEntries int `envconfig:"MAX_TRANSCRIPT_ENTRIES" default:"10000"` // Per-room entry cap before batch eviction

	// Resilience configuration
	ConnectTimeoutSeconds      int `envconfig:"CONNECT_TIMEOUT_SECONDS" default:"10"`       // Bound on provider/conference connects
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum STT reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Retry attempts for the notes API call
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial retry backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// ConnectTimeout returns the connect timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// The resampler only supports exact-integer downsampling, so reject
	// rate pairs it cannot express rather than distort audio at runtime.
	if cfg.STTSampleRate <= 0 || cfg.SourceSampleRate%cfg.STTSampleRate != 0 {
		return nil, fmt.Errorf("SOURCE_SAMPLE_RATE (%d) must be an integer multiple of STT_SAMPLE_RATE (%d)",
			cfg.SourceSampleRate, cfg.STTSampleRate)
	}

	return &cfg, nil
}
