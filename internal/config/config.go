package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the notification speech bridge
type Config struct {
	// Event bridge configuration
	EventSource       string `envconfig:"EVENT_SOURCE" default:"toast_bridge"` // "source" field on every emitted event
	ExitOnStdinClose  bool   `envconfig:"EXIT_ON_STDIN_CLOSE" default:"false"`
	EmitDebugEvents   bool   `envconfig:"EMIT_DEBUG_EVENTS" default:"true"`
	DebugEventsPerSec int    `envconfig:"DEBUG_EVENTS_PER_SECOND" default:"50"`

	// Speech session defaults
	DefaultVolume int    `envconfig:"DEFAULT_VOLUME" default:"20"` // 0-100
	DefaultVoice  string `envconfig:"DEFAULT_VOICE" default:""`    // empty disables speech until set_voice

	// Notification source configuration
	NotifySource          string        `envconfig:"NOTIFY_SOURCE" default:"command"`
	NotifyListCommand     string        `envconfig:"NOTIFY_LIST_COMMAND" default:"makoctl list"`
	NotifyCommandTimeout  time.Duration `envconfig:"NOTIFY_COMMAND_TIMEOUT" default:"3s"`
	PollInterval          time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`
	DedupCeiling          int           `envconfig:"DEDUP_CEILING" default:"1000"`
	ListenerRetryAttempts int           `envconfig:"LISTENER_RETRY_ATTEMPTS" default:"3"`

	// Speech engine configuration
	Engine                string        `envconfig:"ENGINE" default:"auto"` // auto, espeak-ng, say, sapi
	EngineBinary          string        `envconfig:"ENGINE_BINARY" default:""`
	SlowVoicePatterns     []string      `envconfig:"SLOW_VOICE_PATTERNS" default:"CeVIO"`
	SlowVoiceConnectDelay time.Duration `envconfig:"SLOW_VOICE_CONNECT_DELAY" default:"500ms"`

	// Completion detection timing
	SpeechGraceWait         time.Duration `envconfig:"SPEECH_GRACE_WAIT" default:"300ms"`
	SpeechPollInterval      time.Duration `envconfig:"SPEECH_POLL_INTERVAL" default:"100ms"`
	SpeechDwellThreshold    time.Duration `envconfig:"SPEECH_DWELL_THRESHOLD" default:"2s"`
	SpeechDwellMargin       time.Duration `envconfig:"SPEECH_DWELL_MARGIN" default:"300ms"`
	SpeechCompletionCeiling time.Duration `envconfig:"SPEECH_COMPLETION_CEILING" default:"60s"`
	SpeechReleaseGrace      time.Duration `envconfig:"SPEECH_RELEASE_GRACE" default:"500ms"`

	// Resilience configuration
	EngineRetryAttempts        int           `envconfig:"ENGINE_RETRY_ATTEMPTS" default:"2"`
	EngineRetryBackoff         time.Duration `envconfig:"ENGINE_RETRY_BACKOFF" default:"100ms"`
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s"`

	// Transliteration configuration
	TranslitEnabled    bool   `envconfig:"TRANSLIT_ENABLED" default:"true"`
	PronunciationFile  string `envconfig:"PRONUNCIATION_FILE" default:""` // empty resolves to the user config dir
	PronunciationWatch bool   `envconfig:"PRONUNCIATION_WATCH" default:"true"`

	// Announcement configuration
	AnnounceSeparator        string        `envconfig:"ANNOUNCE_SEPARATOR" default:"、"`
	AnnounceFallback         string        `envconfig:"ANNOUNCE_FALLBACK" default:"通知があります"`
	AnnounceTemplate         string        `envconfig:"ANNOUNCE_TEMPLATE" default:""` // e.g. "{app}、{title}、{text}"
	AnnounceMaxLength        int           `envconfig:"ANNOUNCE_MAX_LENGTH" default:"0"`
	AnnounceTruncationSuffix string        `envconfig:"ANNOUNCE_TRUNCATION_SUFFIX" default:"以下省略"`
	AnnounceRepeatCollapse   int           `envconfig:"ANNOUNCE_REPEAT_COLLAPSE" default:"0"`
	AnnounceDuplicateWindow  time.Duration `envconfig:"ANNOUNCE_DUPLICATE_WINDOW" default:"0s"`
	AnnounceVoiceChange      bool          `envconfig:"ANNOUNCE_VOICE_CHANGE" default:"true"`
	VoiceChangePhrase        string        `envconfig:"VOICE_CHANGE_PHRASE" default:"音声を変更しました"`

	// Observability configuration
	HTTPAddr        string `envconfig:"HTTP_ADDR" default:""`           // empty disables the HTTP server
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty       string `envconfig:"LOG_PRETTY" default:""`          // true/false; empty detects a terminal on stderr
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	EventsWSEnabled bool   `envconfig:"EVENTS_WS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SpeechEnabledByDefault reports whether a default voice is configured
func (c *Config) SpeechEnabledByDefault() bool {
	return c.DefaultVoice != ""
}
