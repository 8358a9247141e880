package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
)

var validEngines = []string{"auto", "espeak-ng", "say", "sapi"}

// Validate checks the loaded configuration and reports every invalid field at once.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("DEFAULT_VOLUME", c.DefaultVolume, between(0, 100)),
		criterio.Run("DEBUG_EVENTS_PER_SECOND", c.DebugEventsPerSec, between(0, 10000)),
		criterio.Run("NOTIFY_SOURCE", c.NotifySource, oneOf("command")),
		criterio.Run("NOTIFY_LIST_COMMAND", c.NotifyListCommand, notBlank),
		criterio.Run("DEDUP_CEILING", c.DedupCeiling, atLeast(1)),
		criterio.Run("LISTENER_RETRY_ATTEMPTS", c.ListenerRetryAttempts, atLeast(1)),
		criterio.Run("ENGINE", c.Engine, oneOf(validEngines...)),
		criterio.Run("ENGINE_RETRY_ATTEMPTS", c.EngineRetryAttempts, atLeast(1)),
		criterio.Run("CIRCUIT_BREAKER_MAX_FAILURES", c.CircuitBreakerMaxFailures, atLeast(1)),
		criterio.Run("ANNOUNCE_MAX_LENGTH", c.AnnounceMaxLength, atLeast(0)),
		criterio.Run("ANNOUNCE_REPEAT_COLLAPSE", c.AnnounceRepeatCollapse, atLeast(0)),
		criterio.Run("LOG_LEVEL", c.LogLevel, logLevel),
		criterio.Run("LOG_PRETTY", c.LogPretty, optionalBool),
		c.validateDurations(),
		c.validateSlowVoicePatterns(),
	)
}

func (c *Config) validateDurations() error {
	positive := []struct {
		field string
		value time.Duration
	}{
		{"NOTIFY_COMMAND_TIMEOUT", c.NotifyCommandTimeout},
		{"POLL_INTERVAL", c.PollInterval},
		{"SPEECH_POLL_INTERVAL", c.SpeechPollInterval},
		{"SPEECH_DWELL_THRESHOLD", c.SpeechDwellThreshold},
		{"SPEECH_COMPLETION_CEILING", c.SpeechCompletionCeiling},
		{"CIRCUIT_BREAKER_RESET_TIMEOUT", c.CircuitBreakerResetTimeout},
	}
	nonNegative := []struct {
		field string
		value time.Duration
	}{
		{"SLOW_VOICE_CONNECT_DELAY", c.SlowVoiceConnectDelay},
		{"SPEECH_GRACE_WAIT", c.SpeechGraceWait},
		{"SPEECH_DWELL_MARGIN", c.SpeechDwellMargin},
		{"SPEECH_RELEASE_GRACE", c.SpeechReleaseGrace},
		{"ENGINE_RETRY_BACKOFF", c.EngineRetryBackoff},
		{"ANNOUNCE_DUPLICATE_WINDOW", c.AnnounceDuplicateWindow},
	}

	var errs criterio.FieldErrorsBuilder
	for _, d := range positive {
		if d.value <= 0 {
			errs = errs.Append(d.field, fmt.Errorf("must be greater than zero, got %s", d.value))
		}
	}
	for _, d := range nonNegative {
		if d.value < 0 {
			errs = errs.Append(d.field, fmt.Errorf("must not be negative, got %s", d.value))
		}
	}
	if c.SpeechCompletionCeiling > 0 && c.SpeechDwellThreshold >= c.SpeechCompletionCeiling {
		errs = errs.Append("SPEECH_DWELL_THRESHOLD", fmt.Errorf("must be shorter than SPEECH_COMPLETION_CEILING (%s)", c.SpeechCompletionCeiling))
	}
	return errs.ToError()
}

func (c *Config) validateSlowVoicePatterns() error {
	var errs criterio.FieldErrorsBuilder
	for i, pattern := range c.SlowVoicePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = errs.Append(fmt.Sprintf("SLOW_VOICE_PATTERNS[%d]", i), fmt.Errorf("invalid regex %q: %w", pattern, err))
		}
	}
	return errs.ToError()
}

func between(lo, hi int) func(int) error {
	return func(v int) error {
		if v < lo || v > hi {
			return fmt.Errorf("must be between %d and %d, got %d", lo, hi, v)
		}
		return nil
	}
}

func atLeast(lo int) func(int) error {
	return func(v int) error {
		if v < lo {
			return fmt.Errorf("must be at least %d, got %d", lo, v)
		}
		return nil
	}
}

func oneOf(allowed ...string) func(string) error {
	return func(v string) error {
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s, got %q", strings.Join(allowed, ", "), v)
	}
}

func notBlank(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("cannot be empty")
	}
	return nil
}

func logLevel(v string) error {
	if _, err := zerolog.ParseLevel(strings.ToLower(v)); err != nil {
		return fmt.Errorf("unknown log level %q", v)
	}
	return nil
}

func optionalBool(v string) error {
	if v == "" {
		return nil
	}
	if _, err := strconv.ParseBool(v); err != nil {
		return fmt.Errorf("must be true or false, got %q", v)
	}
	return nil
}
