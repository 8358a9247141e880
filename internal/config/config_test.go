package config

import (
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "toast_bridge", cfg.EventSource)
	assert.Equal(t, 20, cfg.DefaultVolume)
	assert.Empty(t, cfg.DefaultVoice)
	assert.False(t, cfg.SpeechEnabledByDefault())
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 1000, cfg.DedupCeiling)
	assert.Equal(t, "auto", cfg.Engine)
	assert.Equal(t, []string{"CeVIO"}, cfg.SlowVoicePatterns)
	assert.Equal(t, "、", cfg.AnnounceSeparator)
	assert.Equal(t, "通知があります", cfg.AnnounceFallback)
	assert.True(t, cfg.TranslitEnabled)
	assert.False(t, cfg.ExitOnStdinClose)
}

func TestLoadFromEnv_SpeechTimingDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 300*time.Millisecond, cfg.SpeechGraceWait)
	assert.Equal(t, 100*time.Millisecond, cfg.SpeechPollInterval)
	assert.Equal(t, 2*time.Second, cfg.SpeechDwellThreshold)
	assert.Equal(t, 300*time.Millisecond, cfg.SpeechDwellMargin)
	assert.Equal(t, 60*time.Second, cfg.SpeechCompletionCeiling)
	assert.Equal(t, 500*time.Millisecond, cfg.SpeechReleaseGrace)
	assert.Equal(t, 500*time.Millisecond, cfg.SlowVoiceConnectDelay)
}

func TestLoadFromEnv_ResilienceDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.EngineRetryAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.EngineRetryBackoff)
	assert.Equal(t, 5, cfg.CircuitBreakerMaxFailures)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreakerResetTimeout)
	assert.Equal(t, 3, cfg.ListenerRetryAttempts)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DEFAULT_VOLUME", "55")
	t.Setenv("DEFAULT_VOICE", "Kyoko")
	t.Setenv("ENGINE", "say")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("SLOW_VOICE_PATTERNS", "CeVIO,VOICEROID")
	t.Setenv("LOG_PRETTY", "false")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 55, cfg.DefaultVolume)
	assert.Equal(t, "Kyoko", cfg.DefaultVoice)
	assert.True(t, cfg.SpeechEnabledByDefault())
	assert.Equal(t, "say", cfg.Engine)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"CeVIO", "VOICEROID"}, cfg.SlowVoicePatterns)
	assert.Equal(t, "false", cfg.LogPretty)
}

func TestLoadFromEnv_ParseError(t *testing.T) {
	t.Setenv("DEFAULT_VOLUME", "loud")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"volume above range", func(c *Config) { c.DefaultVolume = 101 }, "DEFAULT_VOLUME"},
		{"volume below range", func(c *Config) { c.DefaultVolume = -1 }, "DEFAULT_VOLUME"},
		{"unknown engine", func(c *Config) { c.Engine = "festival" }, "ENGINE"},
		{"unknown source", func(c *Config) { c.NotifySource = "dbus" }, "NOTIFY_SOURCE"},
		{"blank list command", func(c *Config) { c.NotifyListCommand = "  " }, "NOTIFY_LIST_COMMAND"},
		{"zero dedup ceiling", func(c *Config) { c.DedupCeiling = 0 }, "DEDUP_CEILING"},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "POLL_INTERVAL"},
		{"negative grace", func(c *Config) { c.SpeechGraceWait = -time.Second }, "SPEECH_GRACE_WAIT"},
		{"dwell beyond ceiling", func(c *Config) { c.SpeechDwellThreshold = time.Minute }, "SPEECH_DWELL_THRESHOLD"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"bad pretty flag", func(c *Config) { c.LogPretty = "sometimes" }, "LOG_PRETTY"},
		{"bad slow voice regex", func(c *Config) { c.SlowVoicePatterns = []string{"(CeVIO"} }, "SLOW_VOICE_PATTERNS[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()

			var fieldErrs criterio.FieldErrors
			require.ErrorAs(t, err, &fieldErrs)
			require.Len(t, fieldErrs, 1)
			assert.Equal(t, tt.field, fieldErrs[0].Field)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.DefaultVolume = 400
	cfg.Engine = "festival"
	cfg.PollInterval = 0

	err := cfg.Validate()

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Len(t, fieldErrs, 3)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	return cfg
}
