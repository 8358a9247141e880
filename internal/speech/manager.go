package speech

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lexiqai/tospeak-bridge/internal/observability"
	"github.com/lexiqai/tospeak-bridge/internal/resilience"
	"github.com/lexiqai/tospeak-bridge/internal/tts"
	"github.com/rs/zerolog"
)

// Renderer rewrites text before submission.
type Renderer interface {
	Render(text string) string
}

// Option configures a Manager.
type Option func(*Manager)

// WithRenderer sets the text renderer. Without one text is spoken as given.
func WithRenderer(r Renderer) Option {
	return func(m *Manager) { m.renderer = r }
}

// WithTiming overrides DefaultTiming.
func WithTiming(t Timing) Option {
	return func(m *Manager) { m.timing = t }
}

// WithRetry sets the engine acquisition retry policy.
func WithRetry(cfg *resilience.RetryConfig) Option {
	return func(m *Manager) { m.retry = cfg }
}

// WithCircuitBreaker guards engine acquisition.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(m *Manager) { m.breaker = cb }
}

// WithSlowVoices marks voices matching any pattern as slow to connect.
func WithSlowVoices(patterns []*regexp.Regexp) Option {
	return func(m *Manager) { m.slowVoices = patterns }
}

// WithTransitionHook observes state changes. The hook must not block.
func WithTransitionHook(fn func(Transition)) Option {
	return func(m *Manager) { m.onTransition = fn }
}

// WithDiagnostics receives advisory messages such as voice fallbacks.
func WithDiagnostics(fn func(title, text string)) Option {
	return func(m *Manager) { m.onDiagnostic = fn }
}

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager runs utterances one at a time against a single-client engine.
type Manager struct {
	engine  tts.Engine
	session *Session

	renderer   Renderer
	timing     Timing
	retry      *resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	slowVoices []*regexp.Regexp

	onTransition func(Transition)
	onDiagnostic func(title, text string)
	logger       zerolog.Logger

	// mu is held for the whole utterance.
	mu    sync.Mutex
	state atomic.Int32

	voicesMu sync.Mutex
	voices   []string
}

// NewManager creates a Manager for engine and session.
func NewManager(engine tts.Engine, session *Session, opts ...Option) *Manager {
	m := &Manager{
		engine:  engine,
		session: session,
		timing:  DefaultTiming(),
		retry: &resilience.RetryConfig{
			MaxAttempts:       2,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        time.Second,
			BackoffMultiplier: 2,
			Name:              "engine acquisition",
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the shared session state.
func (m *Manager) Session() *Session { return m.session }

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Voices refreshes and returns the installed voice list.
func (m *Manager) Voices(ctx context.Context) ([]string, error) {
	voices, err := m.engine.Voices(ctx)
	if err != nil {
		return nil, err
	}

	m.voicesMu.Lock()
	m.voices = voices
	m.voicesMu.Unlock()
	return voices, nil
}

// Speak plays text and waits for it to finish. Blank text or a disabled
// session is Skipped without touching the engine. Concurrent calls queue.
func (m *Manager) Speak(ctx context.Context, text string) Result {
	requested := m.session.Voice()
	if strings.TrimSpace(text) == "" || requested == "" {
		return Result{Outcome: OutcomeSkipped}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := observability.NewCorrelationID()
	logger := m.logger.With().Str("correlation_id", id).Logger()
	metrics := observability.NewUtteranceMetrics(id)
	started := time.Now()

	var submitted bool
	res := m.run(ctx, id, requested, text, logger, func() {
		submitted = true
		metrics.RecordStart()
	})
	res.UtteranceID = id
	res.Duration = time.Since(started)

	metrics.RecordEnd(res.Outcome.String(), submitted)
	logger.Debug().
		Str("outcome", res.Outcome.String()).
		Str("reason", res.Reason).
		Dur("duration", res.Duration).
		Err(res.Err).
		Msg("Utterance finished")
	return res
}

func (m *Manager) run(ctx context.Context, id, requested, text string, logger zerolog.Logger, onSubmit func()) Result {
	m.transition(id, StateConnecting, requested)

	voice := m.resolveVoice(ctx, requested, logger)
	opts := tts.ClientOptions{Voice: voice, Volume: m.session.Volume()}

	client, err := m.acquire(ctx, opts, logger)
	if err != nil {
		m.transition(id, StateIdle, "acquisition failed")
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled, Err: err, Voice: voice}
		}
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("acquire engine: %w", err), Voice: voice}
	}

	res := Result{Voice: voice}
	defer func() {
		m.release(ctx, client, logger)
		m.transition(id, StateIdle, res.Outcome.String())
	}()

	res.Rendered = text
	if m.renderer != nil {
		res.Rendered = m.renderer.Render(text)
	}
	if res.Rendered != text {
		logger.Debug().Str("original", text).Str("rendered", res.Rendered).Msg("Rendered foreign words")
	}

	if m.isSlowVoice(voice) {
		logger.Debug().Str("voice", voice).Dur("delay", m.timing.SlowVoiceDelay).Msg("Waiting for slow voice to connect")
		if !sleepCtx(ctx, m.timing.SlowVoiceDelay) {
			res.Outcome, res.Err = OutcomeCancelled, ctx.Err()
			return res
		}
	}

	m.transition(id, StateSpeaking, "")
	if err := client.Speak(ctx, res.Rendered); err != nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("submit text: %w", err)
		return res
	}
	onSubmit()

	if !sleepCtx(ctx, m.timing.GraceWait) {
		res.Outcome, res.Err = OutcomeCancelled, ctx.Err()
		return res
	}

	m.transition(id, StateDraining, "")
	res.Outcome, res.Reason = m.waitCompletion(ctx, client, logger)
	if res.Outcome == OutcomeCancelled {
		res.Err = ctx.Err()
	}
	return res
}

func (m *Manager) acquire(ctx context.Context, opts tts.ClientOptions, logger zerolog.Logger) (tts.Client, error) {
	var client tts.Client

	open := func() error {
		return resilience.Retry(logger.WithContext(ctx), func(ctx context.Context) error {
			c, err := m.engine.Open(ctx, opts)
			if err != nil {
				return err
			}
			client = c
			return nil
		}, m.retry, isRetryableAcquire)
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Call(open)
	} else {
		err = open()
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

func isRetryableAcquire(err error) bool {
	return resilience.IsTransient(err) && !errors.Is(err, tts.ErrEngineUnavailable)
}

// waitCompletion polls client status until it goes idle, dwells in the
// rendering state, or the ceiling passes.
func (m *Manager) waitCompletion(ctx context.Context, client tts.Client, logger zerolog.Logger) (Outcome, string) {
	reliable := tts.HasReliableCompletion(client)
	deadline := time.Now().Add(m.timing.CompletionCeiling)

	ticker := time.NewTicker(m.timing.PollInterval)
	defer ticker.Stop()

	if !reliable {
		// Some engines report idle until playback actually begins.
		startBy := time.Now().Add(m.timing.StartTimeout)
		for {
			st, err := client.Status()
			if err == nil && st != tts.StatusIdle {
				break
			}
			if time.Now().After(startBy) {
				logger.Debug().Msg("Engine never reported activity")
				break
			}
			select {
			case <-ctx.Done():
				return OutcomeCancelled, ""
			case <-ticker.C:
			}
		}
	}

	d := &detector{dwell: m.timing.DwellThreshold, reliable: reliable}
	for {
		st, err := client.Status()
		if err != nil {
			logger.Debug().Err(err).Msg("Status query failed")
		} else if reason := d.observe(st, time.Now()); reason != "" {
			if reason == "dwell" {
				if !sleepCtx(ctx, m.timing.DwellMargin) {
					return OutcomeCancelled, reason
				}
			}
			return OutcomeCompleted, reason
		}

		if !time.Now().Before(deadline) {
			logger.Warn().Dur("ceiling", m.timing.CompletionCeiling).Msg("Utterance did not complete before the ceiling")
			return OutcomeTimedOut, "ceiling"
		}

		select {
		case <-ctx.Done():
			return OutcomeCancelled, ""
		case <-ticker.C:
		}
	}
}

// release closes client, first allowing a short grace if it still reports activity.
func (m *Manager) release(ctx context.Context, client tts.Client, logger zerolog.Logger) {
	if ctx.Err() == nil {
		if st, err := client.Status(); err == nil && st != tts.StatusIdle {
			logger.Debug().Str("status", st.String()).Msg("Engine still active, waiting before release")
			sleepCtx(ctx, m.timing.ReleaseGrace)
		}
	}
	if err := client.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to release engine client")
	}
}

func (m *Manager) resolveVoice(ctx context.Context, requested string, logger zerolog.Logger) string {
	m.voicesMu.Lock()
	voices := m.voices
	m.voicesMu.Unlock()

	name, match, err := tts.ResolveVoice(voices, requested)
	if err != nil && len(voices) == 0 {
		if refreshed, verr := m.Voices(ctx); verr == nil {
			name, match, err = tts.ResolveVoice(refreshed, requested)
		}
	}
	if err != nil {
		logger.Debug().Str("voice", requested).Msg("Voice not installed, using the engine default")
		m.diagnose("voice not found", fmt.Sprintf("%s: using the default voice", requested))
		return ""
	}
	if match != tts.MatchExact {
		logger.Debug().Str("requested", requested).Str("voice", name).Str("match", string(match)).Msg("Resolved voice")
	}
	return name
}

func (m *Manager) isSlowVoice(voice string) bool {
	for _, re := range m.slowVoices {
		if re.MatchString(voice) {
			return true
		}
	}
	return false
}

func (m *Manager) transition(id string, to State, detail string) {
	from := State(m.state.Swap(int32(to)))
	if m.onTransition != nil {
		m.onTransition(Transition{UtteranceID: id, From: from, To: to, Detail: detail})
	}
}

func (m *Manager) diagnose(title, text string) {
	if m.onDiagnostic != nil {
		m.onDiagnostic(title, text)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
