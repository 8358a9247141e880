// Package app wires the bridge together: startup, the notification poll
// loop, the command ingress loop and the optional HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/lexiqai/tospeak-bridge/internal/announce"
	"github.com/lexiqai/tospeak-bridge/internal/bridge"
	"github.com/lexiqai/tospeak-bridge/internal/config"
	"github.com/lexiqai/tospeak-bridge/internal/dedup"
	"github.com/lexiqai/tospeak-bridge/internal/notify"
	"github.com/lexiqai/tospeak-bridge/internal/observability"
	"github.com/lexiqai/tospeak-bridge/internal/resilience"
	"github.com/lexiqai/tospeak-bridge/internal/rules"
	"github.com/lexiqai/tospeak-bridge/internal/speech"
	"github.com/lexiqai/tospeak-bridge/internal/translit"
	"github.com/lexiqai/tospeak-bridge/internal/tts"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// errStdinClosed ends the run when EXIT_ON_STDIN_CLOSE is set.
var errStdinClosed = errors.New("command input closed")

const dispatchQueue = 32

// Deps are the collaborators a run needs. Nil fields are built from the config.
type Deps struct {
	Source notify.Source
	Engine tts.Engine
	Stdin  io.Reader
	Stdout io.Writer
	// Timing overrides the speech timing derived from the config.
	Timing *speech.Timing
}

// App is one bridge process.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	emitter *bridge.Emitter
	hub     *bridge.Hub
	stdin   io.Reader

	source  notify.Source
	tracker *dedup.Tracker

	engine     tts.Engine
	session    *speech.Session
	manager    *speech.Manager
	dispatcher *speech.Dispatcher

	katakana  *translit.Katakana
	renderer  *translit.Renderer
	composer  *announce.Composer
	rulesPath string

	now         func() time.Time
	pollFailing bool
	// lastVoice is the most recent non-empty voice; owned by the ingress loop.
	lastVoice string
}

// New builds an App from cfg and deps.
func New(cfg *config.Config, deps Deps) (*App, error) {
	logger := observability.WithComponent("app")

	a := &App{
		cfg:     cfg,
		logger:  logger,
		stdin:   deps.Stdin,
		source:  deps.Source,
		engine:  deps.Engine,
		tracker: dedup.New(cfg.DedupCeiling),
		session: speech.NewSession(cfg.DefaultVolume, cfg.DefaultVoice),
		now:     time.Now,
	}
	a.lastVoice = a.session.Voice()

	out := deps.Stdout
	if out == nil {
		return nil, errors.New("app: stdout is required")
	}
	if a.stdin == nil {
		return nil, errors.New("app: stdin is required")
	}
	a.emitter = bridge.NewEmitter(out, bridge.EmitterOptions{
		Source:         cfg.EventSource,
		DebugEnabled:   cfg.EmitDebugEvents,
		DebugPerSecond: cfg.DebugEventsPerSec,
		Logger:         observability.WithComponent("bridge"),
	})
	if cfg.HTTPAddr != "" && cfg.EventsWSEnabled {
		a.hub = bridge.NewHub(observability.WithComponent("events"))
		a.emitter.SetMirror(a.hub)
	}

	if a.source == nil {
		src, err := notify.NewCommandSource(cfg.NotifyListCommand, cfg.NotifyCommandTimeout,
			notify.WithCommandLogger(observability.WithComponent("notify")))
		if err != nil {
			return nil, err
		}
		a.source = src
	}
	if a.engine == nil {
		engine, err := tts.New(cfg.Engine, cfg.EngineBinary, observability.WithComponent("tts"))
		if err != nil {
			return nil, err
		}
		a.engine = engine
	}

	a.katakana, a.renderer = newTranslit()
	a.composer = announce.New(announce.Options{
		Separator:        cfg.AnnounceSeparator,
		Fallback:         cfg.AnnounceFallback,
		Template:         cfg.AnnounceTemplate,
		MaxLength:        cfg.AnnounceMaxLength,
		TruncationSuffix: cfg.AnnounceTruncationSuffix,
		RepeatCollapse:   cfg.AnnounceRepeatCollapse,
		DuplicateWindow:  cfg.AnnounceDuplicateWindow,
	})

	rulesPath, err := resolveRulesPath(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("Rules file disabled")
	}
	a.rulesPath = rulesPath

	timing := timingFromConfig(cfg)
	if deps.Timing != nil {
		timing = *deps.Timing
	}
	slow, err := compilePatterns(cfg.SlowVoicePatterns)
	if err != nil {
		return nil, err
	}

	opts := []speech.Option{
		speech.WithTiming(timing),
		speech.WithRetry(&resilience.RetryConfig{
			MaxAttempts:       cfg.EngineRetryAttempts,
			InitialBackoff:    cfg.EngineRetryBackoff,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2,
			Name:              "engine acquisition",
		}),
		speech.WithCircuitBreaker(resilience.NewCircuitBreaker("speech-engine",
			cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout,
			resilience.WithStateChange(recordBreakerState))),
		speech.WithSlowVoices(slow),
		speech.WithTransitionHook(a.onTransition),
		speech.WithDiagnostics(func(title, text string) {
			a.emitter.Debug("%s: %s", title, text)
		}),
		speech.WithLogger(observability.WithComponent("speech")),
	}
	if cfg.TranslitEnabled {
		opts = append(opts, speech.WithRenderer(a.renderer))
	}
	a.manager = speech.NewManager(a.engine, a.session, opts...)
	a.dispatcher = speech.NewDispatcher(a.manager, dispatchQueue)

	return a, nil
}

// Run performs startup and then serves until ctx is cancelled. Startup
// failures, including a denied or unavailable listener, are returned.
func (a *App) Run(ctx context.Context) error {
	a.applyRules(a.loadRules())

	if err := a.startup(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	g.Go(func() error { return a.pollLoop(gctx) })
	g.Go(func() error { return a.ingressLoop(gctx) })

	if a.rulesPath != "" && a.cfg.PronunciationWatch {
		w := rules.NewWatcher(a.rulesPath, a.onRulesChange, observability.WithComponent("rules"))
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				a.logger.Warn().Err(err).Msg("Rules watcher stopped")
			}
			return nil
		})
	}
	if a.cfg.HTTPAddr != "" {
		srv := a.httpServer()
		g.Go(func() error { return srv.Run(gctx) })
	}

	err := g.Wait()
	if a.hub != nil {
		a.hub.Close()
	}
	if errors.Is(err, errStdinClosed) {
		a.logger.Info().Msg("Command input closed, exiting")
		return nil
	}
	return err
}

func (a *App) httpServer() *observability.Server {
	routes := map[string]http.Handler{}
	if a.hub != nil {
		routes["/events"] = a.hub
	}
	return observability.NewServer(observability.ServerOptions{
		Addr:           a.cfg.HTTPAddr,
		Version:        Version,
		MetricsEnabled: a.cfg.MetricsEnabled,
		Checks: map[string]observability.HealthCheckFunc{
			"engine": func(ctx context.Context) (bool, error) {
				if _, err := a.engine.Voices(ctx); err != nil {
					return false, err
				}
				return true, nil
			},
			"source": func(ctx context.Context) (bool, error) {
				if _, err := a.source.List(ctx); err != nil {
					return false, err
				}
				return true, nil
			},
		},
		Routes: routes,
	})
}

func (a *App) onTransition(t speech.Transition) {
	a.emitter.Debug("speech %s: %s -> %s %s", shortID(t.UtteranceID), t.From, t.To, t.Detail)
}

func (a *App) emit(ev bridge.Event) {
	if err := a.emitter.Emit(ev); err != nil {
		a.logger.Warn().Err(err).Str("type", ev.Type).Msg("Failed to emit event")
	}
}

func timingFromConfig(cfg *config.Config) speech.Timing {
	t := speech.DefaultTiming()
	t.GraceWait = cfg.SpeechGraceWait
	t.PollInterval = cfg.SpeechPollInterval
	t.DwellThreshold = cfg.SpeechDwellThreshold
	t.DwellMargin = cfg.SpeechDwellMargin
	t.CompletionCeiling = cfg.SpeechCompletionCeiling
	t.ReleaseGrace = cfg.SpeechReleaseGrace
	t.SlowVoiceDelay = cfg.SlowVoiceConnectDelay
	return t
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("slow voice pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func recordBreakerState(name string, _, to resilience.CircuitState) {
	observability.UpdateCircuitBreakerState(name, int(to))
	if to == resilience.StateOpen {
		observability.IncrementCircuitBreakerFailures(name)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
