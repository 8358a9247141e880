package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lexiqai/tospeak-bridge/internal/observability"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const debugBurst = 20

// Mirror receives a copy of every emitted line.
type Mirror interface {
	Broadcast(line []byte)
}

// EmitterOptions configures an Emitter.
type EmitterOptions struct {
	Source string
	// DebugEnabled controls whether debug events are written at all.
	DebugEnabled bool
	// DebugPerSecond throttles debug events. Zero or less disables throttling.
	DebugPerSecond int
	Logger         zerolog.Logger
}

// Emitter writes events as JSON lines. It is safe for concurrent use and
// never writes partial lines.
type Emitter struct {
	w      io.Writer
	source string
	now    func() time.Time
	logger zerolog.Logger

	debugEnabled bool
	limiter      *rate.Limiter

	mu     sync.Mutex
	mirror Mirror
}

// NewEmitter creates an Emitter writing to w.
func NewEmitter(w io.Writer, opts EmitterOptions) *Emitter {
	e := &Emitter{
		w:            w,
		source:       opts.Source,
		now:          time.Now,
		logger:       opts.Logger,
		debugEnabled: opts.DebugEnabled,
	}
	if opts.DebugPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.DebugPerSecond), debugBurst)
	}
	return e
}

// SetMirror attaches a mirror for every line written after the call.
func (e *Emitter) SetMirror(m Mirror) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mirror = m
}

// Emit writes ev. Debug events are also logged, and may be dropped when
// disabled or throttled.
func (e *Emitter) Emit(ev Event) error {
	if ev.Type == TypeDebug {
		e.logger.Debug().Str("event", ev.Type).Msg(ev.Text)
		if !e.debugEnabled {
			return nil
		}
		if e.limiter != nil && !e.limiter.Allow() {
			return nil
		}
	}
	if ev.Source == "" {
		ev.Source = e.source
	}
	if ev.Timestamp == "" {
		ev.Timestamp = FormatTime(e.now())
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	line := buf.Bytes()

	e.mu.Lock()
	_, err := e.w.Write(line)
	mirror := e.mirror
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}

	observability.RecordEvent(ev.Type)
	if mirror != nil {
		mirror.Broadcast(bytes.TrimRight(line, "\n"))
	}
	return nil
}

// Info emits an info event, logging write failures.
func (e *Emitter) Info(title, text string) {
	e.emitLogged(Info(title, text))
}

// Debug emits a debug event.
func (e *Emitter) Debug(format string, args ...any) {
	e.emitLogged(Debugf(format, args...))
}

// Error emits an error event and logs it.
func (e *Emitter) Error(text string) {
	e.logger.Error().Msg(text)
	e.emitLogged(Error(text))
}

func (e *Emitter) emitLogged(ev Event) {
	if err := e.Emit(ev); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to emit event")
	}
}
