// Package translit renders mixed-script text for a Japanese speech engine by
// replacing every run of Latin letters with a katakana reading.
package translit

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Reading selects how a foreign word is pronounced.
type Reading int

const (
	// ReadWord pronounces the word as a whole unit.
	ReadWord Reading = iota
	// ReadSpelled reads the word letter by letter.
	ReadSpelled
)

func (r Reading) String() string {
	if r == ReadSpelled {
		return "spelled"
	}
	return "word"
}

// Backend converts single foreign words. Implementations may fail or return
// empty output; the Renderer falls back to the original word in both cases.
type Backend interface {
	Classify(word string) (Reading, error)
	Convert(word string, reading Reading) (string, error)
}

// DefaultOverrides returns the built-in pronunciation overrides.
func DefaultOverrides() map[string]string {
	return map[string]string{
		"todo":      "トゥドゥ",
		"todoist":   "トゥドゥイスト",
		"cursor":    "カーソル",
		"x":         "エックス",
		"instagram": "インスタグラム",
		"youtube":   "ユーチューブ",
		"google":    "グーグル",
		"amazon":    "アマゾン",
		"update":    "アップデート",
		"error":     "エラー",
		"done":      "完了",
	}
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithOverrides installs an initial override table.
func WithOverrides(overrides map[string]string) Option {
	return func(r *Renderer) { r.SetOverrides(overrides) }
}

// WithLogger sets the logger used for per-run debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Renderer) { r.logger = logger }
}

// WithFallbackHook is called once for every run kept verbatim after a failed conversion.
func WithFallbackHook(fn func()) Option {
	return func(r *Renderer) { r.onFallback = fn }
}

// Renderer applies overrides and a conversion Backend to foreign runs.
// It is safe for concurrent use; SetOverrides may be called at any time.
type Renderer struct {
	backend    Backend
	overrides  atomic.Pointer[map[string]string]
	logger     zerolog.Logger
	onFallback func()
}

// NewRenderer creates a Renderer. A nil backend means no conversion is
// available: only override hits change the text.
func NewRenderer(backend Backend, opts ...Option) *Renderer {
	r := &Renderer{
		backend: backend,
		logger:  zerolog.Nop(),
	}
	empty := map[string]string{}
	r.overrides.Store(&empty)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetOverrides replaces the override table. Keys are matched case-insensitively.
func (r *Renderer) SetOverrides(overrides map[string]string) {
	table := make(map[string]string, len(overrides))
	for k, v := range overrides {
		key := strings.ToLower(fold(strings.TrimSpace(k)))
		if key == "" {
			continue
		}
		table[key] = v
	}
	r.overrides.Store(&table)
}

// Overrides returns a copy of the active override table.
func (r *Renderer) Overrides() map[string]string {
	table := *r.overrides.Load()
	out := make(map[string]string, len(table))
	for k, v := range table {
		out[k] = v
	}
	return out
}

// Available reports whether a conversion backend is installed.
func (r *Renderer) Available() bool {
	return r.backend != nil
}

// Render returns text with every foreign run replaced by its reading.
// Non-foreign text is never altered. Render never fails.
func (r *Renderer) Render(text string) string {
	if text == "" {
		return text
	}

	// One snapshot per call so a concurrent reload cannot mix tables mid-text.
	overrides := *r.overrides.Load()
	backend := r.backend
	if backend == nil && len(overrides) == 0 {
		return text
	}

	segments := Split(text)
	var b strings.Builder
	b.Grow(len(text) * 2)

	for _, seg := range segments {
		if !seg.Foreign {
			b.WriteString(seg.Text)
			continue
		}
		res := convertRun(seg.Text, overrides, backend)
		if res.fallback {
			if r.onFallback != nil {
				r.onFallback()
			}
			r.logger.Debug().Err(res.err).Str("word", seg.Text).Msg("Keeping word verbatim")
		} else {
			r.logger.Debug().
				Str("word", seg.Text).
				Str("via", res.via).
				Str("reading", res.text).
				Msg("Converted word")
		}
		b.WriteString(res.text)
	}

	return b.String()
}

// runResult is the outcome of converting one foreign run.
type runResult struct {
	text     string
	via      string
	fallback bool
	err      error
}

func keep(word string, err error) runResult {
	return runResult{text: word, via: "verbatim", fallback: err != nil, err: err}
}

func convertRun(word string, overrides map[string]string, backend Backend) (res runResult) {
	folded := fold(word)
	if v, ok := overrides[strings.ToLower(folded)]; ok {
		return runResult{text: v, via: "override"}
	}
	if backend == nil {
		return keep(word, nil)
	}

	defer func() {
		if p := recover(); p != nil {
			res = keep(word, fmt.Errorf("backend panic: %v", p))
		}
	}()

	reading, err := backend.Classify(folded)
	if err != nil {
		return keep(word, fmt.Errorf("classify: %w", err))
	}

	input := folded
	if reading == ReadSpelled {
		input = strings.ToLower(folded)
	}
	out, err := backend.Convert(input, reading)
	if err != nil {
		return keep(word, fmt.Errorf("convert: %w", err))
	}
	if strings.TrimSpace(out) == "" {
		return keep(word, fmt.Errorf("empty %s reading", reading))
	}
	return runResult{text: out, via: reading.String()}
}
