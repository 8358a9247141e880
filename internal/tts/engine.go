package tts

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
)

// Engine kinds accepted by New.
const (
	KindAuto   = "auto"
	KindESpeak = "espeak-ng"
	KindSay    = "say"
	KindSAPI   = "sapi"
)

// ResolveKind maps "auto" to the platform's native engine.
func ResolveKind(kind, goos string) string {
	if kind != KindAuto && kind != "" {
		return kind
	}
	switch goos {
	case "windows":
		return KindSAPI
	case "darwin":
		return KindSay
	default:
		return KindESpeak
	}
}

// New creates the engine for kind. binary overrides the command engine executable.
func New(kind, binary string, logger zerolog.Logger) (Engine, error) {
	switch k := ResolveKind(kind, runtime.GOOS); k {
	case KindESpeak:
		return NewCommandEngine(ESpeakProfile, binary, WithLogger(logger)), nil
	case KindSay:
		return NewCommandEngine(SayProfile, binary, WithLogger(logger)), nil
	case KindSAPI:
		return newSAPIEngine(logger)
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrEngineUnavailable, k)
	}
}
