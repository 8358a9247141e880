// Package speech serialises speech requests onto a single-client engine and
// detects when each utterance has finished.
package speech

import (
	"strings"
	"sync/atomic"

	"github.com/lexiqai/tospeak-bridge/internal/tts"
)

// Session holds the process-wide volume and voice. Reads and writes are
// atomic; a change applies to the next utterance.
type Session struct {
	volume atomic.Int32
	voice  atomic.Pointer[string]
}

// NewSession creates a Session. An empty voice disables speech.
func NewSession(volume int, voice string) *Session {
	s := &Session{}
	s.SetVolume(volume)
	s.SetVoice(voice)
	return s
}

// Volume returns the current volume, 0-100.
func (s *Session) Volume() int {
	return int(s.volume.Load())
}

// SetVolume clamps v to 0-100, stores it and returns the stored value.
func (s *Session) SetVolume(v int) int {
	v = tts.ClampVolume(v)
	s.volume.Store(int32(v))
	return v
}

// Voice returns the selected voice, or "" when speech is disabled.
func (s *Session) Voice() string {
	if p := s.voice.Load(); p != nil {
		return *p
	}
	return ""
}

// SetVoice selects a voice and returns the previous one. Blank names disable speech.
func (s *Session) SetVoice(name string) string {
	name = strings.TrimSpace(name)
	prev := s.voice.Swap(&name)
	if prev == nil {
		return ""
	}
	return *prev
}

// Enabled reports whether a voice is selected.
func (s *Session) Enabled() bool {
	return s.Voice() != ""
}
