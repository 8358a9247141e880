// Package tts binds local speech engines. An Engine lists voices and opens
// single-use Clients; a Client plays one utterance asynchronously and
// reports a coarse status while it does.
package tts

import (
	"context"
	"errors"
)

var (
	// ErrEngineUnavailable means the engine cannot be used on this host.
	ErrEngineUnavailable = errors.New("speech engine unavailable")
	// ErrVoiceNotFound means no installed voice matches the request.
	ErrVoiceNotFound = errors.New("voice not found")
)

// Status is the engine's coarse activity indicator.
type Status int

const (
	// StatusIdle means nothing is queued or playing.
	StatusIdle Status = iota
	// StatusRendering means the engine reports it is producing audio.
	StatusRendering
	// StatusWaiting covers every other non-idle state, such as connecting.
	StatusWaiting
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRendering:
		return "rendering"
	default:
		return "waiting"
	}
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Voice is the installed voice name. Empty uses the engine default.
	Voice string
	// Volume is 0-100.
	Volume int
}

// Engine is a speech engine binding.
type Engine interface {
	// Name identifies the engine in logs and events.
	Name() string
	// Voices lists installed voice names.
	Voices(ctx context.Context) ([]string, error)
	// Open binds a new client. Only one client may be open at a time.
	Open(ctx context.Context, opts ClientOptions) (Client, error)
}

// Client is one engine connection.
type Client interface {
	// Speak submits text for asynchronous playback and returns immediately.
	Speak(ctx context.Context, text string) error
	// Status reports current activity.
	Status() (Status, error)
	// Close releases the connection. Playback still in progress is stopped.
	Close() error
}

// ReliableCompletion is implemented by clients whose idle status can be
// trusted, so the rendering dwell rule does not apply to them.
type ReliableCompletion interface {
	ReliableCompletion() bool
}

// HasReliableCompletion reports whether c opts out of the dwell rule.
func HasReliableCompletion(c Client) bool {
	rc, ok := c.(ReliableCompletion)
	return ok && rc.ReliableCompletion()
}

// ClampVolume limits v to 0-100.
func ClampVolume(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
