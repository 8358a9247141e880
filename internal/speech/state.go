package speech

import (
	"time"

	"github.com/lexiqai/tospeak-bridge/internal/tts"
)

// State is the manager's position in the utterance lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateSpeaking
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSpeaking:
		return "speaking"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Outcome is the result class of one Speak call.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeCompleted
	OutcomeTimedOut
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result describes one Speak call.
type Result struct {
	Outcome     Outcome
	Err         error
	UtteranceID string
	Voice       string
	Rendered    string
	// Reason names the completion rule that fired: idle, dwell or ceiling.
	Reason   string
	Duration time.Duration
}

// Transition is reported on every state change.
type Transition struct {
	UtteranceID string
	From, To    State
	Detail      string
}

// Timing holds the completion-detection constants.
type Timing struct {
	// GraceWait follows submission before status is trusted.
	GraceWait time.Duration
	// StartTimeout bounds the wait for an unreliable engine to leave idle.
	StartTimeout time.Duration
	PollInterval time.Duration
	// DwellThreshold is how long a continuous rendering status may last
	// before it is read as completion.
	DwellThreshold time.Duration
	// DwellMargin is added after a dwell completion so the tail of the audio plays.
	DwellMargin       time.Duration
	CompletionCeiling time.Duration
	// ReleaseGrace delays release while the engine still reports activity.
	ReleaseGrace time.Duration
	// SlowVoiceDelay follows acquisition of voices matching the slow patterns.
	SlowVoiceDelay time.Duration
}

// DefaultTiming returns production timing.
func DefaultTiming() Timing {
	return Timing{
		GraceWait:         300 * time.Millisecond,
		StartTimeout:      5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		DwellThreshold:    2 * time.Second,
		DwellMargin:       300 * time.Millisecond,
		CompletionCeiling: 60 * time.Second,
		ReleaseGrace:      500 * time.Millisecond,
		SlowVoiceDelay:    500 * time.Millisecond,
	}
}

// detector decides completion from successive status samples.
type detector struct {
	dwell          time.Duration
	reliable       bool
	renderingSince time.Time
}

// observe returns the completion reason, or "" while the utterance is still playing.
func (d *detector) observe(st tts.Status, now time.Time) string {
	switch st {
	case tts.StatusIdle:
		return "idle"
	case tts.StatusRendering:
		if d.reliable {
			return ""
		}
		if d.renderingSince.IsZero() {
			d.renderingSince = now
			return ""
		}
		if now.Sub(d.renderingSince) >= d.dwell {
			return "dwell"
		}
	default:
		d.renderingSince = time.Time{}
	}
	return ""
}
