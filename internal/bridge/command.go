package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Command types read from the parent.
const (
	CommandSpeak     = "speak"
	CommandSetVolume = "set_volume"
	CommandSetVoice  = "set_voice"
)

const maxLineSize = 1 << 20

// ErrNoVolume is returned by Command.VolumeValue when the field is absent.
var ErrNoVolume = errors.New("volume not set")

// Command is one inbound line. Unknown types decode without error and are
// ignored by the caller.
type Command struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Volume    json.RawMessage `json:"volume"`
	VoiceName *string         `json:"voice_name"`
}

// DecodeCommand parses one line.
func DecodeCommand(line []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

// VolumeValue converts the volume field to an integer. Numbers are
// truncated, numeric strings are parsed, and anything else is an error.
// An absent or null field yields ErrNoVolume.
func (c Command) VolumeValue() (int, error) {
	raw := bytes.TrimSpace(c.Volume)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, ErrNoVolume
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("volume: %w", err)
	}
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("volume: %v is not a number", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("volume: %q is not an integer", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("volume: unsupported value %s", raw)
	}
}

// Voice returns the requested voice name, with empty meaning none.
func (c Command) Voice() string {
	if c.VoiceName == nil {
		return ""
	}
	return strings.TrimSpace(*c.VoiceName)
}

// ReadCommands decodes lines from r and sends them on out until r reaches
// EOF or ctx is cancelled. Blank and malformed lines are skipped. It
// returns nil at EOF.
func ReadCommands(ctx context.Context, r io.Reader, out chan<- Command, logger zerolog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		cmd, err := DecodeCommand(line)
		if err != nil {
			logger.Debug().Err(err).Int("bytes", len(line)).Msg("Skipping malformed command")
			continue
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read commands: %w", err)
	}
	return nil
}
