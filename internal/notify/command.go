package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field aliases accepted in listing entries, in lookup order.
var (
	appKeys   = []string{"app-name", "appname", "app_name"}
	appIDKeys = []string{"desktop-entry", "app-id", "app_id", "category"}
	idKeys    = []string{"id"}
	textKeys  = []string{"summary", "body"}
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandSource lists notifications by running a notification daemon's
// control command (makoctl list, dunstctl history) and parsing its
// busctl-style JSON output.
type CommandSource struct {
	argv     []string
	timeout  time.Duration
	run      Runner
	lookPath func(string) (string, error)
	logger   zerolog.Logger
}

// CommandOption configures a CommandSource.
type CommandOption func(*CommandSource)

// WithRunner replaces the command runner.
func WithRunner(run Runner) CommandOption {
	return func(s *CommandSource) { s.run = run }
}

// WithLookPath replaces the binary lookup used by RequestAccess.
func WithLookPath(fn func(string) (string, error)) CommandOption {
	return func(s *CommandSource) { s.lookPath = fn }
}

// WithCommandLogger sets the source logger.
func WithCommandLogger(logger zerolog.Logger) CommandOption {
	return func(s *CommandSource) { s.logger = logger }
}

// NewCommandSource creates a source for the given command line.
func NewCommandSource(command string, timeout time.Duration, opts ...CommandOption) (*CommandSource, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("notification list command is empty")
	}

	s := &CommandSource{
		argv:     argv,
		timeout:  timeout,
		run:      execRunner,
		lookPath: exec.LookPath,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RequestAccess checks that the list command exists and that one listing succeeds.
func (s *CommandSource) RequestAccess(ctx context.Context) error {
	if _, err := s.lookPath(s.argv[0]); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAccessDenied, s.argv[0], err)
	}
	if _, err := s.List(ctx); err != nil {
		return err
	}
	return nil
}

// List runs the command and parses the current notifications.
func (s *CommandSource) List(ctx context.Context) ([]Notification, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.run(ctx, s.argv[0], s.argv[1:]...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, strings.Join(s.argv, " "), err)
	}

	ns, skipped, err := ParseListing(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if skipped > 0 {
		s.logger.Debug().Int("skipped", skipped).Msg("Skipped notifications without an id")
	}
	return ns, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

type listing struct {
	Type string            `json:"type"`
	Data []json.RawMessage `json:"data"`
}

// ParseListing decodes busctl-style JSON ({"type":"aa{sv}","data":[[...]]})
// or a plain JSON array of entries. Entry values may be wrapped as
// {"type":..., "data":...}. Entries without an id are skipped and counted.
func ParseListing(data []byte) ([]Notification, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, 0, nil
	}

	var entries []map[string]json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, 0, fmt.Errorf("decode notification list: %w", err)
		}
	} else {
		var l listing
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, 0, fmt.Errorf("decode notification list: %w", err)
		}
		for _, group := range l.Data {
			var batch []map[string]json.RawMessage
			if err := json.Unmarshal(group, &batch); err != nil {
				return nil, 0, fmt.Errorf("decode notification group: %w", err)
			}
			entries = append(entries, batch...)
		}
	}

	var (
		out     = make([]Notification, 0, len(entries))
		skipped int
	)
	for _, entry := range entries {
		n := Notification{
			ID:    lookup(entry, idKeys),
			App:   lookup(entry, appKeys),
			AppID: lookup(entry, appIDKeys),
		}
		if n.ID == "" {
			skipped++
			continue
		}
		for _, key := range textKeys {
			if raw, ok := entry[key]; ok {
				n.Texts = append(n.Texts, scalar(raw))
			}
		}
		out = append(out, n)
	}
	return out, skipped, nil
}

func lookup(entry map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		if raw, ok := entry[key]; ok {
			if v := scalar(raw); v != "" {
				return v
			}
		}
	}
	return ""
}

// scalar renders a JSON value (optionally wrapped in {"type","data"}) as a string.
func scalar(raw json.RawMessage) string {
	var wrapped struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Type != "" && wrapped.Data != nil {
		raw = wrapped.Data
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ""
	}

	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
