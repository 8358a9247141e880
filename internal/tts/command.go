package tts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Profile describes how to drive one command-line synthesizer.
type Profile struct {
	Name   string
	Binary string
	// VoiceArgs lists installed voices.
	VoiceArgs   []string
	ParseVoices func(out []byte) []string
	// SpeakArgs builds the playback arguments; text is written to stdin.
	SpeakArgs func(opts ClientOptions) []string
	// Prepare rewrites text before playback. Nil leaves it unchanged.
	Prepare func(text string, opts ClientOptions) string
}

// ESpeakProfile drives espeak-ng.
var ESpeakProfile = Profile{
	Name:        "espeak-ng",
	Binary:      "espeak-ng",
	VoiceArgs:   []string{"--voices"},
	ParseVoices: parseESpeakVoices,
	SpeakArgs: func(opts ClientOptions) []string {
		// espeak-ng amplitude runs 0-200 with 100 as the default.
		args := []string{"-a", strconv.Itoa(ClampVolume(opts.Volume) * 2)}
		if opts.Voice != "" {
			args = append(args, "-v", opts.Voice)
		}
		return append(args, "--stdin")
	},
}

// SayProfile drives the macOS say command.
var SayProfile = Profile{
	Name:        "say",
	Binary:      "say",
	VoiceArgs:   []string{"-v", "?"},
	ParseVoices: parseSayVoices,
	SpeakArgs: func(opts ClientOptions) []string {
		if opts.Voice == "" {
			return nil
		}
		return []string{"-v", opts.Voice}
	},
	Prepare: func(text string, opts ClientOptions) string {
		return fmt.Sprintf("[[volm %.2f]] %s", float64(ClampVolume(opts.Volume))/100, text)
	},
}

// Process is a started playback command.
type Process interface {
	Wait() error
	Kill() error
}

// Starter starts name with args and stdin.
type Starter func(ctx context.Context, name string, args []string, stdin string) (Process, error)

// Runner runs name with args to completion and returns stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandEngine plays speech through a synthesizer subprocess, one process
// per utterance.
type CommandEngine struct {
	profile  Profile
	binary   string
	start    Starter
	run      Runner
	lookPath func(string) (string, error)
	logger   zerolog.Logger
}

// CommandOption configures a CommandEngine.
type CommandOption func(*CommandEngine)

// WithStarter replaces the playback process starter.
func WithStarter(s Starter) CommandOption {
	return func(e *CommandEngine) { e.start = s }
}

// WithRunner replaces the runner used for voice listing.
func WithRunner(r Runner) CommandOption {
	return func(e *CommandEngine) { e.run = r }
}

// WithLookPath replaces the binary lookup used by Open.
func WithLookPath(fn func(string) (string, error)) CommandOption {
	return func(e *CommandEngine) { e.lookPath = fn }
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) CommandOption {
	return func(e *CommandEngine) { e.logger = logger }
}

// NewCommandEngine creates an engine for profile. An empty binary uses the profile default.
func NewCommandEngine(profile Profile, binary string, opts ...CommandOption) *CommandEngine {
	if binary == "" {
		binary = profile.Binary
	}
	e := &CommandEngine{
		profile:  profile,
		binary:   binary,
		start:    startProcess,
		run:      runOutput,
		lookPath: exec.LookPath,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the profile name.
func (e *CommandEngine) Name() string { return e.profile.Name }

// Voices lists installed voices.
func (e *CommandEngine) Voices(ctx context.Context) ([]string, error) {
	out, err := e.run(ctx, e.binary, e.profile.VoiceArgs...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrEngineUnavailable, e.binary, err)
		}
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return e.profile.ParseVoices(out), nil
}

// Open returns a client bound to opts. The process starts on Speak.
func (e *CommandEngine) Open(_ context.Context, opts ClientOptions) (Client, error) {
	if _, err := e.lookPath(e.binary); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEngineUnavailable, e.binary, err)
	}
	return &commandClient{engine: e, opts: opts}, nil
}

type commandClient struct {
	engine *CommandEngine
	opts   ClientOptions

	mu      sync.Mutex
	proc    Process
	running bool
	err     error
	done    chan struct{}
}

func (c *commandClient) ReliableCompletion() bool { return true }

func (c *commandClient) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("utterance already playing")
	}

	if c.engine.profile.Prepare != nil {
		text = c.engine.profile.Prepare(text, c.opts)
	}
	args := c.engine.profile.SpeakArgs(c.opts)

	// Playback outlives the submitting call; Close ends it.
	proc, err := c.engine.start(context.WithoutCancel(ctx), c.engine.binary, args, text)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
		}
		return fmt.Errorf("start %s: %w", c.engine.binary, err)
	}

	c.proc = proc
	c.running = true
	c.done = make(chan struct{})
	go c.wait(proc, c.done)
	return nil
}

func (c *commandClient) wait(proc Process, done chan struct{}) {
	err := proc.Wait()

	c.mu.Lock()
	c.running = false
	c.err = err
	c.mu.Unlock()
	close(done)

	if err != nil {
		c.engine.logger.Debug().Err(err).Str("engine", c.engine.profile.Name).Msg("Playback process exited with error")
	}
}

func (c *commandClient) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return StatusRendering, nil
	}
	return StatusIdle, nil
}

func (c *commandClient) Close() error {
	c.mu.Lock()
	proc, running, done := c.proc, c.running, c.done
	c.mu.Unlock()

	if !running {
		return nil
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("stop %s: %w", c.engine.binary, err)
	}
	<-done
	return nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }
func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

func startProcess(ctx context.Context, name string, args []string, stdin string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
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

// parseESpeakVoices reads `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  af              --/M      Afrikaans          gmw/af
func parseESpeakVoices(out []byte) []string {
	var voices []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, fields[3])
	}
	return voices
}

var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9]+)\s+#`)

// parseSayVoices reads `say -v ?`:
//
//	Bad News            en_US    # The light you see at the end of the tunnel...
func parseSayVoices(out []byte) []string {
	var voices []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if m := sayVoiceLine.FindStringSubmatch(sc.Text()); m != nil {
			voices = append(voices, strings.TrimSpace(m[1]))
		}
	}
	return voices
}
