package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/tospeak-bridge/internal/bridge"
	"github.com/lexiqai/tospeak-bridge/internal/config"
	"github.com/lexiqai/tospeak-bridge/internal/notify"
	"github.com/lexiqai/tospeak-bridge/internal/speech"
	"github.com/lexiqai/tospeak-bridge/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) events(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	data := append([]byte(nil), b.buf.Bytes()...)
	b.mu.Unlock()

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	return out
}

func (b *syncBuffer) ofType(t *testing.T, typ string) []map[string]any {
	var out []map[string]any
	for _, ev := range b.events(t) {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fakeSource struct {
	mu        sync.Mutex
	list      []notify.Notification
	accessErr []error
	listErr   error
	listed    []time.Time
	accesses  atomic.Int32
}

func (s *fakeSource) RequestAccess(context.Context) error {
	n := int(s.accesses.Add(1))
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= len(s.accessErr) {
		return s.accessErr[n-1]
	}
	return nil
}

func (s *fakeSource) List(context.Context) ([]notify.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed = append(s.listed, time.Now())
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]notify.Notification(nil), s.list...), nil
}

func (s *fakeSource) set(list ...notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = list
}

// maxGapSince returns the longest wait between listings after since.
func (s *fakeSource) maxGapSince(since, until time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var longest time.Duration
	prev := since
	for _, at := range s.listed {
		if at.Before(since) {
			continue
		}
		if gap := at.Sub(prev); gap > longest {
			longest = gap
		}
		prev = at
	}
	if gap := until.Sub(prev); gap > longest {
		longest = gap
	}
	return longest
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

type fakeEngine struct {
	mu     sync.Mutex
	spoken []string
	opts   []tts.ClientOptions
	opens  atomic.Int32
	// busy keeps clients reporting activity until the ceiling.
	busy atomic.Bool
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Voices(context.Context) ([]string, error) {
	return []string{"Kyoko", "Otoya"}, nil
}

func (e *fakeEngine) Open(_ context.Context, opts tts.ClientOptions) (tts.Client, error) {
	e.opens.Add(1)
	e.mu.Lock()
	e.opts = append(e.opts, opts)
	e.mu.Unlock()
	return &fakeClient{engine: e}, nil
}

func (e *fakeEngine) spokenTexts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.spoken...)
}

type fakeClient struct {
	engine *fakeEngine
}

func (c *fakeClient) ReliableCompletion() bool { return true }

func (c *fakeClient) Speak(_ context.Context, text string) error {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	c.engine.spoken = append(c.engine.spoken, text)
	return nil
}

func (c *fakeClient) Status() (tts.Status, error) {
	if c.engine.busy.Load() {
		return tts.StatusWaiting, nil
	}
	return tts.StatusIdle, nil
}

func (c *fakeClient) Close() error { return nil }

var testTiming = speech.Timing{
	GraceWait:         time.Millisecond,
	StartTimeout:      10 * time.Millisecond,
	PollInterval:      2 * time.Millisecond,
	DwellThreshold:    50 * time.Millisecond,
	DwellMargin:       time.Millisecond,
	CompletionCeiling: time.Second,
	ReleaseGrace:      time.Millisecond,
	SlowVoiceDelay:    time.Millisecond,
}

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	defaults := map[string]string{
		"DEFAULT_VOICE":       "Kyoko",
		"DEFAULT_VOLUME":      "20",
		"POLL_INTERVAL":       "10ms",
		"TRANSLIT_ENABLED":    "false",
		"PRONUNCIATION_FILE":  filepath.Join(t.TempDir(), "pronunciations.yaml"),
		"PRONUNCIATION_WATCH": "false",
		"EXIT_ON_STDIN_CLOSE": "false",
		"EMIT_DEBUG_EVENTS":   "true",
		"HTTP_ADDR":           "",
	}
	for k, v := range env {
		defaults[k] = v
	}
	for k, v := range defaults {
		t.Setenv(k, v)
	}
	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)
	return cfg
}

type harness struct {
	app    *App
	source *fakeSource
	engine *fakeEngine
	out    *syncBuffer
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, env map[string]string, source *fakeSource, stdin io.Reader) *harness {
	t.Helper()
	return newTimedHarness(t, env, source, stdin, testTiming)
}

func newTimedHarness(t *testing.T, env map[string]string, source *fakeSource, stdin io.Reader, timing speech.Timing) *harness {
	t.Helper()
	if source == nil {
		source = &fakeSource{}
	}
	if stdin == nil {
		r, w := io.Pipe()
		t.Cleanup(func() { _ = w.Close() })
		stdin = r
	}

	h := &harness{source: source, engine: &fakeEngine{}, out: &syncBuffer{}}
	a, err := New(testConfig(t, env), Deps{
		Source: source,
		Engine: h.engine,
		Stdin:  stdin,
		Stdout: h.out,
		Timing: &timing,
	})
	require.NoError(t, err)
	h.app = a
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.app.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func (h *harness) waitReady(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.out.ofType(t, bridge.TypeReady)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func notification(id, app string, texts ...string) notify.Notification {
	return notify.Notification{ID: id, App: app, Texts: texts}
}

func TestRun_StartupSequence(t *testing.T) {
	src := &fakeSource{list: []notify.Notification{notification("1", "Slack", "Alice", "lunch?")}}
	h := newHarness(t, nil, src, nil)
	h.start(t)
	h.waitReady(t)

	events := h.out.events(t)
	require.GreaterOrEqual(t, len(events), 5)
	var types []string
	for _, ev := range events[:5] {
		types = append(types, ev["type"].(string))
		assert.Equal(t, "toast_bridge", ev["source"])
		assert.NotEmpty(t, ev["timestamp"])
	}
	assert.Equal(t, []string{"info", "debug", "available_voices", "past_notifications", "ready"}, types)

	assert.Equal(t, []any{"Kyoko", "Otoya"}, events[2]["voices"])
	assert.Equal(t, "1件の過去の通知があります", events[3]["text"])
	assert.Equal(t, float64(20), events[4]["volume"])

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.out.ofType(t, bridge.TypeNotification), "seeded notifications are not announced")
	assert.Empty(t, h.engine.spokenTexts())
}

func TestRun_NoPastNotificationsEvent(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.start(t)
	h.waitReady(t)

	assert.Empty(t, h.out.ofType(t, bridge.TypePastNotifications))
}

func TestRun_AnnouncesNewNotification(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.start(t)
	h.waitReady(t)

	h.source.set(notification("7", "Mail", "New message"))

	require.Eventually(t, func() bool {
		return len(h.engine.spokenTexts()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Mail、New message"}, h.engine.spokenTexts())

	events := h.out.ofType(t, bridge.TypeNotification)
	require.Len(t, events, 1)
	assert.Equal(t, "Mail", events[0]["app"])
	assert.Equal(t, "", events[0]["app_id"])
	assert.Equal(t, "New message", events[0]["title"])
	assert.Equal(t, "New message", events[0]["text"])
	assert.Equal(t, "7", events[0]["notification_id"])
	assert.False(t, h.app.tracker.IsNew("7"))

	// Later polls see the same id and stay quiet.
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, h.out.ofType(t, bridge.TypeNotification), 1)
	assert.Len(t, h.engine.spokenTexts(), 1)

	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	assert.Equal(t, tts.ClientOptions{Voice: "Kyoko", Volume: 20}, h.engine.opts[0])
}

func TestRun_QueuedSpeechDoesNotStallPolling(t *testing.T) {
	timing := testTiming
	timing.CompletionCeiling = 300 * time.Millisecond
	r, w := io.Pipe()
	h := newTimedHarness(t, nil, nil, r, timing)
	h.engine.busy.Store(true)
	h.start(t)
	h.waitReady(t)

	_, err := io.WriteString(w, strings.Repeat("{\"type\":\"speak\",\"text\":\"queued\"}\n", 3))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.engine.opens.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	since := time.Now()
	h.source.set(notification("7", "Mail", "New message"))
	require.Eventually(t, func() bool {
		return len(h.out.ofType(t, bridge.TypeNotification)) == 1
	}, timing.CompletionCeiling, 5*time.Millisecond, "notification event waited for queued speech")

	time.Sleep(3 * timing.CompletionCeiling)
	gap := h.source.maxGapSince(since, time.Now())
	assert.Less(t, gap, timing.CompletionCeiling, "poll loop stalled for %s", gap)

	// The announcement is still spoken once the queue drains.
	h.engine.busy.Store(false)
	require.Eventually(t, func() bool {
		texts := h.engine.spokenTexts()
		return len(texts) == 4 && texts[3] == "Mail、New message"
	}, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Close())
}

func TestRun_TransliteratesBeforeSpeaking(t *testing.T) {
	h := newHarness(t, map[string]string{"TRANSLIT_ENABLED": "true"}, nil, nil)
	h.start(t)
	h.waitReady(t)

	h.source.set(notification("7", "Mail", "New message"))

	require.Eventually(t, func() bool {
		return len(h.engine.spokenTexts()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	spoken := h.engine.spokenTexts()[0]
	assert.NotContains(t, spoken, "Mail")
	assert.Contains(t, spoken, "、")
}

func TestRun_SpeechDisabledStillEmits(t *testing.T) {
	h := newHarness(t, map[string]string{"DEFAULT_VOICE": ""}, nil, nil)
	h.start(t)
	h.waitReady(t)

	h.source.set(notification("9", "Mail", "Hi", "there"))

	require.Eventually(t, func() bool {
		return len(h.out.ofType(t, bridge.TypeNotification)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "there", h.out.ofType(t, bridge.TypeNotification)[0]["text"])
	assert.Zero(t, h.engine.opens.Load())
}

func TestRun_BlockedAppIsNotSpoken(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	path := h.app.rulesPath
	require.NoError(t, writeFile(path, "announce:\n  blocked_apps:\n    - app: \"Spam*\"\n"))
	h.start(t)
	h.waitReady(t)

	h.source.set(notification("1", "SpamBot", "buy"), notification("2", "Mail", "hello"))

	require.Eventually(t, func() bool {
		return len(h.engine.spokenTexts()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Mail、hello"}, h.engine.spokenTexts())
	assert.Len(t, h.out.ofType(t, bridge.TypeNotification), 2)
}

func TestRun_AccessDenied(t *testing.T) {
	src := &fakeSource{accessErr: []error{fmt.Errorf("%w: makoctl not found", notify.ErrAccessDenied)}}
	h := newHarness(t, nil, src, nil)

	err := h.app.Run(context.Background())

	require.ErrorIs(t, err, notify.ErrAccessDenied)
	assert.Equal(t, int32(1), src.accesses.Load(), "denial is not retried")
	assert.Len(t, h.out.ofType(t, bridge.TypeError), 1)
	assert.Empty(t, h.out.ofType(t, bridge.TypeReady))
}

func TestRun_ListenerRetriedOnTransientFailure(t *testing.T) {
	src := &fakeSource{accessErr: []error{fmt.Errorf("%w: bus busy", notify.ErrSourceUnavailable)}}
	h := newHarness(t, nil, src, nil)
	h.start(t)
	h.waitReady(t)

	assert.Equal(t, int32(2), src.accesses.Load())
}

func TestRun_PollFailureDoesNotStopLoop(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.start(t)
	h.waitReady(t)

	h.source.fail(errors.New("dbus timeout"))
	require.Eventually(t, func() bool {
		return len(h.out.ofType(t, bridge.TypeError)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.out.ofType(t, bridge.TypeError), 1, "a failure streak is reported once")

	h.source.fail(nil)
	h.source.set(notification("3", "Mail", "back"))
	require.Eventually(t, func() bool {
		return len(h.engine.spokenTexts()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRun_PrunesTrackerAboveCeiling(t *testing.T) {
	h := newHarness(t, map[string]string{"DEDUP_CEILING": "2", "DEFAULT_VOICE": ""}, nil, nil)
	h.start(t)
	h.waitReady(t)

	h.source.set(notification("a", "x"), notification("b", "x"), notification("c", "x"))
	require.Eventually(t, func() bool {
		return len(h.out.ofType(t, bridge.TypeNotification)) == 3
	}, 2*time.Second, 5*time.Millisecond)

	h.source.set(notification("d", "x"))
	require.Eventually(t, func() bool {
		return h.app.tracker.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.app.tracker.IsNew("a"), "pruned ids are forgotten")
}

func TestRun_ExitOnStdinClose(t *testing.T) {
	stdin := strings.NewReader("{\"type\":\"set_volume\",\"volume\":55}\n")
	h := newHarness(t, map[string]string{"EXIT_ON_STDIN_CLOSE": "true"}, nil, stdin)

	done := make(chan error, 1)
	go func() { done <- h.app.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after stdin closed")
	}
	assert.Equal(t, 55, h.app.session.Volume())
}

func TestRun_StdinCloseKeepsPolling(t *testing.T) {
	h := newHarness(t, nil, nil, strings.NewReader(""))
	h.start(t)
	h.waitReady(t)

	h.source.set(notification("5", "Mail", "still here"))
	require.Eventually(t, func() bool {
		return len(h.engine.spokenTexts()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRun_SpeakCommand(t *testing.T) {
	r, w := io.Pipe()
	h := newHarness(t, nil, nil, r)
	h.start(t)
	h.waitReady(t)

	_, err := io.WriteString(w, "garbage\n{\"type\":\"speak\",\"text\":\"hello\"}\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.engine.spokenTexts()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello"}, h.engine.spokenTexts())
	require.NoError(t, w.Close())
}

func TestHandleCommand_SetVolume(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   int
		errors int
	}{
		{"number", `{"type":"set_volume","volume":55}`, 55, 0},
		{"string", `{"type":"set_volume","volume":"70"}`, 70, 0},
		{"clamped high", `{"type":"set_volume","volume":150}`, 100, 0},
		{"clamped low", `{"type":"set_volume","volume":-5}`, 0, 0},
		{"missing uses default", `{"type":"set_volume"}`, 20, 0},
		{"invalid keeps volume", `{"type":"set_volume","volume":"loud"}`, 33, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil, nil)
			h.app.session.SetVolume(33)

			cmd, err := bridge.DecodeCommand([]byte(tt.line))
			require.NoError(t, err)
			h.app.handleCommand(context.Background(), cmd)

			assert.Equal(t, tt.want, h.app.session.Volume())
			assert.Len(t, h.out.ofType(t, bridge.TypeError), tt.errors)
		})
	}
}

func TestHandleCommand_SpeakEmptyText(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.app.handleCommand(context.Background(), bridge.Command{Type: bridge.CommandSpeak, Text: "  "})

	assert.Len(t, h.out.ofType(t, bridge.TypeError), 1)
	assert.Zero(t, h.engine.opens.Load())
}

func TestHandleCommand_UnknownIgnored(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.app.handleCommand(context.Background(), bridge.Command{Type: "reboot"})

	assert.Empty(t, h.out.events(t))
}

func TestSetVoice(t *testing.T) {
	h := newHarness(t, map[string]string{"DEFAULT_VOICE": ""}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.app.dispatcher.Run(ctx) }()

	infoTitles := func() []string {
		var titles []string
		for _, ev := range h.out.ofType(t, bridge.TypeInfo) {
			titles = append(titles, ev["title"].(string))
		}
		return titles
	}

	// Enabling from nothing is reported but not spoken.
	h.app.setVoice(ctx, "Kyoko")
	assert.Equal(t, "Kyoko", h.app.session.Voice())
	assert.Equal(t, []string{"音声を変更しました"}, infoTitles())

	// Selecting the same voice again is a no-op.
	h.app.setVoice(ctx, "Kyoko")
	assert.Len(t, infoTitles(), 1)

	// A genuine change is spoken with the new voice.
	h.app.setVoice(ctx, "Otoya")
	require.Eventually(t, func() bool {
		return len(h.engine.spokenTexts()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"音声を変更しました: Otoya"}, h.engine.spokenTexts())

	// Disabling after a voice was set adds the hint.
	h.app.setVoice(ctx, "")
	assert.False(t, h.app.session.Enabled())
	assert.Equal(t, []string{"音声を変更しました", "音声を変更しました", "音声設定", "音声が無効化されました"}, infoTitles())

	// Disabling again only reports the disabled state.
	h.app.setVoice(ctx, "")
	assert.Equal(t, "音声が無効化されました", infoTitles()[len(infoTitles())-1])
	assert.Len(t, infoTitles(), 5)
}

func TestSetVoice_ChangeAcrossDisable(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.app.dispatcher.Run(ctx) }()

	// Kyoko -> none -> Otoya is a change from the last voice.
	h.app.setVoice(ctx, "")
	h.app.setVoice(ctx, "Otoya")
	require.Eventually(t, func() bool {
		return len(h.engine.spokenTexts()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"音声を変更しました: Otoya"}, h.engine.spokenTexts())

	// Otoya -> none -> Otoya restores the same voice silently.
	h.app.setVoice(ctx, "")
	h.app.setVoice(ctx, "Otoya")
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, h.engine.spokenTexts(), 1)
	assert.True(t, h.app.session.Enabled())
}

func TestSetVoice_AnnouncementDisabled(t *testing.T) {
	h := newHarness(t, map[string]string{"ANNOUNCE_VOICE_CHANGE": "false"}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.app.dispatcher.Run(ctx) }()

	h.app.setVoice(ctx, "Otoya")

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.engine.spokenTexts())
	assert.Len(t, h.out.ofType(t, bridge.TypeInfo), 1)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
