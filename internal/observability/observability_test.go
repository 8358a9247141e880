package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerTo(&buf, "debug", false)
	t.Cleanup(func() { InitLoggerTo(&bytes.Buffer{}, "info", false) })

	logger := WithComponent("speech")
	logger.Debug().Str("voice", "Kyoko").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "speech", line["component"])
	assert.Equal(t, "Kyoko", line["voice"])
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInitLoggerTo_UnknownLevelFallsBackToInfo(t *testing.T) {
	InitLoggerTo(&bytes.Buffer{}, "chatty", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerTo(&buf, "info", false)
	t.Cleanup(func() { InitLoggerTo(&bytes.Buffer{}, "info", false) })

	logger := WithCorrelationID("")
	logger.Info().Msg("x")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	id, _ := line["correlation_id"].(string)
	assert.Len(t, id, 36)
}

func TestResolvePretty(t *testing.T) {
	assert.True(t, ResolvePretty("true"))
	assert.False(t, ResolvePretty("false"))
	assert.False(t, ResolvePretty("garbage"))
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler("1.2.3")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, ServiceName, status.Service)
	assert.Equal(t, "1.2.3", status.Version)
}

func TestReadinessHandler(t *testing.T) {
	ok := func(context.Context) (bool, error) { return true, nil }
	failing := func(context.Context) (bool, error) { return false, errors.New("engine unavailable") }

	t.Run("all healthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ReadinessHandler("dev", map[string]HealthCheckFunc{"engine": ok, "listener": ok})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var status HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "ready", status.Status)
		assert.Len(t, status.Dependencies, 2)
	})

	t.Run("one failing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ReadinessHandler("dev", map[string]HealthCheckFunc{"engine": failing, "listener": ok})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var status HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "not_ready", status.Status)
		assert.Equal(t, "unhealthy", status.Dependencies["engine"].Status)
		assert.Equal(t, "engine unavailable", status.Dependencies["engine"].Message)
		assert.Equal(t, "healthy", status.Dependencies["listener"].Status)
	})
}

func TestServer_Routes(t *testing.T) {
	srv := NewServer(ServerOptions{
		Version:        "dev",
		MetricsEnabled: true,
		Routes: map[string]http.Handler{
			"/events": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("events"))
			}),
		},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/health", "/ready", "/metrics", "/events"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	srv := NewServer(ServerOptions{Version: "dev"})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := NewServer(ServerOptions{Addr: "127.0.0.1:0", Version: "dev"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	require.NoError(t, <-done)
}

func TestUtteranceMetrics_RecordEndOnce(t *testing.T) {
	before := testutil.ToFloat64(speechRequests.WithLabelValues("completed"))
	activeBefore := testutil.ToFloat64(activeSpeech)

	m := NewUtteranceMetrics("u-1")
	m.RecordStart()
	assert.Equal(t, activeBefore+1, testutil.ToFloat64(activeSpeech))

	m.RecordEnd("completed", true)
	m.RecordEnd("completed", true)

	assert.Equal(t, before+1, testutil.ToFloat64(speechRequests.WithLabelValues("completed")))
	assert.Equal(t, activeBefore, testutil.ToFloat64(activeSpeech))
}

func TestPackageCounters(t *testing.T) {
	before := testutil.ToFloat64(notificationsTotal.WithLabelValues("new"))
	RecordNotifications("new", 3)
	RecordNotifications("new", 0)
	assert.Equal(t, before+3, testutil.ToFloat64(notificationsTotal.WithLabelValues("new")))

	SetDedupTracked(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(dedupTracked))

	UpdateCircuitBreakerState("engine", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("engine")))

	beforeEvents := testutil.ToFloat64(eventsTotal.WithLabelValues("notification"))
	RecordEvent("notification")
	assert.Equal(t, beforeEvents+1, testutil.ToFloat64(eventsTotal.WithLabelValues("notification")))
}
