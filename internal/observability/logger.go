package observability

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

var (
	loggerMu     sync.RWMutex
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger initializes the global structured logger on stderr.
// Stdout is reserved for the event stream, so logs never go there.
func InitLogger(level string, pretty bool) {
	InitLoggerTo(os.Stderr, level, pretty)
}

// InitLoggerTo initializes the global logger writing to w.
func InitLoggerTo(w io.Writer, level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || logLevel == zerolog.NoLevel {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	loggerMu.Lock()
	globalLogger = zerolog.New(out).With().Timestamp().Logger()
	log.Logger = globalLogger
	initialized = true
	loggerMu.Unlock()
}

// ResolvePretty turns the LOG_PRETTY setting into a decision.
// An empty setting enables console output only when stderr is a terminal.
func ResolvePretty(setting string) bool {
	if setting != "" {
		pretty, err := strconv.ParseBool(setting)
		return err == nil && pretty
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	loggerMu.RLock()
	ready := initialized
	logger := globalLogger
	loggerMu.RUnlock()

	if !ready {
		InitLogger("info", false)
		return GetLogger()
	}
	return logger
}

// WithComponent returns a logger tagged with the component name
func WithComponent(name string) zerolog.Logger {
	return GetLogger().With().Str("component", name).Logger()
}

// WithCorrelationID creates a logger with a correlation ID
func WithCorrelationID(correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().Str("correlation_id", correlationID).Logger()
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
