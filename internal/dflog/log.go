// Package dflog provides the structured logger shared by every DataFold
// component, wrapping zerolog the way the rest of the node's ambient stack
// expects: one global logger, component-scoped children, and a security
// event log gated by severity for the signature-auth subsystem.
package dflog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger instance. Init must be called once at
// startup before any component logs; until then Logger writes JSON to stdout
// with no level filter of its own, so early failures are never silently
// dropped.
var Logger zerolog.Logger

// Level is a human-readable log level name, matching the node configuration
// surface rather than zerolog's own enum.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how Init builds the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init (re)configures the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the owning component name,
// e.g. "atom", "transform", "authsig".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithCorrelationID returns a child logger tagged with a bus/request
// correlation id, so a single operation's log lines can be grepped together.
func WithCorrelationID(correlationID string) zerolog.Logger {
	return Logger.With().Str("correlation_id", correlationID).Logger()
}

// WithClient returns a child logger tagged with an authenticated client id.
func WithClient(clientID string) zerolog.Logger {
	return Logger.With().Str("client_id", clientID).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}
