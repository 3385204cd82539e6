// Package corelog is the runtime's logging sink. It wraps zerolog the way
// warren's pkg/log wraps it: a single global logger, a small Level enum,
// and component-scoped child loggers so every subsystem tags its lines.
package corelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the four severities the spec's error handling design talks
// about: debug detail, informational lifecycle events, degraded-but-continuing
// warnings, and fatal-to-the-operation errors.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Logger is the process-wide logger. Init configures it; until Init is
// called it logs at info level to stderr in console form.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
}

// Config configures the global logger.
type Config struct {
	Level  Level
	JSON   bool
	Output io.Writer
}

// Init (re)configures the global logger. Safe to call once at process
// start, typically from cmd/kernelsight's root command.
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

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.JSON {
		Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
}

// For returns a child logger tagged with the given component name, e.g.
// corelog.For("cgroup") or corelog.For("nsorch").
func For(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
