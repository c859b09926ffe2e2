package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions selects the level and the optional rotating file sink.
type LogOptions struct {
	Level      string
	File       string // empty: stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger creates a structured JSON logger for component. Level comes
// from LOG_LEVEL; LOG_FILE adds a rotating file next to stdout.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithOptions(component, LogOptions{
		Level: os.Getenv("LOG_LEVEL"),
		File:  os.Getenv("LOG_FILE"),
	})
}

// NewLoggerWithLevel creates a stdout logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func NewLoggerWithOptions(component string, opts LogOptions) zerolog.Logger {
	return zerolog.New(logWriter(opts)).
		Level(parseLogLevel(opts.Level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func logWriter(opts LogOptions) io.Writer {
	if opts.File == "" {
		return os.Stdout
	}
	rotating := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    orDefault(opts.MaxSizeMB, 100),
		MaxBackups: orDefault(opts.MaxBackups, 5),
		MaxAge:     orDefault(opts.MaxAgeDays, 28),
		Compress:   true,
	}
	return zerolog.MultiLevelWriter(os.Stdout, rotating)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
