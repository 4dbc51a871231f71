// Package logger wraps zerolog behind a small key-value logging API
// shared by the backends and the CLI.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger. Backends call Log.Debug/Warn around kernel
// launches; the CLI reconfigures it via Setup before doing anything.
var Log *Logger

// Logger is a thin wrapper that accepts variadic key-value pairs.
type Logger struct {
	z zerolog.Logger
}

func init() {
	Log = &Logger{z: console()}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func console() zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).With().Timestamp().Logger()
}

// Setup configures the global logger. Level is one of debug, info,
// warn, error (case-insensitive, default info); format is "json" or
// "console".
func Setup(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if strings.EqualFold(format, "json") {
		Log = &Logger{z: zerolog.New(os.Stderr).With().Timestamp().Logger()}
		return
	}
	Log = &Logger{z: console()}
}

// Debug logs at debug level with variadic key-value pairs.
func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.z.Debug().Fields(kv).Msg(msg)
}

// Info logs at info level with variadic key-value pairs.
func (l *Logger) Info(msg string, kv ...interface{}) {
	l.z.Info().Fields(kv).Msg(msg)
}

// Warn logs at warn level with variadic key-value pairs.
func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.z.Warn().Fields(kv).Msg(msg)
}

// Error logs at error level with variadic key-value pairs.
func (l *Logger) Error(msg string, kv ...interface{}) {
	l.z.Error().Fields(kv).Msg(msg)
}
