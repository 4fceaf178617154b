package log

import (
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minStackBufSize = 32
	// "goroutine " prefix of a stack header.
	goroutinePrefixLen = 10
	minStackTraceLen   = 12
	consoleTimeFormat  = "15:04:05"
)

var (
	Logger        zerolog.Logger
	goroutinePool = sync.Pool{
		New: func() interface{} {
			return make([]byte, minStackBufSize)
		},
	}
)

// goroutineID parses the id out of "goroutine 123 [running]:".
func goroutineID() string {
	buf, ok := goroutinePool.Get().([]byte)
	if !ok {
		return "unknown"
	}
	defer goroutinePool.Put(buf) //nolint:staticcheck // buf is a slice, this is the correct usage

	stackLen := runtime.Stack(buf, false)
	if stackLen < minStackTraceLen {
		return "unknown"
	}

	idx := goroutinePrefixLen
	start := idx
	for idx < stackLen && buf[idx] >= '0' && buf[idx] <= '9' {
		idx++
	}

	if idx > start {
		return string(buf[start:idx])
	}
	return "unknown"
}

func goroutineHook() zerolog.Hook {
	return zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
		e.Str("goid", goroutineID())
	})
}

func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger().
		Hook(goroutineHook())
}

func init() {
	Logger = newLogger(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: consoleTimeFormat,
	}, zerolog.InfoLevel)

	log.Logger = Logger
}

// Info logs an info message with goroutine ID.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Error logs an error message with goroutine ID.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Warn logs a warning message with goroutine ID.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Debug logs a debug message with goroutine ID.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Fatal logs a fatal message with goroutine ID and exits.
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// SetDebugMode switches the logger to debug level.
func SetDebugMode() {
	Logger = Logger.Level(zerolog.DebugLevel)
	log.Logger = Logger
}

// SetLevel sets the level by name ("debug", "info", "warn", "error").
// An empty name leaves the level unchanged.
func SetLevel(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return err
	}

	Logger = Logger.Level(level)
	log.Logger = Logger
	return nil
}

// SetJSONOutput switches to plain JSON lines on out, keeping the current level.
func SetJSONOutput(out io.Writer) {
	Logger = newLogger(out, Logger.GetLevel())
	log.Logger = Logger
}
