// Package blacklog provides the logger used throughout blackjack.
package blacklog

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Logger is the interface the runner, step executor and script invoker log
// through. Implementations must be safe to use from the reflector goroutine
// and the step-runner goroutine of the same test concurrently.
type Logger interface {
	Log(message string)
	LogWithArgs(message string, args ...interface{})
	Error(message string)
	ErrorWithArgs(message string, args ...interface{})
	WithGroup(group string) Logger
	// Write implements io.Writer so the logger can receive a script's
	// stdout/stderr directly.
	Write(p []byte) (n int, err error)
	Flush()
}

// runnerLogger is the default Logger. Child loggers for each test, attempt,
// script and watch are derived from it via WithGroup.
type runnerLogger struct {
	mu     sync.Mutex
	buffer []byte
	logger *slog.Logger
}

// Level mirrors the --log-level flag; it is translated to a charmbracelet/log
// level when the handler is built.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toCharm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// New creates the root logger, identified by group; per-test loggers are
// derived from it with WithGroup.
func New(group string, level Level) Logger {
	handler := log.NewWithOptions(os.Stdout, log.Options{
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
	})
	handler.SetLevel(level.toCharm())

	logger := slog.New(handler).WithGroup(group)

	return &runnerLogger{
		buffer: []byte{},
		logger: logger,
	}
}

func (r *runnerLogger) Log(message string) {
	r.logger.Info(message)
}

func (r *runnerLogger) LogWithArgs(message string, args ...interface{}) {
	r.logger.Info(message, args...)
}

func (r *runnerLogger) Error(message string) {
	r.logger.Error(message)
}

func (r *runnerLogger) ErrorWithArgs(message string, args ...interface{}) {
	r.logger.Error(message, args...)
}

func (r *runnerLogger) WithGroup(group string) Logger {
	return &runnerLogger{
		buffer: []byte{},
		logger: r.logger.WithGroup(group),
	}
}

// Write logs each complete line written to it, buffering any incomplete
// trailing line until the next Write call. This lets it double as the
// stdout/stderr sink for a sourced script.
func (r *runnerLogger) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, p...)

	split := bytes.Split(r.buffer, []byte{'\n'})
	r.buffer = split[len(split)-1]

	for _, line := range split[:len(split)-1] {
		r.Log(string(line))
	}

	return len(p), nil
}

func (r *runnerLogger) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) != 0 {
		r.Log(string(r.buffer))
		r.buffer = []byte{}
	}
}

var _ io.Writer = (*runnerLogger)(nil)
