package blacklog

import (
	"fmt"

	"github.com/go-logr/logr"
)

// ctrlRuntimeSink lets controller-runtime's client log through a blackjack
// Logger. controller-runtime log level N corresponds to blackjack verbosity
// N+1, such that the default verbosity produces no controller-runtime info
// output. Errors are logged at every verbosity.
type ctrlRuntimeSink struct {
	l         Logger
	verbosity int
	name      string
}

// NewCtrlRuntimeLogger wraps l as a logr.Logger suitable for
// sigs.k8s.io/controller-runtime/pkg/log.SetLogger, gated by verbosity.
func NewCtrlRuntimeLogger(l Logger, verbosity int) logr.Logger {
	return logr.New(&ctrlRuntimeSink{l: l, verbosity: verbosity})
}

func (s *ctrlRuntimeSink) Init(_ logr.RuntimeInfo) {}

func (s *ctrlRuntimeSink) Enabled(level int) bool {
	return level < s.verbosity
}

func (s *ctrlRuntimeSink) Info(level int, msg string, keysAndValues ...interface{}) {
	if !s.Enabled(level) {
		return
	}
	s.l.LogWithArgs(s.named(msg), keysAndValues...)
}

func (s *ctrlRuntimeSink) Error(err error, msg string, keysAndValues ...interface{}) {
	s.l.ErrorWithArgs(fmt.Sprintf("%s: %v", s.named(msg), err), keysAndValues...)
}

func (s *ctrlRuntimeSink) WithValues(_ ...interface{}) logr.LogSink {
	return s
}

func (s *ctrlRuntimeSink) WithName(name string) logr.LogSink {
	cp := *s
	if cp.name == "" {
		cp.name = name
	} else {
		cp.name = cp.name + "." + name
	}
	return &cp
}

func (s *ctrlRuntimeSink) named(msg string) string {
	if s.name == "" {
		return msg
	}
	return s.name + ": " + msg
}

var _ logr.LogSink = (*ctrlRuntimeSink)(nil)
