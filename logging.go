// Structured logging for the kernel.
//
// Logging is wired through github.com/joeycumines/logiface with the
// github.com/joeycumines/izerolog adapter onto github.com/rs/zerolog,
// matching the teacher's use of logiface/izerolog/zerolog for its own
// event-loop diagnostics (TC/logging.go wires a pluggable Logger interface
// around a concrete backend; this file follows the same shape, swapping
// the hand-rolled stdout writer for the real logiface/zerolog stack).

package eex

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the kernel's structured logging sink. It wraps a
// logiface.Logger bound to the izerolog/zerolog event type, so that
// kernel diagnostics (dispatch decisions, saturation, timer fires,
// timeouts) flow through the same fluent field-builder API a consuming
// application already uses for its own logging.
type Logger struct {
	l *logiface.Logger[*izerolog.Event]
}

// NewLogger builds a Logger writing structured (JSON) records to w at
// the given minimum level.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	return &Logger{
		l: logiface.New[*izerolog.Event](
			izerolog.WithZerolog(zl),
			logiface.WithLevel[*izerolog.Event](level),
		),
	}
}

// NewNoopLogger returns a Logger with logging disabled; all calls are
// near-zero-cost level checks.
func NewNoopLogger() *Logger {
	return &Logger{
		l: logiface.New[*izerolog.Event](
			logiface.WithLevel[*izerolog.Event](logiface.LevelDisabled),
		),
	}
}

// defaultLogger is used by a *Kernel constructed without WithLogger.
func defaultLogger() *Logger {
	return NewLogger(os.Stderr, logiface.LevelInformational)
}

func (l *Logger) threadCreated(tid uint32, name string) {
	l.l.Info().Uint64("thread_id", uint64(tid)).Str("name", name).Log("thread created")
}

func (l *Logger) threadCreateFailed(priority uint32, status Status) {
	l.l.Warning().Uint64("priority", uint64(priority)).Str("status", status.String()).Log("thread create rejected")
}

func (l *Logger) dispatch(tid uint32, fresh bool) {
	l.l.Debug().Uint64("thread_id", uint64(tid)).Bool("fresh", fresh).Log("dispatch")
}

func (l *Logger) blocked(tid uint32, kind string) {
	l.l.Trace().Uint64("thread_id", uint64(tid)).Str("kobj_kind", kind).Log("thread blocked")
}

func (l *Logger) timeout(tid uint32) {
	l.l.Debug().Uint64("thread_id", uint64(tid)).Log("thread timed out")
}

func (l *Logger) hoisted(owner, pender uint32) {
	l.l.Debug().Uint64("owner", uint64(owner)).Uint64("pender", uint64(pender)).Log("mutex owner priority hoisted")
}

func (l *Logger) saturated(kind string) {
	l.l.Trace().Str("kobj_kind", kind).Log("post saturated, silently clamped")
}

func (l *Logger) idle(msUntilTimeout int32) {
	l.l.Trace().Int64("ms_until_timeout", int64(msUntilTimeout)).Log("idle hook invoked")
}

func (l *Logger) timerFired(name string, periodic bool) {
	l.l.Debug().Str("timer", name).Bool("periodic", periodic).Log("timer fired")
}
