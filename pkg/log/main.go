// Package log provides the shared logging entrypoint for the whole codebase.
// It wraps logrus so call sites can grab a request-scoped logger with
// log.Ctx(ctx) and chain fields the logrus way, while this package keeps
// control over the default level, output and formatter.
package log

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// F wraps a map of log fields, to make call sites shorter.
type F map[string]interface{}

// Entry is the logging object used throughout the codebase.
type Entry struct {
	logrus.Entry

	isTesting bool
}

// DefaultLogger is used by the package-level functions and returned by Ctx
// when no logger was bound to the context.
var DefaultLogger *Entry

// Re-exported levels so callers don't need to import logrus directly.
const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
	TraceLevel = logrus.TraceLevel
)

func init() {
	DefaultLogger = New()
}

// New creates a new logger writing to stderr at WARN with the text formatter.
// Commands are expected to raise the level from configuration.
func New() *Entry {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return &Entry{Entry: *logrus.NewEntry(l)}
}

// NewWithWriter creates a new logger writing to w.
func NewWithWriter(w io.Writer) *Entry {
	e := New()
	e.Logger.SetOutput(w)
	return e
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: *e.Entry.WithField(key, value), isTesting: e.isTesting}
}

func (e *Entry) WithFields(fields F) *Entry {
	return &Entry{Entry: *e.Entry.WithFields(logrus.Fields(fields)), isTesting: e.isTesting}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: *e.Entry.WithError(err), isTesting: e.isTesting}
}

// SetLevel sets the minimum severity this logger emits.
func (e *Entry) SetLevel(level logrus.Level) {
	e.Logger.SetLevel(level)
}

// SetOutput redirects the logger's output.
func (e *Entry) SetOutput(w io.Writer) {
	e.Logger.SetOutput(w)
}

// AddHook adds a logrus hook to the underlying logger.
func (e *Entry) AddHook(hook logrus.Hook) {
	e.Logger.AddHook(hook)
}

// UseJSONFormatter switches the logger to structured JSON output, the format
// used in deployed environments.
func (e *Entry) UseJSONFormatter() {
	e.Logger.SetFormatter(&logrus.JSONFormatter{})
}

// StartTest swaps the logger output for a recording hook and lowers the level
// to the one provided. The returned function stops the recording, restores
// the logger and returns every entry logged while it ran.
func (e *Entry) StartTest(level logrus.Level) func() []logrus.Entry {
	if e.isTesting {
		panic("cannot start logger test twice")
	}

	e.isTesting = true
	hook := &test.Hook{}
	e.Logger.AddHook(hook)

	oldOut := e.Logger.Out
	e.Logger.SetOutput(io.Discard)

	oldLevel := e.Logger.GetLevel()
	e.Logger.SetLevel(level)

	return func() []logrus.Entry {
		e.Logger.SetLevel(oldLevel)
		e.Logger.SetOutput(oldOut)
		e.removeHook(hook)
		e.isTesting = false

		recorded := hook.AllEntries()
		entries := make([]logrus.Entry, len(recorded))
		for i, entry := range recorded {
			entries[i] = *entry
		}
		return entries
	}
}

func (e *Entry) removeHook(target logrus.Hook) {
	for level, hooks := range e.Logger.Hooks {
		kept := make([]logrus.Hook, 0, len(hooks))
		for _, h := range hooks {
			if h != target {
				kept = append(kept, h)
			}
		}
		e.Logger.Hooks[level] = kept
	}
}

type contextKey struct{}

var loggerContextKey = contextKey{}

// Set binds a logger to the context.
func Set(ctx context.Context, e *Entry) context.Context {
	return context.WithValue(ctx, loggerContextKey, e)
}

// Ctx returns the logger bound to the context, defaulting to DefaultLogger.
func Ctx(ctx context.Context) *Entry {
	if found, ok := ctx.Value(loggerContextKey).(*Entry); ok {
		return found
	}
	return DefaultLogger
}

// SetLevel sets the minimum severity on the default logger.
func SetLevel(level logrus.Level) {
	DefaultLogger.SetLevel(level)
}

func Debug(args ...interface{})                 { DefaultLogger.Debug(args...) }
func Debugf(format string, args ...interface{}) { DefaultLogger.Debugf(format, args...) }
func Info(args ...interface{})                  { DefaultLogger.Info(args...) }
func Infof(format string, args ...interface{})  { DefaultLogger.Infof(format, args...) }
func Warn(args ...interface{})                  { DefaultLogger.Warn(args...) }
func Warnf(format string, args ...interface{})  { DefaultLogger.Warnf(format, args...) }
func Error(args ...interface{})                 { DefaultLogger.Error(args...) }
func Errorf(format string, args ...interface{}) { DefaultLogger.Errorf(format, args...) }
func Fatal(args ...interface{})                 { DefaultLogger.Fatal(args...) }
func Fatalf(format string, args ...interface{}) { DefaultLogger.Fatalf(format, args...) }
func Panicf(format string, args ...interface{}) { DefaultLogger.Panicf(format, args...) }

func WithField(key string, value interface{}) *Entry { return DefaultLogger.WithField(key, value) }
func WithFields(fields F) *Entry                     { return DefaultLogger.WithFields(fields) }
