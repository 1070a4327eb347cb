// Package sklog defines the logging functions (e.g. Info, Errorf, etc.).
//
// By default logs are written to stdout via github.com/jcgregorio/logger,
// which emits one line per entry with a severity prefix and caller
// information. Tests that want silence can call SetLogger(NewNopLogger()).
package sklog

import (
	"os"

	logger "github.com/jcgregorio/logger"
)

// Logger is the interface all log destinations implement. The depth argument
// is how many stack frames to skip when reporting the call site, relative to
// the caller of the package-level functions below.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

var impl Logger = logger.NewFromOptions(&logger.Options{
	SyncWriter:   os.Stdout,
	DepthDelta:   3,
	IncludeDebug: true,
})

// SetLogger changes the destination for all subsequent log calls. It is not
// safe to call concurrently with logging.
func SetLogger(l Logger) {
	impl = l
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return logger.NewNopLogger()
}

// Functions to log at various levels. Debug, Info, Warning, Error, and Fatal
// use fmt.Sprint to format the arguments; functions ending in f use
// fmt.Sprintf.
func Debug(msg ...interface{}) {
	impl.Debug(msg...)
}

func Debugf(format string, v ...interface{}) {
	impl.Debugf(format, v...)
}

func Info(msg ...interface{}) {
	impl.Info(msg...)
}

func Infof(format string, v ...interface{}) {
	impl.Infof(format, v...)
}

func Warning(msg ...interface{}) {
	impl.Warning(msg...)
}

func Warningf(format string, v ...interface{}) {
	impl.Warningf(format, v...)
}

func Error(msg ...interface{}) {
	impl.Error(msg...)
}

func Errorf(format string, v ...interface{}) {
	impl.Errorf(format, v...)
}

// Fatal* exits the program after logging.
func Fatal(msg ...interface{}) {
	impl.Fatal(msg...)
}

func Fatalf(format string, v ...interface{}) {
	impl.Fatalf(format, v...)
}

// Flush flushes any buffered log lines. The stdout backend writes
// synchronously, so this is a no-op, but callers about to os.Exit should
// still call it in case the backend changes.
func Flush() {
	_ = os.Stdout.Sync()
}
