package log

import (
	stdlog "log"

	"go.uber.org/zap"
)

// RedirectStdLog routes the standard library logger (used by Pebble and
// net/http) through l. The returned func restores the previous output.
func RedirectStdLog(l Logger) func() {
	if zl, ok := l.(*zapLogger); ok {
		return zap.RedirectStdLog(zl.z.WithOptions(zap.AddCallerSkip(-1)))
	}
	return func() {}
}

// ToStdLogger adapts l for libraries that want a *log.Logger, such as
// http.Server.ErrorLog.
func ToStdLogger(l Logger) *stdlog.Logger {
	if zl, ok := l.(*zapLogger); ok {
		return zap.NewStdLog(zl.z.WithOptions(zap.AddCallerSkip(-1)))
	}
	return stdlog.Default()
}
