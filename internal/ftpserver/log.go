package ftpserver

import (
	"log/slog"

	golog "github.com/fclairamb/go-log"
)

// slogAdapter bridges ftpserverlib's logger interface onto slog.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Debug(event string, keyvals ...interface{}) {
	a.l.Debug(event, keyvals...)
}

func (a slogAdapter) Info(event string, keyvals ...interface{}) {
	a.l.Info(event, keyvals...)
}

func (a slogAdapter) Warn(event string, keyvals ...interface{}) {
	a.l.Warn(event, keyvals...)
}

func (a slogAdapter) Error(event string, keyvals ...interface{}) {
	a.l.Error(event, keyvals...)
}

func (a slogAdapter) Panic(event string, keyvals ...interface{}) {
	a.l.Error(event, keyvals...)
}

func (a slogAdapter) With(keyvals ...interface{}) golog.Logger {
	return slogAdapter{l: a.l.With(keyvals...)}
}

var _ golog.Logger = slogAdapter{}
