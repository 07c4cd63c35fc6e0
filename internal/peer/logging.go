package peer

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// NewLoggerFactory routes pion's leveled logging into slog. Trace maps to
// Debug; slog has no finer level.
func NewLoggerFactory(base *slog.Logger) logging.LoggerFactory {
	if base == nil {
		base = slog.Default()
	}
	return loggerFactory{base: base}
}

type loggerFactory struct {
	base *slog.Logger
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return leveledLogger{l: f.base.With(slog.String("scope", scope))}
}

type leveledLogger struct {
	l *slog.Logger
}

func (l leveledLogger) Trace(msg string)                          { l.l.Debug(msg) }
func (l leveledLogger) Tracef(format string, args ...interface{}) { l.l.Debug(fmt.Sprintf(format, args...)) }
func (l leveledLogger) Debug(msg string)                          { l.l.Debug(msg) }
func (l leveledLogger) Debugf(format string, args ...interface{}) { l.l.Debug(fmt.Sprintf(format, args...)) }
func (l leveledLogger) Info(msg string)                           { l.l.Info(msg) }
func (l leveledLogger) Infof(format string, args ...interface{})  { l.l.Info(fmt.Sprintf(format, args...)) }
func (l leveledLogger) Warn(msg string)                           { l.l.Warn(msg) }
func (l leveledLogger) Warnf(format string, args ...interface{})  { l.l.Warn(fmt.Sprintf(format, args...)) }
func (l leveledLogger) Error(msg string)                          { l.l.Error(msg) }
func (l leveledLogger) Errorf(format string, args ...interface{}) { l.l.Error(fmt.Sprintf(format, args...)) }
