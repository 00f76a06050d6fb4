// Package logger provides the structured, leveled logging interface used
// throughout the agent. It wraps github.com/op/go-logging so every
// component can depend on the small Logger interface instead of a
// concrete logging library.
package logger

import (
	"fmt"
	"os"

	logging "github.com/op/go-logging"
)

// Logger is the leveled logging interface every component is handed at
// construction time.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Noticef(format string, args ...interface{})
	Notice(msg string)
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Error(msg string)
	Criticalf(format string, args ...interface{})

	// With returns a child logger carrying additional key=value context
	// prefixed to every subsequent message (e.g. the protocol network).
	With(fields ...interface{}) Logger
}

// agentLogger is the default Logger implementation.
type agentLogger struct {
	backend *logging.Logger
	prefix  string
}

// New creates the root logger for the given module name and level.
func New(module string, level string) Logger {
	backend := logging.MustGetLogger(module)

	fmtr := logging.MustStringFormatter(
		`%{time:2006-01-02T15:04:05.000Z07:00} %{level:.4s} [%{module}] %{message}`,
	)
	be := logging.NewLogBackend(os.Stderr, "", 0)
	beFmt := logging.NewBackendFormatter(be, fmtr)
	beLeveled := logging.AddModuleLevel(beFmt)

	lvl, err := logging.LogLevel(level)
	if err != nil {
		lvl = logging.INFO
	}
	beLeveled.SetLevel(lvl, "")
	logging.SetBackend(beLeveled)

	return &agentLogger{backend: backend}
}

func (l *agentLogger) line(format string) string {
	if l.prefix == "" {
		return format
	}
	return l.prefix + " " + format
}

func (l *agentLogger) Debugf(format string, args ...interface{})    { l.backend.Debugf(l.line(format), args...) }
func (l *agentLogger) Infof(format string, args ...interface{})     { l.backend.Infof(l.line(format), args...) }
func (l *agentLogger) Noticef(format string, args ...interface{})   { l.backend.Noticef(l.line(format), args...) }
func (l *agentLogger) Notice(msg string)                            { l.backend.Notice(l.line(msg)) }
func (l *agentLogger) Warningf(format string, args ...interface{})  { l.backend.Warningf(l.line(format), args...) }
func (l *agentLogger) Errorf(format string, args ...interface{})    { l.backend.Errorf(l.line(format), args...) }
func (l *agentLogger) Error(msg string)                             { l.backend.Error(l.line(msg)) }
func (l *agentLogger) Criticalf(format string, args ...interface{}) { l.backend.Criticalf(l.line(format), args...) }

// With returns a child logger that prefixes every message with the given
// key=value pairs, e.g. With("network", "eip155:1").
func (l *agentLogger) With(fields ...interface{}) Logger {
	prefix := l.prefix
	for i := 0; i+1 < len(fields); i += 2 {
		prefix = fmt.Sprintf("%s[%v=%v]", prefix, fields[i], fields[i+1])
	}
	return &agentLogger{backend: l.backend, prefix: prefix}
}
