// Package logger provides named, leveled loggers shared by every engine package.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/op/go-logging"
)

// Level selects logger verbosity.
type Level int

// The levels that can be passed to SetLevel.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarning
	LevelError
)

var format = logging.MustStringFormatter(
	`%{color}[%{time:15:04:05.000}] [%{module}] [%{level}]%{color:reset} %{message}`,
)

var leveledBackend logging.LeveledBackend

// Logger is the logging interface used across the engine.
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	Info(v ...interface{})
	Infof(format string, v ...interface{})

	Notice(v ...interface{})
	Noticef(format string, v ...interface{})

	Warning(v ...interface{})
	Warningf(format string, v ...interface{})

	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

// New returns a logger for the named module.
//
// Parameters:
//   - module: the module name printed with every message
//
// Returns:
//   - Logger: the named logger
func New(module string) Logger {
	return logging.MustGetLogger(module)
}

// SetSink redirects all logger output to sink. The current level is preserved.
//
// Parameters:
//   - sink: the writer receiving formatted log lines
func SetSink(sink io.Writer) {
	level := logging.NOTICE
	if leveledBackend != nil {
		level = leveledBackend.GetLevel("")
	}
	backend := logging.NewLogBackend(sink, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveledBackend = logging.AddModuleLevel(formatted)
	leveledBackend.SetLevel(level, "")
	logging.SetBackend(leveledBackend)
}

// SetLevel sets the verbosity for all modules.
//
// Parameters:
//   - level: the minimum level that is emitted
func SetLevel(level Level) {
	var l logging.Level
	switch level {
	case LevelDebug:
		l = logging.DEBUG
	case LevelInfo:
		l = logging.INFO
	case LevelNotice:
		l = logging.NOTICE
	case LevelWarning:
		l = logging.WARNING
	default:
		l = logging.ERROR
	}
	leveledBackend.SetLevel(l, "")
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values map to LevelNotice.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelNotice
	}
}

func init() {
	SetSink(os.Stderr)
	SetLevel(LevelNotice)
}
