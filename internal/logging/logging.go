// Package logging builds the structured loggers shared by the CLI, the
// installer and the language server.
package logging

import (
	"io"

	"github.com/charmbracelet/log"
)

// Level maps a -v count to a log level: 0 errors only, 1 warnings, 2 info,
// 3 and above debug.
func Level(verbosity int) log.Level {
	switch {
	case verbosity <= 0:
		return log.ErrorLevel
	case verbosity == 1:
		return log.WarnLevel
	case verbosity == 2:
		return log.InfoLevel
	default:
		return log.DebugLevel
	}
}

// New returns a logger writing to w. At verbosity 4 and above call sites are
// reported as well.
func New(w io.Writer, verbosity int) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix:          "crbs",
		Level:           Level(verbosity),
		ReportTimestamp: verbosity >= 3,
		ReportCaller:    verbosity >= 4,
	})
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
