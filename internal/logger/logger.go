// Package logger holds the process-wide logrus logger.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Wikid82/cerberus/internal/util"
)

var _log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.AddHook(sanitizeHook{})
	return l
}

// Init initializes the global logger with output writer and debug level.
// Debug logging uses the text formatter, everything else JSON lines.
func Init(debug bool, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	_log.SetOutput(out)
	if debug {
		_log.SetLevel(logrus.DebugLevel)
		_log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		_log.SetLevel(logrus.InfoLevel)
		_log.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Log returns a standard logger entry to use across packages.
func Log() *logrus.Entry {
	return logrus.NewEntry(_log)
}

// WithFields returns a logger entry with provided fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log().WithFields(fields)
}

// Component returns an entry tagged with the emitting engine component
// (waf, blocklist, threat, scheduler, ...).
func Component(name string) *logrus.Entry {
	return Log().WithField("source", name)
}

// sanitizeHook strips control characters from string fields so request
// content cannot forge log lines.
type sanitizeHook struct{}

func (sanitizeHook) Levels() []logrus.Level { return logrus.AllLevels }

func (sanitizeHook) Fire(entry *logrus.Entry) error {
	for k, v := range entry.Data {
		if s, ok := v.(string); ok {
			entry.Data[k] = util.SanitizeForLog(s)
		}
	}
	return nil
}
