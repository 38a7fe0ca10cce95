// Package logging provides the small leveled-logger contract the engine
// depends on, so that callers never import logrus
// directly -- the same shape as the teacher's definition.DefaultLogger.
package logging

import (
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger is the narrow leveled-logging contract the rest of the module
// depends on. Diagnostics are advisory only (spec.md §7): nothing about
// dispatch correctness may depend on what gets logged.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	// WithField returns a derived Logger that attaches one structured
	// field (e.g. "peer", "msg_id") to every subsequent line.
	WithField(key string, value interface{}) Logger
}

// logrusLogger backs Logger with a structured logrus entry. Every
// process gets a random instanceID stamped into its lines so operators
// can tell concurrently-running node processes apart in aggregated logs
// (the pattern tenzoki-agen's envelope package uses uuid for message
// correlation; here it correlates log lines to a process instead).
type logrusLogger struct {
	entry *logrus.Entry
}

// New builds the default Logger, writing structured lines to stderr
// (stdout is reserved for outbound envelopes, spec.md §6).
func New(nodeID string) Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	entry := base.WithFields(logrus.Fields{
		"instance": uuid.NewString(),
	})
	if nodeID != "" {
		entry = entry.WithField("node_id", nodeID)
	}
	return &logrusLogger{entry: entry}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *logrusLogger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
