// Package logrus adapts sirupsen/logrus to cachesink.Logger.
package logrus

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/cachesink"
)

var _ cachesink.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New returns a logger writing to w at level ("" => info).
func New(w io.Writer, level string, json bool) (LogrusLogger, error) {
	l := logrus.New()
	l.SetOutput(w)
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return LogrusLogger{}, err
		}
		l.SetLevel(lvl)
	}
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return LogrusLogger{E: logrus.NewEntry(l).WithField("component", "cachesink")}, nil
}

func (l LogrusLogger) Debug(msg string, f cachesink.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f cachesink.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l LogrusLogger) Warn(msg string, f cachesink.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l LogrusLogger) Error(msg string, f cachesink.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}
