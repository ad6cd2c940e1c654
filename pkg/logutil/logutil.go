// Package logutil wires logrus as the concrete logger behind the
// siddontang/loggers.Advanced-shaped interface the teacher threads through
// every long-lived component (chunkerComposite, Client, the migration
// runner). Components here take a *logrus.Entry (which satisfies
// loggers.Advanced) at construction time instead of reaching for a global
// logger.
package logutil

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New returns a component-scoped logger, e.g. logutil.New("extractor.mysql").
func New(component string) *logrus.Entry {
	logger := logrus.StandardLogger()
	return logger.WithField("component", component)
}

// Nop returns a logger that discards everything, for tests.
func Nop() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "nop")
}

// Configure sets the process-wide logrus level and formatter. Called once
// from cmd/dts at startup, mirroring the teacher's reliance on a single
// package-level logging setup rather than per-component configuration.
func Configure(level logrus.Level, json bool) {
	logrus.SetLevel(level)
	if json {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
