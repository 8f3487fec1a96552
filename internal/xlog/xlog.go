// Package xlog is the structured logger shared by every package in this
// module. It wraps a single logrus.Logger so that verbosity can be toggled
// once, from the CLI entrypoint, instead of each package managing its own
// log.Logger the way the teacher's torrent package did with debugLog.
package xlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var base = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetVerbose routes logs to stderr at debug level when v is true, and
// discards them otherwise. Mirrors the teacher's SetVerbose toggle.
func SetVerbose(v bool) {
	if v {
		base.SetOutput(os.Stderr)
		base.SetLevel(logrus.DebugLevel)
		return
	}
	base.SetOutput(io.Discard)
}

// SetLevel sets the logger's minimum level without touching its output.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// Get returns the shared logger.
func Get() *logrus.Logger {
	return base
}

// With returns an Entry pre-populated with the given fields, the usual
// entrypoint for call sites that want structured context.
func With(fields logrus.Fields) *logrus.Entry {
	return base.WithFields(fields)
}
