// Package logging provides the structured logger shared by every
// component: orchestrator, listener, and both chunk session state
// machines. Every entry carries at minimum a "component" field; code
// running inside a session also stamps "session_id" and "chunk".
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel parses and applies the minimum log level. On an
// unrecognized name it logs a warning and leaves the current level
// (info unless set earlier) unchanged.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		base.Warnf("unrecognized log level %q, keeping %s", level, base.GetLevel())
		return
	}
	base.SetLevel(lvl)
}

// For returns a logger scoped to a single component (e.g. "orchestrator",
// "listener", "client-session").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
