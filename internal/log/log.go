// Package log sets up the broker's structured logging, grounded on
// controller/remote/controller.go's serveCmd: a parsed level plus a
// JSON formatter, wired into a single shared *logrus.Entry that every
// component attaches fields to rather than constructing its own
// formatter.
package log

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RFC3339NanoFixed matches the timestamp layout controller/remote uses
// for its JSON logs: fixed-width nanosecond precision so log lines sort
// lexically.
const RFC3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"

// Setup parses level (empty defaults to info) and returns a base
// *logrus.Entry logging JSON to stderr, ready to have fields such as
// "session" or "component" attached by callers via entry.WithField.
func Setup(level string) (*logrus.Entry, error) {
	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Formatter = &logrus.JSONFormatter{
		TimestampFormat: RFC3339NanoFixed,
	}

	if level == "" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to prepare logger")
		}
		logger.SetLevel(lvl)
	}

	return logrus.NewEntry(logger), nil
}
