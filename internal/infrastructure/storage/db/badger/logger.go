package dbbadger

import (
	"github.com/dgraph-io/badger/v3"
	log "github.com/sirupsen/logrus"
)

type logger struct {
	log.FieldLogger
}

// NewLogger returns a badger.Logger that forwards to the given logrus
// logger. Badger info messages are logged at debug level.
func NewLogger(l log.FieldLogger) badger.Logger {
	if l == nil {
		l = log.StandardLogger()
	}
	return &logger{l.WithField("db", "badger")}
}

func (l *logger) Infof(format string, args ...interface{}) {
	l.FieldLogger.Debugf(format, args...)
}
