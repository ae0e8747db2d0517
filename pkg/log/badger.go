package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// StateDBLogger routes the state database's internal messages into logrus.
// Flush and compaction chatter is kept at debug so it stays out of the harvest log.
type StateDBLogger struct {
	entry *logrus.Entry
}

// NewStateDBLogger tags every line with component=statedb
func NewStateDBLogger(entry *logrus.Entry) *StateDBLogger {
	return &StateDBLogger{entry: entry.WithField("component", "statedb")}
}

// Badger terminates most format strings with a newline
func line(f string) string { return strings.TrimRight(f, "\n") }

func (l *StateDBLogger) Errorf(f string, v ...interface{})   { l.entry.Errorf(line(f), v...) }
func (l *StateDBLogger) Warningf(f string, v ...interface{}) { l.entry.Warnf(line(f), v...) }
func (l *StateDBLogger) Infof(f string, v ...interface{})    { l.entry.Debugf(line(f), v...) }
func (l *StateDBLogger) Debugf(f string, v ...interface{})   { l.entry.Tracef(line(f), v...) }
