package log

import "github.com/sirupsen/logrus"

// CronLogrusAdapter implements cron.Logger using logrus.
// Key/value pairs from the cron runtime become logrus fields.
type CronLogrusAdapter struct {
	entry *logrus.Entry
}

// NewCronLogrusAdapter creates a new adapter
func NewCronLogrusAdapter(entry *logrus.Entry) *CronLogrusAdapter {
	return &CronLogrusAdapter{entry: entry}
}

// Info logs routine scheduler activity at debug level
func (l *CronLogrusAdapter) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

// Error logs scheduler failures, including recovered job panics
func (l *CronLogrusAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

// kvFields converts alternating key/value pairs into logrus fields.
// Non-string keys are skipped; a trailing key without value is dropped.
func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
