package lookup

import (
	"github.com/sirupsen/logrus"
)

// leveledLogger adapts logrus to retryablehttp.LeveledLogger.
type leveledLogger struct {
	entry *logrus.Entry
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Info(msg)
}

// Debug messages from the retry loop include every request; keep them at
// trace level.
func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Trace(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l leveledLogger) with(keysAndValues []interface{}) *logrus.Entry {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			fields[k] = keysAndValues[i+1]
		}
	}
	return l.entry.WithFields(fields)
}
