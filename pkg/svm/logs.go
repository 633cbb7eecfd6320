package svm

import "fmt"

// LogTruncated is recorded once when the byte limit is reached.
const LogTruncated = "Log truncated"

// LogCollector gathers program logs for one transaction. Once the byte limit
// would be reached, a single truncation marker is recorded and further
// messages are dropped.
type LogCollector struct {
	messages  []string
	written   int
	limit     int
	truncated bool
}

// NewLogCollector returns a collector holding at most limit bytes of
// messages. A negative limit means no limit.
func NewLogCollector(limit int) *LogCollector {
	return &LogCollector{limit: limit}
}

// Log records msg.
func (l *LogCollector) Log(msg string) {
	if l.limit < 0 {
		l.messages = append(l.messages, msg)
		return
	}
	written := l.written + len(msg)
	if written >= l.limit {
		if !l.truncated {
			l.truncated = true
			l.messages = append(l.messages, LogTruncated)
		}
		return
	}
	l.written = written
	l.messages = append(l.messages, msg)
}

// Logf formats and records a message.
func (l *LogCollector) Logf(format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...))
}

// Messages returns the recorded messages.
func (l *LogCollector) Messages() []string {
	return l.messages
}

// Drain returns the recorded messages and empties the collector.
func (l *LogCollector) Drain() []string {
	out := l.messages
	l.messages = nil
	l.written = 0
	l.truncated = false
	return out
}
