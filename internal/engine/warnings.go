package engine

import "time"

// Warning log levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Warning is one entry of the engine's log.
type Warning struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// warningLog keeps the most recent entries, oldest first. Callers hold the
// engine mutex.
type warningLog struct {
	entries []Warning
	limit   int
}

func newWarningLog(limit int) *warningLog {
	if limit <= 0 {
		limit = 100
	}
	return &warningLog{limit: limit}
}

func (l *warningLog) add(w Warning) {
	l.entries = append(l.entries, w)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

func (l *warningLog) list() []Warning {
	return append(make([]Warning, 0, len(l.entries)), l.entries...)
}
