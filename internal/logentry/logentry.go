// Package logentry defines the raw record the detection engine consumes.
// Parsing an access-log line into a LogEntry is an external concern; this
// package only carries the struct and the small helpers the core needs.
package logentry

// LogEntry is a single parsed HTTP access-log record. It is produced by an
// external parser and is immutable once handed to the analysis engine.
type LogEntry struct {
	IP                string
	Method            string
	Path              string
	Protocol          string
	Status            int
	BytesSent         int64
	RequestTimeS      float64
	Referer           string
	UserAgent         string
	Host              string
	Country           string
	ParsedTimestampMs int64
	OriginalLineNo    uint64
	Raw               string
}

// HasTimestamp reports whether the record carries a usable event time.
// A record with ParsedTimestampMs <= 0 is treated as malformed per the
// error taxonomy: it is returned to the caller without mutating state.
func (e *LogEntry) HasTimestamp() bool {
	return e != nil && e.ParsedTimestampMs > 0
}

// IsFailedLoginStatus reports whether status is in the configured set of
// failed-login status codes.
func (e *LogEntry) IsFailedLoginStatus(codes []int) bool {
	for _, c := range codes {
		if e.Status == c {
			return true
		}
	}
	return false
}

// IsErrorStatus reports whether status is 4xx or 5xx.
func (e *LogEntry) IsErrorStatus() bool {
	return e.Status >= 400 && e.Status < 600
}
