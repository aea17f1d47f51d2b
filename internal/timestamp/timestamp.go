// Package timestamp normalizes event timestamps to milliseconds.
//
// Numbers and numeric strings are seconds. Anything else is tried against a
// list of calendar layouts, interpreted as UTC when no zone is given, and
// converted to Unix milliseconds. Unparseable input yields NaN.
package timestamp

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spanlens/spanlens/pkg/types"
)

// MillisPerSecond converts the external unit to the internal one.
const MillisPerSecond = 1000.0

var numericPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// layouts are tried in order for non-numeric strings.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
	"Jan 2, 2006 15:04:05",
	"January 2, 2006 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// Parse converts a raw timestamp to milliseconds. It returns NaN when the
// value is absent or cannot be interpreted.
func Parse(ts types.Timestamp) float64 {
	if !ts.Present {
		return math.NaN()
	}
	if ts.IsNumber {
		return FromSeconds(ts.Number)
	}
	return ParseString(ts.Text)
}

// ParseString converts a textual timestamp to milliseconds.
func ParseString(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	if numericPattern.MatchString(s) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return FromSeconds(v)
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return float64(t.UnixNano()) / float64(time.Millisecond)
		}
	}
	return math.NaN()
}

// FromSeconds converts seconds to milliseconds. Non-finite input yields NaN.
func FromSeconds(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v * MillisPerSecond
}

// ToSeconds converts milliseconds back to the external unit.
func ToSeconds(ms float64) float64 {
	return ms / MillisPerSecond
}

// Valid reports whether a parsed value can be used.
func Valid(ms float64) bool {
	return !math.IsNaN(ms) && !math.IsInf(ms, 0)
}
