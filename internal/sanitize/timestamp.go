// Package sanitize normalizes data coming from the protocol client before it
// reaches the stores. Corrupt upstream values are expected, so nothing here
// returns an error: bad input is replaced, and callers log the substitution.
package sanitize

import (
	"strconv"
	"time"
)

const (
	// MaxAge is how far in the past a protocol timestamp may lie.
	MaxAge = 365 * 24 * time.Hour
	// MaxSkew is how far in the future a protocol timestamp may lie.
	MaxSkew = time.Hour
)

// Timestamp converts a raw protocol timestamp into a plausible instant.
//
// Ten-digit values are unix seconds; any other positive value is taken as
// unix milliseconds. Zero, negative and out-of-window values yield now. The
// second result reports whether raw was accepted as-is.
func Timestamp(raw int64, now time.Time) (time.Time, bool) {
	if raw <= 0 {
		return now, false
	}
	ms := raw
	if len(strconv.FormatInt(raw, 10)) == 10 {
		ms = raw * 1000
	}
	return Time(time.UnixMilli(ms), now)
}

// Time validates an already decoded instant against the plausible window
// [now-MaxAge, now+MaxSkew]. The zero time and anything outside the window
// yield now.
func Time(t time.Time, now time.Time) (time.Time, bool) {
	if t.IsZero() || t.Before(now.Add(-MaxAge)) || t.After(now.Add(MaxSkew)) {
		return now, false
	}
	return t, true
}
