package sanitize

import (
	"strings"
	"time"
)

// ClockLayout is the display format of ChatSummary.lastMessageTime
// (HH:MM:SS, 24h, second precision).
const ClockLayout = "15:04:05"

// FormatClock renders t in local time using ClockLayout.
func FormatClock(t time.Time) string {
	return t.Local().Format(ClockLayout)
}

// InvalidName reports whether a display name carries the invalid-date
// sentinel left behind by a failed date render upstream.
func InvalidName(name string) bool {
	return strings.Contains(strings.ToLower(name), "invalid date")
}

// InvalidClock reports whether a formatted time is the invalid-date sentinel.
func InvalidClock(clock string) bool {
	return strings.Contains(strings.ToLower(clock), "invalid")
}

// Corrupt reports whether a chat with this name and last-message time must
// be rejected or purged.
func Corrupt(name, clock string) bool {
	return InvalidName(name) || InvalidClock(clock)
}
