package sanitize

import (
	"testing"
	"time"
)

func TestTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hourAgo := now.Add(-time.Hour)

	tests := []struct {
		name     string
		raw      int64
		want     time.Time
		accepted bool
	}{
		{"zero", 0, now, false},
		{"negative", -5, now, false},
		{"seconds", hourAgo.Unix(), hourAgo, true},
		{"millis", hourAgo.UnixMilli(), hourAgo, true},
		{"too old", now.Add(-400 * 24 * time.Hour).Unix(), now, false},
		{"too far in future", now.Add(2 * time.Hour).Unix(), now, false},
		{"slightly in future", now.Add(30 * time.Minute).Unix(), now.Add(30 * time.Minute), true},
		{"short garbage", 12345, now, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Timestamp(tt.raw, now)
			if !got.Equal(tt.want) {
				t.Errorf("Timestamp(%d) = %v, want %v", tt.raw, got, tt.want)
			}
			if ok != tt.accepted {
				t.Errorf("Timestamp(%d) accepted = %v, want %v", tt.raw, ok, tt.accepted)
			}
		})
	}
}

// TestZeroTimestampIsNow covers the common corrupt value: a message carrying
// messageTimestamp = 0 must land within a second of the real clock.
func TestZeroTimestampIsNow(t *testing.T) {
	got, _ := Timestamp(0, time.Now())
	if d := time.Since(got); d < 0 || d > time.Second {
		t.Errorf("Timestamp(0) = %v, want within 1s of now", got)
	}
}

func TestTime(t *testing.T) {
	now := time.Now()
	if got, ok := Time(time.Time{}, now); ok || !got.Equal(now) {
		t.Errorf("Time(zero) = %v, %v; want now, false", got, ok)
	}
	yesterday := now.Add(-24 * time.Hour)
	if got, ok := Time(yesterday, now); !ok || !got.Equal(yesterday) {
		t.Errorf("Time(yesterday) = %v, %v; want yesterday, true", got, ok)
	}
}

func TestSentinels(t *testing.T) {
	tests := []struct {
		name, clock string
		corrupt     bool
	}{
		{"Maria", "10:11:12", false},
		{"Invalid Date", "10:11:12", true},
		{"maria", "INVALID DATE", true},
		{"Maria", "Invalid", true},
		// "invalid" alone in a name is a legitimate word; only the date sentinel counts.
		{"Invalid Bob", "10:11:12", false},
	}
	for _, tt := range tests {
		if got := Corrupt(tt.name, tt.clock); got != tt.corrupt {
			t.Errorf("Corrupt(%q, %q) = %v, want %v", tt.name, tt.clock, got, tt.corrupt)
		}
	}
}

func TestFormatClock(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	if got := FormatClock(ts); got != "03:04:05" {
		t.Errorf("FormatClock() = %q, want 03:04:05", got)
	}
}
