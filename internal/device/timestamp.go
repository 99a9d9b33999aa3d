package device

import "time"

// The external API accepts event times within the last 7 days and up to
// 60 seconds of clock skew into the future. Anything outside that window
// is rejected with a validation error, so we clamp defensively before send.
const (
	maxEventAge  = 7 * 24 * time.Hour
	maxClockSkew = 60 * time.Second
)

// NormalizeEventTime returns the event time as Unix seconds, clamped to the
// API's acceptance window relative to now. Out-of-window inputs (including
// the zero time) are replaced with now rather than rejected.
func NormalizeEventTime(t, now time.Time) int64 {
	if t.IsZero() {
		return now.Unix()
	}
	if t.Before(now.Add(-maxEventAge)) {
		return now.Unix()
	}
	if t.After(now.Add(maxClockSkew)) {
		return now.Unix()
	}
	return t.Unix()
}
