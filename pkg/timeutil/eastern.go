// Package timeutil centralizes Eastern wall-clock handling. Every caller-facing
// timestamp in the system is America/New_York regardless of host timezone.
package timeutil

import "time"

var eastern *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// tzdata missing from the host; fixed EST keeps the format stable.
		loc = time.FixedZone("EST", -5*3600)
	}
	eastern = loc
}

// Eastern returns the America/New_York location.
func Eastern() *time.Location { return eastern }

// NowEastern returns the current time in Eastern.
func NowEastern() time.Time { return time.Now().In(eastern) }

// FormatTimestamp renders t as "2006-01-02 15:04:05" Eastern.
func FormatTimestamp(t time.Time) string {
	return t.In(eastern).Format("2006-01-02 15:04:05")
}

// FormatMinute renders t as "2006-01-02 15:04" Eastern, the shape booking
// times are exchanged in.
func FormatMinute(t time.Time) string {
	return t.In(eastern).Format("2006-01-02 15:04")
}

// FormatDate renders t as "2006-01-02" Eastern.
func FormatDate(t time.Time) string {
	return t.In(eastern).Format("2006-01-02")
}

// FormatFileStamp renders t as "20060102_150405" Eastern for filenames.
func FormatFileStamp(t time.Time) string {
	return t.In(eastern).Format("20060102_150405")
}

// ParseMinute parses "2006-01-02 15:04" as an Eastern wall time.
func ParseMinute(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", s, eastern)
}
