package printer

import (
	"fmt"
	"time"
)

var ageUnits = []struct {
	size time.Duration
	name string
}{
	{24 * time.Hour, "day"},
	{time.Hour, "hour"},
	{time.Minute, "minute"},
	{time.Second, "second"},
}

// TimeAgo returns a human-readable relative time string in UTC, like "3 hours ago (UTC)".
func TimeAgo(t time.Time) string { return timeAgo(time.Now(), t) }

func timeAgo(now, t time.Time) string {
	diff := now.UTC().Sub(t.UTC())
	if diff < 0 {
		return "in the future (UTC)"
	}

	unit := ageUnits[len(ageUnits)-1]
	for _, u := range ageUnits {
		if diff >= u.size {
			unit = u
			break
		}
	}

	n := int(diff / unit.size)
	if n == 1 {
		return fmt.Sprintf("1 %s ago (UTC)", unit.name)
	}
	return fmt.Sprintf("%d %ss ago (UTC)", n, unit.name)
}

// FormatTimestamp returns the timestamp in UTC with the "2006-01-02 15:04:05 UTC" format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// FormatDuration returns a compact duration, like "1h30m" or "45s".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d <= 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		if s := int(d.Seconds()) % 60; s != 0 {
			return fmt.Sprintf("%dm%ds", int(d.Minutes()), s)
		}
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		if m := int(d.Minutes()) % 60; m != 0 {
			return fmt.Sprintf("%dh%dm", int(d.Hours()), m)
		}
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
