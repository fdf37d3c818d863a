// Package conditions renders the "Current conditions" section of the
// agent preamble. Users say "tomorrow" and "next Tuesday"; the calendar
// tools want absolute timestamps, so the model needs to know where and
// when it is.
package conditions

import (
	"fmt"
	"strings"
	"time"
)

// Current describes now in its own location. The zero time yields "".
func Current(now time.Time) string {
	if now.IsZero() {
		return ""
	}
	var sb strings.Builder
	zone, _ := now.Zone()

	fmt.Fprintf(&sb, "Today: %s, %s\n", now.Weekday(), now.Format("2006-01-02"))
	fmt.Fprintf(&sb, "Local time: %s %s", now.Format("15:04"), zone)
	if name := now.Location().String(); name != zone && name != "Local" {
		fmt.Fprintf(&sb, " (%s)", name)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Tomorrow: %s\n", now.AddDate(0, 0, 1).Format("Monday, 2006-01-02"))
	sb.WriteString("Timestamps: YYYY-MM-DDTHH:MM, in this time zone\n")
	return sb.String()
}
