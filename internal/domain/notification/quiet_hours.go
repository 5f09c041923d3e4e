package notification

import (
	"time"

	"github.com/donorhub/notification-engine/pkg/timeutil"
)

// IsQuiet reports whether now falls inside the user's quiet-hours window,
// evaluated in the preference's time zone. A wrapping window (start > end)
// spans midnight. Unparseable bounds are treated as "not quiet".
func IsQuiet(p Preference, now time.Time) bool {
	if !p.QuietHoursEnabled {
		return false
	}

	start, err := timeutil.ParseClock(p.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := timeutil.ParseClock(p.QuietHoursEnd)
	if err != nil {
		return false
	}

	local := timeutil.In(now, p.Timezone)
	return timeutil.InDailyWindow(start.Minutes(), end.Minutes(), timeutil.MinuteOfDay(local))
}
