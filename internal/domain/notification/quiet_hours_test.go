package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
}

func quietPref(start, end string) Preference {
	p := DefaultPreference("u1")
	p.QuietHoursEnabled = true
	p.QuietHoursStart = start
	p.QuietHoursEnd = end
	return p
}

func TestIsQuiet_NonWrapping(t *testing.T) {
	p := quietPref("09:00", "17:00")

	assert.True(t, IsQuiet(p, at(12, 0)))
	assert.False(t, IsQuiet(p, at(20, 0)))
	assert.True(t, IsQuiet(p, at(9, 0)))
	assert.False(t, IsQuiet(p, at(17, 0)))
}

func TestIsQuiet_WrappingMidnight(t *testing.T) {
	p := quietPref("22:00", "08:00")

	assert.True(t, IsQuiet(p, at(23, 30)))
	assert.True(t, IsQuiet(p, at(3, 0)))
	assert.False(t, IsQuiet(p, at(12, 0)))
	assert.False(t, IsQuiet(p, at(8, 0)))
}

func TestIsQuiet_Disabled(t *testing.T) {
	p := quietPref("00:00", "23:59")
	p.QuietHoursEnabled = false

	assert.False(t, IsQuiet(p, at(12, 0)))
}

func TestIsQuiet_EqualBoundsNeverQuiet(t *testing.T) {
	p := quietPref("10:00", "10:00")

	assert.False(t, IsQuiet(p, at(10, 0)))
	assert.False(t, IsQuiet(p, at(3, 0)))
}

func TestIsQuiet_UsesPreferenceTimezone(t *testing.T) {
	p := quietPref("22:00", "08:00")
	p.Timezone = "Asia/Tokyo"

	// 14:30 UTC is 23:30 in Tokyo.
	assert.True(t, IsQuiet(p, at(14, 30)))
	// 03:00 UTC is 12:00 in Tokyo.
	assert.False(t, IsQuiet(p, at(3, 0)))
}

func TestIsQuiet_MalformedBounds(t *testing.T) {
	p := quietPref("late", "08:00")
	assert.False(t, IsQuiet(p, at(23, 0)))
}
