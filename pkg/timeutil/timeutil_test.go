package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"08:30", 510, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"8:30", 0, true},
		{"08-30", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidClock)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Minutes())
			assert.Equal(t, tt.in, c.String())
		})
	}
}

func TestInDailyWindow(t *testing.T) {
	nine, five := 9*60, 17*60
	assert.True(t, InDailyWindow(nine, five, 12*60))
	assert.False(t, InDailyWindow(nine, five, 20*60))
	assert.False(t, InDailyWindow(nine, five, five), "end is exclusive")
	assert.True(t, InDailyWindow(nine, five, nine), "start is inclusive")

	ten, eight := 22*60, 8*60
	assert.True(t, InDailyWindow(ten, eight, 23*60+30))
	assert.True(t, InDailyWindow(ten, eight, 3*60))
	assert.False(t, InDailyWindow(ten, eight, 12*60))
	assert.False(t, InDailyWindow(ten, eight, eight))

	assert.False(t, InDailyWindow(nine, nine, nine), "empty window")
}

func TestIn(t *testing.T) {
	ts := time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC)

	tokyo := In(ts, "Asia/Tokyo")
	assert.Equal(t, 8, tokyo.Hour())

	fallback := In(ts, "Not/AZone")
	assert.Equal(t, time.UTC, fallback.Location())
	assert.Equal(t, 23, fallback.Hour())
}

func TestLoadLocation_Caches(t *testing.T) {
	a, err := LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	b, err := LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)
}
