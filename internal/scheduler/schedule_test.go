package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestHourly_Next(t *testing.T) {
	loc := kolkata(t)

	tests := []struct {
		name   string
		minute int
		now    time.Time
		want   time.Time
	}{
		{"top of next hour", 0, time.Date(2025, 1, 10, 14, 20, 0, 0, loc), time.Date(2025, 1, 10, 15, 0, 0, 0, loc)},
		{"exactly on the hour", 0, time.Date(2025, 1, 10, 14, 0, 0, 0, loc), time.Date(2025, 1, 10, 15, 0, 0, 0, loc)},
		{"later this hour", 5, time.Date(2025, 1, 10, 14, 2, 0, 0, loc), time.Date(2025, 1, 10, 14, 5, 0, 0, loc)},
		{"crosses midnight", 0, time.Date(2025, 1, 10, 23, 30, 0, 0, loc), time.Date(2025, 1, 11, 0, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, tt.want.Equal(Hourly{Minute: tt.minute}.Next(tt.now)), "got %s", Hourly{Minute: tt.minute}.Next(tt.now))
		})
	}
}

func TestDaily_Next(t *testing.T) {
	loc := kolkata(t)
	midnight := Daily{}

	next := midnight.Next(time.Date(2025, 1, 10, 14, 20, 0, 0, loc))
	require.True(t, next.Equal(time.Date(2025, 1, 11, 0, 0, 0, 0, loc)))

	next = midnight.Next(time.Date(2025, 1, 31, 0, 0, 0, 0, loc))
	require.True(t, next.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, loc)))

	// 18:45 UTC is 00:15 IST: already past today's midnight in Kolkata
	next = midnight.Next(time.Date(2025, 1, 10, 18, 45, 0, 0, time.UTC).In(loc))
	require.True(t, next.Equal(time.Date(2025, 1, 12, 0, 0, 0, 0, loc)))
	require.Equal(t, "2025-01-11T18:30:00Z", next.UTC().Format(time.RFC3339))
}

func TestParseDaily(t *testing.T) {
	d, err := ParseDaily("00:05")
	require.NoError(t, err)
	require.Equal(t, Daily{Hour: 0, Minute: 5}, d)
	require.Equal(t, "daily at 00:05", d.String())

	_, err = ParseDaily("noon")
	require.Error(t, err)

	_, err = ParseDaily("25:00")
	require.Error(t, err)
}

func TestPreviousDay(t *testing.T) {
	loc := kolkata(t)

	got := previousDay(time.Date(2025, 3, 1, 0, 0, 0, 0, loc))
	require.Equal(t, "2025-02-28", got.Format("2006-01-02"))
}
