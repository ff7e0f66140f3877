package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{1500 * time.Millisecond, "1s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Second, "2h 0m 5s"},
		{72*time.Hour + 30*time.Minute + 15*time.Second, "3d 0h 30m 15s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in), "FormatDuration(%v)", tt.in)
	}
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "1h 1m 1s", FormatUptime("1h1m1s"))
	assert.Equal(t, "garbage", FormatUptime("garbage"))
}

func TestFormatSince(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, "-", FormatSince(time.Time{}, now))
	assert.Equal(t, "45s", FormatSince(now.Add(-45*time.Second), now))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", FormatTime(time.Time{}))

	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.Local)
	assert.Equal(t, "Fri Jan 2 15:04:05 2026", FormatTime(ts))
}
