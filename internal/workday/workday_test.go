package workday

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsWorkday(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	cal, err := New([]string{"2024-10-01", "2024-10-02"}, []string{"2024-10-12"})
	require.NoError(t, err)
	assert.Equal(t, 3, cal.Len())

	tests := []struct {
		name string
		date time.Time
		want bool
	}{
		{"plain tuesday", time.Date(2024, 10, 8, 8, 0, 0, 0, loc), true},
		{"plain sunday", time.Date(2024, 10, 13, 8, 0, 0, 0, loc), false},
		{"holiday on weekday", time.Date(2024, 10, 1, 8, 0, 0, 0, loc), false},
		{"make-up saturday", time.Date(2024, 10, 12, 8, 0, 0, 0, loc), true},
		{"local date wins over UTC", time.Date(2024, 10, 1, 7, 0, 0, 0, loc), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.IsWorkday(tt.date))
		})
	}
}

func TestNilCalendar(t *testing.T) {
	var cal *Calendar
	assert.True(t, cal.IsWorkday(time.Date(2024, 10, 1, 8, 0, 0, 0, time.UTC)))
	assert.False(t, cal.IsWorkday(time.Date(2024, 10, 5, 8, 0, 0, 0, time.UTC)))
	assert.Zero(t, cal.Len())
}

func TestNewRejectsBadDates(t *testing.T) {
	_, err := New([]string{"2024/10/01"}, nil)
	assert.ErrorContains(t, err, "holiday")

	_, err = New(nil, []string{"oct 12"})
	assert.ErrorContains(t, err, "workday")
}

func TestOverlapIsWorkday(t *testing.T) {
	cal, err := New([]string{"2024-10-12"}, []string{"2024-10-12"})
	require.NoError(t, err)
	assert.True(t, cal.IsWorkday(time.Date(2024, 10, 12, 9, 0, 0, 0, time.UTC)))
}
