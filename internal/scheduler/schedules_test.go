package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnceSchedule(t *testing.T) {
	at := time.Date(2024, 3, 5, 9, 26, 0, 0, time.UTC)
	s := onceSchedule{at: at}

	assert.Equal(t, at, s.Next(at.Add(-time.Hour)))
	assert.True(t, s.Next(at).IsZero())
	assert.True(t, s.Next(at.Add(time.Second)).IsZero())
}

func TestIntervalSchedule(t *testing.T) {
	start := time.Date(2024, 3, 5, 9, 26, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	s := intervalSchedule{start: start, end: end, period: 15 * time.Second}

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"before start", start.Add(-time.Hour), start},
		{"at start", start, start.Add(15 * time.Second)},
		{"between fires", start.Add(20 * time.Second), start.Add(30 * time.Second)},
		{"just before end", start.Add(50 * time.Second), end},
		{"at end", end, time.Time{}},
		{"after end", end.Add(time.Hour), time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Next(tt.at))
		})
	}
}

func TestParseSpec(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	sched, err := ParseSpec("27 9 * * 1-5")
	require.NoError(t, err)

	s := locSchedule{sched: sched, loc: loc}

	// Friday evening rolls over to Monday morning
	friday := time.Date(2024, 3, 8, 18, 0, 0, 0, loc)
	next := s.Next(friday)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 27, next.Minute())

	// Evaluated in the market zone regardless of the caller's zone
	next = s.Next(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 5, 9, 27, 0, 0, loc).Unix(), next.Unix())

	_, err = ParseSpec("not a cron")
	assert.Error(t, err)
}
