package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"15m": 15 * time.Minute,
		"4h":  4 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "d", "0d", "-1h", "3y", "abc"} {
		_, ok := ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
}

func TestFormatIntervalDuration(t *testing.T) {
	assert.Equal(t, "1w", FormatIntervalDuration(7*24*time.Hour))
	assert.Equal(t, "2d", FormatIntervalDuration(48*time.Hour))
	assert.Equal(t, "90m", FormatIntervalDuration(90*time.Minute))
	assert.Equal(t, "", FormatIntervalDuration(0))
}

func TestNextRunAlignsToBoundary(t *testing.T) {
	s := NewAlignedScheduler("test", time.Hour, 5*time.Minute)
	now := time.Date(2024, 3, 1, 10, 20, 0, 0, time.UTC)
	at, wait := s.nextRun(now)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 5, 0, 0, time.UTC), at)
	assert.Equal(t, 45*time.Minute, wait)

	early := time.Date(2024, 3, 1, 10, 2, 0, 0, time.UTC)
	at, _ = s.nextRun(early)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC), at)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := NewAlignedScheduler("tick", 20*time.Millisecond, 0)
	s.RunImmediately = true
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(context.Context) { runs.Add(1) })
		close(done)
	}()
	time.Sleep(70 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}
