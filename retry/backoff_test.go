package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStrategy(t *testing.T) {
	s := DefaultStrategy()

	assert.NoError(t, s.Validate())
	assert.Equal(t, 5, s.DeadLetterAfter)
	assert.Equal(t, 5*time.Second, s.BaseDelay)
}

func TestStrategy_Delay(t *testing.T) {
	s := Strategy{
		MaxAttempts:     6,
		BaseDelay:       time.Second,
		MaxDelay:        10 * time.Second,
		Multiplier:      3.0,
		DeadLetterAfter: 6,
	}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 3 * time.Second},
		{2, 9 * time.Second},
		{3, 10 * time.Second}, // 27s capped
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Delay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestStrategy_Decide(t *testing.T) {
	s := DefaultStrategy()

	tests := []struct {
		name     string
		attempts int
		want     Decision
	}{
		{"First failure", 1, Decision{RetryAfter: 10 * time.Second}},
		{"Below threshold", 4, Decision{RetryAfter: 80 * time.Second}},
		{"At threshold", 5, Decision{DeadLetter: true}},
		{"Above threshold", 9, Decision{DeadLetter: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Decide(tt.attempts))
		})
	}
}

func TestStrategy_DecideStopsAtMaxAttempts(t *testing.T) {
	s := Strategy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, DeadLetterAfter: 2}

	assert.False(t, s.Decide(1).DeadLetter)
	assert.True(t, s.Decide(2).DeadLetter)
}

func TestStrategy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Strategy)
	}{
		{"Zero attempts", func(s *Strategy) { s.MaxAttempts = 0 }},
		{"Negative base", func(s *Strategy) { s.BaseDelay = -time.Second }},
		{"Cap below base", func(s *Strategy) { s.MaxDelay = time.Second }},
		{"Shrinking backoff", func(s *Strategy) { s.Multiplier = 0.5 }},
		{"Threshold past max", func(s *Strategy) { s.DeadLetterAfter = 20 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultStrategy()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestStrategy_Schedule(t *testing.T) {
	schedule := DefaultStrategy().Schedule()

	assert.Contains(t, schedule, "after attempt 1: 10s")
	assert.Contains(t, schedule, "after attempt 4: 1m20s")
	assert.Contains(t, schedule, "after attempt 5: dead letter")
	assert.NotContains(t, schedule, "after attempt 6")
}

func BenchmarkStrategy_Decide(b *testing.B) {
	s := DefaultStrategy()
	for i := 0; i < b.N; i++ {
		_ = s.Decide(i % 10)
	}
}
