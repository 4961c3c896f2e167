// Package retry schedules push redelivery with capped exponential backoff
// and decides when a failing entry is moved to the dead letter store.
package retry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Strategy configures redelivery of failed pushes.
//
// The delay before attempt n+1 is min(BaseDelay * Multiplier^n, MaxDelay).
// With the defaults (5s base, x2, 10m cap):
//
//	after attempt 1: 10s
//	after attempt 2: 20s
//	after attempt 3: 40s
//	after attempt 4: 1m20s
//	after attempt 5: dead letter
type Strategy struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay       time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier"`
	DeadLetterAfter int           `mapstructure:"dead_letter_after" yaml:"dead_letter_after"`
}

// DefaultStrategy returns the broker's default push retry strategy.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxAttempts:     8,
		BaseDelay:       5 * time.Second,
		MaxDelay:        10 * time.Minute,
		Multiplier:      2.0,
		DeadLetterAfter: 5,
	}
}

// Validate checks the strategy for values that would stall or spin the
// delivery worker.
func (s Strategy) Validate() error {
	var errs []error
	if s.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max attempts must be > 0, got %d", s.MaxAttempts))
	}
	if s.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("base delay must be >= 0, got %v", s.BaseDelay))
	}
	if s.MaxDelay < s.BaseDelay {
		errs = append(errs, fmt.Errorf("max delay %v is below base delay %v", s.MaxDelay, s.BaseDelay))
	}
	if s.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be >= 1, got %v", s.Multiplier))
	}
	if s.DeadLetterAfter <= 0 || s.DeadLetterAfter > s.MaxAttempts {
		errs = append(errs, fmt.Errorf("dead letter threshold must be in 1..%d, got %d", s.MaxAttempts, s.DeadLetterAfter))
	}
	return errors.Join(errs...)
}

// Delay returns the wait after the given number of failed attempts.
func (s Strategy) Delay(attempts int) time.Duration {
	if attempts <= 0 {
		return s.BaseDelay
	}
	delay := float64(s.BaseDelay) * math.Pow(s.Multiplier, float64(attempts))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// Decision is what to do with an entry after a failed push.
type Decision struct {
	// DeadLetter moves the entry out of its queue.
	DeadLetter bool

	// RetryAfter is the wait before the next attempt when DeadLetter is false.
	RetryAfter time.Duration
}

// Decide returns the decision for an entry that has failed attempts times.
func (s Strategy) Decide(attempts int) Decision {
	if attempts >= s.DeadLetterAfter || attempts >= s.MaxAttempts {
		return Decision{DeadLetter: true}
	}
	return Decision{RetryAfter: s.Delay(attempts)}
}

// Schedule describes the strategy for logs and the CLI.
func (s Strategy) Schedule() string {
	var b strings.Builder
	b.WriteString("push retry schedule:\n")
	for i := 1; i <= s.MaxAttempts; i++ {
		d := s.Decide(i)
		if d.DeadLetter {
			fmt.Fprintf(&b, "  after attempt %d: dead letter\n", i)
			break
		}
		fmt.Fprintf(&b, "  after attempt %d: %v\n", i, d.RetryAfter)
	}
	return b.String()
}
