// Package backoff provides exponential backoff calculation.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Jitter  bool          // randomize each delay within [delay/2, delay]
}

// DefaultConfig returns the default backoff configuration.
func DefaultConfig() Config {
	return Config{
		Initial: 100 * time.Millisecond,
		Max:     5 * time.Second,
	}
}

// Delay returns the backoff for a given attempt. Attempt 1 returns Initial,
// attempt 2 returns Initial*2, and so on, capped at Max.
func (c Config) Delay(attempt int) time.Duration {
	initial := c.Initial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maxDelay := c.Max
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}

	delay := time.Duration(d)
	if c.Jitter {
		half := delay / 2
		delay = half + rand.N(half+1)
	}
	return delay
}

// Exponential calculates exponential backoff for a given attempt using the
// default configuration.
func Exponential(attempt int) time.Duration {
	return DefaultConfig().Delay(attempt)
}
