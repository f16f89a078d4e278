package auth

import (
	"crypto/rand"
	"math/big"
	"time"
)

// TimingConfig holds the floor applied to rejected sign-ins
type TimingConfig struct {
	BaseDelay   time.Duration // Minimum time a rejection takes
	RandomDelay time.Duration // Upper bound of the random jitter added on top
}

// TimingDelay pads rejected sign-ins so an unknown email and a wrong password
// take about the same time
type TimingDelay struct {
	config TimingConfig
	sleep  func(time.Duration)
	since  func(time.Time) time.Duration
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
		sleep:  time.Sleep,
		since:  time.Since,
	}
}

// jitter returns a random duration in [0, max) from crypto/rand
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

// WaitFrom sleeps until at least base plus jitter has passed since start.
// A nil TimingDelay does nothing.
func (td *TimingDelay) WaitFrom(start time.Time) {
	if td == nil {
		return
	}

	target := td.config.BaseDelay + jitter(td.config.RandomDelay)
	if elapsed := td.since(start); elapsed < target {
		td.sleep(target - elapsed)
	}
}
