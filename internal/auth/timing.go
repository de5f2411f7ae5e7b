package auth

import (
	"crypto/rand"
	"math/big"
	"time"
)

// TimingDelay produces randomized delays so response times do not reveal
// whether an email exists or which branch a security check took.
type TimingDelay struct {
	base   time.Duration
	jitter time.Duration
}

func NewTimingDelay(base, jitter time.Duration) *TimingDelay {
	return &TimingDelay{
		base:   base,
		jitter: jitter,
	}
}

// Delay sleeps for the base duration plus a cryptographically random jitter
func (td *TimingDelay) Delay() {
	time.Sleep(td.Duration())
}

// Duration returns the next delay without sleeping
func (td *TimingDelay) Duration() time.Duration {
	if td.jitter <= 0 {
		return td.base
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(td.jitter)))
	if err != nil {
		// Fall back to the full jitter rather than none
		return td.base + td.jitter
	}

	return td.base + time.Duration(n.Int64())
}
