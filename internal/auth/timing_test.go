package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/greenbasket/gatehouse/internal/auth"
)

func TestTimingDelay_Duration(t *testing.T) {
	t.Run("stays within base plus jitter", func(t *testing.T) {
		td := auth.NewTimingDelay(50*time.Millisecond, 100*time.Millisecond)

		for i := 0; i < 100; i++ {
			d := td.Duration()
			assert.GreaterOrEqual(t, d, 50*time.Millisecond)
			assert.Less(t, d, 150*time.Millisecond)
		}
	})

	t.Run("zero jitter returns base exactly", func(t *testing.T) {
		td := auth.NewTimingDelay(25*time.Millisecond, 0)

		for i := 0; i < 10; i++ {
			assert.Equal(t, 25*time.Millisecond, td.Duration())
		}
	})

	t.Run("durations vary across calls", func(t *testing.T) {
		td := auth.NewTimingDelay(0, 500*time.Millisecond)

		seen := make(map[time.Duration]bool)
		for i := 0; i < 50; i++ {
			seen[td.Duration()] = true
		}

		// With a 500ms range, 50 draws should almost never collapse to one value
		assert.Greater(t, len(seen), 1)
	})
}

func TestTimingDelay_Delay(t *testing.T) {
	td := auth.NewTimingDelay(10*time.Millisecond, 5*time.Millisecond)

	start := time.Now()
	td.Delay()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
}
