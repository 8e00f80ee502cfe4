package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBreakerPartialWindowNeverTrips(t *testing.T) {
	t.Parallel()

	b := NewBreaker(10, 0.5)
	for i := 0; i < 9; i++ {
		b.Record(true)
	}
	require.False(t, b.Tripped())
}

func TestBreakerTripsAboveThreshold(t *testing.T) {
	t.Parallel()

	b := NewBreaker(10, 0.5)
	for i := 0; i < 10; i++ {
		b.Record(i < 6)
	}
	require.True(t, b.Tripped())
}

func TestBreakerTripsAtExactThreshold(t *testing.T) {
	t.Parallel()

	// Half the window failing is already an elevated rate.
	b := NewBreaker(10, 0.5)
	for i := 0; i < 10; i++ {
		b.Record(i < 5)
	}
	require.True(t, b.Tripped())

	// One more clean outcome drops the rate below half again.
	b.Record(false)
	require.False(t, b.Tripped())
}

func TestBreakerSlidesOldOutcomesOut(t *testing.T) {
	t.Parallel()

	b := NewBreaker(10, 0.5)
	for i := 0; i < 10; i++ {
		b.Record(true)
	}
	require.True(t, b.Tripped())

	// Ten clean outcomes push every failure out of the window.
	for i := 0; i < 10; i++ {
		b.Record(false)
	}
	require.False(t, b.Tripped())
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(10, 0.5)
	for i := 0; i < 10; i++ {
		b.Record(true)
	}
	require.True(t, b.Tripped())

	b.Reset()
	require.False(t, b.Tripped())

	// A reset window needs to refill completely before it can trip again.
	for i := 0; i < 9; i++ {
		b.Record(true)
	}
	require.False(t, b.Tripped())
	b.Record(true)
	require.True(t, b.Tripped())
}
