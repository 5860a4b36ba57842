package clock_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wristnode/internal/clock"
)

func TestClock_UnsyncedCountsFromStart(t *testing.T) {
	c := clock.New()

	require.False(t, c.Synced())
	require.Less(t, c.NowMillis(), uint32(1000))
}

func TestClock_SetEpochAnchorsToWallTime(t *testing.T) {
	c := clock.New()

	const epoch = int64(1700000000)
	c.SetEpoch(epoch)

	require.True(t, c.Synced())
	// NowMillis is the 32-bit truncation of epoch milliseconds, so compare
	// against the same truncation.
	epochMillis := epoch * 1000
	want := uint32(epochMillis)
	require.InDelta(t, float64(want), float64(c.NowMillis()), 1000)
}

func TestClock_ResyncOverridesPrevious(t *testing.T) {
	c := clock.New()

	c.SetEpoch(1700000000)
	first := c.NowMillis()
	c.SetEpoch(1700000100)

	require.InDelta(t, float64(first+100_000), float64(c.NowMillis()), 1000)
}

func TestClock_MonotonicWhileSynced(t *testing.T) {
	c := clock.New()
	c.SetEpoch(1700000000)

	a := c.NowMillis()
	b := c.NowMillis()
	require.GreaterOrEqual(t, b, a)
}
