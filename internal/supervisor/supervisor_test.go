package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/termhub/termhub/internal/clock"
)

func testConfig() Config {
	return Config{
		QuickDeathThreshold: 5 * time.Second,
		BaseDelay:           1 * time.Second,
		MaxDelay:            60 * time.Second,
	}
}

func TestBackoffDoublesPerQuickDeath(t *testing.T) {
	s := New([]string{"true"}, clock.Real{}, testConfig())
	require.Equal(t, 1*time.Second, s.BackoffFor(0))
	require.Equal(t, 2*time.Second, s.BackoffFor(1))
	require.Equal(t, 4*time.Second, s.BackoffFor(2))
	require.Equal(t, 8*time.Second, s.BackoffFor(3))
	require.Equal(t, 16*time.Second, s.BackoffFor(4))
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	s := New([]string{"true"}, clock.Real{}, testConfig())
	// 1000 * 2^6 = 64000ms, above the 60s cap.
	require.Equal(t, 60*time.Second, s.BackoffFor(6))
	require.Equal(t, 60*time.Second, s.BackoffFor(20))
}

func TestSixthConsecutiveQuickDeathDelayIsAtLeast32Seconds(t *testing.T) {
	s := New([]string{"true"}, clock.Real{}, testConfig())
	// Five consecutive sub-5s exits bring quickDeaths to 5 before the 6th
	// restart is scheduled; 1000*2^5 = 32000ms.
	delay := s.BackoffFor(5)
	require.GreaterOrEqual(t, delay, 32*time.Second)
}
