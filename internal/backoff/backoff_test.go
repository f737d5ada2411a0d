package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_GrowsByMultiplierUpToCap(t *testing.T) {
	b := New()

	require.Equal(t, time.Second, b.Next())
	require.Equal(t, 1500*time.Millisecond, b.Next())
	require.Equal(t, 2250*time.Millisecond, b.Next())

	for i := 0; i < 20; i++ {
		b.Next()
	}
	require.Equal(t, 60*time.Second, b.Next(), "the delay must stay at the cap")
}

func TestBackoff_ResetRewindsToInitial(t *testing.T) {
	b := New()
	b.Next()
	b.Next()

	b.Reset()
	require.Equal(t, time.Second, b.Next())
}

func TestBackoff_CustomSchedule(t *testing.T) {
	b := &Backoff{Initial: 100 * time.Millisecond, Multiplier: 2, Max: 350 * time.Millisecond}

	require.Equal(t, 100*time.Millisecond, b.Next())
	require.Equal(t, 200*time.Millisecond, b.Next())
	require.Equal(t, 350*time.Millisecond, b.Next())
	require.Equal(t, 350*time.Millisecond, b.Next())
}
