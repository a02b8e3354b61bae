package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_NextBackoff(t *testing.T) {
	t.Parallel()

	p := &RetryPolicy{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        500 * time.Millisecond,
		BackoffMultiplier: 2,
	}

	require.Equal(t, 100*time.Millisecond, p.NextBackoff(1))
	require.Equal(t, 200*time.Millisecond, p.NextBackoff(2))
	require.Equal(t, 400*time.Millisecond, p.NextBackoff(3))
	// Capped from here on.
	require.Equal(t, 500*time.Millisecond, p.NextBackoff(4))
	require.Equal(t, 500*time.Millisecond, p.NextBackoff(10))
}

func TestRetryPolicy_NextBackoff_Defaults(t *testing.T) {
	t.Parallel()

	var nilPolicy *RetryPolicy
	require.Equal(t, time.Duration(0), nilPolicy.NextBackoff(1))
	require.Equal(t, time.Duration(0), (&RetryPolicy{}).NextBackoff(3))

	// Multiplier defaults to 2 when unset.
	p := &RetryPolicy{InitialBackoff: 50 * time.Millisecond}
	require.Equal(t, 200*time.Millisecond, p.NextBackoff(3))
}
