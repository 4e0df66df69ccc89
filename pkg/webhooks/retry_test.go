package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	p := NewRetryPolicy()
	require.True(t, p.ShouldRetry(1))
	require.True(t, p.ShouldRetry(4))
	require.False(t, p.ShouldRetry(5))
	require.False(t, p.ShouldRetry(6))
}

func TestRetryPolicyDelaySchedule(t *testing.T) {
	p := NewRetryPolicy()
	bases := []time.Duration{
		1 * time.Second,
		5 * time.Second,
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
	}
	for i, base := range bases {
		d := p.Delay(i + 1)
		require.GreaterOrEqual(t, d, base)
		require.LessOrEqual(t, d, base+base/5)
	}
}
