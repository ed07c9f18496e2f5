package main

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountdownExpiresOnce(t *testing.T) {
	var ticks, expiries atomic.Int32

	startCountdown(55*time.Millisecond, 10*time.Millisecond,
		func(remainMs int) {
			if remainMs > 0 {
				ticks.Add(1)
			}
		},
		func() { expiries.Add(1) },
	)

	require.Eventually(t, func() bool {
		return expiries.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// No further expiry after self-cancel.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), expiries.Load())
	assert.Greater(t, ticks.Load(), int32(0))
}

func TestCountdownStopPreventsExpiry(t *testing.T) {
	var expiries atomic.Int32

	timer := startCountdown(30*time.Millisecond, 5*time.Millisecond,
		func(int) {},
		func() { expiries.Add(1) },
	)

	timer.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), expiries.Load())
}

func TestCountdownStopIsIdempotent(t *testing.T) {
	timer := startCountdown(time.Second, time.Second, func(int) {}, func() {})

	timer.Stop()
	timer.Stop()
	timer.Stop()
}
