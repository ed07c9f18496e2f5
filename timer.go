package main

import (
	"sync"
	"time"
)

// roundTimer is a single countdown owned by a room. It reports remaining
// milliseconds once per interval and fires onExpire exactly once when the
// deadline passes, after which it self-cancels. Stop is idempotent and safe
// to call from any goroutine.
type roundTimer struct {
	stop chan struct{}
	once sync.Once
}

// startCountdown runs a countdown of duration d, invoking onTick every
// interval with the remaining milliseconds and onExpire once at the deadline.
// Callbacks run on the timer's own goroutine.
func startCountdown(d, interval time.Duration, onTick func(remainMs int), onExpire func()) *roundTimer {
	t := &roundTimer{stop: make(chan struct{})}
	deadline := time.Now().Add(d)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				remain := time.Until(deadline)
				if remain <= 0 {
					t.Stop()
					onExpire()
					return
				}
				onTick(int(remain.Milliseconds()))
			}
		}
	}()

	return t
}

// Stop cancels the countdown. Stopping an already-stopped timer is a no-op.
func (t *roundTimer) Stop() {
	t.once.Do(func() {
		close(t.stop)
	})
}
