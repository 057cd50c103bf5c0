package poller

import (
	"sync"
	"time"
)

// Scheduler runs the poller's work. Every starts a repeating job and returns
// the function that cancels it; Go runs a one-off job. A push transport can
// drive the same Poller by calling Focus instead of relying on timers.
type Scheduler interface {
	Every(d time.Duration, fn func()) (stop func())
	Go(fn func())
}

// TickerScheduler backs Scheduler with time.Ticker and goroutines.
type TickerScheduler struct{}

func (TickerScheduler) Every(d time.Duration, fn func()) func() {
	t := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(done)
		})
	}
}

func (TickerScheduler) Go(fn func()) {
	go fn()
}
