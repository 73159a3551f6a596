package services

import (
	"time"
)

// TimerScheduler is the production Scheduler backed by the runtime timer
// wheel. One fired callback per After call, on its own goroutine.
type TimerScheduler struct{}

func NewTimerScheduler() TimerScheduler {
	return TimerScheduler{}
}

func (TimerScheduler) After(delay time.Duration, fn func()) (cancel func()) {
	t := time.AfterFunc(delay, fn)
	return func() { t.Stop() }
}

func (TimerScheduler) Now() time.Time {
	return time.Now()
}
