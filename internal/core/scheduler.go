package core

import "time"

// Timer is a handle to a scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The callback runs on an arbitrary
// goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler schedules on the wall clock.
var SystemScheduler Scheduler = clockScheduler{}
