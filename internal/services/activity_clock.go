package services

import (
	"sync/atomic"
	"time"
)

// ActivityClock records when the last foreground pictogram request happened.
// It is created once in main and handed to every component that reads or
// updates it; all methods are lock-free and safe for concurrent use.
type ActivityClock struct {
	lastUnix atomic.Int64
	now      func() time.Time
}

// NewActivityClock returns a clock whose last activity is "now", so a fresh
// process is never considered idle.
func NewActivityClock() *ActivityClock {
	return NewActivityClockWithNow(time.Now)
}

// NewActivityClockWithNow creates a clock that reads time from now
func NewActivityClockWithNow(now func() time.Time) *ActivityClock {
	c := &ActivityClock{now: now}
	c.lastUnix.Store(now().Unix())
	return c
}

// Mark records foreground activity. It never fails.
func (c *ActivityClock) Mark() {
	if c == nil {
		return
	}
	c.lastUnix.Store(c.now().Unix())
}

// LastActivity returns the time of the most recent Mark
func (c *ActivityClock) LastActivity() time.Time {
	return time.Unix(c.lastUnix.Load(), 0)
}

// IdleSeconds returns whole seconds since the last activity, never negative
func (c *ActivityClock) IdleSeconds() int64 {
	if c == nil {
		return 0
	}
	idle := c.now().Unix() - c.lastUnix.Load()
	if idle < 0 {
		return 0
	}
	return idle
}
