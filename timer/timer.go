// Package timer provides the time base for busy-polling drivers: a monotonic
// Ticker, spin delays and count-downs built on top of it.
package timer

import (
	"runtime"
	"time"
)

// Ticker is a monotonic clock in nanoseconds.
type Ticker interface {
	Nanotime() int64
}

// Delay busy-waits on a Ticker.
type Delay struct {
	t Ticker
}

func NewDelay(t Ticker) Delay {
	return Delay{t}
}

func (d Delay) Spin(dur time.Duration) {
	c := NewCountDown(d.t, dur)
	for !c.Expired() {
		// spin
	}
}

func (d Delay) SpinMicros(us int) { d.Spin(time.Duration(us) * time.Microsecond) }
func (d Delay) SpinMillis(ms int) { d.Spin(time.Duration(ms) * time.Millisecond) }

// CountDown answers whether a duration has elapsed since it was created.
type CountDown struct {
	t     Ticker
	start int64
	d     time.Duration
}

func NewCountDown(t Ticker, d time.Duration) CountDown {
	return CountDown{t: t, start: t.Nanotime(), d: d}
}

// Expired reports true at and after the deadline.
func (c CountDown) Expired() bool {
	return time.Duration(c.t.Nanotime()-c.start) >= c.d
}

// Remaining returns the time left until expiry, never negative.
func (c CountDown) Remaining() time.Duration {
	return max(0, c.d-time.Duration(c.t.Nanotime()-c.start))
}

type system struct {
	epoch time.Time
}

// System is the Ticker of the host's monotonic clock.
var System Ticker = &system{time.Now()}

func (s *system) Nanotime() int64 {
	runtime.Gosched()
	return int64(time.Since(s.epoch))
}

// Fake is a deterministic Ticker for tests. Every call to Nanotime advances the
// clock by Step, so spin loops terminate without real time passing.
type Fake struct {
	now  int64
	Step time.Duration
}

func (f *Fake) Nanotime() int64 {
	f.now += int64(f.Step)
	return f.now
}

// Advance moves the clock forward by d without counting as a read.
func (f *Fake) Advance(d time.Duration) {
	f.now += int64(d)
}
