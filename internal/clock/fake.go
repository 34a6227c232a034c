package clock

import (
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFake returns a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	return f.NewTimer(d).C()
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{parent: f, c: make(chan time.Time, 1), fires: f.now.Add(d)}
	f.timers = append(f.timers, t)
	return t
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{parent: f, c: make(chan time.Time, 1), period: d, fires: f.now.Add(d)}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the fake clock forward by d, firing any timers/tickers
// whose deadline has passed, in order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := f.now.Add(d)
	for f.now.Before(target) {
		f.now = target
		for _, t := range f.timers {
			if t.stopped || t.fired {
				continue
			}
			if !t.fires.After(f.now) {
				t.fired = true
				select {
				case t.c <- f.now:
				default:
				}
			}
		}
		for _, t := range f.tickers {
			if t.stopped {
				continue
			}
			for !t.fires.After(f.now) {
				select {
				case t.c <- f.now:
				default:
				}
				t.fires = t.fires.Add(t.period)
			}
		}
	}
}

type fakeTimer struct {
	parent  *Fake
	c       chan time.Time
	fires   time.Time
	fired   bool
	stopped bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

// Reset rearms the timer to fire d after the clock's current time, mirroring
// time.Timer.Reset (the new deadline is relative to now, not to whatever
// deadline was previously pending).
func (t *fakeTimer) Reset(d time.Duration) bool {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	was := !t.fired && !t.stopped
	t.fired = false
	t.stopped = false
	t.fires = t.parent.now.Add(d)
	return was
}

func (t *fakeTimer) Stop() bool {
	was := !t.fired && !t.stopped
	t.stopped = true
	return was
}

type fakeTicker struct {
	parent  *Fake
	c       chan time.Time
	period  time.Duration
	fires   time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.stopped = true }
