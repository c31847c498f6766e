// Package clock abstracts time so TTL expiry, stale-upload sweeps and drain
// windows can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time capability handed to the store, the assembler and the
// cleanup scheduler.
type Clock interface {
	Now() time.Time
	// After arranges for fn to run once d has elapsed. The returned stop
	// function cancels the call if it has not fired yet.
	After(d time.Duration, fn func()) (stop func())
	// Tick delivers the current time every d until the returned stop
	// function is called.
	Tick(d time.Duration, fn func(time.Time)) (stop func())
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (Real) Tick(d time.Duration, fn func(time.Time)) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case now := <-ticker.C:
				fn(now)
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// Fake is a manually advanced clock for tests. Timers and tickers fire
// synchronously inside Advance, in deadline order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	timers  map[int]*fakeTimer
	tickers map[int]*fakeTicker
}

type fakeTimer struct {
	when time.Time
	fn   func()
}

type fakeTicker struct {
	next   time.Time
	period time.Duration
	fn     func(time.Time)
}

// NewFake returns a fake clock pinned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{
		now:     start,
		timers:  make(map[int]*fakeTimer),
		tickers: make(map[int]*fakeTicker),
	}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.timers[id] = &fakeTimer{when: f.now.Add(d), fn: fn}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.timers, id)
	}
}

func (f *Fake) Tick(d time.Duration, fn func(time.Time)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.tickers[id] = &fakeTicker{next: f.now.Add(d), period: d, fn: fn}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.tickers, id)
	}
}

// Advance moves the clock forward by d, firing every timer and ticker whose
// deadline falls inside the window, in chronological order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		fn, at, ok := f.nextFiring(target)
		if !ok {
			break
		}
		f.mu.Lock()
		f.now = at
		f.mu.Unlock()
		fn()
	}

	f.mu.Lock()
	f.now = target
	f.mu.Unlock()
}

// nextFiring pops the earliest timer or ticker due at or before target.
func (f *Fake) nextFiring(target time.Time) (func(), time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	type due struct {
		at time.Time
		fn func()
	}
	var pending []due

	for id, t := range f.timers {
		if !t.when.After(target) {
			id, t := id, t
			pending = append(pending, due{at: t.when, fn: func() {
				f.mu.Lock()
				delete(f.timers, id)
				f.mu.Unlock()
				t.fn()
			}})
		}
	}
	for _, tk := range f.tickers {
		if !tk.next.After(target) {
			tk := tk
			at := tk.next
			pending = append(pending, due{at: at, fn: func() {
				f.mu.Lock()
				tk.next = tk.next.Add(tk.period)
				f.mu.Unlock()
				tk.fn(at)
			}})
		}
	}
	if len(pending) == 0 {
		return nil, time.Time{}, false
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].at.Before(pending[j].at) })
	return pending[0].fn, pending[0].at, true
}
