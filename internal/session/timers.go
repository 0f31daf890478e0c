package session

import (
	"sync"
	"time"
)

// Timer names used by the engine.
const (
	timerGreetingFallback = "greeting_fallback"
	timerKeepalive        = "keepalive"
	timerMaxSession       = "max_session"
	timerCloseCall        = "close_call"
)

// timerSet tracks every active timer for one call. Arming a name that is
// already armed resets it; cancelAll disarms everything, after which no timer
// fires again. Fired names arrive on C and are consumed by the engine loop.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   chan string
	closed bool
}

func newTimerSet() *timerSet {
	return &timerSet{
		timers: make(map[string]*time.Timer),
		fire:   make(chan string, 16),
	}
}

// C delivers the names of fired timers.
func (ts *timerSet) C() <-chan string { return ts.fire }

// after arms (or re-arms) the named timer.
func (ts *timerSet) after(name string, d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.closed {
		return
	}
	if t, ok := ts.timers[name]; ok {
		t.Stop()
	}
	ts.timers[name] = time.AfterFunc(d, func() { ts.fired(name) })
}

func (ts *timerSet) fired(name string) {
	ts.mu.Lock()
	if ts.closed {
		ts.mu.Unlock()
		return
	}
	delete(ts.timers, name)
	ts.mu.Unlock()

	select {
	case ts.fire <- name:
	default:
		// The engine loop has stopped draining; the call is tearing down.
	}
}

// cancel disarms the named timer if it is active.
func (ts *timerSet) cancel(name string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t, ok := ts.timers[name]; ok {
		t.Stop()
		delete(ts.timers, name)
	}
}

// cancelAll disarms every timer and shuts the set down. Idempotent.
func (ts *timerSet) cancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.closed = true
	for name, t := range ts.timers {
		t.Stop()
		delete(ts.timers, name)
	}
}

// active returns the number of armed timers.
func (ts *timerSet) active() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}
