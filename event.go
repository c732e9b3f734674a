package co

import "sync"

// Event is a cross-coroutine signal with sticky state. Signal wakes
// every waiting coroutine as a batch; with no waiters it sets a
// sticky bit that the next Wait consumes. Waiters and signallers may
// live on different workers, and Signal may be called from a plain OS
// thread.
type Event struct {
	noCopy noCopy

	mu       sync.Mutex
	wait     map[*Coroutine]struct{}
	swap     map[*Coroutine]struct{}
	signaled bool
}

// Wait blocks the calling coroutine until a signal is observed. A
// signal already pending on entry is consumed immediately.
func (e *Event) Wait() { e.timedWait(-1) }

// WaitTimeout is Wait with a deadline of ms milliseconds. It reports
// true if a signal was consumed and false on timeout.
func (e *Event) WaitTimeout(ms int) bool { return e.timedWait(ms) }

func (e *Event) timedWait(ms int) bool {
	s := sched()
	c := s.running

	e.mu.Lock()
	if e.signaled {
		e.signaled = false
		e.mu.Unlock()
		return true
	}
	if e.wait == nil {
		e.wait = make(map[*Coroutine]struct{})
	}
	c.state.Store(stWait)
	e.wait[c] = struct{}{}
	e.mu.Unlock()

	if ms >= 0 {
		s.addTimer(ms)
	}
	c.yield()

	if s.timeout() {
		// A racing Signal may have swapped us out already; absence
		// from the set just means the signal reached others.
		e.mu.Lock()
		delete(e.wait, c)
		e.mu.Unlock()
		return false
	}
	return true
}

// Signal wakes all waiting coroutines, or sets the sticky bit if none
// are waiting. The wait-set is swapped out under the internal mutex
// and the wake loop runs unlocked, so a concurrent Wait observes an
// empty set. The state CAS leaves a coroutine alone when its timer
// won the race; that coroutine is resumed by its scheduler anyway.
func (e *Event) Signal() {
	e.mu.Lock()
	if len(e.wait) == 0 {
		e.signaled = true
		e.mu.Unlock()
		return
	}
	w := e.wait
	e.wait = e.swap
	e.swap = nil
	e.mu.Unlock()

	for c := range w {
		if c.state.CompareAndSwap(stWait, stReady) {
			c.s.addReady(c)
		}
	}

	// Recycle the drained set as the scratch for the next signal,
	// unless a concurrent signaller already parked its own.
	clear(w)
	e.mu.Lock()
	if e.swap == nil {
		e.swap = w
	}
	e.mu.Unlock()
}
