package co

import "sync"

// WaitGroup waits for a collection of coroutines to finish. Add
// increments the counter, Done decrements it, and Wait suspends the
// calling coroutine until the counter reaches zero. Counting and
// waiting may happen on different workers.
type WaitGroup struct {
	noCopy noCopy

	mu   sync.Mutex
	n    int
	wait map[*Coroutine]struct{}
}

// Add adds delta, which may be negative, to the counter. When the
// counter reaches zero every waiting coroutine is resumed. A negative
// counter panics.
func (wg *WaitGroup) Add(delta int) {
	wg.mu.Lock()
	wg.n += delta
	if wg.n < 0 {
		wg.mu.Unlock()
		panic("co: negative WaitGroup counter")
	}
	if wg.n > 0 || len(wg.wait) == 0 {
		wg.mu.Unlock()
		return
	}
	woken := wg.wait
	wg.wait = nil
	wg.mu.Unlock()

	for c := range woken {
		if c.state.CompareAndSwap(stWait, stReady) {
			c.s.addReady(c)
		}
	}
}

// Done decrements the counter by one.
func (wg *WaitGroup) Done() { wg.Add(-1) }

// Wait suspends the calling coroutine until the counter is zero. It
// returns immediately if the counter is already zero. Must be called
// in a coroutine.
func (wg *WaitGroup) Wait() {
	s := sched()
	c := s.running

	wg.mu.Lock()
	if wg.n == 0 {
		wg.mu.Unlock()
		return
	}
	if wg.wait == nil {
		wg.wait = make(map[*Coroutine]struct{})
	}
	c.state.Store(stWait)
	wg.wait[c] = struct{}{}
	wg.mu.Unlock()

	c.yield()
}
