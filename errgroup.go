package co

import "sync"

// ErrGroup runs a group of coroutines and collects the first error
// that occurs. Go spawns the function as a coroutine; Wait suspends
// the caller until every spawned function has returned.
type ErrGroup struct {
	wg  WaitGroup
	mu  sync.Mutex
	err error
}

// Go runs fn in a new coroutine tracked by the group. The first
// non-nil error wins.
func (g *ErrGroup) Go(fn func() error) {
	g.wg.Add(1)
	Go(func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.mu.Lock()
			if g.err == nil {
				g.err = err
			}
			g.mu.Unlock()
		}
	})
}

// Wait suspends the calling coroutine until all functions started by
// Go have returned, then reports the first error among them. Must be
// called in a coroutine.
func (g *ErrGroup) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}
