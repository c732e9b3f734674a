package co

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
	"github.com/webriots/coro"
)

// Coroutine states. A coroutine enters stWait before suspending on a
// primitive or an I/O event; the transition to stReady must be won by
// exactly one of signal, readiness or timer, which is why it goes
// through a compare-and-swap on the atomic state.
const (
	stInit int32 = iota
	stWait
	stReady
	stRunning
	stDone
)

// Coroutine is the handle for one unit of cooperatively scheduled
// work. It is owned by its home scheduler, which is the only worker
// that ever resumes it; other workers and plain OS threads interact
// with it solely through the atomic state and the home scheduler's
// ready inbox.
type Coroutine struct {
	s       *Scheduler
	fn      func()
	resume  func(struct{}) (struct{}, bool)
	cancel  func()
	suspend func() struct{}

	state atomic.Int32

	// Owner-worker fields. epoch advances on every resumption so a
	// stale timer can recognize that the wait it was armed for has
	// already ended. timedout records whether the most recent wake-up
	// came from the coroutine's own timer.
	epoch    uint64
	timedout bool
}

// newCoroutine wraps fn in a suspendable context bound to scheduler
// s. The context is created on the first resumption, on the worker's
// own OS-thread-locked goroutine, because the runtime requires a
// coroutine to be created and resumed under the same thread-lock
// state. The body registers its goroutine id so coroutine-only APIs
// can find their scheduler, and unregisters on the way out.
func newCoroutine(s *Scheduler, fn func()) *Coroutine {
	c := &Coroutine{s: s, fn: fn}
	c.state.Store(stReady)

	c.resume = func(v struct{}) (struct{}, bool) {
		resume, cancel := coro.New(
			func(_ func(struct{}) struct{}, suspend func() struct{}) (z struct{}) {
				c.suspend = suspend
				gid := goid.Get()
				gls.Store(gid, s)
				defer gls.Delete(gid)
				c.fn()
				return
			},
		)
		c.resume = resume
		c.cancel = cancel
		return resume(v)
	}
	return c
}

// yield suspends the coroutine; control returns to the home worker's
// event loop. The coroutine resumes only after some wake path has
// placed it back on the ready queue.
func (c *Coroutine) yield() { c.suspend() }

// gls maps goroutine ids to schedulers. Coroutine bodies and worker
// loops both register, so primitives called from a coroutine and
// cleanup callbacks running on a worker resolve the same way.
var gls sync.Map

// sched returns the scheduler responsible for the calling goroutine,
// or aborts: every core API below requires a coroutine context, and
// calling one from a plain goroutine is a programming error.
func sched() *Scheduler {
	if v, ok := gls.Load(goid.Get()); ok {
		return v.(*Scheduler)
	}
	logger.Panic().Msg("must be called in a coroutine")
	return nil
}

// trySched is sched without the abort.
func trySched() *Scheduler {
	if v, ok := gls.Load(goid.Get()); ok {
		return v.(*Scheduler)
	}
	return nil
}
