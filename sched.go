package co

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/petermattis/goid"
)

// Scheduler is one cooperative worker: a single event loop that owns
// a ready queue, a timer heap, an edge-triggered poller and the
// coroutines spawned onto it. Within a worker coroutines run
// serially; across workers they run in parallel. A coroutine is
// always resumed by its home worker, so cross-worker wake-ups go
// through the inbox rather than touching the loop state directly.
type Scheduler struct {
	id   int
	g    *group
	poll *poller

	// inbox receives coroutines made ready from other workers or
	// plain OS threads. mu serializes it; the poller's wake fd kicks
	// the loop out of a blocking poll after a push.
	mu    sync.Mutex
	inbox *queue.Queue

	// Owner-worker state. local collects the coroutines to run this
	// tick; cos tracks every live coroutine for teardown; cleanups
	// run on this worker after the loop exits.
	local    []*Coroutine
	timers   timerHeap
	cos      map[*Coroutine]struct{}
	cleanups []func()
	running  *Coroutine

	// Worker-local error channel: the errno of the most recent failed
	// socket op and the strerror cache serving stable messages for it
	// (sock_linux.go, errno.go).
	errno int
	errs  map[int]string

	stopping atomic.Bool
}

// group is a set of workers sharing a round-robin spawn counter. The
// package-level API operates on a lazily started default group; tests
// that need isolated teardown construct private groups.
type group struct {
	scheds []*Scheduler
	next   atomic.Uint32
	wg     sync.WaitGroup
}

var (
	defOnce sync.Once
	def     *group
)

func defaultGroup() *group {
	defOnce.Do(func() { def = newGroup(runtime.NumCPU()) })
	return def
}

func newGroup(n int) *group {
	if n <= 0 {
		n = 1
	}
	g := &group{scheds: make([]*Scheduler, n)}
	for i := range g.scheds {
		s := &Scheduler{
			id:    i,
			g:     g,
			inbox: queue.New(),
			cos:   make(map[*Coroutine]struct{}),
		}
		p, err := newPoller(s)
		if err != nil {
			logger.Panic().Err(err).Int("sched", i).Msg("poller init failed")
		}
		s.poll = p
		g.scheds[i] = s
	}
	g.wg.Add(n)
	for _, s := range g.scheds {
		go s.loop()
	}
	return g
}

func (g *group) num() int { return len(g.scheds) }

func (g *group) spawn(fn func()) {
	i := int(g.next.Add(1)-1) % len(g.scheds)
	s := g.scheds[i]
	s.addReady(newCoroutine(s, fn))
}

func (g *group) stop() {
	for _, s := range g.scheds {
		s.stopping.Store(true)
		s.poll.wake()
	}
	g.wg.Wait()
}

// Go runs fn as a coroutine on the next worker, round robin. It is
// safe to call from anywhere, including from inside a coroutine.
func Go(fn func()) { defaultGroup().spawn(fn) }

// Sleep suspends the running coroutine for ms milliseconds. It must
// be called in a coroutine.
func Sleep(ms int) {
	s := sched()
	c := s.running
	c.state.Store(stWait)
	s.addTimer(ms)
	c.yield()
}

// SchedulerNum returns the number of workers, fixed at startup.
func SchedulerNum() int { return defaultGroup().num() }

// SchedulerID returns the id of the worker the caller runs on. It
// works from a coroutine and from a worker's cleanup callback.
func SchedulerID() int { return sched().id }

// Timeout reports whether the most recent wake-up of the running
// coroutine was caused by its own timer.
func Timeout() bool { return sched().timeout() }

// Stop terminates every worker of the default runtime: pending
// coroutines are cancelled, cleanup callbacks run on their owning
// workers, and the pollers are closed. No coroutine API may be used
// afterwards.
func Stop() { defaultGroup().stop() }

func (s *Scheduler) loop() {
	runtime.LockOSThread()
	gid := goid.Get()
	gls.Store(gid, s)
	defer func() {
		gls.Delete(gid)
		s.g.wg.Done()
	}()

	logger.Debug().Int("sched", s.id).Msg("worker started")
	for {
		ms := 0
		if len(s.local) == 0 {
			ms = s.nextTimeout()
		}
		s.poll.wait(ms)
		if s.stopping.Load() {
			break
		}
		s.drainInbox()
		s.fireTimers()
		s.runLocal()
	}
	s.finalize()
	logger.Debug().Int("sched", s.id).Msg("worker stopped")
}

func (s *Scheduler) drainInbox() {
	s.mu.Lock()
	for s.inbox.Length() > 0 {
		s.local = append(s.local, s.inbox.Remove().(*Coroutine))
	}
	s.mu.Unlock()
}

func (s *Scheduler) runLocal() {
	run := s.local
	s.local = nil
	for _, c := range run {
		s.execute(c)
	}
}

func (s *Scheduler) execute(c *Coroutine) {
	s.cos[c] = struct{}{}
	c.epoch++
	c.state.Store(stRunning)
	s.running = c
	_, alive := c.resume(struct{}{})
	s.running = nil
	if !alive {
		c.state.Store(stDone)
		delete(s.cos, c)
	}
}

// addReady enqueues c on this scheduler's ready inbox and wakes the
// loop if it is blocked polling. Thread-safe: this is the only wake
// path available to other workers and plain OS threads. The caller
// must have won the wait -> ready transition (or own the coroutine
// outright, as Mutex.Unlock's direct hand-off does).
func (s *Scheduler) addReady(c *Coroutine) {
	c.timedout = false
	s.mu.Lock()
	s.inbox.Add(c)
	s.mu.Unlock()
	s.poll.wake()
}

// wakeIO moves an I/O waiter to the local run queue. Owner-worker
// only; called by the poller while dispatching readiness. The CAS
// loses to a timer that fired in the same tick, which is correct:
// the coroutine is already on the run queue and will re-try its
// syscall.
func (s *Scheduler) wakeIO(c *Coroutine) {
	if c == nil {
		return
	}
	if c.state.CompareAndSwap(stWait, stReady) {
		c.timedout = false
		s.local = append(s.local, c)
	}
}

func (s *Scheduler) timeout() bool { return s.running.timedout }

// addCleanup registers cb to run on this worker after its event loop
// exits. Owner-worker only.
func (s *Scheduler) addCleanup(cb func()) { s.cleanups = append(s.cleanups, cb) }

func (s *Scheduler) finalize() {
	for c := range s.cos {
		c.cancel()
	}
	s.cos = nil
	for _, cb := range s.cleanups {
		cb()
	}
	s.cleanups = nil
	s.poll.close()
}
