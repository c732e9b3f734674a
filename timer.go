package co

import (
	"container/heap"
	"math"
	"time"
)

// timerItem arms a deadline for a suspended coroutine. epoch is the
// coroutine's wake epoch at arming time: a timer that fires after the
// wait it was armed for has ended sees a newer epoch and is a no-op,
// which is the implicit cancellation the scheduler contract requires.
type timerItem struct {
	when  int64
	c     *Coroutine
	epoch uint64
}

type timerHeap []*timerItem

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when < h[j].when }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)        { *h = append(*h, x.(*timerItem)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

func nowms() int64 { return time.Now().UnixMilli() }

// addTimer arms a timer for the running coroutine. Owner-worker only:
// the heap is touched while the worker is blocked in the coroutine's
// resume, or by the loop itself.
func (s *Scheduler) addTimer(ms int) {
	c := s.running
	heap.Push(&s.timers, &timerItem{when: nowms() + int64(ms), c: c, epoch: c.epoch})
}

// nextTimeout returns the poll timeout in milliseconds until the
// earliest armed deadline, or -1 to block indefinitely.
func (s *Scheduler) nextTimeout() int {
	if s.timers.Len() == 0 {
		return -1
	}
	d := s.timers[0].when - nowms()
	if d <= 0 {
		return 0
	}
	if d > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(d)
}

// fireTimers wakes every coroutine whose deadline has passed and
// whose wait is still the one the timer was armed for. The CAS
// guarantees that a racing signal and a firing timer enqueue the
// coroutine exactly once.
func (s *Scheduler) fireTimers() {
	now := nowms()
	for s.timers.Len() > 0 && s.timers[0].when <= now {
		it := heap.Pop(&s.timers).(*timerItem)
		if it.epoch != it.c.epoch {
			continue
		}
		if it.c.state.CompareAndSwap(stWait, stReady) {
			it.c.timedout = true
			s.local = append(s.local, it.c)
		}
	}
}
