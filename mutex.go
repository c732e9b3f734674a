package co

import (
	"sync"

	"github.com/gammazero/deque"
)

// Mutex provides mutual exclusion for coroutines. Waiters acquire in
// strict FIFO order, and Unlock hands the lock directly to the head
// waiter without an unlocked intermediate state, so the lock cannot
// be stolen past the queue. Lock and Unlock may run on different
// workers.
type Mutex struct {
	noCopy noCopy

	mu     sync.Mutex
	wait   deque.Deque[*Coroutine]
	locked bool
}

// TryLock acquires the mutex if it is free and reports whether it
// did.
func (m *Mutex) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return false
	}
	m.locked = true
	return true
}

// Lock acquires the mutex, suspending the calling coroutine behind
// earlier waiters if it is held. Must be called in a coroutine.
func (m *Mutex) Lock() {
	s := sched()
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return
	}
	c := s.running
	c.state.Store(stWait)
	m.wait.PushBack(c)
	m.mu.Unlock()
	c.yield()
}

// Unlock releases the mutex. If coroutines are waiting, ownership
// transfers to the head of the queue: locked stays set and the waiter
// is made ready on its home worker.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	if m.wait.Len() == 0 {
		m.locked = false
		m.mu.Unlock()
		return
	}
	c := m.wait.PopFront()
	m.mu.Unlock()
	c.state.Store(stReady)
	c.s.addReady(c)
}

// WaitCount returns the number of coroutines waiting to acquire the
// mutex.
func (m *Mutex) WaitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wait.Len()
}
