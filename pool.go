package co

import (
	"math"

	"github.com/gammazero/deque"
)

// Pool is a per-worker object free-list. Each worker owns an
// independent LIFO list created on first use, so Pop and Push never
// contend across workers and never need a lock. The lists are torn
// down by a cleanup callback on the owning worker, which means the
// destroy callback never races with live users and may itself perform
// coroutine operations.
type Pool struct {
	noCopy noCopy

	pools   []*deque.Deque[any]
	create  func() any
	destroy func(any)
	maxcap  int
	g       *group
}

// NewPool returns a pool with no callbacks and no capacity limit.
func NewPool() *Pool { return newPool(defaultGroup(), nil, nil, math.MaxInt) }

// NewPoolWith returns a pool with a create callback invoked when Pop
// finds the worker's list empty, a destroy callback invoked on
// overflow and teardown, and a per-worker capacity. The capacity is
// only enforced when a destroy callback exists; without one the list
// grows without bound.
func NewPoolWith(create func() any, destroy func(any), maxcap int) *Pool {
	return newPool(defaultGroup(), create, destroy, maxcap)
}

func newPool(g *group, create func() any, destroy func(any), maxcap int) *Pool {
	return &Pool{
		pools:   make([]*deque.Deque[any], g.num()),
		create:  create,
		destroy: destroy,
		maxcap:  maxcap,
		g:       g,
	}
}

// list returns this worker's free-list, creating it lazily. Creation
// registers a cleanup callback with the worker: teardown must run on
// the owning worker's own thread, after its event loop exits.
func (p *Pool) list(s *Scheduler) *deque.Deque[any] {
	v := p.pools[s.id]
	if v == nil {
		v = new(deque.Deque[any])
		p.pools[s.id] = v
		dcb := p.destroy
		s.addCleanup(func() {
			if dcb != nil {
				for v.Len() > 0 {
					dcb(v.PopBack())
				}
			}
			p.pools[s.id] = nil
		})
	}
	return v
}

// Pop returns the most recently pushed object on this worker's list,
// or the result of the create callback when the list is empty, or nil
// without one. Must be called in a coroutine.
func (p *Pool) Pop() any {
	s := sched()
	v := p.list(s)
	if v.Len() > 0 {
		return v.PopBack()
	}
	if p.create != nil {
		return p.create()
	}
	return nil
}

// Push returns an object to this worker's list. A nil object is
// ignored. When a destroy callback exists and the list is at
// capacity, the object is destroyed instead of pushed. Must be called
// in a coroutine.
func (p *Pool) Push(x any) {
	if x == nil {
		return
	}
	s := sched()
	v := p.list(s)
	if p.destroy == nil || v.Len() < p.maxcap {
		v.PushBack(x)
		return
	}
	p.destroy(x)
}

// Size returns the length of this worker's list only; it is not a
// global count. Must be called in a coroutine.
func (p *Pool) Size() int {
	s := sched()
	if v := p.pools[s.id]; v != nil {
		return v.Len()
	}
	return 0
}
