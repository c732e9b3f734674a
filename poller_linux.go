//go:build linux

package co

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// fdWaiter tracks the registered interest for one fd and the
// coroutine parked on each direction. Readiness fires at most one
// waiter per direction. Owner-worker only: the map is mutated either
// by the loop itself or by a coroutine while its worker is blocked in
// resume, so the two never run concurrently.
type fdWaiter struct {
	ev   EvType
	r, w *Coroutine
}

// poller is the worker's edge-triggered epoll instance. An eventfd is
// registered alongside the sockets so other threads can kick the loop
// out of a blocking poll after pushing to the ready inbox.
type poller struct {
	s       *Scheduler
	epfd    int
	wakefd  int
	waiters map[int]*fdWaiter
	events  []unix.EpollEvent
}

func newPoller(s *Scheduler) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(wakefd)
		return nil, err
	}
	return &poller{
		s:       s,
		epfd:    epfd,
		wakefd:  wakefd,
		waiters: make(map[int]*fdWaiter),
		events:  make([]unix.EpollEvent, 128),
	}, nil
}

func epollBits(ev EvType) uint32 {
	var bits uint32
	if ev&EvRead != 0 {
		bits |= unix.EPOLLIN
	}
	if ev&EvWrite != 0 {
		bits |= unix.EPOLLOUT
	}
	return bits
}

// addEvent arms edge-triggered interest in ev for fd, adding to any
// interest already registered for the other direction.
func (p *poller) addEvent(fd int, ev EvType) error {
	w := p.waiters[fd]
	if w == nil {
		w = &fdWaiter{}
		p.waiters[fd] = w
	}
	if w.ev&ev == ev {
		return nil
	}
	op := unix.EPOLL_CTL_MOD
	if w.ev == 0 {
		op = unix.EPOLL_CTL_ADD
	}
	w.ev |= ev
	e := unix.EpollEvent{Events: epollBits(w.ev) | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, &e); err != nil {
		logger.Error().Err(err).Int("fd", fd).Msg("epoll register failed")
		return err
	}
	return nil
}

// delEvent drops interest in ev for fd, deregistering the fd entirely
// when no direction remains.
func (p *poller) delEvent(fd int, ev EvType) {
	w := p.waiters[fd]
	if w == nil {
		return
	}
	if ev&EvRead != 0 {
		w.r = nil
	}
	if ev&EvWrite != 0 {
		w.w = nil
	}
	rest := w.ev &^ ev
	if rest == w.ev {
		return
	}
	w.ev = rest
	if rest == 0 {
		delete(p.waiters, fd)
		unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		return
	}
	e := unix.EpollEvent{Events: epollBits(rest) | unix.EPOLLET, Fd: int32(fd)}
	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &e)
}

// setWaiter parks or clears the coroutine waiting on (fd, ev).
func (p *poller) setWaiter(fd int, ev EvType, c *Coroutine) {
	w := p.waiters[fd]
	if w == nil {
		return
	}
	if ev&EvRead != 0 {
		w.r = c
	}
	if ev&EvWrite != 0 {
		w.w = c
	}
}

// wait blocks for readiness or ms milliseconds (-1 blocks
// indefinitely) and dispatches wake-ups. Error and hang-up conditions
// wake both directions so the retried syscall surfaces the error.
func (p *poller) wait(ms int) {
	n, err := unix.EpollWait(p.epfd, p.events, ms)
	if err != nil {
		if err != unix.EINTR {
			logger.Error().Err(err).Int("sched", p.s.id).Msg("epoll wait failed")
		}
		return
	}
	for i := 0; i < n; i++ {
		e := &p.events[i]
		fd := int(e.Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}
		w := p.waiters[fd]
		if w == nil {
			continue
		}
		if e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			p.s.wakeIO(w.r)
		}
		if e.Events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			p.s.wakeIO(w.w)
		}
	}
}

// wake kicks the loop out of a blocking poll. Thread-safe.
func (p *poller) wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	unix.Write(p.wakefd, buf[:])
}

func (p *poller) drainWake() {
	var buf [8]byte
	unix.Read(p.wakefd, buf[:])
}

func (p *poller) close() {
	unix.Close(p.epfd)
	unix.Close(p.wakefd)
}
