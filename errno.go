package co

import (
	"sync"

	"golang.org/x/sys/unix"
)

// setErrno records the errno of a failed socket op in the worker's
// error slot, where Errno and Strerror read it back lazily. The slot
// is valid until the next failing op on the same worker, which
// mirrors thread-local errno under a coroutine-per-thread model.
func (s *Scheduler) setErrno(err error) {
	if e, ok := err.(unix.Errno); ok {
		s.errno = int(e)
		return
	}
	s.errno = int(unix.EIO)
}

// Errno returns the errno left behind by the most recent failed
// socket op on this worker. Must be called in a coroutine.
func Errno() int { return sched().errno }

// errFallback serves Strerror for callers outside any worker.
var (
	errFallbackMu sync.Mutex
	errFallback   = make(map[int]string)
)

// Strerror returns the message for errno e. Repeated calls on the
// same worker return the identical cached string, so references stay
// valid for the life of the process. The synthetic timeout errno maps
// to "Timed out".
func Strerror(e int) string {
	if e == int(unix.ETIMEDOUT) {
		return "Timed out"
	}
	if s := trySched(); s != nil {
		if s.errs == nil {
			s.errs = make(map[int]string)
		}
		msg, ok := s.errs[e]
		if !ok {
			msg = unix.Errno(e).Error()
			s.errs[e] = msg
		}
		return msg
	}
	errFallbackMu.Lock()
	defer errFallbackMu.Unlock()
	msg, ok := errFallback[e]
	if !ok {
		msg = unix.Errno(e).Error()
		errFallback[e] = msg
	}
	return msg
}
