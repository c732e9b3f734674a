//go:build linux

package co

import "golang.org/x/sys/unix"

// The socket façade: blocking-style calls over non-blocking fds. The
// pattern is uniform — issue the native syscall; on success return;
// on EWOULDBLOCK/EAGAIN suspend on an IoEvent of the matching
// direction and retry; on EINTR retry immediately; on anything else
// record errno and fail with -1. Timeouts surface as -1 with errno
// ETIMEDOUT. All operations must be called in a coroutine.

// Socket creates a socket with NONBLOCK and CLOEXEC set atomically.
// Returns the fd, or -1 with errno set.
func Socket(domain, typ, proto int) int {
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		sched().setErrno(err)
		return -1
	}
	return fd
}

// Bind binds fd to addr. Returns 0, or -1 with errno set.
func Bind(fd int, addr unix.Sockaddr) int {
	if err := unix.Bind(fd, addr); err != nil {
		sched().setErrno(err)
		return -1
	}
	return 0
}

// Listen marks fd as a listening socket. Returns 0, or -1 with errno
// set.
func Listen(fd, backlog int) int {
	if err := unix.Listen(fd, backlog); err != nil {
		sched().setErrno(err)
		return -1
	}
	return 0
}

// Accept waits for a connection on the listening fd and returns the
// connected fd, with NONBLOCK and CLOEXEC already set, and the peer
// address. There is no deadline; on a non-retryable error it returns
// -1 with errno set.
func Accept(fd int) (int, unix.Sockaddr) {
	s := sched()
	ev := NewIoEvent(fd, EvRead)
	defer ev.Close()

	for {
		connfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			return connfd, sa
		}
		switch err {
		case unix.EAGAIN:
			ev.Wait(-1)
		case unix.EINTR:
		default:
			s.setErrno(err)
			return -1, nil
		}
	}
}

// Connect connects fd to addr within ms milliseconds (ms < 0 waits
// without a deadline). On EINPROGRESS it suspends until the socket is
// writable, then reads SO_ERROR to decide the outcome. Returns 0 on
// success, or -1 with errno set (ETIMEDOUT on deadline).
func Connect(fd int, addr unix.Sockaddr, ms int) int {
	s := sched()
	for {
		err := unix.Connect(fd, addr)
		if err == nil {
			return 0
		}
		switch err {
		case unix.EINPROGRESS:
			ev := NewIoEvent(fd, EvWrite)
			ok := ev.Wait(ms)
			ev.Close()
			if !ok {
				s.errno = int(unix.ETIMEDOUT)
				return -1
			}
			soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
			if err != nil {
				s.setErrno(err)
				return -1
			}
			if soerr == 0 {
				return 0
			}
			s.errno = soerr
			return -1
		case unix.EINTR:
		default:
			s.setErrno(err)
			return -1
		}
	}
}

// Recv performs at most one successful read of up to len(buf) bytes.
// It returns the bytes read (> 0), 0 on orderly peer close, or -1 on
// error or timeout.
func Recv(fd int, buf []byte, ms int) int {
	s := sched()
	ev := NewIoEvent(fd, EvRead)
	defer ev.Close()

	for {
		r, err := unix.Read(fd, buf)
		if err == nil {
			return r
		}
		switch err {
		case unix.EAGAIN:
			if !ev.Wait(ms) {
				s.errno = int(unix.ETIMEDOUT)
				return -1
			}
		case unix.EINTR:
		default:
			s.setErrno(err)
			return -1
		}
	}
}

// Recvn reads exactly len(buf) bytes. It returns len(buf) on success,
// 0 if the peer closed mid-read, or -1 on error or timeout. The ms
// budget applies to each individual wait, not to the whole read: one
// I/O event is reused across the loop and every wait gets the full
// deadline.
func Recvn(fd int, buf []byte, ms int) int {
	s := sched()
	n := len(buf)
	remain := buf
	ev := NewIoEvent(fd, EvRead)
	defer ev.Close()

	for {
		r, err := unix.Read(fd, remain)
		if err == nil {
			if r == len(remain) {
				return n
			}
			if r == 0 {
				return 0
			}
			remain = remain[r:]
			continue
		}
		switch err {
		case unix.EAGAIN:
			if !ev.Wait(ms) {
				s.errno = int(unix.ETIMEDOUT)
				return -1
			}
		case unix.EINTR:
		default:
			s.setErrno(err)
			return -1
		}
	}
}

// Recvfrom is the one-shot datagram variant of Recv; it also returns
// the source address.
func Recvfrom(fd int, buf []byte, ms int) (int, unix.Sockaddr) {
	s := sched()
	ev := NewIoEvent(fd, EvRead)
	defer ev.Close()

	for {
		r, sa, err := unix.Recvfrom(fd, buf, 0)
		if err == nil {
			return r, sa
		}
		switch err {
		case unix.EAGAIN:
			if !ev.Wait(ms) {
				s.errno = int(unix.ETIMEDOUT)
				return -1, nil
			}
		case unix.EINTR:
		default:
			s.setErrno(err)
			return -1, nil
		}
	}
}

// Send writes all of buf, suspending between partial writes. It
// returns len(buf) on success or -1 on error or timeout. As with
// Recvn, the ms budget applies to each individual wait.
func Send(fd int, buf []byte, ms int) int {
	s := sched()
	n := len(buf)
	remain := buf
	ev := NewIoEvent(fd, EvWrite)
	defer ev.Close()

	for {
		r, err := unix.Write(fd, remain)
		if err == nil {
			if r == len(remain) {
				return n
			}
			remain = remain[r:]
			continue
		}
		switch err {
		case unix.EAGAIN:
			if !ev.Wait(ms) {
				s.errno = int(unix.ETIMEDOUT)
				return -1
			}
		case unix.EINTR:
		default:
			s.setErrno(err)
			return -1
		}
	}
}

// Sendto writes buf to addr as one datagram. It returns len(buf) on
// success or -1 on error or timeout.
func Sendto(fd int, buf []byte, addr unix.Sockaddr, ms int) int {
	s := sched()
	n := len(buf)
	ev := NewIoEvent(fd, EvWrite)
	defer ev.Close()

	for {
		err := unix.Sendto(fd, buf, 0, addr)
		if err == nil {
			return n
		}
		switch err {
		case unix.EAGAIN:
			if !ev.Wait(ms) {
				s.errno = int(unix.ETIMEDOUT)
				return -1
			}
		case unix.EINTR:
		default:
			s.setErrno(err)
			return -1
		}
	}
}

// Close deregisters all I/O interest for fd, optionally sleeps ms
// milliseconds to give the peer time to observe the FIN, then closes
// the fd, retrying on EINTR. The fd is gone on any non-EINTR return.
func Close(fd, ms int) int {
	s := sched()
	s.poll.delEvent(fd, EvRead|EvWrite)
	if ms > 0 {
		Sleep(ms)
	}
	for {
		err := unix.Close(fd)
		if err == nil {
			return 0
		}
		if err != unix.EINTR {
			s.setErrno(err)
			return -1
		}
	}
}

// Shutdown deregisters the given direction(s) of I/O interest for fd,
// then shuts the socket down: 'r' for read, 'w' for write, 'b' for
// both.
func Shutdown(fd int, how byte) int {
	s := sched()
	var dir int
	switch how {
	case 'r':
		s.poll.delEvent(fd, EvRead)
		dir = unix.SHUT_RD
	case 'w':
		s.poll.delEvent(fd, EvWrite)
		dir = unix.SHUT_WR
	default:
		s.poll.delEvent(fd, EvRead|EvWrite)
		dir = unix.SHUT_RDWR
	}
	if err := unix.Shutdown(fd, dir); err != nil {
		s.setErrno(err)
		return -1
	}
	return 0
}
