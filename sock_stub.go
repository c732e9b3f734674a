//go:build !linux

package co

import "golang.org/x/sys/unix"

// The socket façade requires the Linux poller. On other platforms the
// synchronization primitives work but socket operations abort with a
// diagnostic.

func sockUnsupported() {
	logger.Panic().Msg("socket I/O is not supported on this platform")
}

func Socket(domain, typ, proto int) int {
	sockUnsupported()
	return -1
}

func Bind(fd int, addr unix.Sockaddr) int {
	sockUnsupported()
	return -1
}

func Listen(fd, backlog int) int {
	sockUnsupported()
	return -1
}

func Accept(fd int) (int, unix.Sockaddr) {
	sockUnsupported()
	return -1, nil
}

func Connect(fd int, addr unix.Sockaddr, ms int) int {
	sockUnsupported()
	return -1
}

func Recv(fd int, buf []byte, ms int) int {
	sockUnsupported()
	return -1
}

func Recvn(fd int, buf []byte, ms int) int {
	sockUnsupported()
	return -1
}

func Recvfrom(fd int, buf []byte, ms int) (int, unix.Sockaddr) {
	sockUnsupported()
	return -1, nil
}

func Send(fd int, buf []byte, ms int) int {
	sockUnsupported()
	return -1
}

func Sendto(fd int, buf []byte, addr unix.Sockaddr, ms int) int {
	sockUnsupported()
	return -1
}

func Close(fd, ms int) int {
	sockUnsupported()
	return -1
}

func Shutdown(fd int, how byte) int {
	sockUnsupported()
	return -1
}
