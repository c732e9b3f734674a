// Package ssl drives blocking-style TLS handshakes and I/O over the
// runtime's non-blocking sockets. The TLS state machine reads and
// writes through the co socket façade, so every would-block condition
// suspends the calling coroutine on the owning worker's poller and
// every deadline is checked by the same wait protocol the plain
// socket operations use.
//
// Error reporting mirrors the socket layer: I/O entry points return
// non-positive values on failure, Strerror returns a worker-local
// message for the most recent failure, and Timeout reports whether
// that failure was a deadline.
package ssl

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	co "github.com/idealvin/co"
)

// tstate is the worker-local error slot: one per worker, sized at
// first use. Valid until the next TLS op on the same worker.
type tstate struct {
	err      string
	timedout bool
}

var (
	initOnce sync.Once
	states   []tstate
)

// cur returns the calling worker's error slot. The one-shot sizes the
// slots to the worker count, which is fixed at startup.
func cur() *tstate {
	initOnce.Do(func() { states = make([]tstate, co.SchedulerNum()) })
	return &states[co.SchedulerID()]
}

func enter() *tstate {
	st := cur()
	st.err = ""
	st.timedout = false
	return st
}

// Ctx holds the TLS configuration shared by sessions created from it.
type Ctx struct {
	server  bool
	cfg     *tls.Config
	certPEM []byte
	keyPEM  []byte
}

// NewServerCtx creates a context for server-side sessions. Load a
// certificate and key with UseCertificateFile and UsePrivateKeyFile,
// then call CheckPrivateKey.
func NewServerCtx() *Ctx {
	return &Ctx{server: true, cfg: &tls.Config{MinVersion: tls.VersionTLS12}}
}

// NewClientCtx creates a context for client-side sessions. Peer
// verification is off by default; SetVerify opts in.
func NewClientCtx() *Ctx {
	return &Ctx{cfg: &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}}
}

// FreeCtx releases the context's configuration. Sessions already
// created from it are unaffected.
func FreeCtx(c *Ctx) {
	if c != nil {
		c.cfg = nil
		c.certPEM = nil
		c.keyPEM = nil
	}
}

// SetVerify enables peer certificate verification against roots, or
// against the system roots when roots is nil.
func (c *Ctx) SetVerify(roots *x509.CertPool) {
	c.cfg.InsecureSkipVerify = false
	c.cfg.RootCAs = roots
}

// UseCertificateFile loads a PEM certificate file into the context.
// Returns 1 on success, 0 otherwise.
func (c *Ctx) UseCertificateFile(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	block, _ := pem.Decode(b)
	if block == nil || block.Type != "CERTIFICATE" {
		return 0
	}
	c.certPEM = b
	return 1
}

// UsePrivateKeyFile loads a PEM private key file into the context.
// Returns 1 on success, 0 otherwise.
func (c *Ctx) UsePrivateKeyFile(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	block, _ := pem.Decode(b)
	if block == nil || !strings.Contains(block.Type, "PRIVATE KEY") {
		return 0
	}
	c.keyPEM = b
	return 1
}

// CheckPrivateKey checks the consistency of the loaded private key
// with the loaded certificate and installs the pair. Returns 1 on
// success, 0 otherwise.
func (c *Ctx) CheckPrivateKey() int {
	pair, err := tls.X509KeyPair(c.certPEM, c.keyPEM)
	if err != nil {
		return 0
	}
	c.cfg.Certificates = []tls.Certificate{pair}
	return 1
}

// SSL is one TLS session bound to a non-blocking fd. The fd must be
// the same non-blocking socket the co façade operates on, and all I/O
// entry points must be called in a coroutine.
type SSL struct {
	ctx   *Ctx
	fd    int
	c     *fdConn
	conn  *tls.Conn
	fatal bool
}

// NewSSL creates a session from the context. Bind a socket with
// SetFd before any I/O.
func NewSSL(c *Ctx) *SSL { return &SSL{ctx: c, fd: -1} }

// FreeSSL releases the session's resources. It does not close the
// underlying fd.
func FreeSSL(s *SSL) {
	if s != nil {
		s.conn = nil
		s.c = nil
		s.fd = -1
	}
}

// SetFd binds a non-blocking socket to the session. Returns 1 on
// success, 0 on error.
func (s *SSL) SetFd(fd int) int {
	s.fd = fd
	s.c = &fdConn{fd: fd, ms: -1}
	cfg := s.ctx.cfg
	if s.ctx.server {
		if len(cfg.Certificates) == 0 && s.ctx.CheckPrivateKey() == 0 {
			return 0
		}
		s.conn = tls.Server(s.c, cfg)
	} else {
		s.conn = tls.Client(s.c, cfg)
	}
	return 1
}

// GetFd returns the socket bound to the session, or -1.
func (s *SSL) GetFd() int { return s.fd }

// Accept waits for a client to complete the handshake. Returns 1 on
// success, -1 on error or timeout.
func Accept(s *SSL, ms int) int {
	st := enter()
	s.c.ms = ms
	if err := s.conn.Handshake(); err != nil {
		return s.fail(st, err)
	}
	return 1
}

// Connect initiates the handshake with a server. Returns 1 on
// success, -1 on error or timeout.
func Connect(s *SSL, ms int) int {
	st := enter()
	s.c.ms = ms
	if err := s.conn.Handshake(); err != nil {
		return s.fail(st, err)
	}
	return 1
}

// Recv reads up to len(buf) bytes. Returns the bytes read (> 0), 0 on
// orderly peer close, or -1 on error or timeout.
func Recv(s *SSL, buf []byte, ms int) int {
	st := enter()
	s.c.ms = ms
	r, err := s.conn.Read(buf)
	if r > 0 {
		return r
	}
	if err == nil {
		return r
	}
	if err == io.EOF {
		return 0
	}
	return s.fail(st, err)
}

// Recvn reads exactly len(buf) bytes. Returns len(buf) on success, 0
// if the peer closed mid-read, or -1 on error or timeout. As in the
// socket layer, the ms budget applies to each individual wait.
func Recvn(s *SSL, buf []byte, ms int) int {
	st := enter()
	s.c.ms = ms
	got := 0
	for got < len(buf) {
		r, err := s.conn.Read(buf[got:])
		got += r
		if err != nil {
			if err == io.EOF {
				return 0
			}
			return s.fail(st, err)
		}
	}
	return len(buf)
}

// Send writes all of buf. Returns len(buf) on success or -1 on error
// or timeout.
func Send(s *SSL, buf []byte, ms int) int {
	st := enter()
	s.c.ms = ms
	n, err := s.conn.Write(buf)
	if err != nil {
		return s.fail(st, err)
	}
	return n
}

// Shutdown sends the close-notify alert, unless a previous operation
// left the session in a fatal state, in which case shutdown is
// meaningless and refused. Returns 1 on success, -1 otherwise.
func Shutdown(s *SSL, ms int) int {
	st := enter()
	if s.fatal {
		st.err = "ssl session in fatal state"
		return -1
	}
	s.c.ms = ms
	if err := s.conn.CloseWrite(); err != nil {
		return s.fail(st, err)
	}
	return 1
}

// Strerror returns the worker-local message for the most recent TLS
// failure. Passing the session adds state the message alone cannot
// carry.
func Strerror(s *SSL) string {
	st := cur()
	if st.err == "" && s != nil && s.fatal {
		return "ssl protocol error"
	}
	return st.err
}

// Timeout reports whether the most recent TLS call on this worker
// ended due to a deadline.
func Timeout() bool { return cur().timedout }

// fail records err in the worker slot. Deadlines set the timeout flag
// and do not mark the session fatal, so Shutdown is still attempted;
// anything else marks the session fatal.
func (s *SSL) fail(st *tstate, err error) int {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		st.timedout = true
		st.err = "Timed out"
		return -1
	}
	s.fatal = true
	st.err = err.Error()
	return -1
}

// timeoutError is the deadline error surfaced by the conn adapter; it
// satisfies net.Error so crypto/tls propagates it unchanged.
type timeoutError struct{}

func (timeoutError) Error() string   { return "Timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fdConn adapts a co socket to net.Conn for crypto/tls. Each TLS
// entry point stamps ms before driving the state machine, so every
// underlying wait gets that deadline.
type fdConn struct {
	fd int
	ms int
}

func (c *fdConn) Read(b []byte) (int, error) {
	r := co.Recv(c.fd, b, c.ms)
	if r > 0 {
		return r, nil
	}
	if r == 0 {
		return 0, io.EOF
	}
	if co.Errno() == int(unix.ETIMEDOUT) {
		return 0, timeoutError{}
	}
	return 0, syscall.Errno(co.Errno())
}

func (c *fdConn) Write(b []byte) (int, error) {
	r := co.Send(c.fd, b, c.ms)
	if r < 0 {
		if co.Errno() == int(unix.ETIMEDOUT) {
			return 0, timeoutError{}
		}
		return 0, syscall.Errno(co.Errno())
	}
	return r, nil
}

func (c *fdConn) Close() error {
	co.Close(c.fd, 0)
	return nil
}

func (c *fdConn) LocalAddr() net.Addr  { return sockAddr(unix.Getsockname, c.fd) }
func (c *fdConn) RemoteAddr() net.Addr { return sockAddr(unix.Getpeername, c.fd) }

func (c *fdConn) SetDeadline(time.Time) error      { return nil }
func (c *fdConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(time.Time) error { return nil }

func sockAddr(get func(int) (unix.Sockaddr, error), fd int) net.Addr {
	sa, err := get(fd)
	if err != nil {
		return nil
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	}
	return nil
}
