//go:build linux

package ssl

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	co "github.com/idealvin/co"
)

// selfSigned writes a self-signed certificate and key in PEM form and
// returns their paths.
func selfSigned(t *testing.T) (string, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath,
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func serverCtx(t *testing.T) *Ctx {
	t.Helper()
	certPath, keyPath := selfSigned(t)
	ctx := NewServerCtx()
	require.Equal(t, 1, ctx.UseCertificateFile(certPath))
	require.Equal(t, 1, ctx.UsePrivateKeyFile(keyPath))
	require.Equal(t, 1, ctx.CheckPrivateKey())
	return ctx
}

// One full TLS session: handshake both ways, a 64 KiB echo, an
// orderly shutdown observed by the peer as Recv == 0.
func TestTLSEcho(t *testing.T) {
	r := require.New(t)

	sctx := serverCtx(t)
	cctx := NewClientCtx()

	payload := make([]byte, 64<<10)
	rand.Read(payload)

	portCh := make(chan int)
	srvDone := make(chan bool)
	co.Go(func() {
		lfd := co.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		unix.SetsockoptInt(lfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		co.Bind(lfd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}})
		co.Listen(lfd, 8)
		sa, _ := unix.Getsockname(lfd)
		portCh <- sa.(*unix.SockaddrInet4).Port

		connfd, _ := co.Accept(lfd)
		s := NewSSL(sctx)
		s.SetFd(connfd)
		if Accept(s, 5000) != 1 {
			srvDone <- false
			return
		}
		buf := make([]byte, len(payload))
		if Recvn(s, buf, 5000) != len(buf) {
			srvDone <- false
			return
		}
		if Send(s, buf, 5000) != len(buf) {
			srvDone <- false
			return
		}
		Shutdown(s, 3000)
		co.Close(connfd, 0)
		srvDone <- true
	})
	port := <-portCh

	cliDone := make(chan bool)
	var echoed []byte
	var closed int
	co.Go(func() {
		fd := co.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if co.Connect(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}, Port: port}, 5000) != 0 {
			cliDone <- false
			return
		}
		s := NewSSL(cctx)
		s.SetFd(fd)
		if Connect(s, 5000) != 1 {
			cliDone <- false
			return
		}
		if Send(s, payload, 5000) != len(payload) {
			cliDone <- false
			return
		}
		echoed = make([]byte, len(payload))
		if Recvn(s, echoed, 5000) != len(echoed) {
			cliDone <- false
			return
		}

		// After the peer's close-notify, recv reports orderly close,
		// not an error.
		closed = Recv(s, make([]byte, 1), 5000)
		Shutdown(s, 3000)
		co.Close(fd, 0)
		cliDone <- true
	})

	r.True(<-srvDone)
	r.True(<-cliDone)
	r.True(bytes.Equal(payload, echoed))
	r.Equal(0, closed)
}

func TestTLSHandshakeTimeout(t *testing.T) {
	r := require.New(t)

	cctx := NewClientCtx()
	portCh := make(chan int)
	co.Go(func() {
		// A listener that never answers the handshake.
		lfd := co.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		co.Bind(lfd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}})
		co.Listen(lfd, 8)
		sa, _ := unix.Getsockname(lfd)
		portCh <- sa.(*unix.SockaddrInet4).Port
		co.Sleep(10000)
	})
	port := <-portCh

	res := make(chan [2]bool)
	co.Go(func() {
		fd := co.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if co.Connect(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}, Port: port}, 5000) != 0 {
			res <- [2]bool{false, false}
			return
		}
		s := NewSSL(cctx)
		s.SetFd(fd)
		ret := Connect(s, 100)
		timedout := Timeout()
		co.Close(fd, 0)
		res <- [2]bool{ret == -1, timedout}
	})
	got := <-res
	r.True(got[0])
	r.True(got[1])
}

func TestCtxFiles(t *testing.T) {
	r := require.New(t)

	certPath, keyPath := selfSigned(t)
	ctx := NewServerCtx()
	r.Equal(0, ctx.UseCertificateFile(filepath.Join(t.TempDir(), "missing.pem")))
	r.Equal(0, ctx.UseCertificateFile(keyPath))
	r.Equal(1, ctx.UseCertificateFile(certPath))
	r.Equal(0, ctx.UsePrivateKeyFile(certPath))
	r.Equal(1, ctx.UsePrivateKeyFile(keyPath))
	r.Equal(1, ctx.CheckPrivateKey())
}
