package nio

import (
	"golang.org/x/sys/unix"

	"github.com/behrlich/go-nio/internal/constants"
	"github.com/behrlich/go-nio/internal/reactor"
	"github.com/behrlich/go-nio/internal/sockctrl"
)

// Listener is a bound, listening TCP socket registered with a reactor for
// ACCEPT readiness (spec component C7, the server-side counterpart of C6).
type Listener struct {
	fd int
	re *reactor.Registration

	pool *reactor.Pool
}

// Listen binds and listens on host:port using the default reactor pool.
// An empty host binds INADDR_ANY.
func Listen(host string, port int) (*Listener, error) {
	pool, err := getOrCreateDefaultPool()
	if err != nil {
		return nil, err
	}
	return ListenWith(pool, host, port)
}

// ListenWith is Listen against a caller-supplied pool; its registration
// for ACCEPT readiness lives on the pool's least-loaded reactor, and each
// accepted TCPClient is then independently placed with a fresh
// least-loaded lookup (spec §4.1: accept and the accepted connection are
// not required to share a reactor).
func ListenWith(pool *reactor.Pool, host string, port int) (*Listener, error) {
	var ip [4]byte
	if host != "" {
		parsed, ok := sockctrl.ParseIPv4(host)
		if !ok {
			resolved, err := resolveIPv4(host)
			if err != nil {
				return nil, New("listen", CodeIOError, err.Error())
			}
			parsed = resolved
		}
		ip = parsed
	}

	fd, err := sockctrl.Socket()
	if err != nil {
		return nil, WrapErrno("listen", err)
	}
	if err := sockctrl.SetReuseAddr(fd, true); err != nil {
		_ = sockctrl.Close(fd)
		return nil, WrapErrno("listen", err)
	}
	if err := sockctrl.Bind(fd, ip, port); err != nil {
		_ = sockctrl.Close(fd)
		return nil, WrapErrno("listen", err)
	}
	if err := sockctrl.Listen(fd, constants.AcceptBacklog); err != nil {
		_ = sockctrl.Close(fd)
		return nil, WrapErrno("listen", err)
	}

	acceptReactor := pool.GetLeastLoaded()
	reg, err := acceptReactor.Register(fd, nil)
	if err != nil {
		_ = sockctrl.Close(fd)
		return nil, WrapErrno("listen", err)
	}

	return &Listener{fd: fd, re: reg, pool: pool}, nil
}

// Accept blocks until a connection arrives, returning it as a TCPClient
// registered with the pool's then-least-loaded reactor.
func (l *Listener) Accept() (*TCPClient, error) {
	done := make(chan error, 1)
	if err := l.re.SelectOnce(reactor.Accept, func(err error) { done <- err }); err != nil {
		return nil, New("accept", CodeSocketClosed, "listener is closed")
	}
	if err := <-done; err != nil {
		return nil, New("accept", CodeSocketClosed, "listener is closed")
	}

	fd, _, err := sockctrl.Accept4(l.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return l.Accept()
		}
		return nil, WrapErrno("accept", err)
	}

	return newClient(fd, l.pool.GetLeastLoaded(), defaultObserver())
}

// Port returns the port the listener is actually bound to, useful when
// Listen was called with port 0 to pick an ephemeral one.
func (l *Listener) Port() (int, error) {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return 0, err
	}
	sin, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, New("listen", CodeIOError, "unexpected socket address family")
	}
	return sin.Port, nil
}

// Close stops accepting and releases the listening fd.
func (l *Listener) Close() error {
	l.re.Close(New("close", CodeNormalClose, "listener closed"))
	return sockctrl.Close(l.fd)
}
