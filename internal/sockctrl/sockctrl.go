// Package sockctrl performs the raw non-blocking socket bring-up the
// reactor and TCP client build on: socket/connect/bind/listen/accept and
// option get/set, all through golang.org/x/sys/unix rather than net.Conn
// (the reactor needs the bare fd to register with the readiness
// primitive).
package sockctrl

import (
	"golang.org/x/sys/unix"
)

// Socket creates a non-blocking, close-on-exec TCP socket.
func Socket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// Connect begins a non-blocking connect to addr:port. A return of
// unix.EINPROGRESS is not an error: the caller selects WRITE on fd and
// checks SO_ERROR once it fires.
func Connect(fd int, ip [4]byte, port int) error {
	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	err := unix.Connect(fd, sa)
	if err == unix.EINPROGRESS {
		return nil
	}
	return err
}

// SocketError reads and clears SO_ERROR, the standard way to discover the
// outcome of a non-blocking connect once its fd becomes writable.
func SocketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// Bind binds fd to ip:port, or INADDR_ANY:port when ip is the zero value.
func Bind(fd int, ip [4]byte, port int) error {
	return unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: ip})
}

// Listen marks fd as a listening socket with the given backlog.
func Listen(fd int, backlog int) error {
	return unix.Listen(fd, backlog)
}

// Accept4 accepts a connection on a listening fd, returning a
// non-blocking, close-on-exec client fd and its peer address. Returns
// unix.EAGAIN when no connection is pending.
func Accept4(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

// SetReuseAddr sets SO_REUSEADDR, used before Bind on listening sockets.
func SetReuseAddr(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(enable))
}

// SetNoDelay sets or clears TCP_NODELAY.
func SetNoDelay(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(enable))
}

// NoDelay reads TCP_NODELAY.
func NoDelay(fd int) (bool, error) {
	v, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// SetKeepAlive sets or clears SO_KEEPALIVE. Getting it back is not
// reliable on every platform, so the client caches the last value it set
// rather than reading it back (spec §4.3).
func SetKeepAlive(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(enable))
}

// SetRecvBuffer sets SO_RCVBUF.
func SetRecvBuffer(fd int, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
}

// RecvBuffer reads SO_RCVBUF.
func RecvBuffer(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
}

// SetSendBuffer sets SO_SNDBUF.
func SetSendBuffer(fd int, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}

// SendBuffer reads SO_SNDBUF.
func SendBuffer(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
}

// Read performs one non-blocking read. A zero count with a nil error
// means the peer performed an orderly shutdown (EOF-equivalent, spec
// §4.3).
func Read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

// Write performs one non-blocking write.
func Write(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

// Close closes fd. Safe to call more than once; a second call's EBADF is
// swallowed since the connection's cleanup paths may race benignly.
func Close(fd int) error {
	err := unix.Close(fd)
	if err == unix.EBADF {
		return nil
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ParseIPv4 converts a dotted-quad string to its 4-byte form. Returns
// false if s is not a valid IPv4 literal. DNS resolution of hostnames is
// layered on top in the root package via net.ResolveIPAddr.
func ParseIPv4(s string) ([4]byte, bool) {
	var out [4]byte
	parts := [4]int{-1, -1, -1, -1}
	idx, val, seen := 0, 0, false
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if !seen || idx > 3 {
				return out, false
			}
			parts[idx] = val
			idx++
			val, seen = 0, false
			continue
		}
		c := s[i]
		if c < '0' || c > '9' {
			return out, false
		}
		val = val*10 + int(c-'0')
		if val > 255 {
			return out, false
		}
		seen = true
	}
	if idx != 4 {
		return out, false
	}
	for i, v := range parts {
		out[i] = byte(v)
	}
	return out, true
}
