//go:build linux && !giouring

package poller

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller is the default readiness backend: a single epoll instance
// plus an eventfd used purely to break Wait out of a blocked epoll_wait
// when another goroutine needs to change interest masks (the reactor's
// pause protocol).
type epollPoller struct {
	epfd     int
	wakeupFd int

	mu  sync.Mutex
	buf []unix.EpollEvent
}

// New creates the default epoll-backed Poller.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakeupFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	p := &epollPoller{epfd: epfd, wakeupFd: wakeupFd, buf: make([]unix.EpollEvent, 128)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeupFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeupFd),
	}); err != nil {
		unix.Close(wakeupFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl add wakeup: %w", err)
	}
	return p, nil
}

func toEpollEvents(interest Interest) uint32 {
	var ev uint32
	if interest&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Add(fd int, interest Interest) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
	if err != nil {
		return fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Modify(fd int, interest Interest) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
	// A concurrent Close/unregister can already have removed fd from the
	// epoll set by the time this MOD lands; treat that race the same way
	// Remove does rather than surfacing it as a random I/O error.
	if err != nil && err != unix.ENOENT {
		return fmt.Errorf("epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Wait(dst []Event, timeoutMillis int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.buf, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		raw := p.buf[i]
		if int(raw.Fd) == p.wakeupFd {
			p.drainWakeup()
			continue
		}
		var ev Event
		ev.Fd = int(raw.Fd)
		if raw.Events&unix.EPOLLIN != 0 {
			ev.Ready |= Readable
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev.Ready |= Writable
		}
		if raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			ev.Hangup = true
		}
		if raw.Events&unix.EPOLLERR != 0 {
			ev.Err = true
		}
		dst = append(dst, ev)
	}
	return dst, nil
}

func (p *epollPoller) drainWakeup() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeupFd, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *epollPoller) Wakeup() error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	_, err := unix.Write(p.wakeupFd, b[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *epollPoller) Close() error {
	unix.Close(p.wakeupFd)
	return unix.Close(p.epfd)
}
