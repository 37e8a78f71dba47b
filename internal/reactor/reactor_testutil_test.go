package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

func socketpair() ([2]int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return [2]int{}, err
	}
	for _, fd := range fds {
		_ = unix.SetNonblock(fd, true)
	}
	return [2]int{fds[0], fds[1]}, nil
}

func closeFd(fd int) error { return unix.Close(fd) }

func writeFd(fd int, p []byte) (int, error) { return unix.Write(fd, p) }

func timeoutCh() <-chan time.Time { return time.After(2 * time.Second) }
