//go:build !linux

package poller

// New is unavailable outside Linux; the reactor's readiness primitive is
// epoll or io_uring, both Linux-only.
func New() (Poller, error) {
	return nil, ErrUnsupportedPlatform
}
