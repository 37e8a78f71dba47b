package nio

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-nio/internal/constants"
	"github.com/behrlich/go-nio/internal/logging"
	"github.com/behrlich/go-nio/internal/reactor"
	"github.com/behrlich/go-nio/internal/sockctrl"
	"github.com/behrlich/go-nio/internal/writequeue"
)

type connState int32

const (
	stateOpen connState = iota
	stateClosing
	stateClosed
)

// TCPClient is the per-connection façade (spec component C6): one fd, one
// reactor registration, one write serializer, and the OPEN/CLOSING/CLOSED
// state machine that governs how close()/force_close() interact with
// in-flight reads and writes.
type TCPClient struct {
	fd  int
	re  *reactor.Registration
	ring *reactor.Reactor

	writeQ     *writequeue.Queue
	writerDone chan struct{}

	state atomic.Int32

	readingInProgress atomic.Bool
	closeReported     atomic.Bool

	handlerMu sync.Mutex
	handler   func(error)

	optMu           sync.Mutex
	cachedKeepAlive bool

	observer    Observer
	sendBufSize int

	log *logging.Logger
}

func newClient(fd int, re *reactor.Reactor, observer Observer) (*TCPClient, error) {
	c := &TCPClient{
		fd:         fd,
		ring:       re,
		writeQ:     writequeue.New(),
		writerDone: make(chan struct{}),
		observer:   observer,
		log:        logging.Default().WithConn(uint64(fd)),
	}
	reg, err := re.Register(fd, func(err error) { c.fail(err) })
	if err != nil {
		_ = sockctrl.Close(fd)
		return nil, err
	}
	c.re = reg
	if n, err := sockctrl.SendBuffer(fd); err == nil && n > 0 {
		c.sendBufSize = n
	} else {
		c.sendBufSize = constants.DefaultSendBufferSize
	}
	go c.writerLoop()
	return c, nil
}

// Connect opens a TCP connection to host:port using the default reactor
// pool, blocking until the connection completes or fails.
func Connect(host string, port int) (*TCPClient, error) {
	pool, err := getOrCreateDefaultPool()
	if err != nil {
		return nil, err
	}
	return ConnectWith(pool.GetLeastLoaded(), host, port)
}

// ConnectWith is Connect against a caller-supplied reactor, for callers
// managing their own pool (spec §9's "global state" note: the default
// pool is a convenience, not a requirement).
func ConnectWith(re *reactor.Reactor, host string, port int) (*TCPClient, error) {
	ip, err := resolveIPv4(host)
	if err != nil {
		return nil, New("connect", CodeConnectionRefused, err.Error())
	}

	fd, err := sockctrl.Socket()
	if err != nil {
		return nil, WrapErrno("connect", err)
	}
	if err := sockctrl.Connect(fd, ip, port); err != nil {
		_ = sockctrl.Close(fd)
		return nil, WrapErrno("connect", err)
	}

	c, err := newClient(fd, re, defaultObserver())
	if err != nil {
		return nil, WrapErrno("connect", err)
	}

	done := make(chan error, 1)
	if err := c.re.SelectOnce(reactor.Connect, func(err error) { done <- err }); err != nil {
		_ = sockctrl.Close(fd)
		return nil, c.translateRegErr("connect", err)
	}
	if err := <-done; err != nil {
		_ = sockctrl.Close(fd)
		return nil, err
	}
	if serr := sockctrl.SocketError(fd); serr != nil {
		_ = sockctrl.Close(fd)
		return nil, WrapErrno("connect", serr)
	}
	return c, nil
}

func resolveIPv4(host string) ([4]byte, error) {
	if ip, ok := sockctrl.ParseIPv4(host); ok {
		return ip, nil
	}
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return [4]byte{}, err
	}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return [4]byte{}, fmt.Errorf("nio: %s has no IPv4 address", host)
	}
	var out [4]byte
	copy(out[:], ip4)
	return out, nil
}

// State reports the connection's current OPEN/CLOSING/CLOSED state.
func (c *TCPClient) State() string {
	switch connState(c.state.Load()) {
	case stateOpen:
		return "OPEN"
	case stateClosing:
		return "CLOSING"
	default:
		return "CLOSED"
	}
}

// IsClosed reports whether the connection has reached CLOSED.
func (c *TCPClient) IsClosed() bool {
	return connState(c.state.Load()) == stateClosed
}

// OnClose installs the handler invoked at most once with the connection's
// terminal close reason (spec §7: PeerClosed, NormalClose, or ForceClose).
func (c *TCPClient) OnClose(handler func(error)) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

// Read performs one suspending read into buf, starting at buf.Cursor() and
// stopping at the first OS read that returns at least one byte. Only one
// Read/ReadMin/BulkRead may be in flight at a time; a concurrent call
// fails with CodeConcurrentRead.
func (c *TCPClient) Read(buf *Buffer) (int, error) {
	if buf.Remaining() <= 0 {
		return 0, New("read", CodeBufferOverflow, "buffer has no remaining capacity")
	}
	if !c.readingInProgress.CompareAndSwap(false, true) {
		return 0, New("read", CodeConcurrentRead, "a read is already in progress")
	}
	defer c.readingInProgress.Store(false)
	if c.IsClosed() {
		return 0, New("read", CodeSocketClosed, "connection is closed")
	}

	start := time.Now()
	done := make(chan error, 1)
	if err := c.re.SelectOnce(reactor.Read, func(err error) { done <- err }); err != nil {
		return 0, c.translateRegErr("read", err)
	}
	if err := <-done; err != nil {
		return 0, err
	}

	n, rerr := sockctrl.Read(c.fd, buf.Bytes()[buf.Cursor():buf.Limit()])
	if rerr != nil {
		c.observer.ObserveRead(0, uint64(time.Since(start)), false)
		return 0, c.handleReadError(rerr)
	}
	if n == 0 {
		c.observer.ObserveRead(0, uint64(time.Since(start)), false)
		closeErr := New("read", CodePeerClosed, "peer closed the connection")
		c.fail(closeErr)
		return 0, closeErr
	}

	_ = buf.Advance(n)
	c.observer.ObserveRead(uint64(n), uint64(time.Since(start)), true)
	return n, nil
}

// ReadMin behaves like Read but does not return until at least min bytes
// have landed in buf (or the connection fails).
func (c *TCPClient) ReadMin(buf *Buffer, min int) (int, error) {
	if min <= 0 {
		return 0, New("read_min", CodeBufferOverflow, "min must be positive")
	}
	if buf.Remaining() < min {
		return 0, New("read_min", CodeBufferOverflow, "buffer cannot hold min bytes")
	}
	if !c.readingInProgress.CompareAndSwap(false, true) {
		return 0, New("read_min", CodeConcurrentRead, "a read is already in progress")
	}
	defer c.readingInProgress.Store(false)
	if c.IsClosed() {
		return 0, New("read_min", CodeSocketClosed, "connection is closed")
	}

	start := time.Now()
	var total int
	doneCh := make(chan error, 1)

	always := func() (bool, error) {
		for {
			n, rerr := sockctrl.Read(c.fd, buf.Bytes()[buf.Cursor():buf.Limit()])
			if rerr != nil {
				if errors.Is(rerr, unix.EAGAIN) || errors.Is(rerr, unix.EWOULDBLOCK) {
					return true, nil
				}
				err := c.handleReadError(rerr)
				doneCh <- err
				return false, err
			}
			if n == 0 {
				err := New("read_min", CodePeerClosed, "peer closed the connection")
				c.fail(err)
				doneCh <- err
				return false, err
			}
			_ = buf.Advance(n)
			total += n
			if total >= min {
				doneCh <- nil
				return false, nil
			}
		}
	}

	if err := c.re.SelectAlways(reactor.Read, always); err != nil {
		return 0, c.translateRegErr("read_min", err)
	}
	err := <-doneCh
	success := err == nil
	c.observer.ObserveRead(uint64(total), uint64(time.Since(start)), success)
	return total, err
}

// BulkReadOp is invoked once per OS read performed by BulkRead, with buf's
// cursor at 0 and limit at n (the bytes just read). cont chooses whether
// BulkRead keeps reading; a non-nil err stops BulkRead and is returned to
// its caller without closing the connection (spec §7: op errors are not
// connection failures).
type BulkReadOp func(buf *Buffer, n int) (cont bool, err error)

// BulkRead drives op repeatedly over a long-lived staging buffer until op
// asks to stop, op errors, or the connection fails. It returns the total
// number of bytes observed across every call to op.
func (c *TCPClient) BulkRead(buf *Buffer, op BulkReadOp) (int64, error) {
	if !c.readingInProgress.CompareAndSwap(false, true) {
		return 0, New("bulk_read", CodeConcurrentRead, "a read is already in progress")
	}
	defer c.readingInProgress.Store(false)
	if c.IsClosed() {
		return 0, New("bulk_read", CodeSocketClosed, "connection is closed")
	}

	var total int64
	doneCh := make(chan error, 1)

	always := func() (bool, error) {
		for {
			n, rerr := sockctrl.Read(c.fd, buf.Bytes()[:buf.Capacity()])
			if rerr != nil {
				if errors.Is(rerr, unix.EAGAIN) || errors.Is(rerr, unix.EWOULDBLOCK) {
					return true, nil
				}
				err := c.handleReadError(rerr)
				doneCh <- err
				return false, err
			}
			if n == 0 {
				err := New("bulk_read", CodePeerClosed, "peer closed the connection")
				c.fail(err)
				doneCh <- err
				return false, err
			}

			total += int64(n)
			buf.Reset()
			_ = buf.SetLimit(n)

			cont, opErr := op(buf, n)
			if opErr != nil {
				// The consumer rejected this chunk; stop, but the socket
				// itself is still healthy.
				doneCh <- opErr
				return false, nil
			}
			if !cont {
				doneCh <- nil
				return false, nil
			}
		}
	}

	if err := c.re.SelectAlways(reactor.Read, always); err != nil {
		return 0, c.translateRegErr("bulk_read", err)
	}
	return total, <-doneCh
}

// Write enqueues buf onto the connection's write serializer and blocks
// until every byte in [buf.Cursor(), buf.Limit()) has been written, in FIFO order
// relative to every other Write call on this connection.
func (c *TCPClient) Write(buf *Buffer) error {
	if connState(c.state.Load()) != stateOpen {
		return New("write", CodeSocketClosed, "connection is closed")
	}

	wantBytes := buf.Limit() - buf.Cursor()
	start := time.Now()
	done := make(chan error, 1)
	err := c.writeQ.Enqueue(writequeue.Request{
		Buffer:   buf,
		Complete: func(err error) { done <- err },
	})
	if err != nil {
		return New("write", CodeSocketClosed, "connection is closed")
	}

	result := <-done
	c.observer.ObserveWrite(uint64(wantBytes), uint64(time.Since(start)), result == nil)
	return result
}

func (c *TCPClient) writerLoop() {
	defer close(c.writerDone)
	for {
		req, ok := c.writeQ.Next()
		if !ok {
			return
		}
		if req.IsClose {
			if req.Complete != nil {
				req.Complete(nil)
			}
			return
		}

		err := c.performWrite(req.Buffer)
		if req.Complete != nil {
			req.Complete(err)
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

// performWrite picks one of the two strategies spec §9's design notes
// describe: a large buffer (at or above the measured SO_SNDBUF) drains
// through a long-lived select_always loop, while a small buffer writes
// once and falls back to a select_once loop only if the kernel didn't
// take it all in one call.
func (c *TCPClient) performWrite(buf writequeue.WriteBuffer) error {
	threshold := c.sendBufSize
	if threshold <= 0 {
		threshold = constants.DefaultSendBufferSize
	}
	if buf.Limit()-buf.Cursor() >= threshold {
		return c.writeLarge(buf)
	}
	return c.writeSmall(buf)
}

func (c *TCPClient) writeSmall(buf writequeue.WriteBuffer) error {
	for {
		n, err := sockctrl.Write(c.fd, buf.Bytes()[buf.Cursor():buf.Limit()])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				if werr := c.waitWritable(); werr != nil {
					return werr
				}
				continue
			}
			// A fatal write error ends the loop here rather than retrying
			// on a dead fd.
			return c.translateWriteErr(err)
		}
		if n > 0 {
			_ = buf.Advance(n)
		}
		if buf.Cursor() >= buf.Limit() {
			return nil
		}
		if werr := c.waitWritable(); werr != nil {
			return werr
		}
	}
}

func (c *TCPClient) writeLarge(buf writequeue.WriteBuffer) error {
	doneCh := make(chan error, 1)
	always := func() (bool, error) {
		n, err := sockctrl.Write(c.fd, buf.Bytes()[buf.Cursor():buf.Limit()])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return true, nil
			}
			werr := c.translateWriteErr(err)
			doneCh <- werr
			return false, werr
		}
		if n > 0 {
			_ = buf.Advance(n)
		}
		if buf.Cursor() >= buf.Limit() {
			doneCh <- nil
			return false, nil
		}
		return true, nil
	}
	if err := c.re.SelectAlways(reactor.Write, always); err != nil {
		return c.translateRegErr("write", err)
	}
	return <-doneCh
}

func (c *TCPClient) waitWritable() error {
	done := make(chan error, 1)
	if err := c.re.SelectOnce(reactor.Write, func(err error) { done <- err }); err != nil {
		return c.translateRegErr("write", err)
	}
	return <-done
}

func (c *TCPClient) translateWriteErr(err error) error {
	return New("write", CodePeerClosed, err.Error())
}

func (c *TCPClient) handleReadError(err error) error {
	wrapped := WrapErrno("read", err)
	c.fail(wrapped)
	return wrapped
}

func (c *TCPClient) translateRegErr(op string, err error) error {
	switch {
	case errors.Is(err, reactor.ErrAlreadyRegistered):
		return New(op, CodeAlreadyRegistered, "interest already registered")
	case errors.Is(err, reactor.ErrRegistrationClosed):
		return New(op, CodeSocketClosed, "connection is closed")
	default:
		return New(op, CodeIOError, err.Error())
	}
}

// Close performs the graceful shutdown spec §4.3 describes: it yields to
// the scheduler constants.CloseYieldBudget times (once by default) so
// writes already underway can reach the queue,
// enqueues a CloseRequest sentinel, closes the queue to further
// admission, and waits for the writer to drain everything ahead of the
// sentinel before tearing down the fd.
func (c *TCPClient) Close() error {
	if !c.state.CompareAndSwap(int32(stateOpen), int32(stateClosing)) {
		if connState(c.state.Load()) == stateClosed {
			return nil
		}
		return nil
	}

	for i := 0; i < constants.CloseYieldBudget; i++ {
		runtime.Gosched()
	}

	sentinelDone := make(chan error, 1)
	enqueueErr := c.writeQ.Enqueue(writequeue.Request{
		IsClose:  true,
		Complete: func(err error) { sentinelDone <- err },
	})
	c.writeQ.CloseForAdmission()

	if enqueueErr == nil {
		select {
		case <-sentinelDone:
		case <-c.writerDone:
		}
	}

	reason := New("close", CodeNormalClose, "closed by caller")
	c.transitionToClosed()
	c.re.Close(reason)
	_ = sockctrl.Close(c.fd)
	c.reportClose(reason)
	return nil
}

// ForceClose tears the connection down immediately: every write still
// queued is abandoned with its completion invoked with CodeSocketClosed,
// a write that is waiting for writability is resumed with the
// CodeForceClose reason, and the fd is closed without waiting on the
// writer.
func (c *TCPClient) ForceClose() error {
	if !c.transitionToClosed() {
		return nil
	}

	reason := New("force_close", CodeForceClose, "closed by caller")
	c.writeQ.CloseForAdmission()
	for _, req := range c.writeQ.Drain() {
		if req.Complete != nil {
			req.Complete(New("write", CodeSocketClosed, "connection is closed"))
		}
	}

	c.re.Close(reason)
	_ = sockctrl.Close(c.fd)
	c.reportClose(reason)
	return nil
}

// transitionToClosed moves the connection to CLOSED from whatever state
// it is in, reporting whether this call performed the transition.
func (c *TCPClient) transitionToClosed() bool {
	for {
		s := c.state.Load()
		if s == int32(stateClosed) {
			return false
		}
		if c.state.CompareAndSwap(s, int32(stateClosed)) {
			return true
		}
	}
}

func (c *TCPClient) fail(err error) {
	if err == nil {
		err = New("io", CodeIOError, "unspecified failure")
	}
	if !c.transitionToClosed() {
		return
	}
	c.writeQ.CloseForAdmission()
	for _, req := range c.writeQ.Drain() {
		if req.Complete != nil {
			req.Complete(New("write", CodeSocketClosed, "connection is closed"))
		}
	}
	c.re.Close(err)
	_ = sockctrl.Close(c.fd)
	c.reportClose(err)
}

// reportClose invokes the registered OnClose handler at most once per
// connection (spec §7), regardless of which path (Close, ForceClose, or
// an internal I/O failure) reached CLOSED first.
func (c *TCPClient) reportClose(err error) {
	if !c.closeReported.CompareAndSwap(false, true) {
		return
	}
	c.log.Debug("connection closed", "reason", err)
	if e, ok := err.(*Error); ok {
		c.observer.ObserveClose(e.Code)
	}
	c.handlerMu.Lock()
	h := c.handler
	c.handlerMu.Unlock()
	if h != nil {
		h(err)
	}
}
