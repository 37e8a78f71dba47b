// Package reactor implements the single-threaded selection loop (spec
// component C3) and the per-fd registration map (C2) it dispatches
// through, plus a small load-balanced pool of reactors (C4).
package reactor

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/behrlich/go-nio/internal/constants"
	"github.com/behrlich/go-nio/internal/interfaces"
	"github.com/behrlich/go-nio/internal/logging"
	"github.com/behrlich/go-nio/internal/poller"
)

// ErrReactorClosed is the close reason delivered to every still-pending
// slot when the reactor itself is torn down.
var ErrReactorClosed = errors.New("reactor: closed")

// Reactor owns one readiness primitive and runs its selection loop on a
// single dedicated, OS-thread-pinned goroutine.
type Reactor struct {
	poller poller.Poller

	mu            sync.Mutex
	registrations map[int]*Registration

	inFlight    int32 // registrations_in_flight, §4.1
	shouldPause int32 // 0/1, read/written only via atomic
	closed      int32
	doneCh      chan struct{}

	logger interfaces.Logger
}

// New creates a Reactor and starts its loop goroutine.
func New() (*Reactor, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	re := &Reactor{
		poller:        p,
		registrations: make(map[int]*Registration),
		doneCh:        make(chan struct{}),
		logger:        logging.Default(),
	}
	go re.loop()
	return re, nil
}

// SetLogger replaces the reactor's logger. Passing nil silences it.
func (re *Reactor) SetLogger(l interfaces.Logger) { re.logger = l }

// pauseProtocol is the two-phase interest-mutation protocol from §4.1:
// the first concurrent mutator pauses the loop (should_pause + wakeup),
// the last one leaving resumes it, all without ever locking the loop
// against the fast path when there is no contention.
func (re *Reactor) pauseProtocol(fn func() error) error {
	if atomic.AddInt32(&re.inFlight, 1) == 1 {
		atomic.StoreInt32(&re.shouldPause, 1)
		_ = re.poller.Wakeup()
	}
	err := fn()
	if atomic.AddInt32(&re.inFlight, -1) == 0 {
		atomic.StoreInt32(&re.shouldPause, 0)
	}
	return err
}

// Register attaches fd to the reactor with an empty interest mask and
// returns its Registration. onError receives errors raised by dispatch
// that have no more specific destination (a panicking AlwaysCallback with
// no caller left to resume, for instance).
func (re *Reactor) Register(fd int, onError func(error)) (*Registration, error) {
	if atomic.LoadInt32(&re.closed) == 1 {
		return nil, ErrReactorClosed
	}
	reg := newRegistration(fd, re, onError)
	err := re.pauseProtocol(func() error {
		if err := re.poller.Add(fd, 0); err != nil {
			return err
		}
		re.mu.Lock()
		re.registrations[fd] = reg
		re.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (re *Reactor) updateInterest(reg *Registration, mask poller.Interest) error {
	return re.pauseProtocol(func() error {
		return re.poller.Modify(reg.fd, mask)
	})
}

func (re *Reactor) unregister(reg *Registration) {
	_ = re.pauseProtocol(func() error {
		re.mu.Lock()
		delete(re.registrations, reg.fd)
		re.mu.Unlock()
		return re.poller.Remove(reg.fd)
	})
}

// Wakeup causes an in-progress wait to return promptly.
func (re *Reactor) Wakeup() error { return re.poller.Wakeup() }

// Load returns the current number of registered fds, used by the pool's
// least-loaded selection.
func (re *Reactor) Load() int {
	re.mu.Lock()
	defer re.mu.Unlock()
	return len(re.registrations)
}

// Close terminates the loop, cancelling every outstanding slot in every
// attached Registration with ErrReactorClosed, then releases the poller.
func (re *Reactor) Close() error {
	if !atomic.CompareAndSwapInt32(&re.closed, 0, 1) {
		return nil
	}
	re.mu.Lock()
	regs := make([]*Registration, 0, len(re.registrations))
	for _, r := range re.registrations {
		regs = append(regs, r)
	}
	re.mu.Unlock()

	for _, r := range regs {
		r.Close(ErrReactorClosed)
	}
	if re.logger != nil {
		re.logger.Debugf("reactor: closing, cancelled %d registrations", len(regs))
	}

	_ = re.poller.Wakeup()
	<-re.doneCh
	return re.poller.Close()
}

func (re *Reactor) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(re.doneCh)

	var events []poller.Event
	for atomic.LoadInt32(&re.closed) == 0 {
		timeout := int(constants.ReactorPollTimeout.Milliseconds())
		if atomic.LoadInt32(&re.shouldPause) == 1 {
			timeout = 0
		}

		var err error
		events, err = re.poller.Wait(events[:0], timeout)
		if err != nil {
			if re.logger != nil {
				re.logger.Warnf("reactor: poll error: %v", err)
			}
			continue
		}
		if len(events) == 0 {
			continue
		}

		re.dispatchCycle(events)
	}
}

// dispatchCycle forks each fired event's dispatch onto its own goroutine
// (the "default compute executor" of §4.1) and joins them at a barrier
// before the loop advances to its next wait, keeping registration-map
// mutations causal with the following poll.
func (re *Reactor) dispatchCycle(events []poller.Event) {
	var wg sync.WaitGroup
	for _, ev := range events {
		re.mu.Lock()
		reg := re.registrations[ev.Fd]
		re.mu.Unlock()
		if reg == nil {
			continue
		}

		wg.Add(1)
		go func(reg *Registration, ev poller.Event) {
			defer wg.Done()
			reg.dispatch(ev.Ready, ev.Hangup || ev.Err)
		}(reg, ev)
	}
	wg.Wait()
}
