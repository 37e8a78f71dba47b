package reactor

import (
	"errors"
	"sync"

	"github.com/behrlich/go-nio/internal/poller"
)

// Interest is one of the four selectable conditions a registration can
// wait on. ACCEPT is only meaningful on listening fds, CONNECT only on a
// pre-connection fd; the reactor does not enforce that distinction, the
// caller does.
type Interest uint8

const (
	Read Interest = 1 << iota
	Write
	Accept
	Connect
)

func (i Interest) index() int {
	switch i {
	case Read:
		return 0
	case Write:
		return 1
	case Accept:
		return 2
	case Connect:
		return 3
	default:
		panic("reactor: invalid interest")
	}
}

func (i Interest) osReadiness() poller.Interest {
	switch i {
	case Read, Accept:
		return poller.Readable
	case Write, Connect:
		return poller.Writable
	default:
		return 0
	}
}

var allInterests = [4]Interest{Read, Write, Accept, Connect}

// Completion is a one-shot handle resumed by the reactor with nil on
// success or a reason on failure. It runs on the reactor's dispatch
// goroutine and must not block.
type Completion func(err error)

// AlwaysCallback is a non-suspending, non-blocking function invoked on
// every firing of its interest. Its return chooses whether the interest
// stays registered. A non-nil error unregisters and is treated the same
// as returning false with that error.
type AlwaysCallback func() (cont bool, err error)

var (
	// ErrAlreadyRegistered is returned by SelectOnce/SelectAlways when the
	// requested interest slot is already occupied.
	ErrAlreadyRegistered = errors.New("reactor: interest already registered")
	// ErrRegistrationClosed is returned by SelectOnce/SelectAlways once the
	// registration has been closed.
	ErrRegistrationClosed = errors.New("reactor: registration closed")
)

type slot struct {
	completion Completion
	always     AlwaysCallback
}

func (s slot) empty() bool { return s.completion == nil && s.always == nil }

// Registration is the per-fd object described in spec §3: it holds the
// fd's current interest mask and, for each interest, at most one pending
// Completion or AlwaysCallback.
type Registration struct {
	fd    int
	owner *Reactor

	mu      sync.Mutex
	mask    Interest
	slots   [4]slot
	closed  bool
	onError func(error)
}

func newRegistration(fd int, owner *Reactor, onError func(error)) *Registration {
	return &Registration{fd: fd, owner: owner, onError: onError}
}

// Fd returns the registration's file descriptor.
func (r *Registration) Fd() int { return r.fd }

// SelectOnce installs a one-shot Completion for interest. Fails with
// ErrAlreadyRegistered if the slot is occupied, ErrRegistrationClosed if
// the registration has been closed.
func (r *Registration) SelectOnce(interest Interest, completion Completion) error {
	return r.install(interest, slot{completion: completion})
}

// SelectAlways installs a long-lived AlwaysCallback for interest.
func (r *Registration) SelectAlways(interest Interest, cb AlwaysCallback) error {
	return r.install(interest, slot{always: cb})
}

func (r *Registration) install(interest Interest, s slot) error {
	idx := interest.index()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistrationClosed
	}
	if !r.slots[idx].empty() {
		r.mu.Unlock()
		return ErrAlreadyRegistered
	}
	r.slots[idx] = s
	r.mask |= interest
	pollerMask := r.pollerInterestLocked()
	r.mu.Unlock()

	return r.owner.updateInterest(r, pollerMask)
}

// clearLocked empties slot[interest] and updates mask. Must hold r.mu.
func (r *Registration) clearLocked(interest Interest) {
	r.slots[interest.index()] = slot{}
	r.mask &^= interest
}

func (r *Registration) pollerInterestLocked() poller.Interest {
	var p poller.Interest
	for _, i := range allInterests {
		if r.mask&i != 0 {
			p |= i.osReadiness()
		}
	}
	return p
}

// dispatch is invoked by the reactor loop when the poller reports ready
// for the given OS-level readiness bits. It resolves every interest slot
// whose osReadiness intersects ready, honoring I-4: the slot is cleared
// before its Completion/AlwaysCallback runs.
//
// hangup, when true, means the poller also reported a hangup/error
// condition alongside readiness. A pending AlwaysCallback is still given
// the chance to re-probe the fd with a real syscall and classify the
// failure itself (the same way ReadMin/BulkRead/writeLarge already
// distinguish EAGAIN from a genuine error). A pending one-shot Completion
// has no such syscall of its own to fall back on here, so it is simply
// resumed with nil and left to its caller's own read/write/connect/accept
// call to discover and classify the failure, rather than trusting the
// hangup flags blindly.
func (r *Registration) dispatch(ready poller.Interest, hangup bool) {
	for _, interest := range allInterests {
		r.dispatchOne(interest, ready, hangup)
	}
}

func (r *Registration) dispatchOne(interest Interest, ready poller.Interest, hangup bool) {
	r.mu.Lock()
	if r.closed || r.mask&interest == 0 || interest.osReadiness()&ready == 0 {
		r.mu.Unlock()
		return
	}
	s := r.slots[interest.index()]

	if hangup && s.always == nil {
		r.clearLocked(interest)
		mask := r.pollerInterestLocked()
		r.mu.Unlock()
		_ = r.owner.updateInterest(r, mask)
		if s.completion != nil {
			s.completion(nil)
		}
		return
	}

	if s.always != nil {
		r.mu.Unlock()
		cont, err := runAlways(s.always)
		if cont && err == nil {
			return
		}
		r.mu.Lock()
		if r.slots[interest.index()].always == nil {
			// Closed or re-registered concurrently while the callback ran.
			r.mu.Unlock()
			return
		}
		r.clearLocked(interest)
		mask := r.pollerInterestLocked()
		r.mu.Unlock()
		_ = r.owner.updateInterest(r, mask)
		if err != nil && r.onError != nil {
			r.onError(err)
		}
		return
	}

	r.clearLocked(interest)
	mask := r.pollerInterestLocked()
	r.mu.Unlock()
	_ = r.owner.updateInterest(r, mask)
	if s.completion != nil {
		s.completion(nil)
	}
}

// runAlways invokes cb, converting a panic into an error so a misbehaving
// always-callback unregisters with an error instead of taking down the
// reactor goroutine (spec §7: exceptions in dispatch are routed to the
// connection, not the reactor).
func runAlways(cb AlwaysCallback) (cont bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			cont, err = false, errorsFromPanic(p)
		}
	}()
	return cb()
}

func errorsFromPanic(p any) error {
	if e, ok := p.(error); ok {
		return e
	}
	return errors.New("reactor: always-callback panicked")
}

// Unregister removes interest's slot without invoking its handle. Close
// does not go through it; it clears every slot itself.
func (r *Registration) Unregister(interest Interest) {
	r.mu.Lock()
	if r.slots[interest.index()].empty() {
		r.mu.Unlock()
		return
	}
	r.clearLocked(interest)
	mask := r.pollerInterestLocked()
	r.mu.Unlock()
	_ = r.owner.updateInterest(r, mask)
}

// Close marks the registration terminal (I-3), cancels every non-empty
// slot with reason, and detaches the fd from the reactor.
func (r *Registration) Close(reason error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var pending []slot
	for _, interest := range allInterests {
		idx := interest.index()
		if !r.slots[idx].empty() {
			pending = append(pending, r.slots[idx])
			r.slots[idx] = slot{}
		}
	}
	r.mask = 0
	r.mu.Unlock()

	r.owner.unregister(r)

	for _, s := range pending {
		if s.completion != nil {
			s.completion(reason)
		} else if s.always != nil {
			_, _ = s.always()
		}
	}
}

// IsClosed reports whether Close has run.
func (r *Registration) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
