package reactor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	re, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = re.Close() })
	return re
}

func testSocketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := socketpair()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = closeFd(fds[0])
		_ = closeFd(fds[1])
	})
	return fds[0], fds[1]
}

func TestSelectOnceAlreadyRegistered(t *testing.T) {
	re := newTestReactor(t)
	a, _ := testSocketPair(t)

	reg, err := re.Register(a, nil)
	require.NoError(t, err)

	require.NoError(t, reg.SelectOnce(Read, func(error) {}))
	err = reg.SelectOnce(Read, func(error) {})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestSelectOnceFiresAndClearsSlot(t *testing.T) {
	re := newTestReactor(t)
	a, b := testSocketPair(t)

	reg, err := re.Register(a, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	require.NoError(t, reg.SelectOnce(Read, func(err error) { done <- err }))

	_, werr := writeFd(b, []byte("x"))
	require.NoError(t, werr)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-timeoutCh():
		t.Fatal("completion never fired")
	}

	// slot must be clear (I-4): a second SelectOnce should succeed.
	require.NoError(t, reg.SelectOnce(Read, func(error) {}))
}

func TestSelectAlwaysStopsWhenCallbackReturnsFalse(t *testing.T) {
	re := newTestReactor(t)
	a, b := testSocketPair(t)

	reg, err := re.Register(a, nil)
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	require.NoError(t, reg.SelectAlways(Read, func() (bool, error) {
		select {
		case fired <- struct{}{}:
		default:
		}
		return false, nil
	}))

	_, werr := writeFd(b, []byte("y"))
	require.NoError(t, werr)

	select {
	case <-fired:
	case <-timeoutCh():
		t.Fatal("always-callback never fired")
	}

	require.NoError(t, reg.SelectOnce(Read, func(error) {}))
}

func TestRegistrationCloseCancelsPendingSlots(t *testing.T) {
	re := newTestReactor(t)
	a, _ := testSocketPair(t)

	reg, err := re.Register(a, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	require.NoError(t, reg.SelectOnce(Read, func(err error) { done <- err }))

	reg.Close(errTestClose)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errTestClose)
	case <-timeoutCh():
		t.Fatal("completion never cancelled")
	}

	assert.True(t, reg.IsClosed())
	err = reg.SelectOnce(Write, func(error) {})
	assert.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestSelectAlwaysErrorRoutesToOnError(t *testing.T) {
	re := newTestReactor(t)
	a, b := testSocketPair(t)

	onErrCh := make(chan error, 1)
	reg, err := re.Register(a, func(err error) { onErrCh <- err })
	require.NoError(t, err)

	wantErr := errors.New("always-callback failed")
	require.NoError(t, reg.SelectAlways(Read, func() (bool, error) {
		return false, wantErr
	}))

	_, werr := writeFd(b, []byte("z"))
	require.NoError(t, werr)

	select {
	case err := <-onErrCh:
		assert.ErrorIs(t, err, wantErr)
	case <-timeoutCh():
		t.Fatal("onError was never called")
	}

	// slot must be clear (I-4): a second SelectOnce should succeed.
	require.NoError(t, reg.SelectOnce(Read, func(error) {}))
}

func TestSelectAlwaysPanicRoutesToOnError(t *testing.T) {
	re := newTestReactor(t)
	a, b := testSocketPair(t)

	onErrCh := make(chan error, 1)
	reg, err := re.Register(a, func(err error) { onErrCh <- err })
	require.NoError(t, err)

	require.NoError(t, reg.SelectAlways(Read, func() (bool, error) {
		panic("always-callback misbehaved")
	}))

	_, werr := writeFd(b, []byte("z"))
	require.NoError(t, werr)

	select {
	case err := <-onErrCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")
	case <-timeoutCh():
		t.Fatal("onError was never called")
	}
}

// A hangup/error condition on a pending one-shot Completion must not be
// delivered as a synthetic error: the slot resumes as if the interest
// simply fired, and the caller's own syscall (read/write/connect/accept)
// is what discovers and classifies the failure. Otherwise a spurious or
// stale hangup bit would be reported as fatal without ever consulting the
// real socket state.
func TestHangupResumesOneShotCompletionWithoutSyntheticError(t *testing.T) {
	re := newTestReactor(t)
	a, b := testSocketPair(t)

	reg, err := re.Register(a, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	require.NoError(t, reg.SelectOnce(Read, func(err error) { done <- err }))

	// Closing b's write end delivers EOF readability plus a hangup
	// condition on a, depending on platform; either way the Completion
	// must resume with nil so Read's own syscall classifies it.
	require.NoError(t, closeFd(b))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-timeoutCh():
		t.Fatal("completion never fired")
	}
}

var errTestClose = errors.New("test close")
