package nio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialPair(t *testing.T) (client *TCPClient, server *TCPClient) {
	t.Helper()
	pool := newTestPool(t)
	ln, port := listenLoopback(t, pool)

	serverCh := make(chan *TCPClient, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			serverCh <- nil
			return
		}
		serverCh <- c
	}()

	c, err := ConnectWith(pool.GetLeastLoaded(), "127.0.0.1", port)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	s := <-serverCh
	require.NotNil(t, s)
	t.Cleanup(func() { _ = s.Close() })

	return c, s
}

func TestConcurrentReadRejected(t *testing.T) {
	client, _ := dialPair(t)

	readStarted := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		buf := NewBuffer(4)
		close(readStarted)
		_, err := client.Read(buf)
		readErr <- err
	}()

	<-readStarted
	time.Sleep(5 * time.Millisecond)

	_, err := client.Read(NewBuffer(4))
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeConcurrentRead))

	_ = client.ForceClose()
	<-readErr
}

func TestWriteAfterCloseFails(t *testing.T) {
	client, _ := dialPair(t)
	require.NoError(t, client.Close())

	err := client.Write(WrapBuffer([]byte{1, 2, 3}))
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeSocketClosed))
}

func TestBulkReadOpErrorDoesNotCloseConnection(t *testing.T) {
	client, server := dialPair(t)

	go func() {
		_ = server.Write(WrapBuffer([]byte{1, 2, 3, 4}))
	}()

	staging := NewBuffer(16)
	sentinel := New("bulk_read", CodeBufferOverflow, "caller rejected chunk")
	n, err := client.BulkRead(staging, func(buf *Buffer, readN int) (bool, error) {
		return false, sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.EqualValues(t, 4, n)
	assert.False(t, client.IsClosed())
}

func TestOptionsRoundTrip(t *testing.T) {
	client, _ := dialPair(t)

	require.NoError(t, client.SetOption(OptNoDelay, true))
	v, err := client.GetOption(OptNoDelay)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	require.NoError(t, client.SetOption(OptKeepAlive, true))
	v, err = client.GetOption(OptKeepAlive)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	require.NoError(t, client.SetOption(OptSendBuffer, 32*1024))
	v, err = client.GetOption(OptSendBuffer)
	require.NoError(t, err)
	if got, ok := v.(int); ok {
		assert.GreaterOrEqual(t, got, 0)
	}
}

func TestOptionsRejectWrongType(t *testing.T) {
	client, _ := dialPair(t)

	err := client.SetOption(OptNoDelay, "true")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeOptionNotSupported))
}

func TestForceCloseIsIdempotent(t *testing.T) {
	client, _ := dialPair(t)

	require.NoError(t, client.ForceClose())
	require.NoError(t, client.ForceClose())
	assert.True(t, client.IsClosed())
}

// A peer hangup/reset discovered while a Read is pending must still drive
// the connection's state machine to CLOSED and report the close exactly
// once, not just hand the caller an error. This guards against the
// reactor short-circuiting a pending Completion on a poller-reported
// hangup without ever running the real read syscall that classifies and
// reports the failure.
func TestReadObservesPeerCloseAndReportsCloseOnce(t *testing.T) {
	client, server := dialPair(t)

	var closeCalls int
	var lastErr error
	client.OnClose(func(err error) {
		closeCalls++
		lastErr = err
	})

	readErr := make(chan error, 1)
	go func() {
		_, err := client.Read(NewBuffer(4))
		readErr <- err
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case err := <-readErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read never observed peer close")
	}

	require.Eventually(t, func() bool { return client.IsClosed() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, closeCalls)
	assert.NotNil(t, lastErr)
}

func TestStateTransitions(t *testing.T) {
	client, _ := dialPair(t)
	assert.Equal(t, "OPEN", client.State())

	require.NoError(t, client.Close())
	assert.Equal(t, "CLOSED", client.State())
	assert.True(t, client.IsClosed())
}
