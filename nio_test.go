package nio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-nio/internal/reactor"
)

func newTestPool(t *testing.T) *reactor.Pool {
	t.Helper()
	p, err := reactor.NewPool(2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func listenLoopback(t *testing.T, pool *reactor.Pool) (*Listener, int) {
	t.Helper()
	ln, err := ListenWith(pool, "127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	port, err := ln.Port()
	require.NoError(t, err)
	return ln, port
}

// Scenario 1: echo round-trip.
func TestEndToEndEchoRoundTrip(t *testing.T) {
	pool := newTestPool(t)
	ln, port := listenLoopback(t, pool)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		buf := NewBuffer(9)
		n, err := conn.Read(buf)
		assert.NoError(t, err)
		assert.Equal(t, 9, n)
		assert.Equal(t, 9, buf.Cursor())
		assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, buf.ToArray())
	}()

	conn, err := ConnectWith(pool.GetLeastLoaded(), "127.0.0.1", port)
	require.NoError(t, err)

	out := WrapBuffer([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.NoError(t, conn.Write(out))
	require.NoError(t, conn.Close())

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not finish in time")
	}
}

// Scenario 2: minimum-read.
func TestEndToEndMinimumRead(t *testing.T) {
	pool := newTestPool(t)
	ln, port := listenLoopback(t, pool)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 10; i++ {
			time.Sleep(20 * time.Millisecond)
			_ = conn.Write(WrapBuffer([]byte{byte(i)}))
		}
	}()

	conn, err := ConnectWith(pool.GetLeastLoaded(), "127.0.0.1", port)
	require.NoError(t, err)
	defer conn.Close()

	buf := NewBuffer(10)
	n, err := conn.ReadMin(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 10, buf.Cursor())
}

// Scenario 3: bulk read of 10 MiB.
func TestEndToEndBulkRead10MiB(t *testing.T) {
	const total = 10_000_000

	pool := newTestPool(t)
	ln, port := listenLoopback(t, pool)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		payload := make([]byte, total)
		for i := range payload {
			payload[i] = byte(i & 0xff)
		}
		_ = conn.Write(WrapBuffer(payload))
	}()

	conn, err := ConnectWith(pool.GetLeastLoaded(), "127.0.0.1", port)
	require.NoError(t, err)
	defer conn.Close()

	staging := NewBuffer(65536)
	var received int64
	op := func(buf *Buffer, n int) (bool, error) {
		received += int64(n)
		return received < total, nil
	}
	n, err := conn.BulkRead(staging, op)
	require.NoError(t, err)
	assert.Equal(t, int64(total), n)
	assert.Equal(t, int64(total), received)
}

// Scenario 4: close waits for queue drain.
func TestEndToEndCloseWaitsForQueueDrain(t *testing.T) {
	const count = 1000

	pool := newTestPool(t)
	ln, port := listenLoopback(t, pool)

	readerDone := make(chan []int32, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			readerDone <- nil
			return
		}
		defer conn.Close()

		var values []int32
		staging := NewBuffer(4096)
		op := func(buf *Buffer, n int) (bool, error) {
			for buf.Remaining() >= 4 {
				v, err := buf.GetInt32()
				if err != nil {
					break
				}
				values = append(values, v)
			}
			return len(values) < count, nil
		}
		_, _ = conn.BulkRead(staging, op)
		readerDone <- values
	}()

	conn, err := ConnectWith(pool.GetLeastLoaded(), "127.0.0.1", port)
	require.NoError(t, err)

	for i := 1; i <= count; i++ {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(i))
		buf := WrapBuffer(b)
		go func() { _ = conn.Write(buf) }()
	}
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case values := <-readerDone:
		require.Len(t, values, count)
		for i, v := range values {
			assert.Equal(t, int32(i+1), v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not observe all values in time")
	}
}

// Scenario 5: force-close is bounded and subsequent writes fail.
func TestEndToEndForceCloseBounded(t *testing.T) {
	const count = 1000

	pool := newTestPool(t)
	ln, port := listenLoopback(t, pool)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.ForceClose()
		time.Sleep(50 * time.Millisecond)
	}()

	conn, err := ConnectWith(pool.GetLeastLoaded(), "127.0.0.1", port)
	require.NoError(t, err)

	for i := 0; i < count; i++ {
		buf := WrapBuffer(make([]byte, 4))
		go func() { _ = conn.Write(buf) }()
	}

	done := make(chan struct{})
	go func() {
		_ = conn.ForceClose()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Millisecond):
		t.Fatal("force_close did not return within its time budget")
	}

	err = conn.Write(WrapBuffer([]byte{1, 2, 3, 4}))
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeSocketClosed))
}

// Scenario 6: connection refused.
func TestEndToEndConnectionRefused(t *testing.T) {
	pool := newTestPool(t)
	_, err := ConnectWith(pool.GetLeastLoaded(), "127.0.0.1", 1)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeConnectionRefused) || IsCode(err, CodeIOError))
}

// Scenario 7: address in use.
func TestEndToEndAddressInUse(t *testing.T) {
	pool := newTestPool(t)
	_, port := listenLoopback(t, pool)

	_, err := ListenWith(pool, "127.0.0.1", port)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeAddressInUse))
}

// Scenario 8: at-most-once close handler.
func TestEndToEndAtMostOnceCloseHandler(t *testing.T) {
	pool := newTestPool(t)
	ln, port := listenLoopback(t, pool)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := NewBuffer(1)
		_, _ = conn.Read(buf)
	}()

	conn, err := ConnectWith(pool.GetLeastLoaded(), "127.0.0.1", port)
	require.NoError(t, err)

	var calls int
	var lastCode Code
	conn.OnClose(func(err error) {
		calls++
		if e, ok := err.(*Error); ok {
			lastCode = e.Code
		}
	})

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	assert.Equal(t, 1, calls)
	assert.Equal(t, CodeNormalClose, lastCode)
}
