package sockctrl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIPv4Valid(t *testing.T) {
	ip, ok := ParseIPv4("127.0.0.1")
	require.True(t, ok)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, ip)
}

func TestParseIPv4Invalid(t *testing.T) {
	cases := []string{"", "1.2.3", "1.2.3.4.5", "1.2.3.256", "a.b.c.d", "..1.1"}
	for _, c := range cases {
		_, ok := ParseIPv4(c)
		assert.False(t, ok, "expected %q to be invalid", c)
	}
}

func TestSocketListenAcceptConnectRoundTrip(t *testing.T) {
	lfd, err := Socket()
	require.NoError(t, err)
	defer Close(lfd)

	require.NoError(t, SetReuseAddr(lfd, true))
	require.NoError(t, Bind(lfd, [4]byte{127, 0, 0, 1}, 0))
	require.NoError(t, Listen(lfd, 16))

	sa, err := socketName(lfd)
	require.NoError(t, err)

	cfd, err := Socket()
	require.NoError(t, err)
	defer Close(cfd)

	err = Connect(cfd, [4]byte{127, 0, 0, 1}, sa)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		afd, _, aerr := Accept4(lfd)
		if aerr == nil {
			Close(afd)
			return true
		}
		return false
	}, assertEventuallyTimeout, assertEventuallyTick)
}

func TestNoDelayRoundTrip(t *testing.T) {
	fd, err := Socket()
	require.NoError(t, err)
	defer Close(fd)

	require.NoError(t, SetNoDelay(fd, true))
	v, err := NoDelay(fd)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestSendBufferRoundTrip(t *testing.T) {
	fd, err := Socket()
	require.NoError(t, err)
	defer Close(fd)

	require.NoError(t, SetSendBuffer(fd, 65536))
	v, err := SendBuffer(fd)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 65536)
}
