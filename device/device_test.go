package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSocketpairWriteRead(t *testing.T) {
	a, b, err := Socketpair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	n, err := a.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 16)
	// socketpair delivery is local and synchronous, so the bytes are
	// readable immediately and no sleep is required.
	n, err = b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestReadWouldBlock(t *testing.T) {
	a, b, err := Socketpair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	buf := make([]byte, 16)
	_, err = b.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestCloseMarksDisconnected(t *testing.T) {
	a, b, err := Socketpair()
	require.NoError(t, err)
	defer b.Close()

	require.True(t, a.Connected())
	require.NoError(t, a.Close())
	require.False(t, a.Connected())

	_, err = a.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrClosed)
}

func TestEOFMarksDisconnected(t *testing.T) {
	a, b, err := Socketpair()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Close())

	buf := make([]byte, 1)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.False(t, b.Connected())
}
