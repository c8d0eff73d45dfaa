package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicyGetSet(t *testing.T) {
	p := New(nil)
	require.False(t, p.IsSet("stream.buffer_size"))

	p.Set(4096, "stream.buffer_size")
	require.True(t, p.IsSet("stream.buffer_size"))
	require.Equal(t, 4096, p.Get("stream.buffer_size").Int(0))

	p.Set("30s", "stream.close_timeout")
	require.Equal(t, 30*time.Second, p.Get("stream.close_timeout").Duration(0))

	p.Set(true, "vertex.critical")
	require.True(t, p.Get("vertex.critical").Bool(false))

	p.Set("tag", "vertex.name")
	require.Equal(t, "tag", p.Get("vertex.name").String(""))
}

func TestPolicyNestedPaths(t *testing.T) {
	p := New(nil)
	p.Set("x", "a.b.c")
	require.Equal(t, "x", p.Get("a.b.c").String(""))
	require.Equal(t, "x", p.Get("a").Get("b").Get("c").String(""))
}

func TestPolicyBufferSizeDefault(t *testing.T) {
	p := New(nil)
	require.Equal(t, DefaultBufferSize, p.BufferSize())

	p.Set(8192, "stream.buffer_size")
	require.Equal(t, 8192, p.BufferSize())
}

func TestPolicyCloseTimeoutDefault(t *testing.T) {
	p := New(nil)
	require.Equal(t, DefaultCloseTimeout, p.CloseTimeout())

	p.Set("5s", "stream.close_timeout")
	require.Equal(t, 5*time.Second, p.CloseTimeout())
}

func TestPolicyEncodeDecodeRoundTrip(t *testing.T) {
	p := New(nil)
	p.Set(2048, "stream.buffer_size")
	p.Set("15s", "stream.close_timeout")

	raw, err := Encode(p)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, 2048, decoded.BufferSize())
	require.Equal(t, 15*time.Second, decoded.CloseTimeout())
}

func TestPolicyEncodeDecodeEmpty(t *testing.T) {
	raw, err := Encode(Policy{})
	require.NoError(t, err)
	require.Nil(t, raw)

	decoded, err := Decode(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultBufferSize, decoded.BufferSize())
}
