package archive

import (
	"testing"

	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/streambuf"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Text string
	N    int32
}

func (g *greeting) Archive(a *Archiver) error {
	if err := a.String(&g.Text); err != nil {
		return err
	}
	return a.Int32(&g.N)
}

func TestPackagerSendReceive(t *testing.T) {
	out := streambuf.NewOutput(nil)
	pout := NewOutputPackager(out)

	msg := &greeting{Text: "hello", N: 7}
	require.NoError(t, pout.Send(msg))

	in := streambuf.NewInputFromOutput(out)
	pin := NewInputPackager(in)

	var got greeting
	require.NoError(t, pin.Receive(&got))
	require.Equal(t, msg.Text, got.Text)
	require.Equal(t, msg.N, got.N)
}

func TestPackagerMultipleFrames(t *testing.T) {
	out := streambuf.NewOutput(nil)
	pout := NewOutputPackager(out)

	first := &greeting{Text: "first", N: 1}
	second := &greeting{Text: "second", N: 2}
	require.NoError(t, pout.Send(first))
	require.NoError(t, pout.Send(second))

	in := streambuf.NewInputFromOutput(out)
	pin := NewInputPackager(in)

	var gotFirst, gotSecond greeting
	require.NoError(t, pin.Receive(&gotFirst))
	require.NoError(t, pin.Receive(&gotSecond))
	require.Equal(t, first.Text, gotFirst.Text)
	require.Equal(t, second.Text, gotSecond.Text)
}

func TestPackagerShortFrame(t *testing.T) {
	out := streambuf.NewOutput(nil)
	pout := NewOutputPackager(out)
	require.NoError(t, pout.Send(&greeting{Text: "partial", N: 3}))

	full := out.Bytes()

	a, b, err := device.Socketpair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	aw := streambuf.NewOutput(a)
	br := streambuf.NewInput(b)
	pbr := NewInputPackager(br)

	half := len(full) / 2
	n, err := aw.Write(full[:half])
	require.NoError(t, err)
	require.Equal(t, half, n)
	_, err = aw.Flush()
	require.NoError(t, err)

	_, err = br.Sync()
	require.NoError(t, err)

	_, err = pbr.Next()
	require.ErrorIs(t, err, ErrShortFrame)

	n, err = aw.Write(full[half:])
	require.NoError(t, err)
	require.Equal(t, len(full)-half, n)
	_, err = aw.Flush()
	require.NoError(t, err)

	_, err = br.Sync()
	require.NoError(t, err)

	var got greeting
	require.NoError(t, pbr.Receive(&got))
	require.Equal(t, "partial", got.Text)
	require.Equal(t, int32(3), got.N)
}
