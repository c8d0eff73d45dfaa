package event

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowmesh/dtc/device"
	"github.com/stretchr/testify/require"
)

func TestTimeoutFiresOnce(t *testing.T) {
	r, err := New(1)
	require.NoError(t, err)
	defer r.Close()

	var fired int32
	ev := NewTimeout(10*time.Millisecond, func(*Event) Signal {
		atomic.AddInt32(&fired, 1)
		r.BreakLoop()
		return Default
	})
	r.Threshold(-1) // never break on event count alone

	done := make(chan struct{})
	go func() {
		r.Dispatch()
		close(done)
	}()
	r.Insert(ev).Get()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not return")
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestPeriodicFiresRepeatedly(t *testing.T) {
	r, err := New(1)
	require.NoError(t, err)
	defer r.Close()
	r.Threshold(-1)

	var count int32
	var ev *Event
	ev = NewPeriodic(5*time.Millisecond, func(*Event) Signal {
		if atomic.AddInt32(&count, 1) >= 3 {
			r.Remove(ev)
			r.BreakLoop()
		}
		return Default
	})

	done := make(chan struct{})
	go func() {
		r.Dispatch()
		close(done)
	}()
	r.Insert(ev).Get()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not return")
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
}

func TestReadEventFiresOnData(t *testing.T) {
	a, b, err := device.Socketpair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	r, err := New(1)
	require.NoError(t, err)
	defer r.Close()
	r.Threshold(-1)

	received := make(chan []byte, 1)
	ev := NewRead(b, func(e *Event) Signal {
		buf := make([]byte, 64)
		n, _ := e.Device().Read(buf)
		received <- buf[:n]
		r.BreakLoop()
		return Remove
	})

	done := make(chan struct{})
	go func() {
		r.Dispatch()
		close(done)
	}()
	r.Insert(ev).Get()

	_, err = a.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case got := <-received:
		require.Equal(t, "ping", string(got))
	case <-time.After(time.Second):
		t.Fatal("read event never fired")
	}

	<-done
}

func TestPromiseFromOtherGoroutine(t *testing.T) {
	r, err := New(1)
	require.NoError(t, err)
	defer r.Close()
	r.Threshold(-1)

	done := make(chan struct{})
	go func() {
		r.Dispatch()
		close(done)
	}()

	fut := Promise(r, func() (int, error) {
		r.BreakLoop()
		return 42, nil
	})
	v, err := fut.Get()
	require.NoError(t, err)
	require.Equal(t, 42, v)

	<-done
}
