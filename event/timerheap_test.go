package event

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestTimersFireInNonDecreasingDeadlineOrder schedules a batch of Timeout
// events at randomized short deadlines and checks every dispatch happens
// at or after its own deadline and in non-decreasing deadline order.
func TestTimersFireInNonDecreasingDeadlineOrder(t *testing.T) {
	r, err := New(1)
	require.NoError(t, err)
	defer r.Close()
	r.Threshold(-1)

	const n = 100
	var mu sync.Mutex
	var deadlines []time.Time
	var fireTimes []time.Time

	done := make(chan struct{})
	go func() {
		r.Dispatch()
		close(done)
	}()

	var remaining int32 = n
	for i := 0; i < n; i++ {
		d := time.Duration(1+rand.Intn(50)) * time.Millisecond
		ev := NewTimeout(d, func(e *Event) Signal {
			mu.Lock()
			deadlines = append(deadlines, e.Deadline())
			fireTimes = append(fireTimes, time.Now())
			mu.Unlock()

			if remaining--; remaining == 0 {
				r.BreakLoop()
			}
			return Default
		})
		r.Insert(ev).Get()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deadlines, n)
	for i := 1; i < len(deadlines); i++ {
		require.False(t, deadlines[i].Before(deadlines[i-1]),
			"deadline %d fired before deadline %d", i, i-1)
	}
	for i := range deadlines {
		require.False(t, fireTimes[i].Before(deadlines[i]),
			"event %d dispatched before its own deadline", i)
	}
}
