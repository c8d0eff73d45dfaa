package executor

import (
	"sync"
	"testing"
	"time"

	"github.com/flowmesh/dtc/graph"
	"github.com/stretchr/testify/require"
)

// TestLocalExecutorDeliversData wires two vertices with a single stream and
// asserts data written by the tail's OnEnter handler arrives at the head's
// OnIStream handler once the reactor is dispatched.
func TestLocalExecutorDeliversData(t *testing.T) {
	g := graph.New(1)

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})

	var streamKey graph.Key
	aBuilder := g.Vertex().Tag("source")
	aBuilder.OnEnter(func(ctx graph.Context) {
		_, err := ctx.Emit(streamKey, []byte("hello"))
		require.NoError(t, err)
	})
	a := aBuilder.Done()
	b := g.Vertex().Tag("sink").Done()
	g.Stream(a, b).Tag("s").OnIStream(func(ctx graph.Context, data []byte) {
		mu.Lock()
		got = append([]byte{}, data...)
		mu.Unlock()
		close(done)
	}).Done()
	streamKey = a.StreamKey

	ex, err := New(g, nil)
	require.NoError(t, err)
	require.NoError(t, ex.SetupLocal())

	go ex.reactor.Dispatch()
	defer func() {
		ex.reactor.BreakLoop()
		ex.Close()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "hello", string(got))
}

// TestLocalExecutorShardsScaledVertex asserts a Scale > 1 vertex's istream
// handler still receives every record, fanned out across its shard workers.
func TestLocalExecutorShardsScaledVertex(t *testing.T) {
	g := graph.New(2)

	var mu sync.Mutex
	received := make(map[string]bool)
	var wg sync.WaitGroup
	wg.Add(4)

	keys := []string{"k0", "k1", "k2", "k3"}

	var streamKey graph.Key
	aBuilder := g.Vertex().Tag("source")
	aBuilder.OnEnter(func(ctx graph.Context) {
		for _, k := range keys {
			_, err := ctx.Emit(streamKey, []byte(k))
			require.NoError(t, err)
		}
	})
	a := aBuilder.Done()
	b := g.Vertex().Tag("sink").Scale(4).Done()
	g.Stream(a, b).Tag("s").OnIStream(func(ctx graph.Context, data []byte) {
		mu.Lock()
		received[string(data)] = true
		mu.Unlock()
		wg.Done()
	}).Done()
	streamKey = a.StreamKey

	ex, err := New(g, nil)
	require.NoError(t, err)
	require.NoError(t, ex.SetupLocal())

	go ex.reactor.Dispatch()
	defer func() {
		ex.reactor.BreakLoop()
		ex.Close()
	}()

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()

	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sharded delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 4)
}
