package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/event"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/wire"
	"github.com/stretchr/testify/require"
)

func newPairedReactors(t *testing.T) (ra, rb *event.Reactor, da, db device.Device) {
	t.Helper()
	ra, err := event.New(1)
	require.NoError(t, err)
	rb, err = event.New(1)
	require.NoError(t, err)

	da, db, err = device.Socketpair()
	require.NoError(t, err)

	ra.Threshold(-1)
	rb.Threshold(-1)

	go ra.Dispatch()
	go rb.Dispatch()

	t.Cleanup(func() {
		ra.BreakLoop()
		rb.BreakLoop()
		ra.Close()
		rb.Close()
	})

	return ra, rb, da, db
}

func TestChannelSendResource(t *testing.T) {
	ra, rb, da, db := newPairedReactors(t)

	var mu sync.Mutex
	var got wire.Resource
	done := make(chan struct{})

	chb := InsertChannel(rb, db).OnResource(func(r wire.Resource) {
		mu.Lock()
		got = r
		mu.Unlock()
		close(done)
	}).Done()
	defer chb.Close()

	cha := InsertChannel(ra, da).Done()
	defer cha.Close()

	require.NoError(t, cha.Send(wire.ResourceMessage(wire.Resource{Host: "agent-1", NumCPUs: 4, MemoryBytes: 1 << 20})))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message not received")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "agent-1", got.Host)
	require.Equal(t, int32(4), got.NumCPUs)
}

func TestChannelSendTopologyAndKillTask(t *testing.T) {
	ra, rb, da, db := newPairedReactors(t)

	topoDone := make(chan *graph.Topology, 1)
	killDone := make(chan wire.KillTask, 1)

	chb := InsertChannel(rb, db).
		OnTopology(func(tpg *graph.Topology) { topoDone <- tpg }).
		OnKillTask(func(k wire.KillTask) { killDone <- k }).
		Done()
	defer chb.Close()

	cha := InsertChannel(ra, da).Done()
	defer cha.Close()

	g := graph.New(1)
	a := g.Vertex().Tag("a").Done()
	b := g.Vertex().Tag("b").Done()
	g.Stream(a, b).Tag("s").Done()
	tpg := g.Submit()

	require.NoError(t, cha.Send(wire.TopologyMessage(*tpg)))
	require.NoError(t, cha.Send(wire.KillTaskMessage(wire.KillTask{TaskID: graph.TaskID{Graph: 1, Container: 2}})))

	select {
	case got := <-topoDone:
		require.Len(t, got.Vertices, 2)
		require.Len(t, got.Streams, 1)
	case <-time.After(time.Second):
		t.Fatal("topology not received")
	}

	select {
	case got := <-killDone:
		require.Equal(t, graph.Key(1), got.TaskID.Graph)
		require.Equal(t, graph.Key(2), got.TaskID.Container)
	case <-time.After(time.Second):
		t.Fatal("kill task not received")
	}
}

func TestChannelBrokenIOOnPeerClose(t *testing.T) {
	ra, _, da, db := newPairedReactors(t)

	brokenDone := make(chan struct{})
	cha := InsertChannel(ra, da).OnBrokenIO(func(wire.BrokenIO) { close(brokenDone) }).Done()
	defer cha.Close()

	db.Close()

	select {
	case <-brokenDone:
	case <-time.After(time.Second):
		t.Fatal("broken IO not reported")
	}
}
