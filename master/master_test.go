package master

import (
	"testing"
	"time"

	"github.com/flowmesh/dtc/channel"
	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/event"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/wire"
	"github.com/stretchr/testify/require"
)

// newTestMaster returns a Master driving its own reactor, with no real
// listeners bound — tests insert agent/graph connections directly via
// device.Socketpair(), mirroring what acceptLoop would hand it.
func newTestMaster(t *testing.T) *Master {
	t.Helper()
	r, err := event.New(1)
	require.NoError(t, err)
	r.Threshold(-1)
	go r.Dispatch()
	t.Cleanup(func() {
		r.BreakLoop()
		r.Close()
	})
	return &Master{
		reactor: r,
		agents:  make(map[graph.Key]*agentState),
		graphs:  make(map[graph.Key]*graphState),
	}
}

// onOwner runs f on m's reactor owner goroutine and waits for it, matching
// how every mutating entry point (insertAgent, onResource, ...) is always
// invoked in production via event.Promise from an accept-loop goroutine.
func onOwner(t *testing.T, m *Master, f func()) {
	t.Helper()
	_, err := event.Promise(m.reactor, func() (struct{}, error) {
		f()
		return struct{}{}, nil
	}).Get()
	require.NoError(t, err)
}

// peer is a mock agent or submitter: its own reactor plus one end of a
// socketpair wired to the master, with every incoming message type
// buffered onto a channel for assertions.
type peer struct {
	reactor *event.Reactor
	ch      *channel.Channel

	topologies chan *graph.Topology
	killTasks  chan wire.KillTask
	solutions  chan wire.Solution
}

func newPeer(t *testing.T) (*peer, device.Device) {
	t.Helper()
	r, err := event.New(1)
	require.NoError(t, err)
	r.Threshold(-1)
	go r.Dispatch()
	t.Cleanup(func() {
		r.BreakLoop()
		r.Close()
	})

	masterSide, peerSide, err := device.Socketpair()
	require.NoError(t, err)

	p := &peer{
		reactor:    r,
		topologies: make(chan *graph.Topology, 8),
		killTasks:  make(chan wire.KillTask, 8),
		solutions:  make(chan wire.Solution, 8),
	}
	p.ch = channel.InsertChannel(r, peerSide).
		OnTopology(func(tpg *graph.Topology) { p.topologies <- tpg }).
		OnKillTask(func(k wire.KillTask) { p.killTasks <- k }).
		OnSolution(func(s wire.Solution) { p.solutions <- s }).
		Done()
	t.Cleanup(func() { p.ch.Close() })

	return p, masterSide
}

func oneContainerTopology(graphKey graph.Key, numCPUs int, memBytes int64) *graph.Topology {
	tpg := graph.NewTopology(graph.UnsetKey, graph.UnsetKey)
	tpg.Graph = graphKey
	tpg.Containers = []graph.Container{
		{Key: 1, Resource: graph.Resources{NumCPUs: numCPUs, MemoryBytes: memBytes}},
	}
	tpg.Vertices = []graph.Vertex{{Key: 1, Tag: "v1", ContainerKey: 1}}
	return tpg
}

func TestMasterSchedulesOnResourceThenCompletesGraph(t *testing.T) {
	m := newTestMaster(t)

	agentPeer, agentDev := newPeer(t)
	onOwner(t, m, func() { m.insertAgent(agentDev) })
	onOwner(t, m, func() {
		m.onResource(0, wire.Resource{Host: "agent-a", NumCPUs: 4, MemoryBytes: 1 << 20, SpaceBytes: 1 << 20})
	})

	submitterPeer, submitterDev := newPeer(t)
	onOwner(t, m, func() { m.insertGraph(submitterDev) })

	tpg := oneContainerTopology(graph.UnsetKey, 2, 1<<10)
	onOwner(t, m, func() { m.onTopology(0, tpg) })

	select {
	case got := <-agentPeer.topologies:
		require.Len(t, got.Containers, 1)
		require.Equal(t, graph.Key(1), got.Containers[0].Key)
	case <-time.After(time.Second):
		t.Fatal("agent never received extracted topology")
	}

	// Executor reports the task finished; the graph should complete and
	// the submitter should receive a clean Solution.
	onOwner(t, m, func() {
		m.onTaskInfo(0, wire.TaskInfo{
			TaskID: graph.TaskID{Graph: 0, Container: 1}, Host: "agent-a", Status: wire.TaskFinished,
		})
	})

	select {
	case sol := <-submitterPeer.solutions:
		require.Equal(t, graph.Key(0), sol.Graph)
		require.Len(t, sol.TaskInfos, 1)
		require.Empty(t, sol.What)
	case <-time.After(time.Second):
		t.Fatal("submitter never received solution")
	}
}

func TestMasterRejectsGraphThatDoesNotFitCluster(t *testing.T) {
	m := newTestMaster(t)

	_, agentDev := newPeer(t)
	onOwner(t, m, func() { m.insertAgent(agentDev) })
	onOwner(t, m, func() {
		m.onResource(0, wire.Resource{Host: "agent-a", NumCPUs: 1, MemoryBytes: 1 << 10, SpaceBytes: 1 << 10})
	})

	submitterPeer, submitterDev := newPeer(t)
	onOwner(t, m, func() { m.insertGraph(submitterDev) })

	tpg := oneContainerTopology(graph.UnsetKey, 4, 1<<30) // needs more CPU and memory than available
	onOwner(t, m, func() { m.onTopology(0, tpg) })

	select {
	case sol := <-submitterPeer.solutions:
		require.NotEmpty(t, sol.What)
	case <-time.After(time.Second):
		t.Fatal("submitter never received a rejection solution")
	}

	var queueLen, graphsLen int
	onOwner(t, m, func() {
		queueLen = len(m.queue)
		graphsLen = len(m.graphs)
	})
	require.Zero(t, queueLen)
	require.Zero(t, graphsLen)
}

func TestMasterFailsGraphOnAgentDisconnect(t *testing.T) {
	m := newTestMaster(t)

	agentPeer, agentDev := newPeer(t)
	onOwner(t, m, func() { m.insertAgent(agentDev) })
	onOwner(t, m, func() {
		m.onResource(0, wire.Resource{Host: "agent-a", NumCPUs: 4, MemoryBytes: 1 << 20, SpaceBytes: 1 << 20})
	})

	submitterPeer, submitterDev := newPeer(t)
	onOwner(t, m, func() { m.insertGraph(submitterDev) })

	tpg := oneContainerTopology(graph.UnsetKey, 2, 1<<10)
	onOwner(t, m, func() { m.onTopology(0, tpg) })

	select {
	case <-agentPeer.topologies:
	case <-time.After(time.Second):
		t.Fatal("agent never received extracted topology")
	}

	// Simulate the agent's connection breaking: the master must fail the
	// graph that had a task placed on it rather than silently hang.
	onOwner(t, m, func() { m.removeAgent(0) })

	select {
	case sol := <-submitterPeer.solutions:
		require.NotEmpty(t, sol.What)
	case <-time.After(time.Second):
		t.Fatal("submitter never received a failure solution")
	}
}
