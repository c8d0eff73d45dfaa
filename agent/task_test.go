package agent

import (
	"testing"

	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/graph"
	"github.com/stretchr/testify/require"
)

// buildProjection constructs a two-container topology (one inter-stream
// crossing the boundary, one intra-stream local to container c1) and
// returns container c1's Extract projection, the way the master hands it
// to the agent.
func buildProjection(t *testing.T) *graph.Topology {
	t.Helper()
	g := graph.New(1)
	c1 := g.Container().Resource(graph.Resources{NumCPUs: 2}).Done()
	c2 := g.Container().Resource(graph.Resources{NumCPUs: 1}).Done()

	a := g.Vertex().Tag("a").Container(c1).Done()
	b := g.Vertex().Tag("b").Container(c1).Done()
	cc := g.Vertex().Tag("c").Container(c2).Done()

	g.Stream(a, b).Tag("intra").Done()
	g.Stream(b, cc).Tag("inter").Done()

	full := g.Submit()
	return full.Extract(c1)
}

func TestTaskNotReadyWhileInterStreamPending(t *testing.T) {
	proj := buildProjection(t)
	interStreams := 0
	for i := range proj.Streams {
		if !proj.Streams[i].Intra(proj) {
			interStreams++
		}
	}
	require.Equal(t, 1, interStreams)

	tk := &task{id: graph.TaskID{Graph: proj.Graph, Container: proj.TopologyID}, tpg: proj, numInterStreams: interStreams}
	require.False(t, tk.ready())
}

func TestTaskMatchAndSpliceFrontiers(t *testing.T) {
	proj := buildProjection(t)

	var interKey graph.Key
	for i := range proj.Streams {
		if !proj.Streams[i].Intra(proj) {
			interKey = proj.Streams[i].Key
		}
	}
	require.NotZero(t, interKey)

	tk := &task{id: graph.TaskID{Graph: proj.Graph, Container: proj.TopologyID}, tpg: proj, numInterStreams: 1}

	f := frontier{graph: proj.Graph, stream: interKey}
	require.True(t, tk.match(f))

	other := frontier{graph: proj.Graph, stream: interKey + 1000}
	require.False(t, tk.match(other))

	wrongGraph := frontier{graph: proj.Graph + 1, stream: interKey}
	require.False(t, tk.match(wrongGraph))

	kept := tk.spliceFrontiers([]frontier{f, other})
	require.Len(t, kept, 1)
	require.Equal(t, other, kept[0])
	require.Len(t, tk.frontiers, 1)
	require.True(t, tk.ready())
}

func TestTaskFrontiersRuntime(t *testing.T) {
	a, b, err := device.Socketpair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	tk := &task{frontiers: []frontier{{stream: 5, dev: a}, {stream: 9, dev: b}}}
	pairs := tk.frontiersRuntime()
	require.Len(t, pairs, 2)
	require.Equal(t, "5", pairs[0][0])
	require.Equal(t, "9", pairs[1][0])
}

func TestTaskPhaseString(t *testing.T) {
	require.Equal(t, "hatchery", phaseHatchery.String())
	require.Equal(t, "executor", phaseExecutor.String())
	require.Equal(t, "removed", phaseRemoved.String())
}
