package wire

import (
	"testing"

	"github.com/flowmesh/dtc/archive"
	"github.com/flowmesh/dtc/errc"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/streambuf"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	out := streambuf.NewOutput(nil)
	enc := archive.NewOutputArchiver(out)
	require.NoError(t, msg.Archive(enc))

	in := streambuf.NewInputFromOutput(out)
	dec := archive.NewInputArchiver(in)

	var got Message
	require.NoError(t, got.Archive(dec))
	return got
}

func TestMessageResourceRoundTrip(t *testing.T) {
	got := roundTrip(t, ResourceMessage(Resource{Host: "h1", NumCPUs: 8, MemoryBytes: 1 << 30, SpaceBytes: 1 << 32}))
	require.Equal(t, KindResource, got.Kind)
	require.Equal(t, "h1", got.Resource.Host)
	require.Equal(t, int32(8), got.Resource.NumCPUs)
}

func TestMessageTopologyRoundTrip(t *testing.T) {
	g := graph.New(3)
	a := g.Vertex().Tag("a").Done()
	b := g.Vertex().Tag("b").Done()
	g.Stream(a, b).Tag("s").Done()
	tpg := g.Submit()

	got := roundTrip(t, TopologyMessage(*tpg))
	require.Equal(t, KindTopology, got.Kind)
	require.Len(t, got.Topology.Vertices, 2)
	require.Len(t, got.Topology.Streams, 1)
}

func TestMessageTaskInfoRoundTrip(t *testing.T) {
	ti := TaskInfo{TaskID: graph.TaskID{Graph: 3, Container: 1}, Host: "h2", Status: TaskFailed, Code: errc.SpawnFailure}
	got := roundTrip(t, TaskInfoMessage(ti))
	require.Equal(t, KindTaskInfo, got.Kind)
	require.Equal(t, TaskFailed, got.TaskInfo.Status)
	require.Equal(t, errc.SpawnFailure, got.TaskInfo.Code)
	require.Equal(t, "h2", got.TaskInfo.Host)
}

func TestMessageKillTaskRoundTrip(t *testing.T) {
	got := roundTrip(t, KillTaskMessage(KillTask{TaskID: graph.TaskID{Graph: 5, Container: 2}}))
	require.Equal(t, KindKillTask, got.Kind)
	require.Equal(t, graph.Key(5), got.KillTask.TaskID.Graph)
	require.Equal(t, graph.Key(2), got.KillTask.TaskID.Container)
}

func TestMessageSolutionRoundTrip(t *testing.T) {
	s := Solution{
		Graph: 9,
		TaskInfos: []TaskInfo{
			{TaskID: graph.TaskID{Graph: 9, Container: 1}, Host: "h1", Status: TaskReady},
			{TaskID: graph.TaskID{Graph: 9, Container: 2}, Host: "h2", Status: TaskReady},
		},
	}
	got := roundTrip(t, SolutionMessage(s))
	require.Equal(t, KindSolution, got.Kind)
	require.Len(t, got.Solution.TaskInfos, 2)
	require.Equal(t, "h2", got.Solution.TaskInfos[1].Host)

	failed := Solution{Graph: 9, What: "resource-denied: no host fits container 2"}
	got2 := roundTrip(t, SolutionMessage(failed))
	require.Equal(t, "resource-denied: no host fits container 2", got2.Solution.What)
	require.Empty(t, got2.Solution.TaskInfos)
}

func TestMessageBrokenIORoundTrip(t *testing.T) {
	got := roundTrip(t, BrokenIOMessage(BrokenIO{Code: errc.BrokenIO}))
	require.Equal(t, KindBrokenIO, got.Kind)
	require.Equal(t, errc.BrokenIO, got.BrokenIO.Code)
}

func TestFrontierPacketRoundTrip(t *testing.T) {
	out := streambuf.NewOutput(nil)
	enc := archive.NewOutputArchiver(out)
	fp := FrontierPacket{Graph: 4, Stream: 11}
	require.NoError(t, fp.Archive(enc))

	in := streambuf.NewInputFromOutput(out)
	dec := archive.NewInputArchiver(in)
	var got FrontierPacket
	require.NoError(t, got.Archive(dec))
	require.Equal(t, graph.Key(4), got.Graph)
	require.Equal(t, graph.Key(11), got.Stream)
}
