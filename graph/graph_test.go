package graph

import (
	"testing"

	"github.com/flowmesh/dtc/archive"
	"github.com/flowmesh/dtc/policy"
	"github.com/flowmesh/dtc/streambuf"
	"github.com/stretchr/testify/require"
)

func TestGraphLocalMaterialization(t *testing.T) {
	g := New(1)
	a := g.Vertex().Tag("a").Done()
	b := g.Vertex().Tag("b").Done()
	g.Stream(a, b).Tag("s").Done()

	tpg := g.Local()
	require.Len(t, tpg.Vertices, 2)
	require.Len(t, tpg.Streams, 1)

	va, ok := g.LocalVertex(a.VertexKey)
	require.True(t, ok)
	require.Equal(t, "a", va.Tag)
}

func TestGraphSubmitAndPerContainer(t *testing.T) {
	g := New(1)
	c1 := g.Container().Resource(Resources{NumCPUs: 2}).Done()
	c2 := g.Container().Resource(Resources{NumCPUs: 1}).Done()

	a := g.Vertex().Tag("a").Container(c1).Done()
	b := g.Vertex().Tag("b").Container(c2).Done()
	g.Stream(a, b).Tag("cross").Done()

	submitted := g.Submit()
	require.Equal(t, Key(-1), submitted.TopologyID)
	require.Len(t, submitted.Vertices, 2)
	require.Len(t, submitted.Streams, 1)
	require.Len(t, submitted.Containers, 2)

	proj1 := submitted.Extract(c1)
	require.Len(t, proj1.Vertices, 1)
	require.Equal(t, "a", proj1.Vertices[0].Tag)
	require.Len(t, proj1.Streams, 1) // cross-container stream still listed, one endpoint local
	require.NotEmpty(t, proj1.Runtime.Frontiers())

	directPerContainer := g.PerContainer(c1)
	require.Len(t, directPerContainer.Vertices, 1)
	require.Len(t, directPerContainer.Streams, 1)
}

func TestTopologyArchiveRoundTrip(t *testing.T) {
	g := New(7)
	c1 := g.Container().Resource(Resources{NumCPUs: 4, MemoryBytes: 1 << 20}).RequiredHost("host-a").Done()
	pol := policy.New(nil)
	pol.Set(8192, "stream.buffer_size")
	a := g.Vertex().Tag("a").Container(c1).Program("echo", "hi").Scale(3).Policy(pol).Done()
	b := g.Vertex().Tag("b").Container(c1).Done()
	g.Stream(a, b).Tag("s").Critical(true).Done()

	submitted := g.Submit()
	submitted.Runtime.Set(RuntimeExecutionMode, "submit")

	out := streambuf.NewOutput(nil)
	enc := archive.NewOutputArchiver(out)
	require.NoError(t, submitted.Archive(enc))

	in := streambuf.NewInputFromOutput(out)
	dec := archive.NewInputArchiver(in)

	var got Topology
	require.NoError(t, got.Archive(dec))

	require.Equal(t, submitted.Graph, got.Graph)
	require.Equal(t, submitted.TopologyID, got.TopologyID)
	require.Len(t, got.Vertices, 2)
	require.Len(t, got.Streams, 1)
	require.Len(t, got.Containers, 1)
	require.Equal(t, "submit", got.Runtime.ExecutionMode())
	require.Equal(t, []string{"echo", "hi"}, got.Vertices[0].Program.Argv)
	require.Equal(t, 3, got.Vertices[0].Scale)
	require.True(t, got.Streams[0].Critical)
	require.Equal(t, 8192, got.Vertices[0].Policy.BufferSize())
}
