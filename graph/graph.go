package graph

import (
	"sync"
	"time"
)

// task is a deferred mutation against a *Topology, replayed in one of
// three modes depending on tpg (spec.md section 4.3):
//
//   - tpg == nil: local materialization, applied directly to the Graph's
//     own runtime maps (used by the executor's SetupLocal).
//   - tpg.TopologyID == -1: submit materialization, writes a key-only
//     descriptor into tpg (used when dialing the master).
//   - tpg.TopologyID == some container key c: per-container
//     materialization, applied only if the vertex/stream belongs to c.
//
// Every builder call is written once against the Graph and replayed at
// each of the three sites; this is the Go realization of the original's
// single deferred-task list shared across local/submit/per-container
// execution.
type task func(tpg *Topology)

// Graph accumulates builder calls as deferred tasks and tracks enough
// local bookkeeping (vertex-to-container assignment, local materialized
// maps) to replay them without re-walking the whole task list for every
// lookup.
type Graph struct {
	mu      sync.Mutex
	key     Key
	nextKey int64
	tasks   []task

	vertexContainer map[Key]Key

	localVertices   map[Key]Vertex
	localStreams    map[Key]Stream
	localContainers map[Key]Container

	probers []*Prober
}

// New creates an empty Graph identified by key.
func New(key Key) *Graph {
	return &Graph{
		key:             key,
		nextKey:         1,
		vertexContainer: make(map[Key]Key),
		localVertices:   make(map[Key]Vertex),
		localStreams:    make(map[Key]Stream),
		localContainers: make(map[Key]Container),
	}
}

// Key returns the graph's own identifier.
func (g *Graph) Key() Key { return g.key }

func (g *Graph) allocKey() Key {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := g.nextKey
	g.nextKey++
	return Key(k)
}

func (g *Graph) enqueue(t task) {
	g.mu.Lock()
	g.tasks = append(g.tasks, t)
	g.mu.Unlock()
}

// Replay runs every queued task against tpg (or directly against the
// Graph's local maps if tpg is nil), in the order the builder calls were
// made.
func (g *Graph) Replay(tpg *Topology) {
	g.mu.Lock()
	tasks := make([]task, len(g.tasks))
	copy(tasks, g.tasks)
	g.mu.Unlock()

	for _, t := range tasks {
		t(tpg)
	}
}

// Local replays every task locally and returns the fully materialized
// Topology, handlers included by reference through the Graph's own
// localVertices/localStreams maps (consumed by executor.SetupLocal via
// LocalVertices/LocalStreams, not through the archived Topology).
func (g *Graph) Local() *Topology {
	g.Replay(nil)

	g.mu.Lock()
	defer g.mu.Unlock()

	tpg := NewTopology(g.key, UnsetKey)
	for _, v := range g.localVertices {
		tpg.Vertices = append(tpg.Vertices, v)
	}
	for _, s := range g.localStreams {
		tpg.Streams = append(tpg.Streams, s)
	}
	for _, c := range g.localContainers {
		tpg.Containers = append(tpg.Containers, c)
	}
	return tpg
}

// LocalVertex looks up a vertex materialized by Local, handlers included.
func (g *Graph) LocalVertex(key Key) (Vertex, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.localVertices[key]
	return v, ok
}

// LocalStream looks up a stream materialized by Local, handlers included.
func (g *Graph) LocalStream(key Key) (Stream, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.localStreams[key]
	return s, ok
}

// Submit replays every task in submit mode and returns the key-only
// Topology the master needs to run its scheduler.
func (g *Graph) Submit() *Topology {
	tpg := NewTopology(g.key, -1)
	g.Replay(tpg)
	return tpg
}

// PerContainer replays every task in per-container mode for containerKey.
func (g *Graph) PerContainer(containerKey Key) *Topology {
	tpg := NewTopology(g.key, containerKey)
	g.Replay(tpg)
	return tpg
}

// Probers returns every Prober attached via the Prober builder. Probers
// are local-only sugar (spec.md section 4.3) and are never replayed into
// a Topology.
func (g *Graph) Probers() []*Prober {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Prober, len(g.probers))
	copy(out, g.probers)
	return out
}

// Prober attaches a periodic callback to vertex, firing every d.
func (g *Graph) Prober(vertex Key, d time.Duration, onTick func(Context)) *Prober {
	p := &Prober{VertexKey: vertex, Duration: d, OnTick: onTick}
	g.mu.Lock()
	g.probers = append(g.probers, p)
	g.mu.Unlock()
	return p
}

// Vertex starts building a new vertex.
func (g *Graph) Vertex() *VertexBuilder {
	return &VertexBuilder{g: g, v: Vertex{Key: g.allocKey(), ContainerKey: UnsetKey}}
}

// VertexBuilder accumulates a Vertex's fields before Done enqueues it.
type VertexBuilder struct {
	g *Graph
	v Vertex
}

// Key returns the key already allocated for the vertex under
// construction, usable before Done for forward references.
func (b *VertexBuilder) Key() Key { return b.v.Key }

// Tag sets the vertex's human-readable tag.
func (b *VertexBuilder) Tag(tag string) *VertexBuilder { b.v.Tag = tag; return b }

// Program declares an external program this vertex runs (spec.md section
// 4.5); argv[0] is the executable.
func (b *VertexBuilder) Program(argv ...string) *VertexBuilder {
	b.v.Program = &ProgramSpec{Argv: argv}
	return b
}

// Scale sets the istream worker-pool fan-out (SPEC_FULL addition).
func (b *VertexBuilder) Scale(n int) *VertexBuilder { b.v.Scale = n; return b }

// Container assigns the vertex to a container key.
func (b *VertexBuilder) Container(c Key) *VertexBuilder { b.v.ContainerKey = c; return b }

// OnEnter sets the vertex's startup handler.
func (b *VertexBuilder) OnEnter(h EnterHandler) *VertexBuilder { b.v.OnEnter = h; return b }

// Policy attaches per-vertex tunables.
func (b *VertexBuilder) Policy(p Policy) *VertexBuilder { b.v.Policy = p; return b }

// Done enqueues the vertex's deferred task and returns a PlaceHolder for
// wiring streams to/from it.
func (b *VertexBuilder) Done() *PlaceHolder {
	v := b.v
	b.g.mu.Lock()
	b.g.vertexContainer[v.Key] = v.ContainerKey
	b.g.mu.Unlock()

	b.g.enqueue(func(tpg *Topology) { b.g.applyVertex(tpg, v) })
	return NewPlaceHolder(v.Key)
}

func (g *Graph) applyVertex(tpg *Topology, v Vertex) {
	if tpg == nil {
		g.mu.Lock()
		g.localVertices[v.Key] = v
		g.mu.Unlock()
		return
	}
	if tpg.TopologyID == -1 {
		tpg.Vertices = append(tpg.Vertices, Vertex{
			Key: v.Key, Tag: v.Tag, ContainerKey: v.ContainerKey, Scale: v.Scale, Program: v.Program,
			Policy: v.Policy,
		})
		return
	}
	if v.ContainerKey == tpg.TopologyID {
		tpg.Vertices = append(tpg.Vertices, v)
	}
}

// Stream starts building a stream between two PlaceHolders.
func (g *Graph) Stream(tail, head *PlaceHolder) *StreamBuilder {
	return &StreamBuilder{
		g:    g,
		s:    Stream{Key: g.allocKey(), TailVertex: tail.VertexKey, HeadVertex: head.VertexKey},
		tail: tail,
		head: head,
	}
}

// StreamBuilder accumulates a Stream's fields before Done enqueues it.
type StreamBuilder struct {
	g          *Graph
	s          Stream
	tail, head *PlaceHolder
}

// Tag sets the stream's human-readable tag.
func (b *StreamBuilder) Tag(tag string) *StreamBuilder { b.s.Tag = tag; return b }

// Critical marks the stream as fatal-on-failure for the whole executor.
func (b *StreamBuilder) Critical(c bool) *StreamBuilder { b.s.Critical = c; return b }

// OnIStream sets the handler run at the head vertex when data arrives.
func (b *StreamBuilder) OnIStream(h StreamHandler) *StreamBuilder { b.s.OnIStream = h; return b }

// OnOStream sets the handler run at the tail vertex when the ostream
// drains.
func (b *StreamBuilder) OnOStream(h StreamHandler) *StreamBuilder { b.s.OnOStream = h; return b }

// Done enqueues the stream's deferred task, records its key on both
// endpoint PlaceHolders, and returns a PlaceHolder at the head vertex for
// further chaining.
func (b *StreamBuilder) Done() *PlaceHolder {
	s := b.s
	b.g.enqueue(func(tpg *Topology) { b.g.applyStream(tpg, s) })
	b.tail.StreamKey = s.Key
	b.head.StreamKey = s.Key
	return NewPlaceHolder(s.HeadVertex)
}

func (g *Graph) applyStream(tpg *Topology, s Stream) {
	if tpg == nil {
		g.mu.Lock()
		g.localStreams[s.Key] = s
		g.mu.Unlock()
		return
	}
	if tpg.TopologyID == -1 {
		tpg.Streams = append(tpg.Streams, Stream{
			Key: s.Key, TailVertex: s.TailVertex, HeadVertex: s.HeadVertex, Tag: s.Tag, Critical: s.Critical,
		})
		return
	}

	g.mu.Lock()
	tailC, headC := g.vertexContainer[s.TailVertex], g.vertexContainer[s.HeadVertex]
	g.mu.Unlock()

	if tailC == tpg.TopologyID || headC == tpg.TopologyID {
		tpg.Streams = append(tpg.Streams, s)
	}
}

// Container starts building a resource-bounded placement unit.
func (g *Graph) Container() *ContainerBuilder {
	return &ContainerBuilder{g: g, c: Container{Key: g.allocKey()}}
}

// ContainerBuilder accumulates a Container's fields before Done enqueues
// it.
type ContainerBuilder struct {
	g *Graph
	c Container
}

// Key returns the key already allocated for this container.
func (b *ContainerBuilder) Key() Key { return b.c.Key }

// Resource sets the container's requested CPU/memory/scratch envelope.
func (b *ContainerBuilder) Resource(r Resources) *ContainerBuilder { b.c.Resource = r; return b }

// RequiredHost pins the container to one host.
func (b *ContainerBuilder) RequiredHost(host string) *ContainerBuilder {
	b.c.RequiredHost = host
	return b
}

// PreferredHosts sets a soft placement preference used to break scheduler
// ties.
func (b *ContainerBuilder) PreferredHosts(hosts ...string) *ContainerBuilder {
	b.c.PreferredHosts = hosts
	return b
}

// Done enqueues the container's deferred task and returns its key.
func (b *ContainerBuilder) Done() Key {
	c := b.c
	b.g.enqueue(func(tpg *Topology) { b.g.applyContainer(tpg, c) })
	return c.Key
}

func (g *Graph) applyContainer(tpg *Topology, c Container) {
	if tpg == nil {
		g.mu.Lock()
		g.localContainers[c.Key] = c
		g.mu.Unlock()
		return
	}
	if tpg.TopologyID == -1 {
		tpg.Containers = append(tpg.Containers, c)
		return
	}
	if c.Key == tpg.TopologyID {
		tpg.Containers = append(tpg.Containers, c)
	}
}
