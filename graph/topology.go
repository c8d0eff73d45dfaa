package graph

import (
	"strconv"

	"github.com/flowmesh/dtc/archive"
	"github.com/flowmesh/dtc/policy"
)

// Topology is the wire-transmissible projection of a Graph: vertex/stream/
// container descriptors plus a Runtime bag, with no handler functions
// (those stay local to the process that built the Graph — spec.md section
// 4.3; see the graph package's doc comment on deferred mutation tasks for
// why handlers never need to cross the wire).
type Topology struct {
	Graph      Key
	TopologyID Key
	Vertices   []Vertex
	Streams    []Stream
	Containers []Container
	Runtime    Runtime
}

// NewTopology returns an empty Topology with an initialized Runtime map.
func NewTopology(graph, topologyID Key) *Topology {
	return &Topology{Graph: graph, TopologyID: topologyID, Runtime: make(Runtime)}
}

// vertexDescriptor and friends carry only the archivable subset of their
// full counterparts — Key/Tag/ContainerKey/Scale, program argv and
// JSON-encoded policy, never the handler closures, which are meaningless
// outside the process that built them.
type vertexDescriptor struct {
	Key          Key
	Tag          string
	ContainerKey Key
	Scale        int
	HasProgram   bool
	ProgramArgv  []string
	PolicyJSON   []byte
}

func (v *vertexDescriptor) Archive(a *archive.Archiver) error {
	if err := a.Int64((*int64)(&v.Key)); err != nil {
		return err
	}
	if err := a.String(&v.Tag); err != nil {
		return err
	}
	if err := a.Int64((*int64)(&v.ContainerKey)); err != nil {
		return err
	}
	var scale int32 = int32(v.Scale)
	if err := a.Int32(&scale); err != nil {
		return err
	}
	v.Scale = int(scale)
	if err := a.Bool(&v.HasProgram); err != nil {
		return err
	}
	if err := archive.Slice(a, &v.ProgramArgv, (*archive.Archiver).String); err != nil {
		return err
	}
	return a.Bytes(&v.PolicyJSON)
}

func toVertexDescriptor(v *Vertex) vertexDescriptor {
	d := vertexDescriptor{Key: v.Key, Tag: v.Tag, ContainerKey: v.ContainerKey, Scale: v.Scale}
	if v.Program != nil {
		d.HasProgram = true
		d.ProgramArgv = v.Program.Argv
	}
	if raw, err := policy.Encode(v.Policy); err == nil {
		d.PolicyJSON = raw
	}
	return d
}

type streamDescriptor struct {
	Key        Key
	TailVertex Key
	HeadVertex Key
	Tag        string
	Critical   bool
}

func (s *streamDescriptor) Archive(a *archive.Archiver) error {
	if err := a.Int64((*int64)(&s.Key)); err != nil {
		return err
	}
	if err := a.Int64((*int64)(&s.TailVertex)); err != nil {
		return err
	}
	if err := a.Int64((*int64)(&s.HeadVertex)); err != nil {
		return err
	}
	if err := a.String(&s.Tag); err != nil {
		return err
	}
	return a.Bool(&s.Critical)
}

type containerDescriptor struct {
	Key            Key
	NumCPUs        int32
	MemoryBytes    int64
	SpaceBytes     int64
	RequiredHost   string
	PreferredHosts []string
}

func (c *containerDescriptor) Archive(a *archive.Archiver) error {
	if err := a.Int64((*int64)(&c.Key)); err != nil {
		return err
	}
	if err := a.Int32(&c.NumCPUs); err != nil {
		return err
	}
	if err := a.Int64(&c.MemoryBytes); err != nil {
		return err
	}
	if err := a.Int64(&c.SpaceBytes); err != nil {
		return err
	}
	if err := a.String(&c.RequiredHost); err != nil {
		return err
	}
	return archive.Slice(a, &c.PreferredHosts, (*archive.Archiver).String)
}

// Archive implements archive.Archivable: the topology's descriptor data,
// not its handlers, crosses the wire (spec.md section 4.3/6).
func (t *Topology) Archive(a *archive.Archiver) error {
	if err := a.Int64((*int64)(&t.Graph)); err != nil {
		return err
	}
	if err := a.Int64((*int64)(&t.TopologyID)); err != nil {
		return err
	}

	if a.Writing() {
		vds := make([]vertexDescriptor, len(t.Vertices))
		for i := range t.Vertices {
			vds[i] = toVertexDescriptor(&t.Vertices[i])
		}
		if err := archive.Slice(a, &vds, func(a *archive.Archiver, v *vertexDescriptor) error { return v.Archive(a) }); err != nil {
			return err
		}

		sds := make([]streamDescriptor, len(t.Streams))
		for i := range t.Streams {
			sds[i] = streamDescriptor{
				Key: t.Streams[i].Key, TailVertex: t.Streams[i].TailVertex,
				HeadVertex: t.Streams[i].HeadVertex, Tag: t.Streams[i].Tag,
				Critical: t.Streams[i].Critical,
			}
		}
		if err := archive.Slice(a, &sds, func(a *archive.Archiver, v *streamDescriptor) error { return v.Archive(a) }); err != nil {
			return err
		}

		cds := make([]containerDescriptor, len(t.Containers))
		for i := range t.Containers {
			cds[i] = containerDescriptor{
				Key: t.Containers[i].Key, NumCPUs: int32(t.Containers[i].Resource.NumCPUs),
				MemoryBytes: t.Containers[i].Resource.MemoryBytes, SpaceBytes: t.Containers[i].Resource.SpaceBytes,
				RequiredHost: t.Containers[i].RequiredHost, PreferredHosts: t.Containers[i].PreferredHosts,
			}
		}
		if err := archive.Slice(a, &cds, func(a *archive.Archiver, v *containerDescriptor) error { return v.Archive(a) }); err != nil {
			return err
		}
	} else {
		var vds []vertexDescriptor
		if err := archive.Slice(a, &vds, func(a *archive.Archiver, v *vertexDescriptor) error { return v.Archive(a) }); err != nil {
			return err
		}
		t.Vertices = make([]Vertex, len(vds))
		for i := range vds {
			t.Vertices[i] = Vertex{Key: vds[i].Key, Tag: vds[i].Tag, ContainerKey: vds[i].ContainerKey, Scale: vds[i].Scale}
			if vds[i].HasProgram {
				t.Vertices[i].Program = &ProgramSpec{Argv: vds[i].ProgramArgv}
			}
			if p, err := policy.Decode(vds[i].PolicyJSON); err == nil {
				t.Vertices[i].Policy = p
			}
		}

		var sds []streamDescriptor
		if err := archive.Slice(a, &sds, func(a *archive.Archiver, v *streamDescriptor) error { return v.Archive(a) }); err != nil {
			return err
		}
		t.Streams = make([]Stream, len(sds))
		for i := range sds {
			t.Streams[i] = Stream{
				Key: sds[i].Key, TailVertex: sds[i].TailVertex, HeadVertex: sds[i].HeadVertex,
				Tag: sds[i].Tag, Critical: sds[i].Critical,
			}
		}

		var cds []containerDescriptor
		if err := archive.Slice(a, &cds, func(a *archive.Archiver, v *containerDescriptor) error { return v.Archive(a) }); err != nil {
			return err
		}
		t.Containers = make([]Container, len(cds))
		for i := range cds {
			t.Containers[i] = Container{
				Key: cds[i].Key,
				Resource: Resources{
					NumCPUs: int(cds[i].NumCPUs), MemoryBytes: cds[i].MemoryBytes, SpaceBytes: cds[i].SpaceBytes,
				},
				RequiredHost: cds[i].RequiredHost, PreferredHosts: cds[i].PreferredHosts,
			}
		}
	}

	var keys []string
	var vals []string
	if a.Writing() {
		for k, v := range t.Runtime {
			keys = append(keys, k)
			vals = append(vals, v)
		}
	}
	if err := archive.Slice(a, &keys, (*archive.Archiver).String); err != nil {
		return err
	}
	if err := archive.Slice(a, &vals, (*archive.Archiver).String); err != nil {
		return err
	}
	if !a.Writing() {
		t.Runtime = make(Runtime, len(keys))
		for i := range keys {
			t.Runtime[keys[i]] = vals[i]
		}
	}

	return nil
}

// Extract returns the per-container projection of t for containerKey: the
// vertices packed into that container, the streams with at least one
// endpoint among them, and Runtime.Frontiers populated with one
// (streamKey, fd-placeholder) pair per stream crossing the container
// boundary (spec.md section 4.3, section 8 property 9). The frontier fd
// values are left as "-1" placeholders; the agent fills in real fds when it
// dispatches the container.
func (t *Topology) Extract(containerKey Key) *Topology {
	proj := NewTopology(t.Graph, containerKey)

	inSet := make(map[Key]bool)
	for _, v := range t.Vertices {
		if v.ContainerKey == containerKey {
			proj.Vertices = append(proj.Vertices, v)
			inSet[v.Key] = true
		}
	}

	var frontiers [][2]string
	for _, s := range t.Streams {
		tailIn, headIn := inSet[s.TailVertex], inSet[s.HeadVertex]
		if !tailIn && !headIn {
			continue
		}
		proj.Streams = append(proj.Streams, s)
		if tailIn != headIn {
			frontiers = append(frontiers, [2]string{keyString(s.Key), "-1"})
		}
	}

	for _, c := range t.Containers {
		if c.Key == containerKey {
			proj.Containers = append(proj.Containers, c)
		}
	}

	for k, v := range t.Runtime {
		proj.Runtime[k] = v
	}
	proj.Runtime.SetPairs(RuntimeFrontiers, frontiers)

	return proj
}

func keyString(k Key) string {
	return strconv.FormatInt(int64(k), 10)
}
