package graph

// Stream is a directed edge between two vertices (spec.md section 4.3).
type Stream struct {
	Key        Key
	TailVertex Key
	HeadVertex Key
	Tag        string
	Critical   bool // a failed critical stream is fatal to the whole executor

	OnIStream StreamHandler // invoked at HeadVertex when data arrives
	OnOStream StreamHandler // invoked at TailVertex when the ostream drains
}

// Intra reports whether both endpoints of s are packed into the same
// container in tpg — the condition under which the executor wires s with
// a local socketpair instead of a frontier dial/accept (spec.md section
// 4.4).
func (s *Stream) Intra(tpg *Topology) bool {
	var tailC, headC Key = UnsetKey, UnsetKey
	for i := range tpg.Vertices {
		switch tpg.Vertices[i].Key {
		case s.TailVertex:
			tailC = tpg.Vertices[i].ContainerKey
		case s.HeadVertex:
			headC = tpg.Vertices[i].ContainerKey
		}
	}
	return tailC != UnsetKey && tailC == headC
}

// PlaceHolder is a dangling tail or head used to compose builders across
// calls: attaching a stream through a PlaceHolder records the resulting
// stream's key on it so later wiring can reference "whatever landed on
// this port" (spec.md section 4.3).
type PlaceHolder struct {
	VertexKey Key
	StreamKey Key
}

// NewPlaceHolder wraps a vertex key for use as a stream endpoint.
func NewPlaceHolder(vertex Key) *PlaceHolder {
	return &PlaceHolder{VertexKey: vertex, StreamKey: UnsetKey}
}
