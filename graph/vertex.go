package graph

// Vertex is one computation node in a topology (spec.md section 4.3/4.4).
type Vertex struct {
	Key          Key
	Tag          string
	Program      *ProgramSpec
	ContainerKey Key
	Scale        int // worker-pool fan-out for istream handlers; 0 or 1 is unsharded
	Policy       Policy

	OnEnter EnterHandler
}

// ScaleOrDefault returns Scale if set, else 1 (unsharded).
func (v *Vertex) ScaleOrDefault() int {
	if v.Scale <= 0 {
		return 1
	}
	return v.Scale
}
