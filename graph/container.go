package graph

import "time"

// Container is a resource-bounded placement unit: the master packs whole
// Containers onto agent hosts, never individual vertices (spec.md
// section 3).
type Container struct {
	Key            Key
	Resource       Resources
	RequiredHost   string   // non-empty pins the container to one host
	PreferredHosts []string // soft preference, used to break scheduler ties
}

// Prober is a periodic, vertex-scoped timer (spec.md section 4.3) — pure
// sugar over event.NewPeriodic that the executor installs per vertex.
type Prober struct {
	VertexKey Key
	Duration  time.Duration
	OnTick    func(Context)
}
