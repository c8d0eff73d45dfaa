package master

import (
	"sort"

	"github.com/flowmesh/dtc/graph"
)

// schedule computes a deterministic best-fit placement of every one of
// containers onto agents, or reports that no packing exists (spec.md
// section 4.7). Containers are placed in descending CPU order; for each,
// the candidate agent is the one whose free CPU covers the request and
// whose resulting leftover memory is smallest, ties broken first by a
// preferred-host match and finally by agent key — so that two calls with
// identical inputs always produce identical output (original_source's
// BestFitBinPacking, translated from a single committing pass into a pure
// function the master can call once to prove feasibility (_try_enqueue)
// and again to commit (_try_dequeue)).
func schedule(containers []graph.Container, agents []*agentState) (map[graph.Key]graph.Key, bool) {
	ordered := make([]graph.Container, len(containers))
	copy(ordered, containers)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Resource.NumCPUs != ordered[j].Resource.NumCPUs {
			return ordered[i].Resource.NumCPUs > ordered[j].Resource.NumCPUs
		}
		return ordered[i].Key < ordered[j].Key
	})

	free := make(map[graph.Key]graph.Resources, len(agents))
	byKey := make(map[graph.Key]*agentState, len(agents))
	for _, a := range agents {
		free[a.Key] = a.Released
		byKey[a.Key] = a
	}

	placement := make(map[graph.Key]graph.Key, len(ordered))
	for _, c := range ordered {
		key, ok := pickAgent(c, agents, free)
		if !ok {
			return nil, false
		}
		placement[c.Key] = key
		f := free[key]
		f.NumCPUs -= c.Resource.NumCPUs
		f.MemoryBytes -= c.Resource.MemoryBytes
		f.SpaceBytes -= c.Resource.SpaceBytes
		free[key] = f
	}
	return placement, true
}

type candidate struct {
	key       graph.Key
	leftover  int64
	preferred bool
}

// pickAgent finds the best-fit agent for c among agents, given their
// current free resources.
func pickAgent(c graph.Container, agents []*agentState, free map[graph.Key]graph.Resources) (graph.Key, bool) {
	var best *candidate
	for _, a := range agents {
		if c.RequiredHost != "" && a.Host != c.RequiredHost {
			continue
		}
		f := free[a.Key]
		if f.NumCPUs < c.Resource.NumCPUs {
			continue
		}
		if f.SpaceBytes < c.Resource.SpaceBytes {
			continue
		}
		leftover := f.MemoryBytes - c.Resource.MemoryBytes
		if leftover < 0 {
			continue
		}
		cand := candidate{key: a.Key, leftover: leftover, preferred: hostPreferred(a.Host, c.PreferredHosts)}
		if best == nil || candidateLess(cand, *best) {
			b := cand
			best = &b
		}
	}
	if best == nil {
		return graph.UnsetKey, false
	}
	return best.key, true
}

func candidateLess(a, b candidate) bool {
	if a.leftover != b.leftover {
		return a.leftover < b.leftover
	}
	if a.preferred != b.preferred {
		return a.preferred
	}
	return a.key < b.key
}

func hostPreferred(host string, preferred []string) bool {
	for _, p := range preferred {
		if p == host {
			return true
		}
	}
	return false
}
