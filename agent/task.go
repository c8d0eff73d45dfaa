package agent

import (
	"fmt"
	"strings"

	"github.com/flowmesh/dtc/container"
	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/graph"
)

// frontier is one inter-container stream's socket, received either before
// or after its owning task arrives (spec.md section 4.6).
type frontier struct {
	graph  graph.Key
	stream graph.Key
	dev    device.Device
}

func (f frontier) key() string { return fmt.Sprintf("%d", int64(f.stream)) }

// taskPhase names where a Task sits in the Hatchery -> Executor -> Removed
// state machine (spec.md section 4.6).
type taskPhase int

const (
	phaseHatchery taskPhase = iota
	phaseExecutor
	phaseRemoved
)

func (p taskPhase) String() string {
	switch p {
	case phaseHatchery:
		return "hatchery"
	case phaseExecutor:
		return "executor"
	case phaseRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// task tracks one container's deployment on this agent: while in
// phaseHatchery it accumulates the frontiers its inter-streams need before
// it can be spawned; once deployed, it holds the spawned container.Process
// and control channel.
type task struct {
	id     graph.TaskID
	tpg    *graph.Topology
	phase  taskPhase
	tag    string
	cgroup *container.CGroup

	numInterStreams int
	frontiers       []frontier

	proc *container.Process
	ctrl *controlChannel
}

// ready reports whether every inter-stream frontier this task needs has
// arrived.
func (t *task) ready() bool {
	return len(t.frontiers) == t.numInterStreams
}

// match reports whether f belongs to this task: same graph, and f.stream
// names one of this task's own inter-streams (spec.md's Task::match). Since
// t.tpg is this container's projection (graph.Topology.Extract), a stream
// crossing the container boundary has exactly one endpoint among
// t.tpg.Vertices and so is never Intra — any stream present in t.tpg.Streams
// that isn't wired locally is, by construction, this task's inter-stream.
func (t *task) match(f frontier) bool {
	if f.graph != t.id.Graph {
		return false
	}
	for i := range t.tpg.Streams {
		s := &t.tpg.Streams[i]
		if s.Key == f.stream {
			return !s.Intra(t.tpg)
		}
	}
	return false
}

// spliceFrontiers moves every frontier in src matching this task into its
// own frontier list, removing them from src — the Go analog of the
// source's std::partition + std::list::splice pair.
func (t *task) spliceFrontiers(src []frontier) []frontier {
	var kept []frontier
	for _, f := range src {
		if t.match(f) {
			t.frontiers = append(t.frontiers, f)
		} else {
			kept = append(kept, f)
		}
	}
	return kept
}

// frontiersRuntime renders the task's collected frontiers as the
// "streamKey fd ..." pairs the executor's Runtime.Frontiers expects.
func (t *task) frontiersRuntime() [][2]string {
	pairs := make([][2]string, 0, len(t.frontiers))
	for _, f := range t.frontiers {
		pairs = append(pairs, [2]string{f.key(), fmt.Sprintf("%d", f.dev.Fd())})
	}
	return pairs
}

func (t *task) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "task{graph=%d container=%d phase=%d}", t.id.Graph, t.id.Container, t.phase)
	return b.String()
}
