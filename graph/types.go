// Package graph implements the user-facing Graph/Vertex/Stream/Prober/
// Container model (spec.md section 4.3): a deferred-mutation builder that
// the executor and the master both replay, in different modes, over the
// same task list.
package graph

import (
	"github.com/flowmesh/dtc/event"
	"github.com/flowmesh/dtc/policy"
	"github.com/flowmesh/dtc/store"
)

// Policy is the per-vertex/per-container tunable bag (buffer sizes, close
// timeouts, scale) — an alias of the ambient policy.Policy so graph
// builders don't need a second import for configuration.
type Policy = policy.Policy

// Key identifies a vertex, stream, container, or graph/topology. A value
// of UnsetKey means "not yet assigned" — e.g. a PlaceHolder awaiting a
// builder call that will give it a real key.
type Key int64

// UnsetKey is the zero-like sentinel for an unassigned Key.
const UnsetKey Key = -1

// TaskID names one container's placement: which graph it belongs to and
// which of that graph's containers it is.
type TaskID struct {
	Graph     Key
	Container Key
}

// Resources is the CPU/memory/scratch-space footprint a container
// requests and a host offers (spec.md section 3).
type Resources struct {
	NumCPUs     int
	MemoryBytes int64
	SpaceBytes  int64
}

// ProgramSpec describes an external vertex program to spawn (spec.md
// section 4.5): Argv[0] is the executable, the rest its arguments.
type ProgramSpec struct {
	Argv []string
	Env  map[string]string
}

// Context is the capability surface a vertex's handlers run against. The
// executor is the concrete implementation; Context exists in this package
// (rather than executor's) so Vertex/Stream handler signatures do not
// import executor and create a cycle.
type Context interface {
	Vertex() *Vertex
	Reactor() *event.Reactor
	Emit(stream Key, p []byte) (int, error)
	RemoveIStream(stream Key) error
	RemoveOStream(stream Key) error
	// Store returns the named key/value store for the current vertex,
	// opened on first use via the executor's configured store.Supplier.
	Store(name string) (store.Store, error)
}

// EnterHandler runs once when a vertex starts up.
type EnterHandler func(Context)

// StreamHandler runs when a stream has data to consume (istream side) or
// has drained and can accept more (ostream side).
type StreamHandler func(Context, []byte)
