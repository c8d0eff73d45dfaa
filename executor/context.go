package executor

import (
	"sync"

	"github.com/flowmesh/dtc/event"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/store"
)

// Context is the executor's implementation of graph.Context: the
// capability surface a vertex's OnEnter/OnIStream/OnOStream handlers run
// against.
type Context struct {
	ex *Executor
	v  *graph.Vertex

	mu     sync.Mutex
	stores map[string]store.Store
}

func newContext(ex *Executor, v *graph.Vertex) *Context {
	return &Context{ex: ex, v: v}
}

// Vertex returns the vertex this context belongs to.
func (c *Context) Vertex() *graph.Vertex { return c.v }

// Reactor returns the owning executor's reactor.
func (c *Context) Reactor() *event.Reactor { return c.ex.reactor }

// Emit writes p as one framed record on stream, which must have this
// vertex as its tail.
func (c *Context) Emit(stream graph.Key, p []byte) (int, error) {
	return c.ex.emit(stream, p)
}

// RemoveIStream detaches stream's input side per the executor's
// stream-removal policy.
func (c *Context) RemoveIStream(stream graph.Key) error {
	return c.ex.RemoveIStream(stream)
}

// RemoveOStream detaches stream's output side per the executor's
// stream-removal policy.
func (c *Context) RemoveOStream(stream graph.Key) error {
	return c.ex.RemoveOStream(stream)
}

// Store opens (and caches) the named key/value store for this vertex via
// the executor's configured store.Supplier.
func (c *Context) Store(name string) (store.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.stores[name]; ok {
		return s, nil
	}
	if c.ex.storeSupplier == nil {
		return nil, errNoStoreSupplier
	}
	s, err := c.ex.storeSupplier(name)
	if err != nil {
		return nil, err
	}
	if c.stores == nil {
		c.stores = make(map[string]store.Store)
	}
	c.stores[name] = s
	return s, nil
}
