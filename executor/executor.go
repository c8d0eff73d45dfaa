// Package executor runs one graph.Graph to completion in one of the three
// modes of spec.md section 4.4: local (single process, every vertex and
// stream materialized in-process), submit (dial the master, hand over the
// key-only topology, wait for a placement Solution, exit), and distributed
// (one container's slice of the graph, wired to its peers over frontier
// sockets). It is a event.Reactor specialization: the reactor that drives
// every vertex's istream/ostream events also drives the executor's own
// control channel.
package executor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash"
	"github.com/dgryski/go-jump"

	"github.com/flowmesh/dtc/archive"
	"github.com/flowmesh/dtc/channel"
	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/env"
	"github.com/flowmesh/dtc/errc"
	"github.com/flowmesh/dtc/event"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/log"
	"github.com/flowmesh/dtc/policy"
	"github.com/flowmesh/dtc/store"
	"github.com/flowmesh/dtc/streambuf"
	"github.com/flowmesh/dtc/wire"
)

var logger = log.New("component", "executor")

var errNoStoreSupplier = errors.New("executor: no store.Supplier configured")

// blob is the raw-bytes Archivable a stream's packager frames application
// records in; unlike wire.Message, application payloads carry no type tag
// since only one Vertex/Stream pair agrees on their shape.
type blob struct{ data []byte }

func (b *blob) Archive(a *archive.Archiver) error { return a.Bytes(&b.data) }

// shard is one worker goroutine of a Scale > 1 vertex's istream fan-out.
type shard struct {
	in chan []byte
}

type vertexState struct {
	v       graph.Vertex
	ctx     *Context
	shards  []shard
	started bool
}

type streamState struct {
	s graph.Stream

	tailDev device.Device // the tail vertex's socket end
	headDev device.Device // the head vertex's socket end

	out  *streambuf.OutputBuffer
	in   *streambuf.InputBuffer
	pkr  *archive.OutputPackager
	upk  *archive.InputPackager
	rdEv *event.Event
	wrEv *event.Event

	removed bool
}

// Executor owns one graph's runtime state: the reactor, every vertex's
// context, and every stream's socket plumbing.
type Executor struct {
	reactor *event.Reactor
	g       *graph.Graph
	tpg     *graph.Topology
	mode    string

	storeSupplier store.Supplier

	vertices map[graph.Key]*vertexState
	streams  map[graph.Key]*streamState

	ctrl *channel.Channel // submit/distributed control channel

	done chan wire.Solution
}

// New creates an Executor for g, driven by a fresh Reactor sized to
// env.NumCPU workers.
func New(g *graph.Graph, storeSupplier store.Supplier) (*Executor, error) {
	r, err := event.New(env.NumCPU(0))
	if err != nil {
		return nil, err
	}
	return &Executor{
		reactor:       r,
		g:             g,
		storeSupplier: storeSupplier,
		vertices:      make(map[graph.Key]*vertexState),
		streams:       make(map[graph.Key]*streamState),
		done:          make(chan wire.Solution, 1),
	}, nil
}

// Reactor returns the executor's owning reactor.
func (ex *Executor) Reactor() *event.Reactor { return ex.reactor }

// SetupLocal materializes the whole graph in this process: every stream
// gets a socketpair, every vertex a zero-timeout startup event (spec.md
// section 4.4).
func (ex *Executor) SetupLocal() error {
	ex.mode = "local"
	ex.tpg = ex.g.Local()

	for _, v := range ex.tpg.Vertices {
		full, _ := ex.g.LocalVertex(v.Key)
		ex.vertices[v.Key] = &vertexState{v: full}
	}
	for _, s := range ex.tpg.Streams {
		full, _ := ex.g.LocalStream(s.Key)
		a, b, err := device.Socketpair()
		if err != nil {
			return err
		}
		// a is the tail (writer) end, b the head (reader) end.
		if err := ex.registerStream(full, a, b); err != nil {
			return err
		}
	}
	for _, v := range ex.tpg.Vertices {
		ex.scheduleEnter(v.Key)
	}
	return nil
}

// registerStream wires one stream's tail device (tailDev) and head device
// (headDev) into a streamState with packagers and Read/Write events. The
// buffers are preallocated per each endpoint's Policy.BufferSize, so a
// vertex the graph author knows writes/reads large records can size past
// the default up front (spec.md's policy-driven buffer sizing).
func (ex *Executor) registerStream(s graph.Stream, tailDev, headDev device.Device) error {
	out := streambuf.NewOutputSize(tailDev, ex.vertexBufferSize(s.TailVertex))
	in := streambuf.NewInputSize(headDev, ex.vertexBufferSize(s.HeadVertex))
	st := &streamState{
		s:       s,
		tailDev: tailDev,
		headDev: headDev,
		out:     out,
		in:      in,
		pkr:     archive.NewOutputPackager(out),
		upk:     archive.NewInputPackager(in),
	}
	ex.streams[s.Key] = st

	st.rdEv = event.NewRead(headDev, func(*event.Event) event.Signal {
		return ex.onStreamReadable(s.Key)
	})
	st.wrEv = event.NewWrite(tailDev, func(*event.Event) event.Signal {
		return ex.onStreamWritable(s.Key)
	})
	ex.reactor.Insert(st.rdEv)
	return nil
}

// vertexBufferSize returns the Policy.BufferSize configured on vertex, or 0
// (NewOutputSize/NewInputSize fall back to the package default) if the
// vertex is not yet known.
func (ex *Executor) vertexBufferSize(vertex graph.Key) int {
	vs, ok := ex.vertices[vertex]
	if !ok {
		return 0
	}
	return vs.v.Policy.BufferSize()
}

// drainOnClose flushes st.out until empty or the tail vertex's
// Policy.CloseTimeout elapses, retrying at short intervals since Sync
// reports would-block rather than blocking itself.
func (ex *Executor) drainOnClose(st *streamState, stream graph.Key) error {
	timeout := ex.vertexCloseTimeout(st.s.TailVertex)
	deadline := time.Now().Add(timeout)

	for {
		if _, err := st.out.Flush(); err != nil {
			return err
		}
		if st.out.OutAvail() == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("executor: close timeout draining stream %d with %d bytes pending", stream, st.out.OutAvail())
		}
		time.Sleep(time.Millisecond)
	}
}

// vertexCloseTimeout returns the Policy.CloseTimeout configured on vertex,
// or policy.DefaultCloseTimeout if the vertex is not yet known.
func (ex *Executor) vertexCloseTimeout(vertex graph.Key) time.Duration {
	vs, ok := ex.vertices[vertex]
	if !ok {
		return policy.DefaultCloseTimeout
	}
	return vs.v.Policy.CloseTimeout()
}

func (ex *Executor) onStreamReadable(key graph.Key) event.Signal {
	st, ok := ex.streams[key]
	if !ok || st.removed {
		return event.Remove
	}
	n, err := st.in.Sync()
	if err != nil {
		ex.handleStreamBroken(st)
		return event.Remove
	}
	if n == 0 {
		if dev, ok := st.anyDevice(); ok && !dev.Connected() {
			ex.handleStreamBroken(st)
			return event.Remove
		}
	}

	for {
		a, err := st.upk.Next()
		if err == archive.ErrShortFrame {
			return event.Default
		}
		if err != nil {
			ex.handleStreamBroken(st)
			return event.Remove
		}
		var b blob
		if err := b.Archive(a); err != nil {
			ex.handleStreamBroken(st)
			return event.Remove
		}
		ex.deliver(st.s, b.data)
	}
}

func (st *streamState) anyDevice() (device.Device, bool) {
	if st.headDev != nil {
		return st.headDev, true
	}
	return nil, false
}

func (ex *Executor) handleStreamBroken(st *streamState) {
	st.removed = true
	head := ex.vertices[st.s.HeadVertex]
	if st.s.Critical && head != nil {
		logger.Errorw("critical stream broken, exiting", "stream", st.s.Key)
		panic(fmt.Sprintf("critical stream %d broken", st.s.Key))
	}
}

func (ex *Executor) onStreamWritable(key graph.Key) event.Signal {
	st, ok := ex.streams[key]
	if !ok || st.removed {
		return event.Remove
	}
	if _, err := st.out.Flush(); err != nil {
		ex.handleStreamBroken(st)
		return event.Remove
	}
	if st.out.OutAvail() > 0 {
		return event.Default
	}
	if st.s.OnOStream != nil {
		if tail, ok := ex.vertices[st.s.TailVertex]; ok {
			st.s.OnOStream(tail.ctx, nil)
		}
	}
	return event.Remove
}

// deliver runs s's head vertex's OnIStream handler with data, sharding
// across the vertex's Scale worker goroutines when Scale > 1 (additive
// SPEC_FULL feature generalizing the teacher's task.go nodeTasks
// sharding).
func (ex *Executor) deliver(s graph.Stream, data []byte) {
	vs, ok := ex.vertices[s.HeadVertex]
	if !ok || s.OnIStream == nil {
		return
	}
	if vs.v.ScaleOrDefault() <= 1 {
		s.OnIStream(vs.ctx, data)
		return
	}
	ex.ensureShards(vs, s)
	idx := jump.Hash(xxhash.Checksum64(data), int32(vs.v.ScaleOrDefault()))
	vs.shards[idx].in <- data
}

func (ex *Executor) ensureShards(vs *vertexState, s graph.Stream) {
	if vs.shards != nil {
		return
	}
	n := vs.v.ScaleOrDefault()
	vs.shards = make([]shard, n)
	for i := range vs.shards {
		ch := make(chan []byte, 64)
		vs.shards[i] = shard{in: ch}
		go func() {
			for data := range ch {
				s.OnIStream(vs.ctx, data)
			}
		}()
	}
}

// scheduleEnter registers a zero-timeout event running the vertex's
// OnEnter handler, then spawning its external program if declared
// (spec.md section 4.5), plus one periodic event per Prober attached to
// the vertex.
func (ex *Executor) scheduleEnter(key graph.Key) {
	vs := ex.vertices[key]
	vs.ctx = newContext(ex, &vs.v)

	for _, p := range ex.g.Probers() {
		if p.VertexKey != key || p.OnTick == nil {
			continue
		}
		onTick := p.OnTick
		ex.reactor.Insert(event.NewPeriodic(p.Duration, func(*event.Event) event.Signal {
			onTick(vs.ctx)
			return event.Default
		}))
	}

	ex.reactor.Insert(event.NewTimeout(0, func(*event.Event) event.Signal {
		if vs.started {
			return event.Remove
		}
		vs.started = true
		if vs.v.OnEnter != nil {
			vs.v.OnEnter(vs.ctx)
		}
		if vs.v.Program != nil {
			if err := ex.spawnProgram(vs); err != nil {
				logger.Errorw("vertex program spawn failed", "vertex", vs.v.Key, "error", err)
			}
		}
		return event.Remove
	}))
}

// streamsOf returns every stream incident on vertex.
func (ex *Executor) streamsOf(vertex graph.Key) []*streamState {
	var out []*streamState
	for _, st := range ex.streams {
		if st.s.TailVertex == vertex || st.s.HeadVertex == vertex {
			out = append(out, st)
		}
	}
	return out
}

// RemoveIStream implements graph.Context's stream-removal policy (spec.md
// section 4.4): a vertex running an external program only detaches (the
// program keeps its own fd and decides what to do); a Go-handled vertex
// drops both the istream and the paired ostream on the peer, and a
// Critical stream's removal is fatal.
func (ex *Executor) RemoveIStream(stream graph.Key) error {
	st, ok := ex.streams[stream]
	if !ok {
		return errors.New("executor: unknown stream")
	}
	if st.s.Critical {
		logger.Errorw("critical istream removed, exiting", "stream", stream)
		panic(fmt.Sprintf("critical stream %d removed", stream))
	}

	head := ex.vertices[st.s.HeadVertex]
	if head != nil && head.v.Program != nil {
		// External-program vertex: detach only, the child owns the fd.
		ex.reactor.Remove(st.rdEv)
		st.removed = true
		return nil
	}

	ex.reactor.Remove(st.rdEv, st.wrEv)
	st.removed = true
	return nil
}

// RemoveOStream flushes any buffered output before dropping the ostream
// side, per spec.md section 4.4 and spec.md:151's flush-on-close policy:
// the tail vertex's Policy.CloseTimeout bounds how long the drain retries a
// device that isn't immediately writable before giving up.
func (ex *Executor) RemoveOStream(stream graph.Key) error {
	st, ok := ex.streams[stream]
	if !ok {
		return errors.New("executor: unknown stream")
	}
	if st.s.Critical {
		logger.Errorw("critical ostream removed, exiting", "stream", stream)
		panic(fmt.Sprintf("critical stream %d removed", stream))
	}

	if err := ex.drainOnClose(st, stream); err != nil {
		logger.Warnw("flush on ostream removal failed", "stream", stream, "error", err)
	}

	tail := ex.vertices[st.s.TailVertex]
	if tail != nil && tail.v.Program != nil {
		ex.reactor.Remove(st.wrEv)
		st.removed = true
		return nil
	}

	ex.reactor.Remove(st.rdEv, st.wrEv)
	st.removed = true
	return nil
}

// emit writes p as a length-prefixed frame on stream's tail side,
// buffering and arming the write event if the device cannot accept it all
// immediately.
func (ex *Executor) emit(stream graph.Key, p []byte) (int, error) {
	st, ok := ex.streams[stream]
	if !ok {
		return 0, errors.New("executor: unknown stream")
	}
	b := blob{data: p}
	if err := st.pkr.Send(&b); err != nil {
		return 0, err
	}
	if _, err := st.out.Flush(); err != nil {
		return 0, err
	}
	if st.out.OutAvail() > 0 {
		ex.reactor.Insert(st.wrEv)
	}
	return len(p), nil
}

// SetupSubmit builds a key-only Topology, dials the master's graph
// listener, sends the topology, and blocks for a wire.Solution (spec.md
// section 4.4). It opens no stdout/stderr tunnel listeners.
func (ex *Executor) SetupSubmit() (wire.Solution, error) {
	ex.mode = "submit"
	ex.tpg = ex.g.Submit()
	ex.tpg.Runtime.Set(graph.RuntimeExecutionMode, "submit")
	ex.tpg.Runtime.Set(graph.RuntimeSubmitArgv, strings.Join(os.Args, " "))

	addr := fmt.Sprintf("%s:%d", env.MasterHost(), env.GraphListenerPort())
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return wire.Solution{}, err
	}
	dev, err := device.FromConn(conn)
	if err != nil {
		return wire.Solution{}, err
	}

	ex.ctrl = channel.InsertChannel(ex.reactor, dev).
		OnBrokenIO(func(b wire.BrokenIO) {
			ex.done <- wire.Solution{What: errc.Code(b.Code).String()}
		}).
		OnSolution(func(s wire.Solution) { ex.done <- s }).
		Done()

	if err := ex.ctrl.Send(wire.TopologyMessage(*ex.tpg)); err != nil {
		return wire.Solution{}, err
	}

	go ex.reactor.Dispatch()

	select {
	case sol := <-ex.done:
		ex.reactor.BreakLoop()
		return sol, nil
	case <-time.After(5 * time.Minute):
		ex.reactor.BreakLoop()
		return wire.Solution{}, errors.New("executor: timed out waiting for scheduling solution")
	}
}

// SetupDistributed opens a control Channel on the inherited topology fd,
// receives this container's per-container Topology, and wires every
// incident stream: intra streams socketpair locally, inter streams attach
// the fd their Runtime.Frontiers entry names (spec.md section 4.4).
func (ex *Executor) SetupDistributed() error {
	ex.mode = "distributed"
	ex.reactor.Threshold(2) // control channel stays up alone

	fd := env.TopologyFd()
	if fd < 0 {
		return errors.New("executor: DTC_TOPOLOGY_FD not set")
	}
	dev, err := device.NewInherited(fd)
	if err != nil {
		return err
	}

	topoCh := make(chan *graph.Topology, 1)
	ex.ctrl = channel.InsertChannel(ex.reactor, dev).
		OnTopology(func(tpg *graph.Topology) { topoCh <- tpg }).
		Done()

	go ex.reactor.Dispatch()

	select {
	case tpg := <-topoCh:
		ex.tpg = tpg
	case <-time.After(30 * time.Second):
		return errors.New("executor: timed out waiting for container topology")
	}

	for _, v := range ex.tpg.Vertices {
		ex.vertices[v.Key] = &vertexState{v: v}
	}

	frontiers := ex.tpg.Runtime.Frontiers()
	frontierFD := make(map[string]string, len(frontiers))
	for _, p := range frontiers {
		frontierFD[p[0]] = p[1]
	}

	for _, s := range ex.tpg.Streams {
		if intra(ex.tpg, s) {
			a, b, err := device.Socketpair()
			if err != nil {
				return err
			}
			if err := ex.registerStream(s, a, b); err != nil {
				return err
			}
			continue
		}
		// Inter-container stream: the agent has already accepted/dialed
		// the frontier and handed us its fd via Runtime.Frontiers.
		if err := ex.registerFrontierStream(s, frontierFD); err != nil {
			return err
		}
	}

	for _, v := range ex.tpg.Vertices {
		ex.scheduleEnter(v.Key)
	}

	if err := ex.ReportStatus(wire.TaskRunning, errc.OK); err != nil {
		logger.Warnw("failed to report running status", "error", err)
	}
	return nil
}

// ReportStatus sends a wire.TaskInfo for this container's task over the
// distributed control channel — the agent's controlChannel relays it
// verbatim to the master (spec.md section 4.6/4.7). A no-op outside
// distributed mode, where there is no control channel to an agent.
func (ex *Executor) ReportStatus(status wire.TaskStatus, code errc.Code) error {
	if ex.mode != "distributed" || ex.ctrl == nil {
		return nil
	}
	info := wire.TaskInfo{
		TaskID: graph.TaskID{Graph: ex.tpg.Graph, Container: ex.tpg.TopologyID},
		Host:   env.ThisHost(),
		Status: status,
		Code:   code,
	}
	return ex.ctrl.Send(wire.TaskInfoMessage(info))
}

func intra(tpg *graph.Topology, s graph.Stream) bool {
	return s.Intra(tpg)
}

func (ex *Executor) registerFrontierStream(s graph.Stream, frontierFD map[string]string) error {
	fdStr, ok := frontierFD[keyString(s.Key)]
	if !ok {
		return fmt.Errorf("executor: no frontier fd for stream %d", s.Key)
	}
	var fd int
	if _, err := fmt.Sscanf(fdStr, "%d", &fd); err != nil {
		return err
	}
	dev, err := device.NewInherited(fd)
	if err != nil {
		return err
	}
	return ex.registerStream(s, dev, dev)
}

func keyString(k graph.Key) string { return fmt.Sprintf("%d", int64(k)) }

// Close tears down the executor's control channel and reactor.
func (ex *Executor) Close() error {
	if ex.ctrl != nil {
		ex.ctrl.Close()
	}
	return ex.reactor.Close()
}
