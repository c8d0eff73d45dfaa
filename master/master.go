// Package master implements the cluster controller of spec.md section 4.7:
// it accepts agent connections and tracks their CPU-bin capacity, accepts
// submitted graphs and schedules their containers onto agents by
// deterministic best-fit bin packing, and assembles the Solution each
// submitter receives once its graph's tasks finish (or fail).
//
// Grounded on original_source/src/kernel/master.cpp: _on_resource/
// _on_topology/_on_taskinfo/_enqueue/_dequeue are kept nearly 1:1, with the
// reactor's Promise taking the place of the source's promise()/is_owner()
// pair for serializing every mutation onto the owner goroutine.
package master

import (
	"fmt"
	"net"

	"github.com/flowmesh/dtc/channel"
	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/env"
	"github.com/flowmesh/dtc/event"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/log"
	"github.com/flowmesh/dtc/status"
	"github.com/flowmesh/dtc/wire"
)

var logger = log.New("component", "master")

// CPUBin is one reservable CPU unit on an agent: either free, or holding
// the TaskID of the container it was assigned to (spec.md section 4.7 —
// "each bin is either empty or holds exactly one placed container").
type CPUBin struct {
	Task *graph.TaskID
}

// agentState tracks one connected agent's advertised and currently free
// resources and the tasks occupying its CPU bins.
type agentState struct {
	Key      graph.Key
	Host     string
	Resource graph.Resources
	Released graph.Resources
	CPUBins  []CPUBin
	Tasks    map[graph.TaskID]graph.Resources

	ch *channel.Channel
}

// graphState tracks one submitted graph: its topology, the control
// channel back to its submitter, the in-flight task placements still
// outstanding, and the Solution being assembled for it.
type graphState struct {
	Key       graph.Key
	Topology  *graph.Topology
	Placement map[graph.TaskID]graph.Key // task -> agent key
	Solution  wire.Solution

	ch *channel.Channel
}

// Master owns one event.Reactor driving the agent listener, the graph
// listener, and every connected agent's and submitter's control channel.
type Master struct {
	reactor *event.Reactor

	agents map[graph.Key]*agentState
	graphs map[graph.Key]*graphState
	queue  []graph.Key

	nextAgentKey graph.Key
	nextGraphKey graph.Key

	agentListener net.Listener
	graphListener net.Listener

	status *status.Server
}

// New starts the master's reactor and its agent/graph listeners.
func New(numWorkers int) (*Master, error) {
	r, err := event.New(numWorkers)
	if err != nil {
		return nil, err
	}
	m := &Master{
		reactor: r,
		agents:  make(map[graph.Key]*agentState),
		graphs:  make(map[graph.Key]*graphState),
	}

	al, err := net.Listen("tcp", fmt.Sprintf(":%d", env.AgentListenerPort()))
	if err != nil {
		r.Close()
		return nil, err
	}
	m.agentListener = al
	go m.acceptLoop(al, m.insertAgent)

	gl, err := net.Listen("tcp", fmt.Sprintf(":%d", env.GraphListenerPort()))
	if err != nil {
		al.Close()
		r.Close()
		return nil, err
	}
	m.graphListener = gl
	go m.acceptLoop(gl, m.insertGraph)

	m.status = status.New(fmt.Sprintf(":%d", env.WebUIListenerPort()))
	m.status.RegisterHealthz()
	m.status.RegisterClusterStatus(m.Snapshot, env.StatusUser(), env.StatusPassword())
	go func() {
		if err := m.status.Start(); err != nil {
			logger.Warnw("status server stopped", "error", err)
		}
	}()

	logger.Infow("master listening", "host", env.ThisHost(),
		"agentPort", env.AgentListenerPort(), "graphPort", env.GraphListenerPort())

	return m, nil
}

// acceptLoop accepts connections on l and hands each to insert, scheduled
// onto the reactor's owner goroutine (the accept loop itself runs on its
// own goroutine, never the owner).
func (m *Master) acceptLoop(l net.Listener, insert func(device.Device)) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		dev, err := device.FromConn(conn)
		if err != nil {
			continue
		}
		event.Promise(m.reactor, func() (struct{}, error) {
			insert(dev)
			return struct{}{}, nil
		})
	}
}

// insertAgent registers a freshly accepted agent connection and waits for
// its initial wire.Resource report.
func (m *Master) insertAgent(dev device.Device) {
	key := m.nextAgentKey
	m.nextAgentKey++

	a := &agentState{Key: key, Tasks: make(map[graph.TaskID]graph.Resources)}
	a.ch = channel.InsertChannel(m.reactor, dev).
		OnBrokenIO(func(wire.BrokenIO) { m.removeAgent(key) }).
		OnResource(func(r wire.Resource) { m.onResource(key, r) }).
		OnTaskInfo(func(i wire.TaskInfo) { m.onTaskInfo(key, i) }).
		Done()
	m.agents[key] = a
}

// insertGraph registers a freshly accepted submitter connection under a
// new graph key and waits for its topology.
func (m *Master) insertGraph(dev device.Device) {
	key := m.nextGraphKey
	m.nextGraphKey++

	g := &graphState{Key: key, Placement: make(map[graph.TaskID]graph.Key)}
	g.ch = channel.InsertChannel(m.reactor, dev).
		OnBrokenIO(func(wire.BrokenIO) { m.removeGraph(key) }).
		OnTopology(func(tpg *graph.Topology) { m.onTopology(key, tpg) }).
		Done()
	m.graphs[key] = g
}

// onResource records an agent's advertised capacity, creates its CPU
// bins, and reinvokes the scheduler.
func (m *Master) onResource(key graph.Key, r wire.Resource) {
	a, ok := m.agents[key]
	if !ok {
		return
	}
	a.Host = r.Host
	a.Resource = graph.Resources{NumCPUs: int(r.NumCPUs), MemoryBytes: r.MemoryBytes, SpaceBytes: r.SpaceBytes}
	a.Released = a.Resource
	a.CPUBins = make([]CPUBin, r.NumCPUs)

	logger.Infow("agent connected", "agent", key, "host", r.Host, "numCPUs", r.NumCPUs)
	m.dequeue()
}

// onTopology labels a submitted topology with its graph key and attempts
// to enqueue it; a topology that cannot possibly fit the cluster is
// rejected immediately (spec.md section 4.7).
func (m *Master) onTopology(key graph.Key, tpg *graph.Topology) {
	g, ok := m.graphs[key]
	if !ok {
		return
	}
	tpg.Graph = key
	g.Topology = tpg
	g.Solution = wire.Solution{Graph: key}

	logger.Infow("graph submitted", "graph", key, "containers", len(tpg.Containers))

	if !m.enqueue(g) {
		logger.Warnw("graph does not fit cluster", "graph", key)
		g.Solution.What = "resource request doesn't fit in cluster"
		m.removeGraph(key)
		return
	}
	m.dequeue()
}

// onTaskInfo retires a finished or failed task from its agent's CPU bins,
// folds it into its graph's Solution, and removes the graph once every
// task has reported or any one of them failed.
func (m *Master) onTaskInfo(agentKey graph.Key, info wire.TaskInfo) {
	logger.Infow("taskinfo", "agent", agentKey, "task", info.TaskID, "status", info.Status)

	if a, ok := m.agents[agentKey]; ok {
		a.release(info.TaskID)
	}

	g, ok := m.graphs[info.TaskID.Graph]
	if ok {
		if _, placed := g.Placement[info.TaskID]; placed {
			delete(g.Placement, info.TaskID)
			g.Solution.TaskInfos = append(g.Solution.TaskInfos, info)
		}
		failed := info.Status == wire.TaskFailed || info.Status == wire.TaskKilled
		if failed || len(g.Placement) == 0 {
			if failed && g.Solution.What == "" {
				g.Solution.What = fmt.Sprintf("task %v failed on %s: %s", info.TaskID, info.Host, info.Code)
			}
			m.removeGraph(g.Key)
		}
	}

	m.dequeue()
}

// removeAgent tears down a broken agent connection and fails every graph
// that had a task placed on it — the master does not attempt to reassign
// a partially-placed graph's remaining tasks, matching
// original_source/src/kernel/master.cpp's TODO-marked _remove_agent.
func (m *Master) removeAgent(key graph.Key) {
	a, ok := m.agents[key]
	if !ok {
		return
	}

	affected := make(map[graph.Key]bool)
	for id := range a.Tasks {
		affected[id.Graph] = true
	}
	for gk := range affected {
		if g, ok := m.graphs[gk]; ok {
			g.Solution.What = fmt.Sprintf("agent %s disconnected", a.Host)
		}
		m.removeGraph(gk)
	}

	a.ch.Close()
	delete(m.agents, key)
	logger.Warnw("agent removed", "agent", key, "host", a.Host)
}

// removeGraph kills every task still placed for key, sends its final
// Solution to the submitter, and drops it from the queue.
func (m *Master) removeGraph(key graph.Key) {
	g, ok := m.graphs[key]
	if !ok {
		return
	}
	for taskID, agentKey := range g.Placement {
		if a, ok := m.agents[agentKey]; ok {
			a.ch.Send(wire.KillTaskMessage(wire.KillTask{TaskID: taskID}))
		}
	}

	g.ch.Send(wire.SolutionMessage(g.Solution))
	g.ch.Close()
	delete(m.graphs, key)

	kept := m.queue[:0]
	for _, k := range m.queue {
		if k != key {
			kept = append(kept, k)
		}
	}
	m.queue = kept

	logger.Infow("graph removed", "graph", key, "what", g.Solution.What)
}

// enqueue proves a packing exists for g's containers against the
// cluster's current free capacity and, if so, appends it to the
// scheduling queue (original_source's _try_enqueue).
func (m *Master) enqueue(g *graphState) bool {
	if _, ok := schedule(g.Topology.Containers, m.agentSlice()); !ok {
		return false
	}
	m.queue = append(m.queue, g.Key)
	logger.Infow("graph enqueued", "graph", g.Key, "queueSize", len(m.queue))
	return true
}

// dequeue walks the FIFO queue from the front, committing a packing for
// every graph it can place and stopping at the first it cannot — a later
// resource or taskinfo event may unblock it (original_source's _dequeue).
func (m *Master) dequeue() int {
	n := 0
	for len(m.queue) > 0 {
		key := m.queue[0]
		g, ok := m.graphs[key]
		if !ok {
			m.queue = m.queue[1:]
			n++
			continue
		}
		placement, ok := schedule(g.Topology.Containers, m.agentSlice())
		if !ok {
			break
		}
		m.commit(g, placement)
		m.queue = m.queue[1:]
		n++
	}
	return n
}

// commit assigns each container in placement to its chosen agent's CPU
// bins and sends that agent the per-container topology extraction.
func (m *Master) commit(g *graphState, placement map[graph.Key]graph.Key) {
	for _, c := range g.Topology.Containers {
		agentKey := placement[c.Key]
		a := m.agents[agentKey]
		taskID := graph.TaskID{Graph: g.Key, Container: c.Key}

		a.reserve(taskID, c.Resource)
		g.Placement[taskID] = agentKey

		proj := g.Topology.Extract(c.Key)
		if err := a.ch.Send(wire.TopologyMessage(*proj)); err != nil {
			logger.Errorw("failed to dispatch topology", "agent", agentKey, "task", taskID, "error", err)
		}
	}
	logger.Infow("graph scheduled", "graph", g.Key, "containers", len(g.Topology.Containers))
}

func (m *Master) agentSlice() []*agentState {
	agents := make([]*agentState, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	return agents
}

// reserve marks res.NumCPUs free bins as occupied by taskID and debits
// res from the agent's released capacity.
func (a *agentState) reserve(taskID graph.TaskID, res graph.Resources) {
	assigned := 0
	for i := range a.CPUBins {
		if assigned >= res.NumCPUs {
			break
		}
		if a.CPUBins[i].Task == nil {
			id := taskID
			a.CPUBins[i].Task = &id
			assigned++
		}
	}
	a.Released.NumCPUs -= res.NumCPUs
	a.Released.MemoryBytes -= res.MemoryBytes
	a.Released.SpaceBytes -= res.SpaceBytes
	a.Tasks[taskID] = res
}

// release frees every CPU bin held by taskID and credits its resources
// back to the agent.
func (a *agentState) release(taskID graph.TaskID) {
	res, ok := a.Tasks[taskID]
	if !ok {
		return
	}
	for i := range a.CPUBins {
		if a.CPUBins[i].Task != nil && *a.CPUBins[i].Task == taskID {
			a.CPUBins[i].Task = nil
		}
	}
	a.Released.NumCPUs += res.NumCPUs
	a.Released.MemoryBytes += res.MemoryBytes
	a.Released.SpaceBytes += res.SpaceBytes
	delete(a.Tasks, taskID)
}

// Snapshot returns a point-in-time read-only view of every agent and graph
// the master currently tracks, for the /status JSON endpoint. Safe to call
// from any goroutine: the read runs on the owner goroutine via
// event.Promise, same as every mutation.
func (m *Master) Snapshot() status.ClusterInfo {
	info, _ := event.Promise(m.reactor, func() (status.ClusterInfo, error) {
		var info status.ClusterInfo
		for _, a := range m.agents {
			info.Agents = append(info.Agents, status.AgentSummary{
				Key:         int64(a.Key),
				Host:        a.Host,
				NumCPUs:     a.Resource.NumCPUs,
				MemoryBytes: a.Resource.MemoryBytes,
				SpaceBytes:  a.Resource.SpaceBytes,
				FreeCPUs:    a.Released.NumCPUs,
				FreeMemory:  a.Released.MemoryBytes,
				FreeSpace:   a.Released.SpaceBytes,
				NumTasks:    len(a.Tasks),
			})
		}
		queued := make(map[graph.Key]bool, len(m.queue))
		for _, k := range m.queue {
			queued[k] = true
		}
		for _, g := range m.graphs {
			numContainers := 0
			if g.Topology != nil {
				numContainers = len(g.Topology.Containers)
			}
			info.Graphs = append(info.Graphs, status.GraphSummary{
				Key:           int64(g.Key),
				NumContainers: numContainers,
				NumPlaced:     len(g.Placement),
				Queued:        queued[g.Key],
			})
		}
		return info, nil
	}).Get()
	return info
}

// Dispatch runs the master's reactor loop until it is stopped.
func (m *Master) Dispatch() { m.reactor.Dispatch() }

// Close tears down the master's listeners and reactor.
func (m *Master) Close() error {
	if m.agentListener != nil {
		m.agentListener.Close()
	}
	if m.graphListener != nil {
		m.graphListener.Close()
	}
	if m.status != nil {
		m.status.Close()
	}
	return m.reactor.Close()
}
