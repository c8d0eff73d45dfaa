// Package agent implements the per-host daemon of spec.md section 4.6: it
// registers its Resource with the master, accepts deployed Topologies,
// waits for every inter-stream frontier a task needs before spawning its
// container, and relays task status back to the master.
package agent

import (
	"fmt"
	"net"
	"os"

	"github.com/flowmesh/dtc/channel"
	"github.com/flowmesh/dtc/container"
	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/env"
	"github.com/flowmesh/dtc/errc"
	"github.com/flowmesh/dtc/event"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/log"
	"github.com/flowmesh/dtc/status"
	"github.com/flowmesh/dtc/wire"
)

var logger = log.New("component", "agent")

// Agent owns one event.Reactor driving the master control channel, the
// frontier listener, and every deployed task's executor control channel.
type Agent struct {
	reactor *event.Reactor

	master *channel.Channel

	tasks     map[string]*task
	frontiers []frontier
	listener  net.Listener

	resource graph.Resources
	status   *status.Server
}

func taskKey(id graph.TaskID) string { return fmt.Sprintf("%d/%d", id.Graph, id.Container) }

// New dials the master, registers this host's Resource, and starts the
// frontier listener.
func New(numCPUs int, memoryBytes, spaceBytes int64) (*Agent, error) {
	r, err := event.New(env.NumCPU(0))
	if err != nil {
		return nil, err
	}
	ag := &Agent{
		reactor:  r,
		tasks:    make(map[string]*task),
		resource: graph.Resources{NumCPUs: numCPUs, MemoryBytes: memoryBytes, SpaceBytes: spaceBytes},
	}

	if err := ag.dialMaster(numCPUs, memoryBytes, spaceBytes); err != nil {
		return nil, err
	}
	if err := ag.listenFrontiers(); err != nil {
		return nil, err
	}

	ag.status = status.New(fmt.Sprintf(":%d", env.WebUIListenerPort()))
	ag.status.RegisterHealthz()
	ag.status.RegisterAgentStatus(ag.Snapshot, env.StatusUser(), env.StatusPassword())
	go func() {
		if err := ag.status.Start(); err != nil {
			logger.Warnw("status server stopped", "error", err)
		}
	}()

	return ag, nil
}

// Snapshot returns a point-in-time read-only view of this agent's
// resources and currently deployed tasks, for the /status JSON endpoint.
// Safe to call from any goroutine: the read runs on the owner goroutine
// via event.Promise, same as every mutation.
func (ag *Agent) Snapshot() status.AgentInfo {
	info, _ := event.Promise(ag.reactor, func() (status.AgentInfo, error) {
		info := status.AgentInfo{
			Host:        env.ThisHost(),
			NumCPUs:     ag.resource.NumCPUs,
			MemoryBytes: ag.resource.MemoryBytes,
			SpaceBytes:  ag.resource.SpaceBytes,
		}
		for _, t := range ag.tasks {
			info.Tasks = append(info.Tasks, status.TaskSummary{
				Graph:     int64(t.id.Graph),
				Container: int64(t.id.Container),
				Phase:     t.phase.String(),
			})
		}
		return info, nil
	}).Get()
	return info
}

func (ag *Agent) dialMaster(numCPUs int, memoryBytes, spaceBytes int64) error {
	addr := fmt.Sprintf("%s:%d", env.MasterHost(), env.AgentListenerPort())
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	dev, err := device.FromConn(conn)
	if err != nil {
		return err
	}

	ag.master = channel.InsertChannel(ag.reactor, dev).
		OnBrokenIO(func(wire.BrokenIO) {
			logger.Errorw("lost connection to master, exiting")
			panic("agent: master connection broken")
		}).
		OnTopology(func(tpg *graph.Topology) { ag.insertTask(tpg) }).
		OnKillTask(func(k wire.KillTask) { ag.removeTask(k.TaskID, true) }).
		Done()

	resource := wire.Resource{
		Host:        env.ThisHost(),
		NumCPUs:     int32(numCPUs),
		MemoryBytes: memoryBytes,
		SpaceBytes:  spaceBytes,
	}
	return ag.master.Send(wire.ResourceMessage(resource))
}

func (ag *Agent) listenFrontiers() error {
	addr := fmt.Sprintf(":%d", env.FrontierListenerPort())
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ag.listener = l

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			dev, err := device.FromConn(conn)
			if err != nil {
				continue
			}
			ag.readFrontierPacket(dev)
		}
	}()
	return nil
}

// readFrontierPacket blocks (briefly, on a freshly accepted connection) for
// the fixed-layout wire.FrontierPacket the executor sends as the first
// bytes of a frontier connection, then hands the socket off to the owning
// reactor goroutine.
func (ag *Agent) readFrontierPacket(dev device.Device) {
	pkt, err := wire.ReadFrontierPacket(dev)
	if err != nil {
		logger.Warnw("bad frontier packet", "error", err)
		dev.Close()
		return
	}
	logger.Debugw("frontier received", "stream", pkt.Stream, "fd", dev.Fd())

	event.Promise(ag.reactor, func() (struct{}, error) {
		ag.insertFrontier(frontier{graph: pkt.Graph, stream: pkt.Stream, dev: dev})
		return struct{}{}, nil
	})
}

// insertFrontier matches f against every Hatchery-phase task; a match that
// completes a task's frontier set triggers deployment.
func (ag *Agent) insertFrontier(f frontier) {
	for _, t := range ag.tasks {
		if t.phase != phaseHatchery || !t.match(f) {
			continue
		}
		t.frontiers = append(t.frontiers, f)
		if t.ready() {
			if err := ag.deploy(t); err != nil {
				logger.Errorw("deploy failed", "task", t, "error", err)
				ag.removeTaskLocked(t.id, false)
			}
		}
		return
	}
	ag.frontiers = append(ag.frontiers, f)
}

// insertTask registers a newly assigned Topology as a Hatchery task,
// splicing in any frontiers that arrived before it did, and deploys
// immediately if it needed none.
func (ag *Agent) insertTask(tpg *graph.Topology) {
	id := graph.TaskID{Graph: tpg.Graph, Container: tpg.TopologyID}

	interStreams := 0
	for i := range tpg.Streams {
		if !tpg.Streams[i].Intra(tpg) {
			interStreams++
		}
	}

	t := &task{id: id, tpg: tpg, phase: phaseHatchery, numInterStreams: interStreams}
	ag.frontiers = t.spliceFrontiers(ag.frontiers)
	ag.tasks[taskKey(id)] = t

	if !t.ready() {
		return
	}
	if err := ag.deploy(t); err != nil {
		logger.Errorw("deploy failed", "task", t, "error", err)
		ag.removeTaskLocked(id, false)
	}
}

// deploy spawns the task's container and hands it its topology over a fresh
// control socketpair, per spec.md section 4.6/9.
func (ag *Agent) deploy(t *task) error {
	logger.Infow("deploying task", "task", t)

	t.tpg.Runtime.Set(graph.RuntimeExecutionMode, "distributed")
	t.tpg.Runtime.SetPairs(graph.RuntimeFrontiers, t.frontiersRuntime())

	agentSide, execSide, err := device.Socketpair()
	if err != nil {
		return err
	}
	t.tpg.Runtime.SetInt(graph.RuntimeTopologyFD, 3)

	execFile, err := devFile(execSide)
	if err != nil {
		execSide.Close()
		agentSide.Close()
		return err
	}
	childEnv := append(os.Environ(), "DTC_TOPOLOGY_FD=3", "DTC_EXECUTION_MODE=distributed")

	proc, err := container.Spawn(container.Spec{
		Argv:       t.tpg.Runtime.SubmitArgv(),
		Env:        childEnv,
		ExtraFiles: []*os.File{execFile},
	})
	if err != nil {
		execSide.Close()
		agentSide.Close()
		return err
	}
	execSide.Close()

	t.proc = proc
	t.cgroup = container.NewCGroup(fmt.Sprintf("%d-%d", t.id.Graph, t.id.Container))
	for _, c := range t.tpg.Containers {
		if c.Key != t.id.Container {
			continue
		}
		t.cgroup.SetCPUQuota(c.Resource.NumCPUs)
		t.cgroup.SetMemoryLimit(c.Resource.MemoryBytes)
		break
	}
	t.cgroup.AddPid(proc.Pid())

	ctrl := newControlChannel(ag, t.id, agentSide)
	t.ctrl = ctrl
	t.phase = phaseExecutor

	return ctrl.ch.Send(wire.TopologyMessage(*t.tpg))
}

func (ag *Agent) removeTask(id graph.TaskID, kill bool) {
	event.Promise(ag.reactor, func() (struct{}, error) {
		ag.removeTaskLocked(id, kill)
		return struct{}{}, nil
	})
}

// removeTaskLocked tears down a task the agent itself decided to remove
// (a master KillTask, a spawn failure, or a broken control channel) and
// synthesizes the wire.TaskInfo report for it, since in these cases no
// such report ever arrived from the executor.
func (ag *Agent) removeTaskLocked(id graph.TaskID, kill bool) {
	t, ok := ag.cleanupTask(id, kill)
	if !ok {
		return
	}

	var status wire.TaskStatus
	var code errc.Code
	switch {
	case t.phase == phaseHatchery:
		status, code = wire.TaskFailed, errc.SpawnFailure
	case kill:
		status, code = wire.TaskKilled, errc.OK
	default:
		status, code = wire.TaskFailed, errc.BrokenIO
	}

	ag.master.Send(wire.TaskInfoMessage(wire.TaskInfo{
		TaskID: id, Host: env.ThisHost(), Status: status, Code: code,
	}))
}

// finishTask tears down a task whose terminal wire.TaskInfo was already
// relayed verbatim from the executor (controlChannel.OnTaskInfo) — no
// synthesized report is sent here, since that would duplicate it.
func (ag *Agent) finishTask(id graph.TaskID) {
	ag.cleanupTask(id, false)
}

// cleanupTask removes id from the task table, killing/reaping its
// container process and releasing its cgroup if it had one spawned.
func (ag *Agent) cleanupTask(id graph.TaskID, kill bool) (*task, bool) {
	key := taskKey(id)
	t, ok := ag.tasks[key]
	if !ok {
		return nil, false
	}
	delete(ag.tasks, key)

	if t.phase != phaseHatchery {
		if kill && t.proc != nil {
			t.proc.Kill()
		}
		if t.proc != nil {
			t.proc.Wait()
		}
		if t.ctrl != nil {
			t.ctrl.ch.Close()
		}
		if t.cgroup != nil {
			t.cgroup.Remove()
		}
	}
	return t, true
}

// devFile wraps d's fd as an *os.File for use in exec.Cmd.ExtraFiles.
func devFile(d device.Device) (*os.File, error) {
	f := os.NewFile(uintptr(d.Fd()), "")
	if f == nil {
		return nil, fmt.Errorf("agent: invalid fd %d", d.Fd())
	}
	return f, nil
}

// Dispatch runs the agent's reactor loop until it is stopped.
func (ag *Agent) Dispatch() { ag.reactor.Dispatch() }

// Close tears down the agent's listeners and reactor.
func (ag *Agent) Close() error {
	if ag.listener != nil {
		ag.listener.Close()
	}
	if ag.master != nil {
		ag.master.Close()
	}
	if ag.status != nil {
		ag.status.Close()
	}
	return ag.reactor.Close()
}
