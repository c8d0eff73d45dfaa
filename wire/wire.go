// Package wire defines the control-channel messages exchanged between
// master, agent, and executor (spec.md section 6): resource reports,
// topology submissions, task status, kill requests, scheduling solutions,
// and broken-IO notices. Every message implements archive.Archivable and
// is sent through a channel.Channel, which frames it with
// archive.OutputPackager/InputPackager — except FrontierPacket, a fixed
// two-int64 layout sent unframed directly over a freshly dialed frontier
// socket (spec.md section 6, section 8 scenario S6).
package wire

import (
	"time"

	"github.com/flowmesh/dtc/archive"
	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/errc"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/streambuf"
)

// Resource reports one agent's total and available capacity to the
// master.
type Resource struct {
	Host        string
	NumCPUs     int32
	MemoryBytes int64
	SpaceBytes  int64
}

func (r *Resource) Archive(a *archive.Archiver) error {
	if err := a.String(&r.Host); err != nil {
		return err
	}
	if err := a.Int32(&r.NumCPUs); err != nil {
		return err
	}
	if err := a.Int64(&r.MemoryBytes); err != nil {
		return err
	}
	return a.Int64(&r.SpaceBytes)
}

// TaskStatus is the lifecycle state of one container-bound task as seen
// by the agent running it.
type TaskStatus int32

const (
	TaskHatchery TaskStatus = iota
	TaskReady
	TaskRunning
	TaskFinished
	TaskFailed
	TaskKilled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskHatchery:
		return "hatchery"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskFinished:
		return "finished"
	case TaskFailed:
		return "failed"
	case TaskKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// TaskInfo reports a task's current status to the master, optionally
// carrying an errc.Code when Status is TaskFailed.
type TaskInfo struct {
	TaskID graph.TaskID
	Host   string
	Status TaskStatus
	Code   errc.Code
}

func (t *TaskInfo) Archive(a *archive.Archiver) error {
	if err := a.Int64((*int64)(&t.TaskID.Graph)); err != nil {
		return err
	}
	if err := a.Int64((*int64)(&t.TaskID.Container)); err != nil {
		return err
	}
	if err := a.String(&t.Host); err != nil {
		return err
	}
	var status int32 = int32(t.Status)
	if err := a.Int32(&status); err != nil {
		return err
	}
	t.Status = TaskStatus(status)
	var code uint8 = uint8(t.Code)
	if err := a.Uint8(&code); err != nil {
		return err
	}
	t.Code = errc.Code(code)
	return nil
}

// KillTask asks the agent hosting TaskID.Container to tear it down.
type KillTask struct {
	TaskID graph.TaskID
}

func (k *KillTask) Archive(a *archive.Archiver) error {
	if err := a.Int64((*int64)(&k.TaskID.Graph)); err != nil {
		return err
	}
	return a.Int64((*int64)(&k.TaskID.Container))
}

// Solution is the master's final report for a submitted graph: the
// TaskInfo each of its placed tasks reported back, and a What that is
// non-empty only when the graph was rejected or failed (spec.md section 7
// resource-denied / fatal-config).
type Solution struct {
	Graph     graph.Key
	TaskInfos []TaskInfo
	What      string
}

func (s *Solution) Archive(a *archive.Archiver) error {
	if err := a.Int64((*int64)(&s.Graph)); err != nil {
		return err
	}
	if err := archive.Slice(a, &s.TaskInfos, func(a *archive.Archiver, v *TaskInfo) error { return v.Archive(a) }); err != nil {
		return err
	}
	return a.String(&s.What)
}

// BrokenIO notifies the peer that a channel is about to close, carrying
// the errc.Code that triggered it (spec.md section 7).
type BrokenIO struct {
	Code errc.Code
}

func (b *BrokenIO) Archive(a *archive.Archiver) error {
	var code uint8 = uint8(b.Code)
	if err := a.Uint8(&code); err != nil {
		return err
	}
	b.Code = errc.Code(code)
	return nil
}

// FrontierPacket is the fixed, unframed handshake sent over a newly dialed
// frontier connection so the accepting side can splice it onto the right
// stream (spec.md section 6; original_source/src/kernel/agent.cpp
// splice_frontiers).
type FrontierPacket struct {
	Graph  graph.Key
	Stream graph.Key
}

func (f *FrontierPacket) Archive(a *archive.Archiver) error {
	if err := a.Int64((*int64)(&f.Graph)); err != nil {
		return err
	}
	return a.Int64((*int64)(&f.Stream))
}

// ReadFrontierPacket blocks (briefly polling dev, which is non-blocking)
// until a full FrontierPacket has arrived on dev and decodes it. Used by
// the agent's frontier listener on a freshly accepted connection, before
// any channel.Channel exists for it.
func ReadFrontierPacket(dev device.Device) (FrontierPacket, error) {
	in := streambuf.NewInput(dev)
	for in.InAvail() < 16 {
		if _, err := in.Sync(); err != nil {
			return FrontierPacket{}, err
		}
		if in.InAvail() < 16 {
			time.Sleep(time.Millisecond)
		}
	}
	var pkt FrontierPacket
	a := archive.NewInputArchiver(in)
	if err := pkt.Archive(a); err != nil {
		return FrontierPacket{}, err
	}
	return pkt, nil
}

// WriteFrontierPacket sends pkt unframed over dev, used by the executor
// dialing a frontier socket to identify which stream it belongs to.
func WriteFrontierPacket(dev device.Device, pkt FrontierPacket) error {
	out := streambuf.NewOutput(dev)
	a := archive.NewOutputArchiver(out)
	if err := pkt.Archive(a); err != nil {
		return err
	}
	_, err := out.Flush()
	return err
}

// Kind tags which variant a Message holds.
type Kind uint8

const (
	KindResource Kind = iota
	KindTopology
	KindTaskInfo
	KindKillTask
	KindSolution
	KindBrokenIO
)

// Message is the tagged union every framed channel send/receive carries,
// realized via archive.Union (spec.md section 9 design notes: a single
// envelope type in place of the source's virtual message hierarchy).
type Message struct {
	Kind     Kind
	Resource Resource
	Topology graph.Topology
	TaskInfo TaskInfo
	KillTask KillTask
	Solution Solution
	BrokenIO BrokenIO
}

func (m *Message) Archive(a *archive.Archiver) error {
	idx := uint8(m.Kind)
	err := archive.Union(a, &idx,
		func() error { return m.Resource.Archive(a) },
		func() error { return m.Topology.Archive(a) },
		func() error { return m.TaskInfo.Archive(a) },
		func() error { return m.KillTask.Archive(a) },
		func() error { return m.Solution.Archive(a) },
		func() error { return m.BrokenIO.Archive(a) },
	)
	m.Kind = Kind(idx)
	return err
}

// ResourceMessage wraps r as a Message.
func ResourceMessage(r Resource) Message { return Message{Kind: KindResource, Resource: r} }

// TopologyMessage wraps t as a Message.
func TopologyMessage(t graph.Topology) Message { return Message{Kind: KindTopology, Topology: t} }

// TaskInfoMessage wraps t as a Message.
func TaskInfoMessage(t TaskInfo) Message { return Message{Kind: KindTaskInfo, TaskInfo: t} }

// KillTaskMessage wraps k as a Message.
func KillTaskMessage(k KillTask) Message { return Message{Kind: KindKillTask, KillTask: k} }

// SolutionMessage wraps s as a Message.
func SolutionMessage(s Solution) Message { return Message{Kind: KindSolution, Solution: s} }

// BrokenIOMessage wraps b as a Message.
func BrokenIOMessage(b BrokenIO) Message { return Message{Kind: KindBrokenIO, BrokenIO: b} }
