package agent

import (
	"github.com/flowmesh/dtc/channel"
	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/wire"
)

// controlChannel is the agent's end of one task's control socketpair: it
// relays the deployed executor's TaskInfo reports up to the master and
// removes the task locally on a broken connection (spec.md section 4.6,
// original_source/src/kernel/agent.cpp _deploy's insert_channel callback).
type controlChannel struct {
	ag *Agent
	id graph.TaskID
	ch *channel.Channel
}

func newControlChannel(ag *Agent, id graph.TaskID, dev device.Device) *controlChannel {
	cc := &controlChannel{ag: ag, id: id}
	cc.ch = channel.InsertChannel(ag.reactor, dev).
		OnBrokenIO(func(wire.BrokenIO) { ag.removeTaskLocked(id, false) }).
		OnTaskInfo(func(info wire.TaskInfo) {
			ag.master.Send(wire.TaskInfoMessage(info))
			if info.Status == wire.TaskFinished || info.Status == wire.TaskFailed {
				ag.finishTask(id)
			}
		}).
		Done()
	return cc
}
