// Package channel couples a length-prefixed archive.Packager to a
// device.Device and an event.Reactor, dispatching decoded wire.Message
// values to per-type callbacks (spec.md section 4.1 "Channel" row; the
// original's insert_channel(socket)(handlers...) call shape, realized here
// as the teacher's builder-returns-builder fluent style).
package channel

import (
	"github.com/flowmesh/dtc/archive"
	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/errc"
	"github.com/flowmesh/dtc/event"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/streambuf"
	"github.com/flowmesh/dtc/wire"
)

// Channel is a bidirectional, framed, message-typed connection driven by a
// Reactor: an InputPackager decodes wire.Message frames as the device
// becomes readable, and an OutputPackager buffers Send calls until the
// device becomes writable.
type Channel struct {
	reactor *event.Reactor
	dev     device.Device

	out *streambuf.OutputBuffer
	in  *streambuf.InputBuffer
	pkr *archive.OutputPackager
	upk *archive.InputPackager

	readEv  *event.Event
	writeEv *event.Event

	onBrokenIO func(wire.BrokenIO)
	onTopology func(*graph.Topology)
	onTaskInfo func(wire.TaskInfo)
	onKillTask func(wire.KillTask)
	onResource func(wire.Resource)
	onSolution func(wire.Solution)
}

// ChannelBuilder accumulates per-message-type callbacks before Done
// registers the channel's events with the reactor.
type ChannelBuilder struct {
	ch *Channel
}

// InsertChannel starts building a Channel over dev, driven by reactor.
func InsertChannel(reactor *event.Reactor, dev device.Device) *ChannelBuilder {
	out := streambuf.NewOutput(dev)
	in := streambuf.NewInput(dev)
	ch := &Channel{
		reactor: reactor,
		dev:     dev,
		out:     out,
		in:      in,
		pkr:     archive.NewOutputPackager(out),
		upk:     archive.NewInputPackager(in),
	}
	return &ChannelBuilder{ch: ch}
}

// OnBrokenIO sets the callback invoked for a decoded wire.BrokenIO.
func (b *ChannelBuilder) OnBrokenIO(h func(wire.BrokenIO)) *ChannelBuilder {
	b.ch.onBrokenIO = h
	return b
}

// OnTopology sets the callback invoked for a decoded graph.Topology.
func (b *ChannelBuilder) OnTopology(h func(*graph.Topology)) *ChannelBuilder {
	b.ch.onTopology = h
	return b
}

// OnTaskInfo sets the callback invoked for a decoded wire.TaskInfo.
func (b *ChannelBuilder) OnTaskInfo(h func(wire.TaskInfo)) *ChannelBuilder {
	b.ch.onTaskInfo = h
	return b
}

// OnKillTask sets the callback invoked for a decoded wire.KillTask.
func (b *ChannelBuilder) OnKillTask(h func(wire.KillTask)) *ChannelBuilder {
	b.ch.onKillTask = h
	return b
}

// OnResource sets the callback invoked for a decoded wire.Resource.
func (b *ChannelBuilder) OnResource(h func(wire.Resource)) *ChannelBuilder {
	b.ch.onResource = h
	return b
}

// OnSolution sets the callback invoked for a decoded wire.Solution — the
// master's reply to a submitted topology.
func (b *ChannelBuilder) OnSolution(h func(wire.Solution)) *ChannelBuilder {
	b.ch.onSolution = h
	return b
}

// Done registers the channel's read event with the reactor and returns the
// live Channel; the write event is inserted by Send only while output
// remains unflushed.
func (b *ChannelBuilder) Done() *Channel {
	ch := b.ch
	ch.readEv = event.NewRead(ch.dev, ch.onReadable)
	ch.writeEv = event.NewWrite(ch.dev, ch.onWritable)
	ch.reactor.Insert(ch.readEv)
	return ch
}

// onReadable drives one InputBuffer.Sync and decodes every complete frame
// now buffered, dispatching each to its per-type callback.
func (c *Channel) onReadable(_ *event.Event) event.Signal {
	n, err := c.in.Sync()
	if err != nil {
		c.fireBrokenIO(errc.BrokenIO)
		return event.Remove
	}
	if n == 0 && !c.dev.Connected() {
		c.fireBrokenIO(errc.BrokenIO)
		return event.Remove
	}

	for {
		a, err := c.upk.Next()
		if err == archive.ErrShortFrame {
			return event.Default
		}
		if err != nil {
			c.fireBrokenIO(errc.ProtocolError)
			return event.Remove
		}

		var msg wire.Message
		if err := msg.Archive(a); err != nil {
			c.fireBrokenIO(errc.ProtocolError)
			return event.Remove
		}
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg wire.Message) {
	switch msg.Kind {
	case wire.KindBrokenIO:
		if c.onBrokenIO != nil {
			c.onBrokenIO(msg.BrokenIO)
		}
	case wire.KindTopology:
		if c.onTopology != nil {
			c.onTopology(&msg.Topology)
		}
	case wire.KindTaskInfo:
		if c.onTaskInfo != nil {
			c.onTaskInfo(msg.TaskInfo)
		}
	case wire.KindKillTask:
		if c.onKillTask != nil {
			c.onKillTask(msg.KillTask)
		}
	case wire.KindResource:
		if c.onResource != nil {
			c.onResource(msg.Resource)
		}
	case wire.KindSolution:
		if c.onSolution != nil {
			c.onSolution(msg.Solution)
		}
	}
}

func (c *Channel) fireBrokenIO(code errc.Code) {
	if c.onBrokenIO != nil {
		c.onBrokenIO(wire.BrokenIO{Code: code})
	}
}

// onWritable flushes whatever is buffered; the write event stays armed
// (Default) only while bytes remain unsent.
func (c *Channel) onWritable(_ *event.Event) event.Signal {
	if _, err := c.out.Flush(); err != nil {
		c.fireBrokenIO(errc.BrokenIO)
		return event.Remove
	}
	if c.out.OutAvail() > 0 {
		return event.Default
	}
	return event.Remove
}

// Send packages msg onto the output buffer and, if the owner goroutine
// differs from the caller, schedules a flush via a Promise; on the owner
// goroutine it flushes (and arms the write event for any remainder)
// synchronously, matching spec.md section 8 property 2's atomic-send
// guarantee.
func (c *Channel) Send(msg wire.Message) error {
	do := func() error {
		if err := c.pkr.Send(&msg); err != nil {
			return err
		}
		if _, err := c.out.Flush(); err != nil {
			return err
		}
		if c.out.OutAvail() > 0 {
			c.reactor.Insert(c.writeEv)
		}
		return nil
	}

	if c.reactor.IsOwner() {
		return do()
	}
	_, err := event.Promise(c.reactor, func() (struct{}, error) {
		return struct{}{}, do()
	}).Get()
	return err
}

// Close removes the channel's events and releases its device.
func (c *Channel) Close() error {
	c.reactor.Remove(c.readEv, c.writeEv)
	return c.dev.Close()
}
