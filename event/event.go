// Package event implements the single-owner reactor: a Dispatch loop that
// demultiplexes device readiness and timer expiry into user-supplied
// Handler callbacks (spec.md section 4.2).
package event

import (
	"time"

	"github.com/flowmesh/dtc/device"
)

// Kind distinguishes the four event varieties the reactor schedules.
type Kind int

const (
	// Timeout fires once, at deadline.
	Timeout Kind = iota
	// Periodic fires repeatedly, every duration, until Removed.
	Periodic
	// Read fires when the bound device has bytes available.
	Read
	// Write fires when the bound device can accept more bytes.
	Write
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Periodic:
		return "periodic"
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// Signal is a Handler's verdict on what the reactor should do with the
// event next.
type Signal int

const (
	// Default re-arms Read/Write/Periodic events; Timeout events are
	// always one-shot regardless of the returned signal.
	Default Signal = iota
	// Remove drops the event from the reactor after the handler returns.
	Remove
)

// Handler is invoked on one of the reactor's worker goroutines when an
// event activates; the owner goroutine applies the returned Signal.
type Handler func(*Event) Signal

// Event is a single thing the reactor is watching: a timer or a device's
// readiness. Events are not safe for concurrent field access outside the
// reactor that owns them; all mutation happens on the owner goroutine via
// Insert/Remove/Freeze/Thaw.
type Event struct {
	kind Kind
	dev  device.Device

	deadline time.Time
	duration time.Duration // Periodic only

	handler Handler

	seq     uint64 // monotonically assigned, used only for tie-break scrambling
	index   int    // position in the timer heap, -1 when not queued
	armed   bool   // currently registered with the epoll demultiplexer
	removed bool
}

// NewTimeout schedules h to run once after d elapses.
func NewTimeout(d time.Duration, h Handler) *Event {
	return &Event{kind: Timeout, deadline: time.Now().Add(d), handler: h, index: -1}
}

// NewPeriodic schedules h to run every d, starting after the first d.
func NewPeriodic(d time.Duration, h Handler) *Event {
	return &Event{kind: Periodic, duration: d, deadline: time.Now().Add(d), handler: h, index: -1}
}

// NewRead schedules h to run whenever dev has bytes ready to read.
func NewRead(dev device.Device, h Handler) *Event {
	return &Event{kind: Read, dev: dev, handler: h, index: -1}
}

// NewWrite schedules h to run whenever dev can accept a write.
func NewWrite(dev device.Device, h Handler) *Event {
	return &Event{kind: Write, dev: dev, handler: h, index: -1}
}

// Kind reports which of the four event varieties this is.
func (e *Event) Kind() Kind { return e.kind }

// Device returns the bound device for Read/Write events, nil otherwise.
func (e *Event) Device() device.Device { return e.dev }

// Deadline returns the next scheduled firing time for Timeout/Periodic
// events.
func (e *Event) Deadline() time.Time { return e.deadline }
