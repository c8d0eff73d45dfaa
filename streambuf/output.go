// Package streambuf implements the growable, framing-preserving byte
// buffers that sit between a device.Device and an archive.Archiver
// (spec.md section 4.1).
package streambuf

import (
	"errors"
	"sync"

	"github.com/flowmesh/dtc/device"
)

// ErrPatchRange is returned by PatchLocked when the requested offset falls
// outside the currently unsent region of the buffer.
var ErrPatchRange = errors.New("streambuf: patch out of range")

// initialCapacity mirrors the source's small-buffer optimization: a small
// inline region is used until capacity is exceeded, at which point the
// buffer is migrated onto a geometrically doubling heap allocation.
const initialCapacity = 32

// OutputBuffer is a growable ring of bytes waiting to be written to a
// device.Device. All operations are safe for concurrent use: every public
// method takes the buffer's mutex. Because none of OutputBuffer's own
// methods call back into another public OutputBuffer method while holding
// the lock, a single non-recursive sync.Mutex gives the "reentrant flush
// from a write callback" property the source's recursive_mutex provides,
// without needing Go's nonexistent recursive mutex: a write-readiness
// callback is always invoked after the lock has been released (see Flush).
type OutputBuffer struct {
	mu     sync.Mutex
	device device.Device
	buf    []byte
	sent   int // bytes in buf[:sent] already handed to the device
}

// NewOutput creates an OutputBuffer writing to dev.
func NewOutput(dev device.Device) *OutputBuffer {
	return NewOutputSize(dev, initialCapacity)
}

// NewOutputSize creates an OutputBuffer writing to dev, preallocated to
// capHint bytes (falling back to initialCapacity if capHint <= 0) — a
// per-vertex policy tunable, since a vertex that knows it writes large
// records up front can skip several of grow's doublings.
func NewOutputSize(dev device.Device, capHint int) *OutputBuffer {
	if capHint <= 0 {
		capHint = initialCapacity
	}
	return &OutputBuffer{device: dev, buf: make([]byte, 0, capHint)}
}

// Device returns the buffer's device.
func (o *OutputBuffer) Device() device.Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.device
}

// SetDevice rebinds the buffer to a new device (used when an inherited fd
// is attached after construction).
func (o *OutputBuffer) SetDevice(dev device.Device) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.device = dev
}

// OutAvail returns the number of unflushed bytes still pending.
func (o *OutputBuffer) OutAvail() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.OutAvailLocked()
}

// OutAvailLocked is OutAvail without acquiring the lock.
func (o *OutputBuffer) OutAvailLocked() int {
	return len(o.buf) - o.sent
}

// Write appends p to the buffer, growing it as necessary. Write never
// blocks and never partially fails: the bytes are queued for a later Sync
// or Flush.
func (o *OutputBuffer) Write(p []byte) (n int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.WriteLocked(p)
}

// Lock acquires the buffer's mutex for the duration of a multi-value
// Archiver transaction (spec.md section 8 property 2: a top-level
// archiver call is atomic with respect to concurrent archivers sharing one
// buffer). Callers must pair it with Unlock and must use the *Locked
// variants of Write/Read while holding it — the plain Write/Read/Sync/
// Flush methods take the same mutex and would deadlock if called while
// already held.
func (o *OutputBuffer) Lock() { o.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (o *OutputBuffer) Unlock() { o.mu.Unlock() }

// WriteLocked is Write without acquiring the lock; the caller must already
// hold it via Lock.
func (o *OutputBuffer) WriteLocked(p []byte) (n int, err error) {
	o.grow(len(p))
	o.buf = append(o.buf, p...)
	return len(p), nil
}

// PatchLocked overwrites len(p) already-written, not-yet-sent bytes
// starting offset bytes past the current unsent cursor. The caller must
// already hold the lock via Lock. This backs the packager's write-then-
// patch length prefix: offset is captured from OutAvailLocked before the
// bytes being patched were written, and compaction in grow preserves that
// relative offset since it always shifts the unsent region as a whole.
func (o *OutputBuffer) PatchLocked(offset int, p []byte) error {
	pos := o.sent + offset
	if pos < o.sent || pos+len(p) > len(o.buf) {
		return ErrPatchRange
	}
	copy(o.buf[pos:pos+len(p)], p)
	return nil
}

// grow compacts the already-sent prefix once it exceeds half of capacity,
// reusing the freed space instead of reallocating. Must be called with mu
// held.
func (o *OutputBuffer) grow(extra int) {
	if o.sent > 0 && o.sent > cap(o.buf)/2 {
		remaining := len(o.buf) - o.sent
		copy(o.buf, o.buf[o.sent:])
		o.buf = o.buf[:remaining]
		o.sent = 0
	}

	if len(o.buf)+extra <= cap(o.buf) {
		return
	}

	newCap := cap(o.buf)
	if newCap == 0 {
		newCap = initialCapacity
	}
	for newCap < len(o.buf)+extra {
		newCap *= 2
	}
	grown := make([]byte, len(o.buf), newCap)
	copy(grown, o.buf)
	o.buf = grown
}

// Sync performs one device-level write attempt, advancing past however
// many bytes the device accepted. It returns device.ErrWouldBlock without
// error status when the device is not currently writable.
func (o *OutputBuffer) Sync() (n int, err error) {
	o.mu.Lock()
	dev := o.device
	pending := o.buf[o.sent:]
	if len(pending) == 0 || dev == nil {
		o.mu.Unlock()
		return 0, nil
	}
	o.mu.Unlock()

	n, err = dev.Write(pending)
	if n == 0 {
		return 0, err
	}

	o.mu.Lock()
	o.sent += n
	if o.sent == len(o.buf) {
		o.buf = o.buf[:0]
		o.sent = 0
	}
	o.mu.Unlock()

	return n, err
}

// Flush drives Sync until the buffer is empty or the device reports an
// error other than would-block.
func (o *OutputBuffer) Flush() (n int, err error) {
	for {
		avail := o.OutAvail()
		if avail == 0 {
			return n, nil
		}

		wrote, werr := o.Sync()
		n += wrote
		if werr == device.ErrWouldBlock {
			return n, nil
		}
		if werr != nil {
			return n, werr
		}
		if wrote == 0 {
			return n, nil
		}
	}
}

// Copy is a non-destructive peek of up to len(p) unflushed bytes.
func (o *OutputBuffer) Copy(p []byte) (n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copy(p, o.buf[o.sent:])
}

// String returns the unflushed bytes as a string, for tests and debugging.
func (o *OutputBuffer) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return string(o.buf[o.sent:])
}

// Bytes returns a copy of the unflushed bytes.
func (o *OutputBuffer) Bytes() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]byte, len(o.buf)-o.sent)
	copy(out, o.buf[o.sent:])
	return out
}
