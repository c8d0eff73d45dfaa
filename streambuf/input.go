package streambuf

import (
	"sync"

	"github.com/flowmesh/dtc/device"
)

// InputBuffer is the symmetric counterpart of OutputBuffer: it grows to
// accommodate device reads and exposes a destructive Read/Drop and a
// non-destructive Copy (peek).
type InputBuffer struct {
	mu     sync.Mutex
	device device.Device
	buf    []byte
	get    int // read cursor into buf
}

// NewInput creates an InputBuffer reading from dev.
func NewInput(dev device.Device) *InputBuffer {
	return NewInputSize(dev, initialCapacity)
}

// NewInputSize creates an InputBuffer reading from dev, preallocated to
// capHint bytes (falling back to initialCapacity if capHint <= 0) — the
// read-side counterpart of NewOutputSize.
func NewInputSize(dev device.Device, capHint int) *InputBuffer {
	if capHint <= 0 {
		capHint = initialCapacity
	}
	return &InputBuffer{device: dev, buf: make([]byte, 0, capHint)}
}

// NewInputFromOutput hands a fully-assembled OutputBuffer to a fresh
// InputBuffer for decoding — the canonical way to test an encoder/decoder
// pair in-process without a real device (spec.md scenario S1). This is the
// "move" form: out is left empty.
func NewInputFromOutput(out *OutputBuffer) *InputBuffer {
	out.mu.Lock()
	defer out.mu.Unlock()

	in := &InputBuffer{device: out.device}
	in.buf = make([]byte, len(out.buf)-out.sent)
	copy(in.buf, out.buf[out.sent:])

	out.buf = out.buf[:0]
	out.sent = 0
	return in
}

// CopyInputFromOutput is the non-destructive ("copy") analogue of
// NewInputFromOutput: out retains its unflushed bytes.
func CopyInputFromOutput(out *OutputBuffer) *InputBuffer {
	out.mu.Lock()
	defer out.mu.Unlock()

	in := &InputBuffer{device: out.device}
	in.buf = make([]byte, len(out.buf)-out.sent)
	copy(in.buf, out.buf[out.sent:])
	return in
}

// InAvail returns the number of unread bytes currently buffered.
func (in *InputBuffer) InAvail() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.buf) - in.get
}

// grow must be called with mu held.
func (in *InputBuffer) grow(extra int) {
	if in.get > 0 && in.get > cap(in.buf)/2 {
		remaining := len(in.buf) - in.get
		copy(in.buf, in.buf[in.get:])
		in.buf = in.buf[:remaining]
		in.get = 0
	}

	if len(in.buf)+extra <= cap(in.buf) {
		return
	}

	newCap := cap(in.buf)
	if newCap == 0 {
		newCap = initialCapacity
	}
	for newCap < len(in.buf)+extra {
		newCap *= 2
	}
	grown := make([]byte, len(in.buf), newCap)
	copy(grown, in.buf)
	in.buf = grown
}

// Sync issues one device read into the tail of the buffer, growing or
// compacting as needed. It returns (0, nil) rather than
// device.ErrWouldBlock when the device currently has nothing to offer.
func (in *InputBuffer) Sync() (n int, err error) {
	in.mu.Lock()
	dev := in.device
	if dev == nil {
		in.mu.Unlock()
		return 0, nil
	}
	in.grow(readChunk)
	start := len(in.buf)
	in.buf = in.buf[:cap(in.buf)]
	in.mu.Unlock()

	n, err = dev.Read(in.buf[start:])

	in.mu.Lock()
	in.buf = in.buf[:start+n]
	in.mu.Unlock()

	if err == device.ErrWouldBlock {
		return 0, nil
	}
	return n, err
}

// readChunk is how much tail space Sync ensures is available before
// issuing a device.Read.
const readChunk = 4096

// Read copies out up to len(p) bytes and advances the read cursor.
func (in *InputBuffer) Read(p []byte) (n int, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ReadLocked(p)
}

// Lock acquires the buffer's mutex for an Archiver transaction; see
// OutputBuffer.Lock for why a single non-recursive mutex suffices here.
func (in *InputBuffer) Lock() { in.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (in *InputBuffer) Unlock() { in.mu.Unlock() }

// ReadLocked is Read without acquiring the lock; the caller must already
// hold it via Lock.
func (in *InputBuffer) ReadLocked(p []byte) (n int, err error) {
	n = copy(p, in.buf[in.get:])
	in.get += n
	return n, nil
}

// InAvailLocked is InAvail without acquiring the lock.
func (in *InputBuffer) InAvailLocked() int {
	return len(in.buf) - in.get
}

// Drop advances the read cursor by n bytes without copying, clamped to
// the available bytes.
func (in *InputBuffer) Drop(n int) (dropped int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.DropLocked(n)
}

// DropLocked is Drop without acquiring the lock; the caller must already
// hold it via Lock.
func (in *InputBuffer) DropLocked(n int) (dropped int) {
	avail := len(in.buf) - in.get
	if n > avail {
		n = avail
	}
	in.get += n
	return n
}

// Copy is a non-destructive peek of up to len(p) unread bytes.
func (in *InputBuffer) Copy(p []byte) (n int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.CopyLocked(p)
}

// CopyLocked is Copy without acquiring the lock; the caller must already
// hold it via Lock.
func (in *InputBuffer) CopyLocked(p []byte) (n int) {
	return copy(p, in.buf[in.get:])
}

// Bytes returns a copy of the unread bytes.
func (in *InputBuffer) Bytes() []byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]byte, len(in.buf)-in.get)
	copy(out, in.buf[in.get:])
	return out
}

// Device returns the buffer's device.
func (in *InputBuffer) Device() device.Device {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.device
}

// SetDevice rebinds the buffer to a new device.
func (in *InputBuffer) SetDevice(dev device.Device) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.device = dev
}
