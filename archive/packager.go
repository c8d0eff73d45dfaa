package archive

import (
	"errors"

	"github.com/flowmesh/dtc/streambuf"
)

// ErrShortFrame is returned by InputPackager.Next when the currently
// buffered bytes do not yet contain a complete length-prefixed frame
// (spec.md section 8 property 3, scenario S2): the caller should Sync more
// bytes off the device and retry.
var ErrShortFrame = errors.New("archive: short frame")

// frameHeaderSize is the width of the length prefix placed ahead of every
// packaged message.
const frameHeaderSize = 4

// OutputPackager frames whole messages on top of an OutputBuffer: each Send
// reserves a uint32 placeholder, archives the message, then back-patches
// the placeholder with the encoded length. This lets a single Archiver
// transaction (Call) write directly into the stream without knowing its
// own length in advance, mirroring the source's write-then-patch Packager.
type OutputPackager struct {
	out *streambuf.OutputBuffer
}

// NewOutputPackager wraps out for framed sends.
func NewOutputPackager(out *streambuf.OutputBuffer) *OutputPackager {
	return &OutputPackager{out: out}
}

// Send archives values as one length-prefixed frame.
func (p *OutputPackager) Send(values ...Archivable) error {
	p.out.Lock()
	defer p.out.Unlock()

	start := p.out.OutAvailLocked()
	var placeholder [frameHeaderSize]byte
	if _, err := p.out.WriteLocked(placeholder[:]); err != nil {
		return err
	}

	a := &Archiver{out: p.out}
	for _, v := range values {
		if err := v.Archive(a); err != nil {
			return err
		}
	}

	end := p.out.OutAvailLocked()
	frameLen := uint32(end - start - frameHeaderSize)

	return p.out.PatchLocked(start, encodeUint32(frameLen))
}

// InputPackager de-frames messages off an InputBuffer: Next reports
// ErrShortFrame until a whole frame has been buffered, at which point the
// caller can hand the returned Archiver to an Archivable's Archive method.
type InputPackager struct {
	in *streambuf.InputBuffer
}

// NewInputPackager wraps in for framed receives.
func NewInputPackager(in *streambuf.InputBuffer) *InputPackager {
	return &InputPackager{in: in}
}

// Next reports whether a complete frame is buffered and, if so, consumes
// the frame's length header and returns an Archiver reading from in at the
// start of the frame's body; the body is consumed as the caller decodes
// it. If the frame is incomplete, in is left untouched so a subsequent Sync
// can append more bytes before retrying.
func (p *InputPackager) Next() (*Archiver, error) {
	p.in.Lock()
	defer p.in.Unlock()

	var header [frameHeaderSize]byte
	if p.in.CopyLocked(header[:]) != frameHeaderSize {
		return nil, ErrShortFrame
	}

	frameLen := int(decodeUint32(header[:]))
	if p.in.InAvailLocked() < frameHeaderSize+frameLen {
		return nil, ErrShortFrame
	}

	p.in.DropLocked(frameHeaderSize)
	return &Archiver{in: p.in}, nil
}

// Receive is a convenience wrapper around Next that archives values from
// the next complete frame, if any.
func (p *InputPackager) Receive(values ...Archivable) error {
	a, err := p.Next()
	if err != nil {
		return err
	}
	for _, v := range values {
		if err := v.Archive(a); err != nil {
			return err
		}
	}
	return nil
}

func encodeUint32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func decodeUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
