// Package archive implements the engine's own non-self-describing binary
// wire format (spec.md section 4.1): a recursive encoder/decoder pair
// operating over a streambuf.OutputBuffer/InputBuffer. The reader and
// writer must agree on the type schema at a given position in the stream;
// nothing here is tagged with type information beyond what a caller
// explicitly archives (e.g. a tagged union's index byte).
package archive

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/flowmesh/dtc/streambuf"
)

// ErrShortRead is returned when decoding requires more bytes than are
// currently available in the input buffer.
var ErrShortRead = errors.New("archive: short read")

// Archivable is implemented by user types that know how to encode/decode
// themselves through an Archiver — the Go realization of the source's
// recursive archive(ar) member function, generalized per spec.md section 9
// into a single interface method rather than a macro-generated overload
// set.
type Archivable interface {
	Archive(a *Archiver) error
}

// Archiver is a symmetric encoder/decoder: the same Archive method on a
// user type calls the same sequence of Archiver methods whether the
// Archiver is writing or reading, with each method choosing direction
// based on which buffer is set.
type Archiver struct {
	out *streambuf.OutputBuffer
	in  *streambuf.InputBuffer
}

// NewOutputArchiver wraps out for encoding.
func NewOutputArchiver(out *streambuf.OutputBuffer) *Archiver { return &Archiver{out: out} }

// NewInputArchiver wraps in for decoding.
func NewInputArchiver(in *streambuf.InputBuffer) *Archiver { return &Archiver{in: in} }

// Writing reports whether this Archiver is encoding (true) or decoding
// (false).
func (a *Archiver) Writing() bool { return a.out != nil }

// Call archives each value in order, holding the underlying buffer's lock
// for the whole call so the message is atomic with respect to concurrent
// archivers on the same buffer (spec.md section 8 property 2).
func (a *Archiver) Call(values ...Archivable) error {
	if a.out != nil {
		a.out.Lock()
		defer a.out.Unlock()
	} else {
		a.in.Lock()
		defer a.in.Unlock()
	}

	for _, v := range values {
		if err := v.Archive(a); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archiver) writeLocked(p []byte) error {
	_, err := a.out.WriteLocked(p)
	return err
}

func (a *Archiver) readLocked(p []byte) error {
	n, err := a.in.ReadLocked(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return ErrShortRead
	}
	return nil
}

// Bool archives a bool as a single byte.
func (a *Archiver) Bool(v *bool) error {
	if a.out != nil {
		var b [1]byte
		if *v {
			b[0] = 1
		}
		return a.writeLocked(b[:])
	}
	var b [1]byte
	if err := a.readLocked(b[:]); err != nil {
		return err
	}
	*v = b[0] != 0
	return nil
}

// Int8 archives an int8.
func (a *Archiver) Int8(v *int8) error {
	if a.out != nil {
		return a.writeLocked([]byte{byte(*v)})
	}
	var b [1]byte
	if err := a.readLocked(b[:]); err != nil {
		return err
	}
	*v = int8(b[0])
	return nil
}

// Int16 archives a little-endian int16.
func (a *Archiver) Int16(v *int16) error { return a.uint16As(v) }

// Int32 archives a little-endian int32.
func (a *Archiver) Int32(v *int32) error { return a.uint32As(v) }

// Int64 archives a little-endian int64.
func (a *Archiver) Int64(v *int64) error { return a.uint64As(v) }

// Uint8 archives a uint8.
func (a *Archiver) Uint8(v *uint8) error {
	if a.out != nil {
		return a.writeLocked([]byte{*v})
	}
	var b [1]byte
	if err := a.readLocked(b[:]); err != nil {
		return err
	}
	*v = b[0]
	return nil
}

// Uint16 archives a little-endian uint16.
func (a *Archiver) Uint16(v *uint16) error {
	if a.out != nil {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], *v)
		return a.writeLocked(b[:])
	}
	var b [2]byte
	if err := a.readLocked(b[:]); err != nil {
		return err
	}
	*v = binary.LittleEndian.Uint16(b[:])
	return nil
}

// Uint32 archives a little-endian uint32.
func (a *Archiver) Uint32(v *uint32) error {
	if a.out != nil {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], *v)
		return a.writeLocked(b[:])
	}
	var b [4]byte
	if err := a.readLocked(b[:]); err != nil {
		return err
	}
	*v = binary.LittleEndian.Uint32(b[:])
	return nil
}

// Uint64 archives a little-endian uint64.
func (a *Archiver) Uint64(v *uint64) error {
	if a.out != nil {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], *v)
		return a.writeLocked(b[:])
	}
	var b [8]byte
	if err := a.readLocked(b[:]); err != nil {
		return err
	}
	*v = binary.LittleEndian.Uint64(b[:])
	return nil
}

func (a *Archiver) uint16As(v *int16) error {
	u := uint16(*v)
	if err := a.Uint16(&u); err != nil {
		return err
	}
	*v = int16(u)
	return nil
}

func (a *Archiver) uint32As(v *int32) error {
	u := uint32(*v)
	if err := a.Uint32(&u); err != nil {
		return err
	}
	*v = int32(u)
	return nil
}

func (a *Archiver) uint64As(v *int64) error {
	u := uint64(*v)
	if err := a.Uint64(&u); err != nil {
		return err
	}
	*v = int64(u)
	return nil
}

// Float32 archives an IEEE-754 float32.
func (a *Archiver) Float32(v *float32) error {
	if a.out != nil {
		bits := math.Float32bits(*v)
		return a.Uint32(&bits)
	}
	var bits uint32
	if err := a.Uint32(&bits); err != nil {
		return err
	}
	*v = math.Float32frombits(bits)
	return nil
}

// Float64 archives an IEEE-754 float64.
func (a *Archiver) Float64(v *float64) error {
	if a.out != nil {
		bits := math.Float64bits(*v)
		return a.Uint64(&bits)
	}
	var bits uint64
	if err := a.Uint64(&bits); err != nil {
		return err
	}
	*v = math.Float64frombits(bits)
	return nil
}

// Bytes archives a size-prefixed byte slice.
func (a *Archiver) Bytes(v *[]byte) error {
	if a.out != nil {
		size := uint32(len(*v))
		if err := a.Uint32(&size); err != nil {
			return err
		}
		return a.writeLocked(*v)
	}

	var size uint32
	if err := a.Uint32(&size); err != nil {
		return err
	}
	buf := make([]byte, size)
	if err := a.readLocked(buf); err != nil {
		return err
	}
	*v = buf
	return nil
}

// String archives a size-prefixed string.
func (a *Archiver) String(v *string) error {
	if a.out != nil {
		b := []byte(*v)
		return a.Bytes(&b)
	}
	var b []byte
	if err := a.Bytes(&b); err != nil {
		return err
	}
	*v = string(b)
	return nil
}

// Duration archives a time.Duration as its underlying nanosecond count.
func (a *Archiver) Duration(v *time.Duration) error {
	n := int64(*v)
	if err := a.Int64(&n); err != nil {
		return err
	}
	if a.in != nil {
		*v = time.Duration(n)
	}
	return nil
}

// Time archives a time.Time as nanoseconds since the Unix epoch (UTC).
func (a *Archiver) Time(v *time.Time) error {
	var n int64
	if a.out != nil {
		n = v.UnixNano()
	}
	if err := a.Int64(&n); err != nil {
		return err
	}
	if a.in != nil {
		*v = time.Unix(0, n).UTC()
	}
	return nil
}

// Value archives a single Archivable.
func (a *Archiver) Value(v Archivable) error {
	return v.Archive(a)
}
