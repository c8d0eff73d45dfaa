// Package errc defines the small set of typed error codes exchanged over
// the wire (spec.md section 7): would-block, broken-IO, protocol-error,
// resource-denied, spawn-failure, critical-stream-failure, and
// fatal-config. These travel inside wire.BrokenIO/wire.TaskInfo as a plain
// archivable byte rather than as a Go error-wrapping chain, since they
// must survive a process boundary.
package errc

// Code is a wire-archivable error category.
type Code uint8

const (
	// OK reports no error.
	OK Code = iota
	// WouldBlock mirrors device.ErrWouldBlock crossing into a status field.
	WouldBlock
	// BrokenIO is a device error or EOF on a control channel.
	BrokenIO
	// ProtocolError is a malformed or out-of-sequence wire message.
	ProtocolError
	// ResourceDenied is a container whose resource envelope fits no host.
	ResourceDenied
	// SpawnFailure is a vertex program that failed to exec.
	SpawnFailure
	// CriticalStreamFailure is a Stream.Critical stream that broke.
	CriticalStreamFailure
	// FatalConfig is a configuration error discovered at startup.
	FatalConfig
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case WouldBlock:
		return "would-block"
	case BrokenIO:
		return "broken-io"
	case ProtocolError:
		return "protocol-error"
	case ResourceDenied:
		return "resource-denied"
	case SpawnFailure:
		return "spawn-failure"
	case CriticalStreamFailure:
		return "critical-stream-failure"
	case FatalConfig:
		return "fatal-config"
	default:
		return "unknown"
	}
}

// Error adapts a Code to the error interface for use in normal Go control
// flow within one process; wire.BrokenIO/wire.TaskInfo carry the bare Code
// across a process boundary instead of this type.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}

// New wraps code with a message as an error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}
