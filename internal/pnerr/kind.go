// Package pnerr implements the platform-neutral error taxonomy shared by
// ev-port, pal-socket and ws-connection. Native errno/Winsock codes are
// translated to a Kind at the PAL boundary; nothing above that boundary
// ever inspects an os-specific error value.
//
// Adapted from the errclass package in github.com/bassosimone/nop, which
// classifies native errno values into short descriptive strings; Kind
// generalizes that idea into the closed enumeration used for recovery
// decisions (retry vs reconnect vs surface) throughout this module.
package pnerr

import "errors"

// Kind is the canonical, OS-independent error classification.
type Kind int

const (
	KindOK Kind = iota

	// Transient — recovered by re-arming the event handle or rescheduling.
	KindRetry
	KindWaiting
	KindTimeout
	KindBusy

	// Connectivity — drive reconnect at ws-connection; surfaced at pal-socket.
	KindClosed
	KindReset
	KindRefused
	KindNetwork
	KindHostUnknown
	KindNoAddress
	KindNoHost
	KindShutdown
	KindConnecting
	// KindAborted marks buffers completed by ioqueue.Queue.Abort on close;
	// unlike the kinds above it is not a Connectivity kind.
	KindAborted

	// Argument / programmer errors — never recovered, surfaced synchronously.
	KindFault
	KindArg
	KindNotSupported
	KindBadState
	KindAlreadyExists
	KindNotFound

	// Resource errors — surfaced; some layers may defer and retry.
	KindOutOfMemory
	KindNoMore
	KindDiskIO

	// Fatal — for ws-connection these still trigger a reconnect cycle.
	KindFatal
	KindUnknown
	KindNotImpl
)

// String names a Kind for logging.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRetry:
		return "retry"
	case KindWaiting:
		return "waiting"
	case KindTimeout:
		return "timeout"
	case KindBusy:
		return "busy"
	case KindClosed:
		return "closed"
	case KindReset:
		return "reset"
	case KindRefused:
		return "refused"
	case KindNetwork:
		return "network"
	case KindHostUnknown:
		return "host_unknown"
	case KindNoAddress:
		return "no_address"
	case KindNoHost:
		return "no_host"
	case KindShutdown:
		return "shutdown"
	case KindConnecting:
		return "connecting"
	case KindAborted:
		return "aborted"
	case KindFault:
		return "fault"
	case KindArg:
		return "arg"
	case KindNotSupported:
		return "not_supported"
	case KindBadState:
		return "bad_state"
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindNoMore:
		return "nomore"
	case KindDiskIO:
		return "disk_io"
	case KindFatal:
		return "fatal"
	case KindNotImpl:
		return "not_impl"
	default:
		return "unknown"
	}
}

// Transient reports whether err is recovered internally by re-arming the
// event handle or rescheduling, rather than bubbling to the caller.
func (k Kind) Transient() bool {
	switch k {
	case KindRetry, KindWaiting, KindTimeout, KindBusy:
		return true
	default:
		return false
	}
}

// Connectivity reports whether k should drive ws-connection's reconnect
// cycle when observed above pal-socket.
func (k Kind) Connectivity() bool {
	switch k {
	case KindClosed, KindReset, KindRefused, KindNetwork, KindHostUnknown,
		KindNoAddress, KindNoHost, KindShutdown, KindConnecting:
		return true
	default:
		return false
	}
}

// Error is a structured error carrying a Kind plus the operation and
// underlying cause, modeled on the teacher's api.Error{Code,Message,Context}.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, pnerr.Kind) style comparisons against a
// sentinel *Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a structured error for kind k, tagging the failing operation.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Sentinel returns a comparable *Error carrying only a Kind, for use with
// errors.Is(err, pnerr.Sentinel(pnerr.KindBadState)).
func Sentinel(k Kind) *Error { return &Error{Kind: k} }

// KindOf extracts the Kind from err, defaulting to KindUnknown when err
// does not carry one.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
