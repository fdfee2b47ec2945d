// Package evport provides a single-process readiness notifier over the
// native per-OS selector (epoll, kqueue, poll, or Winsock event-select),
// used by pal-socket to learn when a file descriptor is readable,
// writable, closed or in error.
//
// Grounded on original_source/inc/pal_ev.h and its per-backend
// implementations (pal_ev_epoll.c, pal_ev_kq.c, pal_ev_poll.c,
// pal_ev_win.c): one dedicated worker thread per port drains the
// selector and dispatches to per-fd handlers, with registration mutation
// serialized against the dispatch loop by a single mutex.
package evport

import "github.com/azure-iot/reverse-tunnel/internal/pnerr"

// EventType identifies the kind of edge delivered to a Handler.
type EventType int

const (
	// EventRead fires when the fd has readable bytes; the port keeps
	// re-invoking the handler while it returns true, so the handler can
	// drain a buffer without returning to the reactor.
	EventRead EventType = iota
	// EventWrite fires when the fd can accept more written bytes, with
	// the same re-invoke-while-true loop as EventRead.
	EventWrite
	// EventClose fires once when the selector reports hang-up
	// (EPOLLHUP / EV_EOF / POLLHUP / FD_CLOSE).
	EventClose
	// EventError fires once per reported error condition.
	EventError
	// EventDestroy is dispatched exactly once per registration, during
	// Close, after every other callback for that handle has returned.
	EventDestroy
)

func (e EventType) String() string {
	switch e {
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// Interest is a bitmask of the event types currently selected on a Handle.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// Handler is invoked with the edge observed on a registered fd. It
// returns true to request another EventRead/EventWrite invocation in the
// same dispatch round (drain loop); any other return breaks the loop.
// The handler must never block.
type Handler func(ctx any, event EventType, errKind pnerr.Kind) bool

// Handle is one fd's registration with a Port.
type Handle struct {
	Fd      int
	port    Port
	handler Handler
	ctx     any
	closeFd bool
}

// Port is the contract every per-OS backend implements.
type Port interface {
	// Register attaches handler+ctx to fd, setting it non-blocking, and
	// returns a Handle representing the registration. No interest is
	// selected yet; call Select to arm read/write.
	Register(fd int, handler Handler, ctx any) (*Handle, error)

	// Select adds interest in the given event types (EventRead/EventWrite
	// only) to h.
	Select(h *Handle, interest Interest) error

	// Clear removes interest in the given event types from h.
	Clear(h *Handle, interest Interest) error

	// Close tears down h's registration. If closeFd, the native fd is
	// also closed. EventDestroy is dispatched to h's handler exactly
	// once, after every other pending callback for h has returned.
	Close(h *Handle, closeFd bool) error

	// Shutdown stops the port's worker thread and releases the
	// selector's native resources. It does not close registered fds.
	Shutdown() error
}

// New returns a Port backed by the best selector available on the
// current OS (epoll on linux, kqueue on bsd/darwin, Winsock event-select
// on windows, generic poll elsewhere).
func New() (Port, error) {
	return newPlatformPort()
}
