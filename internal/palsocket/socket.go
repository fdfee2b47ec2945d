// Package palsocket turns ev-port readiness edges into real OS socket
// operations through a single event callback, the way
// original_source/inc/pal_sk.h and its pal_sk_*.c backends do, re-expressed
// with the teacher's raw-syscall transport style
// (internal/transport/transport_linux.go) instead of a net.Conn facade —
// the framing layer above needs begin/end-style callbacks, not io.Reader.
package palsocket

import (
	"sync"

	"github.com/azure-iot/reverse-tunnel/internal/evport"
	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

// EventType identifies which half of the socket protocol the owner's
// Handler is being asked to service.
type EventType int

const (
	EventOpened EventType = iota
	EventBeginAccept
	EventEndAccept
	EventBeginRecv
	EventEndRecv
	EventBeginSend
	EventEndSend
	EventClosed
)

// SocketType distinguishes the streaming and datagram protocols.
type SocketType int

const (
	TypeStream SocketType = iota
	TypeDatagram
	TypeListener
)

// State is the socket's lifecycle stage.
type State int

const (
	StateCreated State = iota
	StateOpening
	StateOpened
	StateListening
	StateClosing
	StateClosed
)

// Properties configures a Socket at Open time, mirroring
// prx_socket_properties_t: address family, type (the protocol follows
// from it), and the buffer/linger/timeout knobs translated at the
// option layer. Interface is carried but not applied: Open does not
// bind the socket to a named interface.
type Properties struct {
	Family      int // unix.AF_INET, unix.AF_INET6
	Type        SocketType
	Listen      bool
	Address     string // host:port for connect, or bind address for listen
	Interface   string
	SendBufSize int
	RecvBufSize int
	LingerSec   int
	RecvTimeout int // milliseconds
	SendTimeout int // milliseconds
}

// Handler services one Socket's protocol events. op's fields are
// in/out parameters the handler fills for Begin* events and reads for
// End* events; op is nil for EventOpened and EventClosed.
type Handler func(ctx any, event EventType, op *Op, errKind pnerr.Kind)

// Op carries the mutable state exchanged between a Socket and its
// Handler across one Begin/End pair.
type Op struct {
	Buffer []byte
	Size   int
	Addr   string
	Accept *Socket
	Stop   bool
}

// Socket is one event-driven native socket, registered with an ev-port
// for readiness and driven entirely through Handler callbacks.
type Socket struct {
	mu    sync.Mutex
	props Properties
	state State
	fd    int
	tr    transport
	port  evport.Port
	evh   *evport.Handle
	handler Handler
	ctx     any
}

// New constructs a Socket bound to port, ready for Open.
func New(port evport.Port, props Properties, handler Handler, ctx any) *Socket {
	return &Socket{props: props, port: port, handler: handler, ctx: ctx, state: StateCreated}
}

// State reports the socket's current lifecycle stage.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open resolves the configured address, creates and configures the
// native socket, connects or listens as requested, and registers it
// with the event port. EventOpened fires exactly once, carrying the
// open result; on failure the socket transitions straight to
// StateClosed without ever reaching StateOpened.
func (s *Socket) Open() error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return pnerr.New(pnerr.KindBadState, "palsocket.Open", nil)
	}
	s.state = StateOpening
	s.mu.Unlock()

	tr, err := newTransport(s.props)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.handler(s.ctx, EventOpened, nil, pnerr.KindOf(err))
		return err
	}

	h, err := s.port.Register(tr.Fd(), s.onReadiness, nil)
	if err != nil {
		tr.Close()
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.handler(s.ctx, EventOpened, nil, pnerr.KindFault)
		return err
	}

	s.mu.Lock()
	s.tr = tr
	s.fd = tr.Fd()
	s.evh = h
	if s.props.Listen {
		s.state = StateListening
	} else {
		s.state = StateOpened
	}
	s.mu.Unlock()

	if err := s.port.Select(h, evport.InterestRead); err != nil {
		s.port.Close(h, true)
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.handler(s.ctx, EventOpened, nil, pnerr.KindOf(err))
		return err
	}
	s.handler(s.ctx, EventOpened, nil, pnerr.KindOK)
	return nil
}

// CanSend toggles write interest, letting the owner apply back-pressure.
// Returns bad_state once the socket has begun closing, per the
// close-absorbs-operations invariant.
func (s *Socket) CanSend(ready bool) error {
	s.mu.Lock()
	h, closing := s.evh, s.state == StateClosing || s.state == StateClosed
	s.mu.Unlock()
	if h == nil || closing {
		return pnerr.New(pnerr.KindBadState, "palsocket.CanSend", nil)
	}
	if ready {
		return s.port.Select(h, evport.InterestWrite)
	}
	return s.port.Clear(h, evport.InterestWrite)
}

// CanRecv toggles read interest, letting the owner quiesce inbound
// traffic when its queues are full. Returns bad_state once the socket
// has begun closing, per the close-absorbs-operations invariant.
func (s *Socket) CanRecv(ready bool) error {
	s.mu.Lock()
	h, closing := s.evh, s.state == StateClosing || s.state == StateClosed
	s.mu.Unlock()
	if h == nil || closing {
		return pnerr.New(pnerr.KindBadState, "palsocket.CanRecv", nil)
	}
	if ready {
		return s.port.Select(h, evport.InterestRead)
	}
	return s.port.Clear(h, evport.InterestRead)
}

// Close cancels in-flight operations, unregisters from the event port,
// closes the native fd and emits EventClosed exactly once.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	h := s.evh
	s.mu.Unlock()

	if h != nil {
		s.port.Close(h, true)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.handler(s.ctx, EventClosed, nil, pnerr.KindOK)
	return nil
}

// onReadiness is the evport.Handler bound to this socket's fd; it
// translates read/write/close/error edges into the begin/end protocol
// documented on Handler.
func (s *Socket) onReadiness(ctx any, ev evport.EventType, kind pnerr.Kind) bool {
	switch ev {
	case evport.EventRead:
		return s.onReadable()
	case evport.EventWrite:
		return s.onWritable()
	case evport.EventClose:
		s.onEndRecv(nil, pnerr.KindClosed)
		return false
	case evport.EventError:
		s.onEndRecv(nil, kind)
		return false
	case evport.EventDestroy:
		return false
	}
	return false
}

func (s *Socket) onReadable() bool {
	s.mu.Lock()
	listening := s.state == StateListening
	s.mu.Unlock()
	if listening {
		return s.acceptOne()
	}
	return s.recvOne()
}

func (s *Socket) acceptOne() bool {
	op := &Op{}
	s.handler(s.ctx, EventBeginAccept, op, pnerr.KindOK)
	if op.Accept == nil || op.Stop {
		return false
	}
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	fd, peer, err := tr.Accept()
	if err != nil {
		if pnerr.KindOf(err).Transient() {
			return false
		}
		s.handler(s.ctx, EventEndAccept, &Op{Stop: true}, pnerr.KindOf(err))
		return false
	}
	op.Accept.installAccepted(fd, s.port)
	s.handler(s.ctx, EventEndAccept, &Op{Accept: op.Accept, Addr: peer}, pnerr.KindOK)
	return true
}

// installAccepted wires a freshly accepted fd into a socket interface
// the listener's owner supplied via EventBeginAccept.
func (s *Socket) installAccepted(fd int, port evport.Port) error {
	s.mu.Lock()
	s.fd = fd
	s.state = StateOpening
	s.mu.Unlock()
	h, err := port.Register(fd, s.onReadiness, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.evh = h
	s.state = StateOpened
	s.port = port
	s.tr = wrapAcceptedFd(fd)
	s.mu.Unlock()
	return port.Select(h, evport.InterestRead)
}

func (s *Socket) recvOne() bool {
	op := &Op{}
	s.handler(s.ctx, EventBeginRecv, op, pnerr.KindOK)
	if op.Stop || op.Buffer == nil {
		s.CanRecv(false)
		return false
	}
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	n, addr, err := tr.Recv(op.Buffer)
	if err != nil {
		k := pnerr.KindOf(err)
		if k.Transient() {
			return false
		}
		if k == pnerr.KindClosed {
			s.handler(s.ctx, EventEndRecv, &Op{Size: 0}, pnerr.KindClosed)
			return false
		}
		s.handler(s.ctx, EventEndRecv, &Op{Size: 0}, k)
		return false
	}
	if n == 0 {
		s.handler(s.ctx, EventEndRecv, &Op{Size: 0}, pnerr.KindClosed)
		return false
	}
	s.handler(s.ctx, EventEndRecv, &Op{Buffer: op.Buffer, Size: n, Addr: addr}, pnerr.KindOK)
	return true
}

func (s *Socket) onEndRecv(buf []byte, kind pnerr.Kind) {
	s.handler(s.ctx, EventEndRecv, &Op{Size: 0}, kind)
}

func (s *Socket) onWritable() bool {
	op := &Op{}
	s.handler(s.ctx, EventBeginSend, op, pnerr.KindOK)
	if op.Stop || op.Buffer == nil {
		s.CanSend(false)
		return false
	}
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	err := tr.Send(op.Buffer, op.Addr)
	if err != nil && pnerr.KindOf(err).Transient() {
		return false
	}
	kind := pnerr.KindOf(err)
	s.handler(s.ctx, EventEndSend, op, kind)
	return err == nil
}
