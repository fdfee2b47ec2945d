package wsconn

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/azure-iot/reverse-tunnel/internal/evport"
	"github.com/azure-iot/reverse-tunnel/internal/ioqueue"
	"github.com/azure-iot/reverse-tunnel/internal/logging"
	"github.com/azure-iot/reverse-tunnel/internal/palsocket"
	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
	"github.com/azure-iot/reverse-tunnel/internal/scheduler"
	"github.com/azure-iot/reverse-tunnel/internal/tokenprovider"
)

// Status is the connection's lifecycle stage.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
	StatusClosing
	StatusClosed
)

// initialBackoff and maxBackoff bound the reconnect back-off sequence:
// 1s doubling to a 1 hour cap.
const (
	initialBackoff = time.Second
	maxBackoff     = time.Hour
)

// ReceiverFunc is invoked exactly once per reassembled message. It must
// not be invoked again until it returns; returning a non-OK Kind is
// treated as a transport error (disconnect + reset).
type ReceiverFunc func(ctx any, r *Reader) pnerr.Kind

// ReconnectFunc is invoked when the transport drops; returning false
// ends the connect episode instead of scheduling another attempt.
type ReconnectFunc func(ctx any, lastErr pnerr.Kind) bool

// CompleteFunc reports the outcome of one Send call.
type CompleteFunc func(ctx any, kind pnerr.Kind)

// WriterFunc fills one outgoing message via w.
type WriterFunc func(ctx any, w *Writer)

// Connection is a single logical, self-healing, full-duplex channel
// over one raw TCP stream carrying hand-framed WebSocket binary frames,
// per the ws-connection contract: create -> connect -> (disconnect /
// reconnect)* -> close -> free, single-threaded internal to itself via
// its bound Scheduler.
type Connection struct {
	ID uuid.UUID

	address     *url.URL
	userHdrKey  string
	pwdHdrKey   string
	provider    tokenprovider.Provider

	sched *scheduler.Scheduler
	port  evport.Port
	clock clockwork.Clock
	log   logging.SLogger

	receiver    ReceiverFunc
	receiverCtx any
	reconnect   ReconnectFunc
	reconnectCtx any

	inbound  *ioqueue.Queue
	outbound *ioqueue.Queue

	status         Status
	backoff        time.Duration
	lastError      pnerr.Kind
	lastActivity   time.Time
	lastSuccess    time.Time
	tokenExpiry    time.Time
	cancelExpiry   func()

	sock *palsocket.Socket

	recvAccum           []byte
	handshakeKey        string
	handshakeDone       bool
	pendingHandshakeReq []byte
	pendingWriters      []pendingWrite
	pendingSendFlag     ioqueue.Flag
}

type pendingWrite struct {
	writer   WriterFunc
	writerCtx any
	complete CompleteFunc
	completeCtx any
}

// New creates a connection bound to sched and port, targeting address
// (ws:// or wss://), with user/password carried in the named upgrade
// headers when provider yields a non-empty policy/bearer. A wss://
// address only changes the default port to 443; the TCP stream is not
// wrapped in TLS.
func New(sched *scheduler.Scheduler, port evport.Port, clock clockwork.Clock, log logging.SLogger,
	address, userHdrKey, pwdHdrKey string, provider tokenprovider.Provider,
	receiver ReceiverFunc, receiverCtx any) (*Connection, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, pnerr.New(pnerr.KindArg, "wsconn.New", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logging.DefaultSLogger()
	}
	return &Connection{
		ID:          uuid.New(),
		address:     u,
		userHdrKey:  userHdrKey,
		pwdHdrKey:   pwdHdrKey,
		provider:    provider,
		sched:       sched,
		port:        port,
		clock:       clock,
		log:         log,
		receiver:    receiver,
		receiverCtx: receiverCtx,
		inbound:     ioqueue.New(ioqueue.DefaultFrameSize),
		outbound:    ioqueue.New(ioqueue.DefaultFrameSize),
		status:      StatusDisconnected,
	}, nil
}

// Status reports the connection's current lifecycle stage.
func (c *Connection) Status() Status { return c.status }

// BindScheduler attaches sched as the Scheduler this connection runs on.
// Must be called before Connect; lets a caller construct a Connection
// before it knows which worker's Scheduler will own it, as
// wsworker.Pool.Assign does.
func (c *Connection) BindScheduler(sched *scheduler.Scheduler) { c.sched = sched }

// Connect begins a connect episode. reconnectCb is consulted whenever
// the transport drops, to decide whether to try again.
func (c *Connection) Connect(reconnectCb ReconnectFunc, reconnectCtx any) {
	c.reconnect = reconnectCb
	c.reconnectCtx = reconnectCtx
	c.scheduleConnect()
}

func (c *Connection) scheduleConnect() {
	if c.backoff > 0 {
		c.sched.DoLater(c, c.backoff.Milliseconds(), c.runConnectTask)
		return
	}
	c.sched.DoNext(c, c.runConnectTask)
}

func (c *Connection) runConnectTask() {
	c.status = StatusConnecting
	c.log.Info("wsconn connecting", "id", c.ID, "addr", c.address.String())

	host := c.address.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		port := "80"
		if c.address.Scheme == "wss" {
			port = "443"
		}
		host = net.JoinHostPort(host, port)
	}

	var userVal, pwdVal string
	if c.provider != nil {
		tok, err := c.provider.Acquire(context.Background())
		if err != nil {
			c.onConnectFailed(pnerr.KindRefused)
			return
		}
		userVal = tok.Policy
		pwdVal = tok.Bearer
		if tok.TTL > 0 {
			c.armTokenExpiry(tok.TTL)
		}
	}

	path := c.address.Path
	if path == "" {
		path = "/"
	}
	req, secKey := buildHandshakeRequest(host, path, c.userHdrKey, userVal, c.pwdHdrKey, pwdVal)
	c.handshakeKey = secKey
	c.handshakeDone = false
	c.recvAccum = nil

	props := palsocket.Properties{Type: palsocket.TypeStream, Address: host}
	c.sock = palsocket.New(c.port, props, c.onSocketEvent, nil)
	c.pendingHandshakeReq = req
	// A failed Open is reported through EventOpened, which calls
	// onConnectFailed; the returned error is not handled a second time.
	_ = c.sock.Open()
}

func (c *Connection) onConnectFailed(kind pnerr.Kind) {
	c.lastError = kind
	c.status = StatusDisconnected
	c.advanceBackoff()
	if c.reconnect == nil || c.reconnect(c.reconnectCtx, kind) {
		c.scheduleConnect()
	} else {
		c.status = StatusClosed
	}
}

func (c *Connection) advanceBackoff() {
	if c.backoff == 0 {
		c.backoff = initialBackoff
		return
	}
	c.backoff *= 2
	if c.backoff > maxBackoff {
		c.backoff = maxBackoff
	}
}

func (c *Connection) armTokenExpiry(ttl time.Duration) {
	if c.cancelExpiry != nil {
		c.cancelExpiry()
	}
	c.tokenExpiry = c.clock.Now().Add(ttl)
	c.cancelExpiry = c.sched.DoLater(c, ttl.Milliseconds(), func() {
		if c.status == StatusConnected {
			c.log.Info("wsconn token expiring, forcing reconnect", "id", c.ID)
			c.disconnect(pnerr.KindShutdown)
		}
	})
}

// onSocketEvent is the palsocket.Handler driving this connection's raw
// TCP stream: it performs the upgrade handshake inline with the first
// begin_send/end_recv pair, then switches to frame-level send/recv.
func (c *Connection) onSocketEvent(ctx any, ev palsocket.EventType, op *palsocket.Op, kind pnerr.Kind) {
	switch ev {
	case palsocket.EventOpened:
		if kind != pnerr.KindOK {
			c.onConnectFailed(kind)
			return
		}
		c.sock.CanSend(true)
	case palsocket.EventBeginRecv:
		op.Buffer = make([]byte, ioqueue.DefaultFrameSize)
	case palsocket.EventEndRecv:
		c.onEndRecv(op, kind)
	case palsocket.EventBeginSend:
		c.onBeginSend(op)
	case palsocket.EventEndSend:
		c.onEndSend(op, kind)
	case palsocket.EventClosed:
		c.onTransportClosed()
	}
}

func (c *Connection) onEndRecv(op *palsocket.Op, kind pnerr.Kind) {
	if kind != pnerr.KindOK {
		c.disconnect(kind)
		return
	}
	c.recvAccum = append(c.recvAccum, op.Buffer[:op.Size]...)

	if !c.handshakeDone {
		consumed, err := parseHandshakeResponse(c.recvAccum, c.handshakeKey)
		if err != nil {
			if consumed == 0 {
				return // need more bytes
			}
			c.disconnect(pnerr.KindRefused)
			return
		}
		c.recvAccum = c.recvAccum[consumed:]
		c.handshakeDone = true
		c.onConnected()
	}

	for {
		df, n, ok := decodeFrame(c.recvAccum)
		if !ok {
			break
		}
		c.recvAccum = c.recvAccum[n:]
		c.onFrameDecoded(df)
	}
}

func (c *Connection) onFrameDecoded(df decodedFrame) {
	switch df.opcode {
	case opClose:
		c.disconnect(pnerr.KindClosed)
		return
	case opPing:
		return
	case opPong:
		return
	}
	buf := c.inbound.Acquire()
	buf.Write(df.payload)
	if df.fin {
		buf.Flag = ioqueue.FlagMessage
	} else {
		buf.Flag = ioqueue.FlagFragment
	}
	c.inbound.Enqueue(buf)
	if df.fin {
		c.sched.DoNext(c, c.deliverStream)
	}
}

// deliverStream flushes ready inbound buffers up to and including the
// one flagged FlagMessage, then invokes the receiver exactly once over
// their concatenation.
func (c *Connection) deliverStream() {
	var parts []*ioqueue.Buffer
	for c.inbound.ReadyLen() > 0 {
		b, ok := c.inbound.BeginSubmit()
		if !ok {
			break
		}
		parts = append(parts, b)
		if b.Flag == ioqueue.FlagMessage {
			break
		}
	}
	if len(parts) == 0 {
		return
	}
	r := &Reader{parts: parts}
	result := c.receiver(c.receiverCtx, r)
	for _, b := range parts {
		c.inbound.Release(b)
	}
	if result == pnerr.KindOK {
		c.lastError = pnerr.KindOK
		c.lastSuccess = c.clock.Now()
	} else {
		c.disconnect(result)
	}
}

func (c *Connection) onConnected() {
	c.status = StatusConnected
	c.lastError = pnerr.KindOK
	c.backoff = 0
	c.lastActivity = c.clock.Now()
	c.lastSuccess = c.lastActivity
	c.log.Info("wsconn connected", "id", c.ID)

	for _, pw := range c.pendingWriters {
		c.enqueueWrite(pw)
	}
	c.pendingWriters = nil
	if c.outbound.ReadyLen() > 0 {
		c.sock.CanSend(true)
	}
	c.sock.CanRecv(true)
}

func (c *Connection) onBeginSend(op *palsocket.Op) {
	if !c.handshakeDone {
		if c.pendingHandshakeReq != nil {
			op.Buffer = c.pendingHandshakeReq
			c.pendingHandshakeReq = nil
			return
		}
		op.Stop = true
		return
	}
	b, ok := c.outbound.BeginSubmit()
	if !ok {
		op.Stop = true
		return
	}
	c.pendingSendFlag = b.Flag
	op.Buffer = encodeFrame(b.Data[:b.WriteOffset], b.Flag == ioqueue.FlagMessage)
}

func (c *Connection) onEndSend(op *palsocket.Op, kind pnerr.Kind) {
	if !c.handshakeDone {
		return
	}
	if kind != pnerr.KindOK && kind != pnerr.KindAborted {
		c.lastError = kind
		c.disconnect(kind)
		return
	}
	delivered := c.outbound.EndSubmit(c.pendingSendFlag == ioqueue.FlagMessage)
	for _, b := range delivered {
		if b.Complete != nil {
			cb := b.Complete
			b.Complete = nil
			c.sched.DoNext(c, func() { cb(b, pnerr.KindOK) })
		}
		c.outbound.Release(b)
	}
}

func (c *Connection) onTransportClosed() {
	if c.status == StatusClosing {
		c.status = StatusClosed
		return
	}
	c.disconnect(pnerr.KindClosed)
}

// disconnect tears down the current transport, rolls back the outbound
// queue so in-flight messages resend after reconnect, and either
// schedules a reconnect or terminates the episode per reconnectCb.
func (c *Connection) disconnect(kind pnerr.Kind) {
	if c.status == StatusDisconnected || c.status == StatusClosed {
		return
	}
	c.lastError = kind
	c.status = StatusDisconnecting
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.outbound.Rollback()
	c.status = StatusDisconnected

	c.advanceBackoff()
	if c.reconnect == nil || c.reconnect(c.reconnectCtx, kind) {
		c.scheduleConnect()
	} else {
		c.status = StatusClosed
	}
}

// Send offers the caller a Writer to fill one complete message;
// complete fires exactly once with the result, including after a
// reconnect re-sends the buffer.
func (c *Connection) Send(writer WriterFunc, writerCtx any, complete CompleteFunc, completeCtx any) {
	pw := pendingWrite{writer: writer, writerCtx: writerCtx, complete: complete, completeCtx: completeCtx}
	c.sched.DoNext(c, func() {
		if c.status != StatusConnected {
			c.pendingWriters = append(c.pendingWriters, pw)
			return
		}
		c.enqueueWrite(pw)
		if c.sock != nil {
			c.sock.CanSend(true)
		}
	})
}

func (c *Connection) enqueueWrite(pw pendingWrite) {
	w := &Writer{q: c.outbound}
	pw.writer(pw.writerCtx, w)
	w.finish(func(b *ioqueue.Buffer) {
		if pw.complete != nil {
			b.Complete = func(buf *ioqueue.Buffer, kind pnerr.Kind) { pw.complete(pw.completeCtx, kind) }
		}
	})
}

// Close cancels all pending tasks for this connection, aborts the
// outbound queue, and tears down through disconnect -> underlying-close
// -> closed. No operation may be invoked after Close.
func (c *Connection) Close() {
	c.sched.Clear(c)
	c.status = StatusClosing
	if c.cancelExpiry != nil {
		c.cancelExpiry()
	}
	c.outbound.Abort()
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.status = StatusClosed
	c.log.Info("wsconn closed", "id", c.ID)
}

func (c *Connection) String() string {
	return fmt.Sprintf("wsconn{id=%s status=%d addr=%s}", c.ID, c.status, c.address)
}
