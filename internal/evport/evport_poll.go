//go:build !linux && !windows && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd && unix

package evport

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

// defaultPollTimeoutCap is the 10 minute ceiling on the poll backend's
// timeout_handler-derived wait, matching the generic backend's cap for
// platforms without epoll or kqueue.
const defaultPollTimeoutCap = 10 * time.Minute

// TimeoutHandler is invoked once per poll iteration with the current
// registration count and returns the milliseconds to wait, capped at
// defaultPollTimeoutCap. Backends without a timer path (linux, bsd,
// windows) have no equivalent; this hook exists only on the generic
// poll backend.
type TimeoutHandler func(regCount int) int

// pollPort is the generic, level-triggered fallback backend used on
// platforms lacking epoll or kqueue, grounded on
// original_source/src/pal/pal_ev_poll.c: registrations are re-scanned
// into a pollfd slice every iteration, and teardown is signaled through
// a socketpair control channel rather than a self-pipe.
type pollPort struct {
	mu       sync.Mutex
	regs     map[int]*pollReg
	dispatch bool
	closed   bool
	ctrlR    int
	ctrlW    int
	done     chan struct{}
	onTimeout TimeoutHandler
}

type pollReg struct {
	handle       *Handle
	fd           int
	interest     Interest
	pendingClose bool
	closeFd      bool
}

func newPlatformPort() (Port, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, pnerr.New(pnerr.KindFault, "evport.New", err)
	}
	p := &pollPort{
		regs:  make(map[int]*pollReg),
		ctrlR: fds[0],
		ctrlW: fds[1],
		done:  make(chan struct{}),
	}
	go p.loop()
	return p, nil
}

// SetTimeoutHandler installs the optional per-iteration timeout callback.
func (p *pollPort) SetTimeoutHandler(h TimeoutHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTimeout = h
}

func (p *pollPort) Register(fd int, handler Handler, ctx any) (*Handle, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, pnerr.New(pnerr.KindArg, "evport.Register", err)
	}
	h := &Handle{Fd: fd, port: p, handler: handler, ctx: ctx}
	p.mu.Lock()
	p.regs[fd] = &pollReg{handle: h, fd: fd}
	p.mu.Unlock()
	p.wake()
	return h, nil
}

func (p *pollPort) Select(h *Handle, interest Interest) error {
	return p.modify(h, func(reg *pollReg) { reg.interest |= interest })
}

func (p *pollPort) Clear(h *Handle, interest Interest) error {
	return p.modify(h, func(reg *pollReg) { reg.interest &^= interest })
}

func (p *pollPort) modify(h *Handle, mutate func(*pollReg)) error {
	p.mu.Lock()
	reg, ok := p.regs[h.Fd]
	if !ok || reg.handle != h {
		p.mu.Unlock()
		return pnerr.New(pnerr.KindBadState, "evport.modify", nil)
	}
	mutate(reg)
	p.mu.Unlock()
	p.wake()
	return nil
}

func (p *pollPort) Close(h *Handle, closeFd bool) error {
	p.mu.Lock()
	reg, ok := p.regs[h.Fd]
	if !ok || reg.handle != h {
		p.mu.Unlock()
		return pnerr.New(pnerr.KindBadState, "evport.Close", nil)
	}
	reg.closeFd = closeFd
	if p.dispatch {
		reg.pendingClose = true
		reg.handle.port = nil
		p.mu.Unlock()
		return nil
	}
	delete(p.regs, reg.fd)
	p.mu.Unlock()
	p.teardown(reg)
	p.wake()
	return nil
}

func (p *pollPort) teardown(reg *pollReg) {
	if reg.closeFd {
		unix.Close(reg.fd)
	}
	reg.handle.handler(reg.handle.ctx, EventDestroy, pnerr.KindOK)
}

func (p *pollPort) wake() {
	unix.Write(p.ctrlW, []byte{0})
}

func (p *pollPort) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.wake()
	<-p.done
	unix.Close(p.ctrlR)
	unix.Close(p.ctrlW)
	return nil
}

func (p *pollPort) loop() {
	defer close(p.done)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		fds := []unix.PollFd{{Fd: int32(p.ctrlR), Events: unix.POLLIN}}
		order := make([]*pollReg, 0, len(p.regs))
		for _, reg := range p.regs {
			var events int16
			if reg.interest&InterestRead != 0 {
				events |= unix.POLLIN
			}
			if reg.interest&InterestWrite != 0 {
				events |= unix.POLLOUT
			}
			if events == 0 {
				continue
			}
			fds = append(fds, unix.PollFd{Fd: int32(reg.fd), Events: events})
			order = append(order, reg)
		}
		regCount := len(p.regs)
		handler := p.onTimeout
		p.mu.Unlock()

		timeoutMs := -1
		if handler != nil {
			timeoutMs = handler(regCount)
			if cap := int(defaultPollTimeoutCap / time.Millisecond); timeoutMs < 0 || timeoutMs > cap {
				timeoutMs = cap
			}
		}

		n, err := unix.Poll(fds, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents != 0 {
			var buf [64]byte
			unix.Read(p.ctrlR, buf[:])
		}

		p.mu.Lock()
		p.dispatch = true
		p.mu.Unlock()

		for i, reg := range order {
			pf := fds[i+1]
			if pf.Revents == 0 {
				continue
			}
			dispatchPollEvent(pf, reg)
		}

		p.mu.Lock()
		p.dispatch = false
		var retired []*pollReg
		for fd, reg := range p.regs {
			if reg.pendingClose {
				retired = append(retired, reg)
				delete(p.regs, fd)
			}
		}
		p.mu.Unlock()
		for _, reg := range retired {
			p.teardown(reg)
		}
	}
}

func dispatchPollEvent(pf unix.PollFd, reg *pollReg) {
	h := reg.handle
	if pf.Revents&unix.POLLHUP != 0 {
		for h.handler(h.ctx, EventRead, pnerr.KindOK) {
		}
		h.handler(h.ctx, EventClose, pnerr.KindOK)
		return
	}
	if pf.Revents&unix.POLLERR != 0 {
		h.handler(h.ctx, EventError, pnerr.KindNetwork)
		return
	}
	if pf.Revents&unix.POLLIN != 0 {
		for h.handler(h.ctx, EventRead, pnerr.KindOK) {
		}
	}
	if pf.Revents&unix.POLLOUT != 0 {
		for h.handler(h.ctx, EventWrite, pnerr.KindOK) {
		}
	}
}
