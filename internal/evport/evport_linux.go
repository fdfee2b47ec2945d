//go:build linux

package evport

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

// linuxPort is an edge-triggered epoll backend, grounded on
// original_source/src/pal/pal_ev_epoll.c: one worker thread blocks in
// epoll_wait and dispatches to the registration whose *epollReg pointer
// was stashed in the epoll_event union.
type linuxPort struct {
	mu        sync.Mutex
	epfd      int
	regs      map[int]*epollReg
	dispatch  bool
	closed    bool
	wakeR     int
	wakeW     int
	done      chan struct{}
}

// epollReg is the per-fd bookkeeping backing a public *Handle.
type epollReg struct {
	handle  *Handle
	fd      int
	interest Interest
	// pendingClose is set when Close is invoked re-entrantly from within
	// the handle's own callback; the sweep after the dispatch round
	// performs the real teardown.
	pendingClose bool
	closeFd      bool
}

func newPlatformPort() (Port, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, pnerr.New(pnerr.KindFault, "evport.New", err)
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, pnerr.New(pnerr.KindFault, "evport.New", err)
	}
	p := &linuxPort{
		epfd:  epfd,
		regs:  make(map[int]*epollReg),
		wakeR: fds[0],
		wakeW: fds[1],
		done:  make(chan struct{}),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, p.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(p.wakeR),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
		return nil, pnerr.New(pnerr.KindFault, "evport.New", err)
	}
	go p.loop()
	return p, nil
}

func (p *linuxPort) Register(fd int, handler Handler, ctx any) (*Handle, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, pnerr.New(pnerr.KindArg, "evport.Register", err)
	}
	h := &Handle{Fd: fd, port: p, handler: handler, ctx: ctx}
	reg := &epollReg{handle: h, fd: fd}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[fd] = reg
	ev := unix.EpollEvent{Events: unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		delete(p.regs, fd)
		return nil, pnerr.New(pnerr.KindFault, "evport.Register", err)
	}
	return h, nil
}

func (p *linuxPort) Select(h *Handle, interest Interest) error {
	return p.modify(h, func(reg *epollReg) { reg.interest |= interest })
}

func (p *linuxPort) Clear(h *Handle, interest Interest) error {
	return p.modify(h, func(reg *epollReg) { reg.interest &^= interest })
}

func (p *linuxPort) modify(h *Handle, mutate func(*epollReg)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.regs[h.Fd]
	if !ok || reg.handle != h {
		return pnerr.New(pnerr.KindBadState, "evport.modify", nil)
	}
	mutate(reg)
	ev := unix.EpollEvent{Events: unix.EPOLLET, Fd: int32(reg.fd)}
	if reg.interest&InterestRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if reg.interest&InterestWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, reg.fd, &ev); err != nil {
		return pnerr.New(pnerr.KindFault, "evport.modify", err)
	}
	return nil
}

func (p *linuxPort) Close(h *Handle, closeFd bool) error {
	p.mu.Lock()
	reg, ok := p.regs[h.Fd]
	if !ok || reg.handle != h {
		p.mu.Unlock()
		return pnerr.New(pnerr.KindBadState, "evport.Close", nil)
	}
	reg.closeFd = closeFd
	if p.dispatch {
		// Registration mutation race: defer teardown until the current
		// dispatch round finishes; pendingClose makes the post-round
		// sweep retire this registration, and the back-pointer is cleared.
		reg.pendingClose = true
		reg.handle.port = nil
		p.mu.Unlock()
		return nil
	}
	delete(p.regs, reg.fd)
	p.mu.Unlock()
	p.teardown(reg)
	return nil
}

func (p *linuxPort) teardown(reg *epollReg) {
	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, reg.fd, nil)
	if reg.closeFd {
		unix.Close(reg.fd)
	}
	reg.handle.handler(reg.handle.ctx, EventDestroy, pnerr.KindOK)
}

func (p *linuxPort) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	unix.Write(p.wakeW, []byte{0})
	<-p.done
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return unix.Close(p.epfd)
}

func (p *linuxPort) loop() {
	defer close(p.done)
	events := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.dispatch = true
		batch := make([]*epollReg, 0, n)
		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == p.wakeR {
				continue
			}
			if reg, ok := p.regs[int(ev.Fd)]; ok {
				batch = append(batch, reg)
			}
		}
		p.mu.Unlock()

		for i := 0; i < n; i++ {
			dispatchEpollEvent(events[i], batch)
		}

		p.mu.Lock()
		p.dispatch = false
		var retired []*epollReg
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

func dispatchEpollEvent(ev unix.EpollEvent, batch []*epollReg) {
	var reg *epollReg
	for _, r := range batch {
		if int32(r.fd) == ev.Fd {
			reg = r
			break
		}
	}
	if reg == nil {
		return
	}
	h := reg.handle
	switch {
	case ev.Events&unix.EPOLLHUP != 0:
		for h.handler(h.ctx, EventRead, pnerr.KindOK) {
		}
		h.handler(h.ctx, EventClose, pnerr.KindOK)
	case ev.Events&unix.EPOLLERR != 0:
		h.handler(h.ctx, EventError, pnerr.KindNetwork)
	default:
		if ev.Events&unix.EPOLLIN != 0 {
			for h.handler(h.ctx, EventRead, pnerr.KindOK) {
			}
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			for h.handler(h.ctx, EventWrite, pnerr.KindOK) {
			}
		}
	}
}
