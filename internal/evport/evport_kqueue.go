//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package evport

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

// kqueuePort mirrors linuxPort's edge-triggered design using EV_CLEAR,
// grounded on original_source/src/pal/pal_ev_kq.c.
type kqueuePort struct {
	mu       sync.Mutex
	kq       int
	regs     map[int]*kqueueReg
	dispatch bool
	closed   bool
	wakeR    int
	wakeW    int
	done     chan struct{}
}

type kqueueReg struct {
	handle       *Handle
	fd           int
	interest     Interest
	pendingClose bool
	closeFd      bool
}

func newPlatformPort() (Port, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, pnerr.New(pnerr.KindFault, "evport.New", err)
	}
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, pnerr.New(pnerr.KindFault, "evport.New", err)
	}
	unix.SetNonblock(fds[0], true)
	p := &kqueuePort{
		kq:    kq,
		regs:  make(map[int]*kqueueReg),
		wakeR: fds[0],
		wakeW: fds[1],
		done:  make(chan struct{}),
	}
	wakeEv := unix.Kevent_t{
		Ident:  uint64(p.wakeR),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{wakeEv}, nil, nil); err != nil {
		unix.Close(kq)
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
		return nil, pnerr.New(pnerr.KindFault, "evport.New", err)
	}
	go p.loop()
	return p, nil
}

func (p *kqueuePort) Register(fd int, handler Handler, ctx any) (*Handle, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, pnerr.New(pnerr.KindArg, "evport.Register", err)
	}
	h := &Handle{Fd: fd, port: p, handler: handler, ctx: ctx}
	reg := &kqueueReg{handle: h, fd: fd}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[fd] = reg
	return h, nil
}

func (p *kqueuePort) Select(h *Handle, interest Interest) error {
	return p.modify(h, interest, unix.EV_ADD|unix.EV_CLEAR)
}

func (p *kqueuePort) Clear(h *Handle, interest Interest) error {
	return p.modify(h, interest, unix.EV_DELETE)
}

func (p *kqueuePort) modify(h *Handle, interest Interest, flags uint16) error {
	p.mu.Lock()
	reg, ok := p.regs[h.Fd]
	if !ok || reg.handle != h {
		p.mu.Unlock()
		return pnerr.New(pnerr.KindBadState, "evport.modify", nil)
	}
	if flags&unix.EV_ADD != 0 {
		reg.interest |= interest
	} else {
		reg.interest &^= interest
	}
	p.mu.Unlock()

	var changes []unix.Kevent_t
	if interest&InterestRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(reg.fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest&InterestWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(reg.fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return pnerr.New(pnerr.KindFault, "evport.modify", err)
	}
	return nil
}

func (p *kqueuePort) Close(h *Handle, closeFd bool) error {
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
	return nil
}

func (p *kqueuePort) teardown(reg *kqueueReg) {
	unix.Kevent(p.kq, []unix.Kevent_t{
		{Ident: uint64(reg.fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(reg.fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}, nil, nil)
	if reg.closeFd {
		unix.Close(reg.fd)
	}
	reg.handle.handler(reg.handle.ctx, EventDestroy, pnerr.KindOK)
}

func (p *kqueuePort) Shutdown() error {
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
	return unix.Close(p.kq)
}

func (p *kqueuePort) loop() {
	defer close(p.done)
	events := make([]unix.Kevent_t, 128)
	for {
		n, err := unix.Kevent(p.kq, nil, events, nil)
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
		p.mu.Unlock()

		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Ident) == p.wakeR {
				continue
			}
			p.mu.Lock()
			reg, ok := p.regs[int(ev.Ident)]
			p.mu.Unlock()
			if !ok {
				continue
			}
			dispatchKevent(ev, reg)
		}

		p.mu.Lock()
		p.dispatch = false
		var retired []*kqueueReg
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

func dispatchKevent(ev unix.Kevent_t, reg *kqueueReg) {
	h := reg.handle
	if ev.Flags&unix.EV_EOF != 0 {
		for h.handler(h.ctx, EventRead, pnerr.KindOK) {
		}
		h.handler(h.ctx, EventClose, pnerr.KindOK)
		return
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		h.handler(h.ctx, EventError, pnerr.KindNetwork)
		return
	}
	switch ev.Filter {
	case unix.EVFILT_READ:
		for h.handler(h.ctx, EventRead, pnerr.KindOK) {
		}
	case unix.EVFILT_WRITE:
		for h.handler(h.ctx, EventWrite, pnerr.KindOK) {
		}
	}
}
