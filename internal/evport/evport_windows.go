//go:build windows

package evport

import (
	"sync"

	"golang.org/x/sys/windows"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

// windowsPort is a Winsock event-select backend, grounded on
// original_source/src/pal/pal_ev_win.c: each registered socket owns a
// manual-reset WSAEvent armed via WSAEventSelect, and one worker thread
// blocks in WSAWaitForMultipleEvents across the whole set.
type windowsPort struct {
	mu       sync.Mutex
	regs     map[int]*windowsReg
	dispatch bool
	closed   bool
	wakeEvt  windows.Handle
	done     chan struct{}
}

type windowsReg struct {
	handle       *Handle
	fd           windows.Handle
	evt          windows.Handle
	interest     Interest
	pendingClose bool
	closeFd      bool
}

func newPlatformPort() (Port, error) {
	wakeEvt, err := windows.WSACreateEvent()
	if err != nil {
		return nil, pnerr.New(pnerr.KindFault, "evport.New", err)
	}
	p := &windowsPort{
		regs:    make(map[int]*windowsReg),
		wakeEvt: wakeEvt,
		done:    make(chan struct{}),
	}
	go p.loop()
	return p, nil
}

func (p *windowsPort) Register(fd int, handler Handler, ctx any) (*Handle, error) {
	evt, err := windows.WSACreateEvent()
	if err != nil {
		return nil, pnerr.New(pnerr.KindFault, "evport.Register", err)
	}
	h := &Handle{Fd: fd, port: p, handler: handler, ctx: ctx}
	reg := &windowsReg{handle: h, fd: windows.Handle(fd), evt: evt}
	p.mu.Lock()
	p.regs[fd] = reg
	p.mu.Unlock()
	windows.WSASetEvent(p.wakeEvt)
	return h, nil
}

func (p *windowsPort) Select(h *Handle, interest Interest) error {
	return p.modify(h, func(reg *windowsReg) { reg.interest |= interest })
}

func (p *windowsPort) Clear(h *Handle, interest Interest) error {
	return p.modify(h, func(reg *windowsReg) { reg.interest &^= interest })
}

func (p *windowsPort) modify(h *Handle, mutate func(*windowsReg)) error {
	p.mu.Lock()
	reg, ok := p.regs[h.Fd]
	if !ok || reg.handle != h {
		p.mu.Unlock()
		return pnerr.New(pnerr.KindBadState, "evport.modify", nil)
	}
	mutate(reg)
	var flags uint32 = windows.FD_CLOSE
	if reg.interest&InterestRead != 0 {
		flags |= windows.FD_READ | windows.FD_ACCEPT
	}
	if reg.interest&InterestWrite != 0 {
		flags |= windows.FD_WRITE | windows.FD_CONNECT
	}
	fd, evt := reg.fd, reg.evt
	p.mu.Unlock()

	if err := windows.WSAEventSelect(windows.Handle(fd), evt, flags); err != nil {
		return pnerr.New(pnerr.KindFault, "evport.modify", err)
	}
	windows.WSASetEvent(p.wakeEvt)
	return nil
}

func (p *windowsPort) Close(h *Handle, closeFd bool) error {
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
	delete(p.regs, h.Fd)
	p.mu.Unlock()
	p.teardown(reg)
	windows.WSASetEvent(p.wakeEvt)
	return nil
}

func (p *windowsPort) teardown(reg *windowsReg) {
	windows.WSACloseEvent(reg.evt)
	if reg.closeFd {
		windows.Closesocket(reg.fd)
	}
	reg.handle.handler(reg.handle.ctx, EventDestroy, pnerr.KindOK)
}

func (p *windowsPort) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	windows.WSASetEvent(p.wakeEvt)
	<-p.done
	return windows.WSACloseEvent(p.wakeEvt)
}

const maxWaitEvents = 64 // WSA_MAXIMUM_WAIT_EVENTS

func (p *windowsPort) loop() {
	defer close(p.done)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		events := make([]windows.Handle, 0, maxWaitEvents)
		order := make([]*windowsReg, 0, maxWaitEvents)
		events = append(events, p.wakeEvt)
		for _, reg := range p.regs {
			if len(events) >= maxWaitEvents {
				break
			}
			events = append(events, reg.evt)
			order = append(order, reg)
		}
		p.mu.Unlock()

		idx, err := windows.WSAWaitForMultipleEvents(uint32(len(events)), &events[0], false, windows.WSA_INFINITE, false)
		if err != nil {
			continue
		}
		if idx == 0 {
			windows.WSAResetEvent(p.wakeEvt)
			continue
		}

		p.mu.Lock()
		p.dispatch = true
		p.mu.Unlock()

		reg := order[idx-1]
		var netEvents windows.WSANetworkEvents
		if err := windows.WSAEnumNetworkEvents(reg.fd, reg.evt, &netEvents); err == nil {
			dispatchWindowsEvent(netEvents, reg)
		}

		p.mu.Lock()
		p.dispatch = false
		var retired []*windowsReg
		for fd, r := range p.regs {
			if r.pendingClose {
				retired = append(retired, r)
				delete(p.regs, fd)
			}
		}
		p.mu.Unlock()
		for _, r := range retired {
			p.teardown(r)
		}
	}
}

func dispatchWindowsEvent(ne windows.WSANetworkEvents, reg *windowsReg) {
	h := reg.handle
	if ne.Events&windows.FD_CLOSE != 0 {
		for h.handler(h.ctx, EventRead, pnerr.KindOK) {
		}
		h.handler(h.ctx, EventClose, pnerr.KindOK)
		return
	}
	if ne.ErrorCode[windows.FD_READ_BIT] != 0 || ne.ErrorCode[windows.FD_WRITE_BIT] != 0 {
		h.handler(h.ctx, EventError, pnerr.KindNetwork)
		return
	}
	if ne.Events&(windows.FD_READ|windows.FD_ACCEPT) != 0 {
		for h.handler(h.ctx, EventRead, pnerr.KindOK) {
		}
	}
	if ne.Events&(windows.FD_WRITE|windows.FD_CONNECT) != 0 {
		for h.handler(h.ctx, EventWrite, pnerr.KindOK) {
		}
	}
}
