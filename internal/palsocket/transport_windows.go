//go:build windows

package palsocket

import (
	"net"
	"strconv"

	"golang.org/x/sys/windows"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

type transport interface {
	Fd() int
	Accept() (fd int, peerAddr string, err error)
	Recv(buf []byte) (n int, addr string, err error)
	Send(buf []byte, addr string) error
	Close() error
}

// windowsTransport is the Winsock counterpart of transport_unix.go's
// unixTransport, grounded on the same option-translation contract but
// issued through golang.org/x/sys/windows instead of golang.org/x/sys/unix.
type windowsTransport struct {
	fd  windows.Handle
	typ SocketType
}

func newTransport(props Properties) (transport, error) {
	family := windows.AF_INET
	sockType := windows.SOCK_STREAM
	proto := windows.IPPROTO_TCP
	if props.Type == TypeDatagram {
		sockType = windows.SOCK_DGRAM
		proto = windows.IPPROTO_UDP
	}

	fd, err := windows.Socket(family, sockType, proto)
	if err != nil {
		return nil, pnerr.New(pnerr.KindFault, "palsocket.newTransport", err)
	}
	windows.SetNonblock(fd, true)
	t := &windowsTransport{fd: fd, typ: props.Type}
	if err := t.applyOptions(props); err != nil {
		windows.Closesocket(fd)
		return nil, err
	}

	switch {
	case props.Listen:
		sa, err := resolveSockaddr(props.Address)
		if err != nil {
			windows.Closesocket(fd)
			return nil, err
		}
		if err := windows.Bind(fd, sa); err != nil {
			windows.Closesocket(fd)
			return nil, pnerr.New(pnerr.KindFault, "palsocket.Bind", err)
		}
		if err := windows.Listen(fd, windows.SOMAXCONN); err != nil {
			windows.Closesocket(fd)
			return nil, pnerr.New(pnerr.KindFault, "palsocket.Listen", err)
		}
	case props.Address != "" && props.Type != TypeDatagram:
		sa, err := resolveSockaddr(props.Address)
		if err != nil {
			windows.Closesocket(fd)
			return nil, err
		}
		if err := windows.Connect(fd, sa); err != nil && err != windows.WSAEWOULDBLOCK {
			windows.Closesocket(fd)
			return nil, pnerr.New(pnerr.KindFault, "palsocket.Connect", err)
		}
	}
	return t, nil
}

func wrapAcceptedFd(fd int) transport {
	h := windows.Handle(fd)
	windows.SetNonblock(h, true)
	return &windowsTransport{fd: h, typ: TypeStream}
}

func resolveSockaddr(addr string) (windows.Sockaddr, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, pnerr.New(pnerr.KindArg, "palsocket.resolveSockaddr", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, pnerr.New(pnerr.KindArg, "palsocket.resolveSockaddr", err)
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return nil, pnerr.New(pnerr.KindHostUnknown, "palsocket.resolveSockaddr", err)
	}
	v4 := ips[0].To4()
	if v4 == nil {
		return nil, pnerr.New(pnerr.KindNotSupported, "palsocket.resolveSockaddr", nil)
	}
	sa := &windows.SockaddrInet4{Port: port}
	copy(sa.Addr[:], v4)
	return sa, nil
}

func (t *windowsTransport) Fd() int { return int(t.fd) }

func (t *windowsTransport) Accept() (int, string, error) {
	nfd, err := windows.Socket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return 0, "", pnerr.New(pnerr.KindFault, "palsocket.Accept", err)
	}
	sa, err := windows.Getpeername(nfd)
	if err != nil {
		return 0, "", pnerr.New(pnerr.KindFault, "palsocket.Accept", err)
	}
	return int(nfd), sockaddrString(sa), nil
}

func (t *windowsTransport) Recv(buf []byte) (int, string, error) {
	n, err := windows.Read(t.fd, buf)
	if err != nil {
		return 0, "", pnerr.New(pnerr.KindFault, "palsocket.Recv", err)
	}
	return n, "", nil
}

func (t *windowsTransport) Send(buf []byte, addr string) error {
	_, err := windows.Write(t.fd, buf)
	if err != nil {
		return pnerr.New(pnerr.KindFault, "palsocket.Send", err)
	}
	return nil
}

func (t *windowsTransport) Close() error { return windows.Closesocket(t.fd) }

func sockaddrString(sa windows.Sockaddr) string {
	if a, ok := sa.(*windows.SockaddrInet4); ok {
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	}
	return ""
}

func (t *windowsTransport) applyOptions(p Properties) error {
	if p.SendBufSize > 0 {
		windows.SetsockoptInt(t.fd, windows.SOL_SOCKET, windows.SO_SNDBUF, p.SendBufSize)
	}
	if p.RecvBufSize > 0 {
		windows.SetsockoptInt(t.fd, windows.SOL_SOCKET, windows.SO_RCVBUF, p.RecvBufSize)
	}
	return nil
}

// SetOption is the option translation's write side for Winsock; it covers the
// subset expressible through windows.SetsockoptInt, returning
// KindNotSupported for the rest (e.g. OptLinger needs WSAIoctl plumbing
// not wired here).
func (t *windowsTransport) SetOption(name OptionName, val int) error {
	switch name {
	case OptReuseAddr:
		return t.setsockoptInt(windows.SO_REUSEADDR, val)
	case OptKeepAlive:
		return t.setsockoptInt(windows.SO_KEEPALIVE, val)
	case OptSendBufSize:
		return t.setsockoptInt(windows.SO_SNDBUF, val)
	case OptRecvBufSize:
		return t.setsockoptInt(windows.SO_RCVBUF, val)
	case OptNonBlocking:
		return windows.SetNonblock(t.fd, val != 0)
	default:
		return pnerr.New(pnerr.KindNotSupported, "palsocket.SetOption", nil)
	}
}

func (t *windowsTransport) setsockoptInt(name, val int) error {
	if err := windows.SetsockoptInt(t.fd, windows.SOL_SOCKET, name, val); err != nil {
		return pnerr.New(pnerr.KindFault, "palsocket.SetOption", err)
	}
	return nil
}

// GetOption is the option translation's read side for Winsock.
func (t *windowsTransport) GetOption(name OptionName) (int, error) {
	switch name {
	case OptSendBufSize:
		return windows.GetsockoptInt(t.fd, windows.SOL_SOCKET, windows.SO_SNDBUF)
	case OptRecvBufSize:
		return windows.GetsockoptInt(t.fd, windows.SOL_SOCKET, windows.SO_RCVBUF)
	default:
		return 0, pnerr.New(pnerr.KindNotSupported, "palsocket.GetOption", nil)
	}
}
