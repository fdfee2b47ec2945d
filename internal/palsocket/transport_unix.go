//go:build unix

package palsocket

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

// transport is the native-syscall surface a Socket drives; unixTransport
// implements it the way the teacher's internal/transport/transport_linux.go
// implements api.Transport, generalized from a fixed TCP batch sender to
// the stream/datagram/listener trio palsocket needs.
type transport interface {
	Fd() int
	Accept() (fd int, peerAddr string, err error)
	Recv(buf []byte) (n int, addr string, err error)
	Send(buf []byte, addr string) error
	Close() error
}

type unixTransport struct {
	fd    int
	typ   SocketType
	props Properties
}

func newTransport(props Properties) (transport, error) {
	family := props.Family
	if family == 0 {
		family = unix.AF_INET
	}
	sockType := unix.SOCK_STREAM
	proto := unix.IPPROTO_TCP
	if props.Type == TypeDatagram {
		sockType = unix.SOCK_DGRAM
		proto = unix.IPPROTO_UDP
	}

	fd, err := unix.Socket(family, sockType|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, pnerr.New(pnerr.Classify(err), "palsocket.newTransport", err)
	}
	tr := &unixTransport{fd: fd, typ: props.Type, props: props}
	if err := tr.applyOptions(props); err != nil {
		unix.Close(fd)
		return nil, err
	}

	switch {
	case props.Listen:
		sa, err := resolveSockaddr(props.Address)
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return nil, pnerr.New(pnerr.Classify(err), "palsocket.Bind", err)
		}
		if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
			unix.Close(fd)
			return nil, pnerr.New(pnerr.Classify(err), "palsocket.Listen", err)
		}
	case props.Address != "" && props.Type != TypeDatagram:
		sa, err := resolveSockaddr(props.Address)
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
		err = unix.Connect(fd, sa)
		if err != nil && err != unix.EINPROGRESS {
			unix.Close(fd)
			return nil, pnerr.New(pnerr.Classify(err), "palsocket.Connect", err)
		}
	}
	return tr, nil
}

func wrapAcceptedFd(fd int) transport {
	unix.SetNonblock(fd, true)
	return &unixTransport{fd: fd, typ: TypeStream}
}

func resolveSockaddr(addr string) (unix.Sockaddr, error) {
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
	if v4 := ips[0].To4(); v4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], v4)
		return &sa, nil
	}
	v6 := ips[0].To16()
	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], v6)
	return &sa, nil
}

func (t *unixTransport) Fd() int { return t.fd }

func (t *unixTransport) Accept() (int, string, error) {
	nfd, sa, err := unix.Accept4(t.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return 0, "", pnerr.New(pnerr.Classify(err), "palsocket.Accept", err)
	}
	return nfd, sockaddrString(sa), nil
}

func (t *unixTransport) Recv(buf []byte) (int, string, error) {
	if t.typ == TypeDatagram {
		n, sa, err := unix.Recvfrom(t.fd, buf, 0)
		if err != nil {
			return 0, "", pnerr.New(pnerr.Classify(err), "palsocket.Recv", err)
		}
		return n, sockaddrString(sa), nil
	}
	n, err := unix.Read(t.fd, buf)
	if err != nil {
		return 0, "", pnerr.New(pnerr.Classify(err), "palsocket.Recv", err)
	}
	return n, "", nil
}

func (t *unixTransport) Send(buf []byte, addr string) error {
	if t.typ == TypeDatagram && addr != "" {
		sa, err := resolveSockaddr(addr)
		if err != nil {
			return err
		}
		if err := unix.Sendto(t.fd, buf, 0, sa); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.Send", err)
		}
		return nil
	}
	_, err := unix.Write(t.fd, buf)
	if err != nil {
		return pnerr.New(pnerr.Classify(err), "palsocket.Send", err)
	}
	return nil
}

func (t *unixTransport) Close() error { return unix.Close(t.fd) }

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return ""
	}
}

// applyOptions translates the platform-neutral Properties knobs to
// (level, name) setsockopt calls, per the option-translation contract:
// buffer sizes, linger, and timeouts (here milliseconds, converted to
// a struct timeval) all go through this one path.
func (t *unixTransport) applyOptions(p Properties) error {
	if p.SendBufSize > 0 {
		if err := unix.SetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, p.SendBufSize); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(SNDBUF)", err)
		}
	}
	if p.RecvBufSize > 0 {
		if err := unix.SetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, p.RecvBufSize); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(RCVBUF)", err)
		}
	}
	if p.LingerSec > 0 {
		l := unix.Linger{Onoff: 1, Linger: int32(p.LingerSec)}
		if err := unix.SetsockoptLinger(t.fd, unix.SOL_SOCKET, unix.SO_LINGER, &l); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(LINGER)", err)
		}
	}
	if p.RecvTimeout > 0 {
		tv := unix.NsecToTimeval(int64(p.RecvTimeout) * int64(1e6))
		if err := unix.SetsockoptTimeval(t.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(RCVTIMEO)", err)
		}
	}
	if p.SendTimeout > 0 {
		tv := unix.NsecToTimeval(int64(p.SendTimeout) * int64(1e6))
		if err := unix.SetsockoptTimeval(t.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(SNDTIMEO)", err)
		}
	}
	return nil
}

// Available reports bytes pending via FIONREAD, the prx_so_available
// translation.
func (t *unixTransport) Available() (int, error) {
	n, err := unix.IoctlGetInt(t.fd, unix.FIONREAD)
	if err != nil {
		return 0, pnerr.New(pnerr.Classify(err), "palsocket.Available", err)
	}
	return n, nil
}

// SetOption is the option translation's write side: one OptionName to one
// setsockopt(2)/ioctl(2) call, per the prx_socket_option_t enumeration.
func (t *unixTransport) SetOption(name OptionName, val int) error {
	switch name {
	case OptReuseAddr:
		return t.setsockoptBool(unix.SOL_SOCKET, unix.SO_REUSEADDR, val, "REUSEADDR")
	case OptKeepAlive:
		return t.setsockoptBool(unix.SOL_SOCKET, unix.SO_KEEPALIVE, val, "KEEPALIVE")
	case OptLinger:
		l := unix.Linger{Onoff: 1, Linger: int32(val)}
		if val <= 0 {
			l.Onoff = 0
		}
		if err := unix.SetsockoptLinger(t.fd, unix.SOL_SOCKET, unix.SO_LINGER, &l); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(LINGER)", err)
		}
		return nil
	case OptSendBufSize:
		if err := unix.SetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, val); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(SNDBUF)", err)
		}
		return nil
	case OptRecvBufSize:
		if err := unix.SetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, val); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(RCVBUF)", err)
		}
		return nil
	case OptSendTimeout:
		tv := unix.NsecToTimeval(int64(val) * int64(1e6))
		if err := unix.SetsockoptTimeval(t.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(SNDTIMEO)", err)
		}
		return nil
	case OptRecvTimeout:
		tv := unix.NsecToTimeval(int64(val) * int64(1e6))
		if err := unix.SetsockoptTimeval(t.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(RCVTIMEO)", err)
		}
		return nil
	case OptNonBlocking:
		if err := unix.SetNonblock(t.fd, val != 0); err != nil {
			return pnerr.New(pnerr.Classify(err), "palsocket.SetOption(NONBLOCKING)", err)
		}
		return nil
	default:
		return pnerr.New(pnerr.KindNotSupported, "palsocket.SetOption", nil)
	}
}

func (t *unixTransport) setsockoptBool(level, name, val int, label string) error {
	v := 0
	if val != 0 {
		v = 1
	}
	if err := unix.SetsockoptInt(t.fd, level, name, v); err != nil {
		return pnerr.New(pnerr.Classify(err), "palsocket.SetOption("+label+")", err)
	}
	return nil
}

// GetOption is the option translation's read side.
func (t *unixTransport) GetOption(name OptionName) (int, error) {
	switch name {
	case OptReuseAddr:
		return unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	case OptKeepAlive:
		return unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE)
	case OptSendBufSize:
		return unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
	case OptRecvBufSize:
		return unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	case OptAcceptConn:
		return unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_ACCEPTCONN)
	case OptAvailable:
		return t.Available()
	default:
		return 0, pnerr.New(pnerr.KindNotSupported, "palsocket.GetOption", nil)
	}
}

// Shutdown invokes shutdown() with the translated direction, the
// prx_so_shutdown translation; how is one of unix.SHUT_RD/WR/RDWR.
func (t *unixTransport) Shutdown(how int) error {
	if err := unix.Shutdown(t.fd, how); err != nil {
		return pnerr.New(pnerr.Classify(err), "palsocket.Shutdown", err)
	}
	return nil
}
