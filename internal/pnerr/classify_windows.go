//go:build windows

package pnerr

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// Classify maps a Winsock error into the canonical Kind enumeration, the
// windows counterpart of classify_unix.go's errno table.
func Classify(err error) Kind {
	if err == nil {
		return KindOK
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var errno windows.Errno
	if !errors.As(err, &errno) {
		return KindUnknown
	}
	switch errno {
	case windows.WSAEWOULDBLOCK, windows.WSAEINTR:
		return KindRetry
	case windows.WSAEINPROGRESS, windows.WSAEALREADY:
		return KindConnecting
	case windows.WSAETIMEDOUT:
		return KindTimeout
	case windows.WSAECONNRESET:
		return KindReset
	case windows.WSAECONNREFUSED:
		return KindRefused
	case windows.WSAECONNABORTED, windows.WSAENOTCONN, windows.WSAESHUTDOWN:
		return KindClosed
	case windows.WSAEHOSTUNREACH, windows.WSAENETUNREACH, windows.WSAENETDOWN:
		return KindNetwork
	case windows.WSAEADDRINUSE, windows.WSAEADDRNOTAVAIL:
		return KindArg
	case windows.WSAEINVAL:
		return KindArg
	case windows.WSAENOBUFS:
		return KindOutOfMemory
	case windows.WSAEPROTONOSUPPORT, windows.WSAEOPNOTSUPP, windows.WSAEAFNOSUPPORT:
		return KindNotSupported
	default:
		return KindUnknown
	}
}
