//go:build unix

package pnerr

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Classify maps a native error observed on a unix-family syscall into the
// canonical Kind enumeration. Modeled on bassosimone-nop's errclass/unix.go
// errno table, generalized from measurement-string labels to recovery kinds.
func Classify(err error) Kind {
	if err == nil {
		return KindOK
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return KindUnknown
	}
	switch errno {
	case unix.EAGAIN, unix.EWOULDBLOCK, unix.EINTR:
		return KindRetry
	case unix.EINPROGRESS:
		return KindConnecting
	case unix.ETIMEDOUT:
		return KindTimeout
	case unix.ECONNRESET:
		return KindReset
	case unix.ECONNREFUSED:
		return KindRefused
	case unix.ECONNABORTED, unix.ENOTCONN, unix.EPIPE:
		return KindClosed
	case unix.EHOSTUNREACH, unix.ENETUNREACH, unix.ENETDOWN:
		return KindNetwork
	case unix.EADDRINUSE, unix.EADDRNOTAVAIL:
		return KindArg
	case unix.EINVAL:
		return KindArg
	case unix.ENOBUFS, unix.ENOMEM:
		return KindOutOfMemory
	case unix.EPROTONOSUPPORT, unix.EOPNOTSUPP, unix.EAFNOSUPPORT:
		return KindNotSupported
	default:
		return KindUnknown
	}
}
