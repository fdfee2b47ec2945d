package palsocket

import "github.com/azure-iot/reverse-tunnel/internal/pnerr"

// OptionName enumerates the socket-option surface implied by
// original_source/inc/pal_sk.h's prx_socket_option_t: every knob a
// caller can read or write on an open Socket, translated per-OS by the
// SetOption/GetOption switches in transport_unix.go / transport_windows.go.
type OptionName int

const (
	OptReuseAddr OptionName = iota
	OptKeepAlive
	OptLinger
	OptSendBufSize
	OptRecvBufSize
	OptSendTimeout
	OptRecvTimeout
	OptNonBlocking
	OptAcceptConn
	OptAvailable
)

// optionTransport is implemented by both unixTransport and
// windowsTransport; kept separate from transport so platforms that
// can't express a given knob (e.g. OptAcceptConn pre-accept) just
// return pnerr.KindNotSupported from SetOption/GetOption.
type optionTransport interface {
	SetOption(name OptionName, val int) error
	GetOption(name OptionName) (int, error)
}

// SetOption writes one socket-level option after Open, the prx_so_set
// path. Unknown or unsupported names return KindNotSupported.
func (s *Socket) SetOption(name OptionName, val int) error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	ot, ok := tr.(optionTransport)
	if !ok {
		return pnerr.New(pnerr.KindNotSupported, "palsocket.SetOption", nil)
	}
	return ot.SetOption(name, val)
}

// GetOption reads one socket-level option, the prx_so_get path.
func (s *Socket) GetOption(name OptionName) (int, error) {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	ot, ok := tr.(optionTransport)
	if !ok {
		return 0, pnerr.New(pnerr.KindNotSupported, "palsocket.GetOption", nil)
	}
	return ot.GetOption(name)
}
