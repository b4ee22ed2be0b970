package rdpdr

import "github.com/efficientgo/core/errors"

// ErrProtocol marks sequencing violations and references the server must
// never make. Errors wrapping it end the session.
var ErrProtocol = errors.New("rdpdr protocol violation")

var (
	// ErrUnknownDevice is returned for I/O requests naming an unregistered device.
	ErrUnknownDevice = errors.Wrap(ErrProtocol, "unknown device")
	// ErrEarlyIORequest is returned for I/O requests received before the handshake finished.
	ErrEarlyIORequest = errors.Wrap(ErrProtocol, "device I/O request before channel ready")

	// ErrMalformed drops a single PDU that failed to decode.
	ErrMalformed = errors.New("malformed PDU")
	// ErrNotImplemented is returned for requests no back end handles.
	ErrNotImplemented = errors.New("not implemented")

	ErrDeviceTableFull   = errors.New("device table full")
	ErrInvalidDeviceName = errors.New("invalid device name")
	ErrChannelReady      = errors.New("channel already ready")
	ErrSchedulerFull     = errors.New("too many pending requests")
)

// IsFatal reports whether err must tear the channel down.
func IsFatal(err error) bool {
	return err != nil && errors.Is(err, ErrProtocol)
}
