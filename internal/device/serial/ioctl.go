package serial

import (
	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpesp"
	"golang.org/x/sys/unix"
)

var (
	errPending      = errors.New("wait pending")
	errNotSupported = errors.New("ioctl not supported")
	errInvalid      = errors.New("invalid ioctl parameter")
)

type modemLine int

const (
	modemDTR modemLine = iota
	modemRTS
)

// Capabilities reported by GET_PROPERTIES (SERIAL_COMMPROP).
const (
	spSerialComm  = 0x00000001
	pstRS232      = 0x00000001
	baudUser      = 0x10000000
	pcfCaps       = 0x000001FF // PCF_DTRDSR through PCF_SPECIALCHARS
	spParams      = 0x0000007F
	settableBauds = 0x1007FFFF
	dataBits5to8  = 0x000F
	stopParity    = 0x1F07
)

// setLine raises or drops a modem control line. Virtual ttys reject modem
// ioctls; the requested state is kept regardless.
func (l *line) setLine(which modemLine, on bool) {
	if err := setModemLine(l.fd, which, on); err != nil {
		logging.Debug("Serial: Modem line %d: %v", which, err)
	}
	switch which {
	case modemDTR:
		l.dtr = on
	case modemRTS:
		l.rts = on
	}
}

// apply pushes s to the tty and keeps it only if the tty accepted it.
func (l *line) apply(s settings) error {
	if err := configure(l.fd, &s); err != nil {
		return err
	}
	l.settings = s
	return nil
}

// DeviceControl answers the serial IOCTLs. WAIT_ON_MASK with no event yet
// returns StatusPending; PollEvent then reports the event.
func (p *Port) DeviceControl(h device.Handle, code uint32, input []byte, outputLength uint32) ([]byte, rdpefs.NTStatus) {
	l, ok := p.lines[h]
	if !ok {
		return nil, rdpefs.StatusInvalidHandle
	}

	out, err := l.ioctl(code, input)
	switch {
	case err == errPending:
		return nil, rdpefs.StatusPending
	case rdpesp.IsShortInput(err), errors.Is(err, errInvalid):
		logging.Debug("Serial: %s: %v", rdpesp.IoctlName(code), err)
		return nil, rdpefs.StatusInvalidParameter
	case errors.Is(err, errNotSupported):
		logging.Warn("Serial: Unsupported IOCTL 0x%08X (%s)", code, rdpesp.IoctlName(code))
		return nil, rdpefs.StatusNotSupported
	case err != nil:
		logging.Warn("Serial: %s: %v", rdpesp.IoctlName(code), err)
		return nil, device.StatusFromError(err)
	}
	if uint32(len(out)) > outputLength {
		return nil, rdpefs.StatusBufferTooSmall
	}
	logging.Debug("Serial: %s", rdpesp.IoctlName(code))
	return out, rdpefs.StatusSuccess
}

func (l *line) ioctl(code uint32, input []byte) ([]byte, error) {
	switch code {
	case rdpesp.IoctlSetBaudRate:
		var b rdpesp.BaudRate
		if err := b.Deserialize(input); err != nil {
			return nil, err
		}
		s := l.settings
		s.baud = b.BaudRate
		return nil, l.apply(s)
	case rdpesp.IoctlGetBaudRate:
		return (&rdpesp.BaudRate{BaudRate: l.baud}).Serialize(), nil

	case rdpesp.IoctlSetLineControl:
		var c rdpesp.LineControl
		if err := c.Deserialize(input); err != nil {
			return nil, err
		}
		if c.WordLength < 5 || c.WordLength > 8 || c.Parity > rdpesp.SpaceParity || c.StopBits > rdpesp.StopBits2 {
			return nil, errors.Wrapf(errInvalid, "line control %+v", c)
		}
		s := l.settings
		s.control = c
		return nil, l.apply(s)
	case rdpesp.IoctlGetLineControl:
		return l.control.Serialize(), nil

	case rdpesp.IoctlSetTimeouts:
		var t rdpesp.Timeouts
		if err := t.Deserialize(input); err != nil {
			return nil, err
		}
		l.timeouts = t
		return nil, nil
	case rdpesp.IoctlGetTimeouts:
		return l.timeouts.Serialize(), nil

	case rdpesp.IoctlSetChars:
		var c rdpesp.Chars
		if err := c.Deserialize(input); err != nil {
			return nil, err
		}
		s := l.settings
		s.chars = c
		return nil, l.apply(s)
	case rdpesp.IoctlGetChars:
		return l.chars.Serialize(), nil

	case rdpesp.IoctlSetHandflow:
		var f rdpesp.Handflow
		if err := f.Deserialize(input); err != nil {
			return nil, err
		}
		s := l.settings
		s.handflow = f
		if err := l.apply(s); err != nil {
			return nil, err
		}
		if f.ControlHandShake&rdpesp.HandshakeDTRControl != 0 {
			l.setLine(modemDTR, true)
		}
		if f.FlowReplace&rdpesp.FlowRTSControl != 0 {
			l.setLine(modemRTS, true)
		}
		return nil, nil
	case rdpesp.IoctlGetHandflow:
		return l.handflow.Serialize(), nil

	case rdpesp.IoctlSetDTR, rdpesp.IoctlClrDTR:
		l.setLine(modemDTR, code == rdpesp.IoctlSetDTR)
		return nil, nil
	case rdpesp.IoctlSetRTS, rdpesp.IoctlClrRTS:
		l.setLine(modemRTS, code == rdpesp.IoctlSetRTS)
		return nil, nil
	case rdpesp.IoctlGetDTRRTS:
		var state uint32
		if l.dtr {
			state |= rdpesp.DTRState
		}
		if l.rts {
			state |= rdpesp.RTSState
		}
		return rdpesp.U32(state), nil
	case rdpesp.IoctlGetModemStatus:
		status, err := modemStatus(l.fd)
		if err != nil {
			logging.Debug("Serial: Modem status: %v", err)
			status = 0
		}
		return rdpesp.U32(status), nil

	case rdpesp.IoctlGetCommStatus:
		in, out, err := queued(l.fd)
		if err != nil {
			return nil, err
		}
		return (&rdpesp.Status{AmountInInQueue: uint32(in), AmountInOutQueue: uint32(out)}).Serialize(), nil

	case rdpesp.IoctlSetWaitMask:
		mask, err := rdpesp.ParseU32(input, "wait mask")
		if err != nil {
			return nil, err
		}
		if l.waiting {
			l.cancelWait = true
		}
		l.waitMask = mask
		return nil, nil
	case rdpesp.IoctlGetWaitMask:
		return rdpesp.U32(l.waitMask), nil
	case rdpesp.IoctlWaitOnMask:
		if l.waitMask == 0 || l.waiting {
			return nil, errors.Wrap(errInvalid, "wait on mask")
		}
		if ev := l.events(); ev != 0 {
			return rdpesp.U32(ev), nil
		}
		l.waiting = true
		return nil, errPending

	case rdpesp.IoctlPurge:
		flags, err := rdpesp.ParseU32(input, "purge mask")
		if err != nil {
			return nil, err
		}
		return nil, purge(l.fd, flags)

	case rdpesp.IoctlGetProperties:
		props := &rdpesp.Properties{
			PacketLength:       64,
			PacketVersion:      2,
			ServiceMask:        spSerialComm,
			MaxBaud:            baudUser,
			ProvSubType:        pstRS232,
			ProvCapabilities:   pcfCaps,
			SettableParams:     spParams,
			SettableBaud:       settableBauds,
			SettableData:       dataBits5to8,
			SettableStopParity: stopParity,
			CurrentTxQueue:     l.queue.OutSize,
			CurrentRxQueue:     l.queue.InSize,
		}
		return props.Serialize(), nil
	case rdpesp.IoctlSetQueueSize:
		var q rdpesp.QueueSize
		if err := q.Deserialize(input); err != nil {
			return nil, err
		}
		l.queue = q
		return nil, nil

	case rdpesp.IoctlSetBreakOn, rdpesp.IoctlSetBreakOff:
		return nil, setBreak(l.fd, code == rdpesp.IoctlSetBreakOn)
	case rdpesp.IoctlSetXOff, rdpesp.IoctlSetXOn:
		return nil, flow(l.fd, code == rdpesp.IoctlSetXOn)
	case rdpesp.IoctlImmediateChar:
		if len(input) < 1 {
			return nil, errors.Wrap(errInvalid, "immediate char")
		}
		if _, err := unix.Write(l.fd, input[:1]); err != nil {
			return nil, err
		}
		return nil, nil
	case rdpesp.IoctlResetDevice:
		return nil, nil
	case rdpesp.IoctlConfigSize:
		return rdpesp.U32(0), nil
	}
	return nil, errNotSupported
}

// events returns the masked events that are currently signalled and moves
// the modem status baseline forward.
func (l *line) events() uint32 {
	var ev uint32
	if in, out, err := queued(l.fd); err == nil {
		if in > 0 {
			ev |= rdpesp.EventRxChar
		}
		if out == 0 && l.wrote {
			ev |= rdpesp.EventTxEmpty
		}
	}
	if status, err := modemStatus(l.fd); err == nil {
		changed := status ^ l.modem
		l.modem = status
		if changed&rdpesp.ModemStatusCTS != 0 {
			ev |= rdpesp.EventCTS
		}
		if changed&rdpesp.ModemStatusDSR != 0 {
			ev |= rdpesp.EventDSR
		}
		if changed&rdpesp.ModemStatusDCD != 0 {
			ev |= rdpesp.EventRLSD
		}
		if changed&rdpesp.ModemStatusRI != 0 {
			ev |= rdpesp.EventRing
		}
	}
	ev &= l.waitMask
	if ev&rdpesp.EventTxEmpty != 0 {
		l.wrote = false
	}
	return ev
}

// PollEvent completes a pending WAIT_ON_MASK. A wait cancelled by a new
// wait mask, or whose handle is gone, completes with no events.
func (p *Port) PollEvent(h device.Handle) ([]byte, bool) {
	l, ok := p.lines[h]
	if !ok {
		return rdpesp.U32(0), true
	}
	if l.cancelWait || !l.waiting {
		l.waiting = false
		l.cancelWait = false
		return rdpesp.U32(0), true
	}
	ev := l.events()
	if ev == 0 {
		return nil, false
	}
	l.waiting = false
	return rdpesp.U32(ev), true
}
