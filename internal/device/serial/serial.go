// Package serial implements the serial port device class. The tty is opened
// non-blocking so the engine's scheduler can move bytes through it; the line
// settings the server manages through IOCTLs are kept here and pushed to the
// tty with termios.
package serial

import (
	"sort"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpesp"
	goserial "go.bug.st/serial"
	"golang.org/x/sys/unix"
)

const maxDword = 0xFFFFFFFF

// maxTimeout caps multiplier × length products.
const maxTimeout = 24 * time.Hour

// settings is what the server sees of the line.
type settings struct {
	baud     uint32
	control  rdpesp.LineControl
	chars    rdpesp.Chars
	handflow rdpesp.Handflow
}

type line struct {
	fd int
	settings
	timeouts rdpesp.Timeouts
	queue    rdpesp.QueueSize

	dtr, rts bool

	waitMask   uint32
	waiting    bool
	cancelWait bool
	modem      uint32
	wrote      bool
}

// Port is one serial device. Like every back end it is driven from the
// reactor goroutine only.
type Port struct {
	path    string
	initial settings
	lines   map[device.Handle]*line
	next    device.Handle
}

// New returns a port for the tty at path, configured with mode on open.
func New(path string, mode *goserial.Mode) *Port {
	if mode == nil {
		mode = &goserial.Mode{BaudRate: 9600, DataBits: 8}
	}
	return &Port{
		path:    path,
		initial: fromMode(mode),
		lines:   make(map[device.Handle]*line),
		next:    1,
	}
}

func fromMode(mode *goserial.Mode) settings {
	s := settings{
		baud: uint32(mode.BaudRate),
		control: rdpesp.LineControl{
			WordLength: uint8(mode.DataBits),
			StopBits:   rdpesp.StopBits1,
			Parity:     rdpesp.NoParity,
		},
		chars: rdpesp.Chars{EofChar: 0x1A, XonChar: 0x11, XoffChar: 0x13},
	}
	if s.control.WordLength == 0 {
		s.control.WordLength = 8
	}
	switch mode.Parity {
	case goserial.OddParity:
		s.control.Parity = rdpesp.OddParity
	case goserial.EvenParity:
		s.control.Parity = rdpesp.EvenParity
	case goserial.MarkParity:
		s.control.Parity = rdpesp.MarkParity
	case goserial.SpaceParity:
		s.control.Parity = rdpesp.SpaceParity
	}
	switch mode.StopBits {
	case goserial.OnePointFiveStopBits:
		s.control.StopBits = rdpesp.StopBits1_5
	case goserial.TwoStopBits:
		s.control.StopBits = rdpesp.StopBits2
	}
	return s
}

// ListPorts returns the serial ports found on this host, sorted.
func ListPorts() ([]string, error) {
	ports, err := goserial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}
	sort.Strings(ports)
	return ports, nil
}

func (p *Port) Path() string { return p.path }

// Create opens the tty. Serial ports are exclusive: a second open fails with
// a sharing violation until the first handle is closed.
func (p *Port) Create(*rdpefs.CreateRequest) (device.Handle, rdpefs.NTStatus) {
	if len(p.lines) > 0 {
		return 0, rdpefs.StatusSharingViolation
	}
	fd, err := device.OpenNonblocking(p.path)
	if err != nil {
		logging.Warn("Serial: Open %s: %v", p.path, err)
		return 0, device.StatusFromError(err)
	}

	l := &line{fd: fd, settings: p.initial, dtr: true, rts: true}
	if err := configure(fd, &l.settings); err != nil {
		_ = unix.Close(fd)
		logging.Warn("Serial: Configure %s: %v", p.path, err)
		return 0, device.StatusFromError(err)
	}
	l.setLine(modemDTR, true)
	l.setLine(modemRTS, true)
	if status, err := modemStatus(fd); err == nil {
		l.modem = status
	}

	h := p.next
	p.next++
	p.lines[h] = l
	logging.Debug("Serial: Opened %s at %d baud", p.path, l.baud)
	return h, rdpefs.StatusSuccess
}

func (p *Port) Close(h device.Handle) rdpefs.NTStatus {
	l, ok := p.lines[h]
	if !ok {
		return rdpefs.StatusInvalidHandle
	}
	delete(p.lines, h)
	if err := unix.Close(l.fd); err != nil {
		return device.StatusFromError(err)
	}
	return rdpefs.StatusSuccess
}

// Read and Write are never called for serial ports; transfers go through
// Stream and the scheduler.
func (p *Port) Read(device.Handle, uint32, uint64) ([]byte, rdpefs.NTStatus) {
	return nil, rdpefs.StatusInvalidDeviceRequest
}

func (p *Port) Write(device.Handle, []byte, uint64) (uint32, rdpefs.NTStatus) {
	return 0, rdpefs.StatusInvalidDeviceRequest
}

type stream struct {
	device.FdStream
	l *line
}

func (s stream) Write(b []byte) (int, error) {
	n, err := s.FdStream.Write(b)
	if n > 0 {
		s.l.wrote = true
	}
	return n, err
}

func (p *Port) Stream(h device.Handle) (device.Stream, rdpefs.NTStatus) {
	l, ok := p.lines[h]
	if !ok {
		return nil, rdpefs.StatusInvalidHandle
	}
	return stream{FdStream: device.FdStream(l.fd), l: l}, rdpefs.StatusSuccess
}

func millis(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func total(multiplier, constant, length uint32) time.Duration {
	ms := uint64(multiplier)*uint64(length) + uint64(constant)
	if d := time.Duration(ms) * time.Millisecond; ms < uint64(maxTimeout/time.Millisecond) {
		return d
	}
	return maxTimeout
}

// Timeouts follows SERIAL_TIMEOUTS: total = multiplier × length + constant.
// An interval of MAXDWORD with both read totals zero gets a one tick wait;
// see ReadsBuffered.
func (p *Port) Timeouts(h device.Handle, major rdpefs.MajorFunction, length uint32) (time.Duration, time.Duration) {
	l, ok := p.lines[h]
	if !ok {
		return 0, 0
	}
	t := l.timeouts
	switch major {
	case rdpefs.MajorRead:
		if t.ReadIntervalTimeout == maxDword {
			if t.ReadTotalTimeoutMultiplier == 0 && t.ReadTotalTimeoutConstant == 0 {
				return time.Millisecond, 0
			}
			return total(t.ReadTotalTimeoutMultiplier, t.ReadTotalTimeoutConstant, length), 0
		}
		return total(t.ReadTotalTimeoutMultiplier, t.ReadTotalTimeoutConstant, length), millis(t.ReadIntervalTimeout)
	case rdpefs.MajorWrite:
		return total(t.WriteTotalTimeoutMultiplier, t.WriteTotalTimeoutConstant, length), 0
	}
	return 0, 0
}

// ReadsBuffered reports whether reads on h return immediately with whatever
// is buffered, which is what a MAXDWORD interval with zero totals asks for.
func (p *Port) ReadsBuffered(h device.Handle) bool {
	l, ok := p.lines[h]
	if !ok {
		return false
	}
	t := l.timeouts
	return t.ReadIntervalTimeout == maxDword && t.ReadTotalTimeoutMultiplier == 0 && t.ReadTotalTimeoutConstant == 0
}

// Release closes every open handle.
func (p *Port) Release() error {
	for h := range p.lines {
		p.Close(h)
	}
	return nil
}
