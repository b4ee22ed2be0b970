package serial

import (
	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpesp"
	"golang.org/x/sys/unix"
)

var baudRates = map[uint32]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}

// configure puts the tty in raw mode with the settings of s.
func configure(fd int, s *settings) error {
	speed, ok := baudRates[s.baud]
	if !ok {
		return errors.Wrapf(errInvalid, "baud rate %d", s.baud)
	}
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return errors.Wrap(err, "get termios")
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR |
		unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY | unix.INPCK
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CMSPAR | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed

	switch s.control.WordLength {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}
	switch s.control.Parity {
	case rdpesp.OddParity:
		t.Cflag |= unix.PARENB | unix.PARODD
	case rdpesp.EvenParity:
		t.Cflag |= unix.PARENB
	case rdpesp.MarkParity:
		t.Cflag |= unix.PARENB | unix.PARODD | unix.CMSPAR
	case rdpesp.SpaceParity:
		t.Cflag |= unix.PARENB | unix.CMSPAR
	}
	if s.control.Parity != rdpesp.NoParity {
		t.Iflag |= unix.INPCK
	}
	// termios has no 1.5 stop bits; two is the closest.
	if s.control.StopBits != rdpesp.StopBits1 {
		t.Cflag |= unix.CSTOPB
	}

	if s.handflow.ControlHandShake&rdpesp.HandshakeCTSHandshake != 0 || s.handflow.FlowReplace&rdpesp.FlowRTSHandshake != 0 {
		t.Cflag |= unix.CRTSCTS
	}
	if s.handflow.FlowReplace&rdpesp.FlowAutoTransmit != 0 {
		t.Iflag |= unix.IXON
	}
	if s.handflow.FlowReplace&rdpesp.FlowAutoReceive != 0 {
		t.Iflag |= unix.IXOFF
	}
	t.Cc[unix.VSTART] = s.chars.XonChar
	t.Cc[unix.VSTOP] = s.chars.XoffChar
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return errors.Wrap(err, "set termios")
	}
	return nil
}

func setModemLine(fd int, which modemLine, on bool) error {
	bit := unix.TIOCM_DTR
	if which == modemRTS {
		bit = unix.TIOCM_RTS
	}
	req := uint(unix.TIOCMBIC)
	if on {
		req = unix.TIOCMBIS
	}
	return unix.IoctlSetPointerInt(fd, req, bit)
}

// modemStatus returns the modem lines as MS-RDPESP status bits.
func modemStatus(fd int) (uint32, error) {
	bits, err := unix.IoctlGetInt(fd, unix.TIOCMGET)
	if err != nil {
		return 0, err
	}
	var status uint32
	if bits&unix.TIOCM_CTS != 0 {
		status |= rdpesp.ModemStatusCTS
	}
	if bits&unix.TIOCM_DSR != 0 {
		status |= rdpesp.ModemStatusDSR
	}
	if bits&unix.TIOCM_RI != 0 {
		status |= rdpesp.ModemStatusRI
	}
	if bits&unix.TIOCM_CD != 0 {
		status |= rdpesp.ModemStatusDCD
	}
	return status, nil
}

func queued(fd int) (in, out int, err error) {
	if in, err = unix.IoctlGetInt(fd, unix.TIOCINQ); err != nil {
		return 0, 0, err
	}
	if out, err = unix.IoctlGetInt(fd, unix.TIOCOUTQ); err != nil {
		return 0, 0, err
	}
	return in, out, nil
}

func setBreak(fd int, on bool) error {
	if on {
		return unix.IoctlSetInt(fd, unix.TIOCSBRK, 0)
	}
	return unix.IoctlSetInt(fd, unix.TIOCCBRK, 0)
}

func flow(fd int, resume bool) error {
	action := unix.TCOOFF
	if resume {
		action = unix.TCOON
	}
	return unix.IoctlSetInt(fd, unix.TCXONC, action)
}

// purge discards the queues named by the clear bits. Pending transfers are
// owned by the engine and end through their own timeouts.
func purge(fd int, flags uint32) error {
	rx := flags&rdpesp.PurgeRxClear != 0
	tx := flags&rdpesp.PurgeTxClear != 0
	switch {
	case rx && tx:
		return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
	case rx:
		return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)
	case tx:
		return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCOFLUSH)
	}
	return nil
}
