package serial

import (
	"fmt"
	"testing"
	"time"

	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpesp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goserial "go.bug.st/serial"
	"golang.org/x/sys/unix"
)

// openPty returns the master side of a new pty and the path of its slave.
func openPty(t *testing.T) (int, string) {
	t.Helper()
	master, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Skipf("no pty support: %v", err)
	}
	t.Cleanup(func() { _ = unix.Close(master) })

	require.NoError(t, unix.IoctlSetPointerInt(master, unix.TIOCSPTLCK, 0))
	n, err := unix.IoctlGetUint32(master, unix.TIOCGPTN)
	require.NoError(t, err)
	return master, fmt.Sprintf("/dev/pts/%d", n)
}

func openPort(t *testing.T) (*Port, device.Handle, int) {
	t.Helper()
	master, slave := openPty(t)
	p := New(slave, &goserial.Mode{BaudRate: 9600, DataBits: 8})
	h, status := p.Create(&rdpefs.CreateRequest{})
	require.Equal(t, rdpefs.StatusSuccess, status)
	t.Cleanup(func() { _ = p.Release() })
	return p, h, master
}

func ioctl(t *testing.T, p *Port, h device.Handle, code uint32, input []byte) []byte {
	t.Helper()
	out, status := p.DeviceControl(h, code, input, 64)
	require.Equal(t, rdpefs.StatusSuccess, status, rdpesp.IoctlName(code))
	return out
}

func TestPty_ExclusiveOpen(t *testing.T) {
	p, h, _ := openPort(t)
	_, status := p.Create(&rdpefs.CreateRequest{})
	assert.Equal(t, rdpefs.StatusSharingViolation, status)

	require.Equal(t, rdpefs.StatusSuccess, p.Close(h))
	h, status = p.Create(&rdpefs.CreateRequest{})
	assert.Equal(t, rdpefs.StatusSuccess, status)
	assert.Equal(t, device.Handle(2), h)
}

func TestPty_LineSettings(t *testing.T) {
	p, h, _ := openPort(t)

	ioctl(t, p, h, rdpesp.IoctlSetBaudRate, (&rdpesp.BaudRate{BaudRate: 115200}).Serialize())
	assert.Equal(t, rdpesp.U32(115200), ioctl(t, p, h, rdpesp.IoctlGetBaudRate, nil))

	lc := &rdpesp.LineControl{StopBits: rdpesp.StopBits2, Parity: rdpesp.OddParity, WordLength: 7}
	ioctl(t, p, h, rdpesp.IoctlSetLineControl, lc.Serialize())
	assert.Equal(t, lc.Serialize(), ioctl(t, p, h, rdpesp.IoctlGetLineControl, nil))

	term, err := unix.IoctlGetTermios(p.lines[h].fd, unix.TCGETS)
	require.NoError(t, err)
	assert.Equal(t, uint32(unix.B115200), term.Cflag&unix.CBAUD)
	assert.Equal(t, uint32(unix.CS7), term.Cflag&unix.CSIZE)
	assert.NotZero(t, term.Cflag&unix.PARODD)
	assert.NotZero(t, term.Cflag&unix.CSTOPB)
	assert.Zero(t, term.Lflag&unix.ICANON)

	// A rejected setting leaves the previous one in place.
	_, status := p.DeviceControl(h, rdpesp.IoctlSetBaudRate, (&rdpesp.BaudRate{BaudRate: 12345}).Serialize(), 0)
	assert.Equal(t, rdpefs.StatusInvalidParameter, status)
	assert.Equal(t, rdpesp.U32(115200), ioctl(t, p, h, rdpesp.IoctlGetBaudRate, nil))

	bad := &rdpesp.LineControl{WordLength: 9}
	_, status = p.DeviceControl(h, rdpesp.IoctlSetLineControl, bad.Serialize(), 0)
	assert.Equal(t, rdpefs.StatusInvalidParameter, status)

	to := &rdpesp.Timeouts{ReadIntervalTimeout: 5, ReadTotalTimeoutConstant: 100}
	ioctl(t, p, h, rdpesp.IoctlSetTimeouts, to.Serialize())
	assert.Equal(t, to.Serialize(), ioctl(t, p, h, rdpesp.IoctlGetTimeouts, nil))

	hf := &rdpesp.Handflow{ControlHandShake: rdpesp.HandshakeCTSHandshake, XonLimit: 10, XoffLimit: 20}
	ioctl(t, p, h, rdpesp.IoctlSetHandflow, hf.Serialize())
	assert.Equal(t, hf.Serialize(), ioctl(t, p, h, rdpesp.IoctlGetHandflow, nil))

	chars := &rdpesp.Chars{XonChar: 0x01, XoffChar: 0x02}
	ioctl(t, p, h, rdpesp.IoctlSetChars, chars.Serialize())
	assert.Equal(t, chars.Serialize(), ioctl(t, p, h, rdpesp.IoctlGetChars, nil))
}

func TestPty_ModemLines(t *testing.T) {
	p, h, _ := openPort(t)

	assert.Equal(t, rdpesp.U32(rdpesp.DTRState|rdpesp.RTSState), ioctl(t, p, h, rdpesp.IoctlGetDTRRTS, nil))
	ioctl(t, p, h, rdpesp.IoctlClrDTR, nil)
	assert.Equal(t, rdpesp.U32(rdpesp.RTSState), ioctl(t, p, h, rdpesp.IoctlGetDTRRTS, nil))
	ioctl(t, p, h, rdpesp.IoctlClrRTS, nil)
	ioctl(t, p, h, rdpesp.IoctlSetDTR, nil)
	assert.Equal(t, rdpesp.U32(rdpesp.DTRState), ioctl(t, p, h, rdpesp.IoctlGetDTRRTS, nil))

	assert.Len(t, ioctl(t, p, h, rdpesp.IoctlGetModemStatus, nil), 4)
}

func TestPty_Errors(t *testing.T) {
	p, h, _ := openPort(t)

	_, status := p.DeviceControl(h, rdpesp.IoctlSetBaudRate, []byte{1}, 0)
	assert.Equal(t, rdpefs.StatusInvalidParameter, status)

	_, status = p.DeviceControl(h, rdpesp.IoctlGetCommConfig, nil, 64)
	assert.Equal(t, rdpefs.StatusNotSupported, status)

	_, status = p.DeviceControl(h, rdpesp.IoctlGetBaudRate, nil, 2)
	assert.Equal(t, rdpefs.StatusBufferTooSmall, status)

	// WAIT_ON_MASK needs a mask.
	_, status = p.DeviceControl(h, rdpesp.IoctlWaitOnMask, nil, 4)
	assert.Equal(t, rdpefs.StatusInvalidParameter, status)

	out := ioctl(t, p, h, rdpesp.IoctlGetProperties, nil)
	assert.Len(t, out, 64)
	assert.Equal(t, rdpesp.U32(0), ioctl(t, p, h, rdpesp.IoctlConfigSize, nil))
}

func TestPty_StreamAndCommStatus(t *testing.T) {
	p, h, master := openPort(t)
	s, status := p.Stream(h)
	require.Equal(t, rdpefs.StatusSuccess, status)

	buf := make([]byte, 16)
	_, err := s.Read(buf)
	assert.ErrorIs(t, err, device.ErrWouldBlock)

	_, err = unix.Write(master, []byte("hello"))
	require.NoError(t, err)

	var got []byte
	require.Eventually(t, func() bool {
		n, err := s.Read(buf)
		if err == nil {
			got = append(got, buf[:n]...)
		}
		return len(got) == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", string(got))

	n, err := s.Write([]byte("out"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, p.lines[h].wrote)

	in := make([]byte, 8)
	require.Eventually(t, func() bool {
		n, _ = unix.Read(master, in)
		return n == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "out", string(in[:n]))

	assert.Len(t, ioctl(t, p, h, rdpesp.IoctlGetCommStatus, nil), 20)
	ioctl(t, p, h, rdpesp.IoctlPurge, rdpesp.U32(rdpesp.PurgeRxClear|rdpesp.PurgeTxClear))
}

func TestPty_WaitOnMask(t *testing.T) {
	p, h, master := openPort(t)

	ioctl(t, p, h, rdpesp.IoctlSetWaitMask, rdpesp.U32(rdpesp.EventRxChar))
	assert.Equal(t, rdpesp.U32(rdpesp.EventRxChar), ioctl(t, p, h, rdpesp.IoctlGetWaitMask, nil))

	_, status := p.DeviceControl(h, rdpesp.IoctlWaitOnMask, nil, 4)
	require.Equal(t, rdpefs.StatusPending, status)

	// Only one wait at a time.
	_, status = p.DeviceControl(h, rdpesp.IoctlWaitOnMask, nil, 4)
	assert.Equal(t, rdpefs.StatusInvalidParameter, status)

	_, done := p.PollEvent(h)
	assert.False(t, done)

	_, err := unix.Write(master, []byte("x"))
	require.NoError(t, err)

	var out []byte
	require.Eventually(t, func() bool {
		out, done = p.PollEvent(h)
		return done
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, rdpesp.U32(rdpesp.EventRxChar), out)

	// With a byte still queued the next wait answers at once.
	assert.Equal(t, rdpesp.U32(rdpesp.EventRxChar), ioctl(t, p, h, rdpesp.IoctlWaitOnMask, nil))
}

func TestPty_WaitCancelledByNewMask(t *testing.T) {
	p, h, _ := openPort(t)

	ioctl(t, p, h, rdpesp.IoctlSetWaitMask, rdpesp.U32(rdpesp.EventRing))
	_, status := p.DeviceControl(h, rdpesp.IoctlWaitOnMask, nil, 4)
	require.Equal(t, rdpefs.StatusPending, status)

	ioctl(t, p, h, rdpesp.IoctlSetWaitMask, rdpesp.U32(rdpesp.EventRxChar))
	out, done := p.PollEvent(h)
	assert.True(t, done)
	assert.Equal(t, rdpesp.U32(0), out)
}
