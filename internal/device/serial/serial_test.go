package serial

import (
	"testing"
	"time"

	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpesp"
	"github.com/stretchr/testify/assert"
	goserial "go.bug.st/serial"
)

var (
	_ device.Line           = (*Port)(nil)
	_ device.Controller     = (*Port)(nil)
	_ device.BufferedReader = (*Port)(nil)
)

func TestFromMode(t *testing.T) {
	s := fromMode(&goserial.Mode{BaudRate: 19200, DataBits: 7, Parity: goserial.EvenParity, StopBits: goserial.TwoStopBits})
	assert.Equal(t, uint32(19200), s.baud)
	assert.Equal(t, rdpesp.LineControl{StopBits: rdpesp.StopBits2, Parity: rdpesp.EvenParity, WordLength: 7}, s.control)
	assert.Equal(t, uint8(0x11), s.chars.XonChar)

	s = fromMode(&goserial.Mode{BaudRate: 9600})
	assert.Equal(t, uint8(8), s.control.WordLength)
	assert.Equal(t, rdpesp.NoParity, s.control.Parity)
}

func TestTimeouts(t *testing.T) {
	tests := []struct {
		name     string
		timeouts rdpesp.Timeouts
		major    rdpefs.MajorFunction
		length   uint32
		total    time.Duration
		interval time.Duration
	}{
		{
			name:     "no timeouts",
			major:    rdpefs.MajorRead,
			length:   10,
			total:    0,
			interval: 0,
		},
		{
			name:     "read total and interval",
			timeouts: rdpesp.Timeouts{ReadIntervalTimeout: 100, ReadTotalTimeoutMultiplier: 10, ReadTotalTimeoutConstant: 500},
			major:    rdpefs.MajorRead,
			length:   50,
			total:    time.Second,
			interval: 100 * time.Millisecond,
		},
		{
			name:     "return buffered bytes",
			timeouts: rdpesp.Timeouts{ReadIntervalTimeout: maxDword},
			major:    rdpefs.MajorRead,
			length:   50,
			total:    time.Millisecond,
		},
		{
			name:     "interval disabled",
			timeouts: rdpesp.Timeouts{ReadIntervalTimeout: maxDword, ReadTotalTimeoutConstant: 200},
			major:    rdpefs.MajorRead,
			length:   1,
			total:    200 * time.Millisecond,
		},
		{
			name:     "write",
			timeouts: rdpesp.Timeouts{ReadIntervalTimeout: 100, WriteTotalTimeoutMultiplier: 2, WriteTotalTimeoutConstant: 10},
			major:    rdpefs.MajorWrite,
			length:   20,
			total:    50 * time.Millisecond,
		},
		{
			name:     "capped",
			timeouts: rdpesp.Timeouts{ReadTotalTimeoutMultiplier: maxDword},
			major:    rdpefs.MajorRead,
			length:   maxDword,
			total:    maxTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New("/dev/null", nil)
			p.lines[1] = &line{fd: -1, timeouts: tt.timeouts}
			total, interval := p.Timeouts(1, tt.major, tt.length)
			assert.Equal(t, tt.total, total)
			assert.Equal(t, tt.interval, interval)
		})
	}

	total, interval := New("/dev/null", nil).Timeouts(9, rdpefs.MajorRead, 10)
	assert.Zero(t, total)
	assert.Zero(t, interval)
}

func TestReadsBuffered(t *testing.T) {
	p := New("/dev/null", nil)
	p.lines[1] = &line{fd: -1, timeouts: rdpesp.Timeouts{ReadIntervalTimeout: maxDword}}
	p.lines[2] = &line{fd: -1, timeouts: rdpesp.Timeouts{ReadIntervalTimeout: maxDword, ReadTotalTimeoutConstant: 200}}
	p.lines[3] = &line{fd: -1, timeouts: rdpesp.Timeouts{ReadIntervalTimeout: 50}}

	assert.True(t, p.ReadsBuffered(1))
	assert.False(t, p.ReadsBuffered(2))
	assert.False(t, p.ReadsBuffered(3))
	assert.False(t, p.ReadsBuffered(9))
}

func TestUnknownHandle(t *testing.T) {
	p := New("/dev/null", nil)
	_, status := p.DeviceControl(3, rdpesp.IoctlGetBaudRate, nil, 4)
	assert.Equal(t, rdpefs.StatusInvalidHandle, status)
	_, status = p.Stream(3)
	assert.Equal(t, rdpefs.StatusInvalidHandle, status)
	assert.Equal(t, rdpefs.StatusInvalidHandle, p.Close(3))

	out, done := p.PollEvent(3)
	assert.True(t, done)
	assert.Equal(t, rdpesp.U32(0), out)
}

func TestOpenMissing(t *testing.T) {
	_, status := New("/nonexistent/tty", nil).Create(&rdpefs.CreateRequest{})
	assert.Equal(t, rdpefs.StatusObjectNameNotFound, status)
}
