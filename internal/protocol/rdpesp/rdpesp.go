// Package rdpesp implements the Serial and Parallel Port Virtual Channel
// Extension (MS-RDPESP) IOCTL codes and structures.
package rdpesp

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/efficientgo/core/errors"
)

// Serial IOCTL codes (MS-RDPESP 2.2.2)
const (
	IoctlSetBaudRate     uint32 = 0x001B0004
	IoctlSetQueueSize    uint32 = 0x001B0008
	IoctlSetLineControl  uint32 = 0x001B000C
	IoctlSetBreakOn      uint32 = 0x001B0010
	IoctlSetBreakOff     uint32 = 0x001B0014
	IoctlImmediateChar   uint32 = 0x001B0018
	IoctlSetTimeouts     uint32 = 0x001B001C
	IoctlGetTimeouts     uint32 = 0x001B0020
	IoctlSetDTR          uint32 = 0x001B0024
	IoctlClrDTR          uint32 = 0x001B0028
	IoctlResetDevice     uint32 = 0x001B002C
	IoctlSetRTS          uint32 = 0x001B0030
	IoctlClrRTS          uint32 = 0x001B0034
	IoctlSetXOff         uint32 = 0x001B0038
	IoctlSetXOn          uint32 = 0x001B003C
	IoctlGetWaitMask     uint32 = 0x001B0040
	IoctlSetWaitMask     uint32 = 0x001B0044
	IoctlWaitOnMask      uint32 = 0x001B0048
	IoctlPurge           uint32 = 0x001B004C
	IoctlGetBaudRate     uint32 = 0x001B0050
	IoctlGetLineControl  uint32 = 0x001B0054
	IoctlGetChars        uint32 = 0x001B0058
	IoctlSetChars        uint32 = 0x001B005C
	IoctlGetHandflow     uint32 = 0x001B0060
	IoctlSetHandflow     uint32 = 0x001B0064
	IoctlGetModemStatus  uint32 = 0x001B0068
	IoctlGetCommStatus   uint32 = 0x001B006C
	IoctlXOffCounter     uint32 = 0x001B0070
	IoctlGetProperties   uint32 = 0x001B0074
	IoctlGetDTRRTS       uint32 = 0x001B0078
	IoctlConfigSize      uint32 = 0x001B0080
	IoctlGetCommConfig   uint32 = 0x001B0084
	IoctlSetCommConfig   uint32 = 0x001B0088
	IoctlGetStats        uint32 = 0x001B008C
	IoctlClearStats      uint32 = 0x001B0090
	IoctlGetModemControl uint32 = 0x001B0094
	IoctlSetModemControl uint32 = 0x001B0098
	IoctlSetFIFOControl  uint32 = 0x001B009C
)

var ioctlNames = map[uint32]string{
	IoctlSetBaudRate:     "SET_BAUD_RATE",
	IoctlSetQueueSize:    "SET_QUEUE_SIZE",
	IoctlSetLineControl:  "SET_LINE_CONTROL",
	IoctlSetBreakOn:      "SET_BREAK_ON",
	IoctlSetBreakOff:     "SET_BREAK_OFF",
	IoctlImmediateChar:   "IMMEDIATE_CHAR",
	IoctlSetTimeouts:     "SET_TIMEOUTS",
	IoctlGetTimeouts:     "GET_TIMEOUTS",
	IoctlSetDTR:          "SET_DTR",
	IoctlClrDTR:          "CLR_DTR",
	IoctlResetDevice:     "RESET_DEVICE",
	IoctlSetRTS:          "SET_RTS",
	IoctlClrRTS:          "CLR_RTS",
	IoctlSetXOff:         "SET_XOFF",
	IoctlSetXOn:          "SET_XON",
	IoctlGetWaitMask:     "GET_WAIT_MASK",
	IoctlSetWaitMask:     "SET_WAIT_MASK",
	IoctlWaitOnMask:      "WAIT_ON_MASK",
	IoctlPurge:           "PURGE",
	IoctlGetBaudRate:     "GET_BAUD_RATE",
	IoctlGetLineControl:  "GET_LINE_CONTROL",
	IoctlGetChars:        "GET_CHARS",
	IoctlSetChars:        "SET_CHARS",
	IoctlGetHandflow:     "GET_HANDFLOW",
	IoctlSetHandflow:     "SET_HANDFLOW",
	IoctlGetModemStatus:  "GET_MODEMSTATUS",
	IoctlGetCommStatus:   "GET_COMMSTATUS",
	IoctlXOffCounter:     "XOFF_COUNTER",
	IoctlGetProperties:   "GET_PROPERTIES",
	IoctlGetDTRRTS:       "GET_DTRRTS",
	IoctlConfigSize:      "CONFIG_SIZE",
	IoctlGetCommConfig:   "GET_COMMCONFIG",
	IoctlSetCommConfig:   "SET_COMMCONFIG",
	IoctlGetStats:        "GET_STATS",
	IoctlClearStats:      "CLEAR_STATS",
	IoctlGetModemControl: "GET_MODEM_CONTROL",
	IoctlSetModemControl: "SET_MODEM_CONTROL",
	IoctlSetFIFOControl:  "SET_FIFO_CONTROL",
}

// IoctlName returns the symbolic name of a serial IOCTL for logs.
func IoctlName(code uint32) string {
	if name, ok := ioctlNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}

// Wait mask events (MS-RDPESP 2.2.2.6)
const (
	EventRxChar  uint32 = 0x0001 // SERIAL_EV_RXCHAR
	EventRxFlag  uint32 = 0x0002 // SERIAL_EV_RXFLAG
	EventTxEmpty uint32 = 0x0004 // SERIAL_EV_TXEMPTY
	EventCTS     uint32 = 0x0008 // SERIAL_EV_CTS
	EventDSR     uint32 = 0x0010 // SERIAL_EV_DSR
	EventRLSD    uint32 = 0x0020 // SERIAL_EV_RLSD
	EventBreak   uint32 = 0x0040 // SERIAL_EV_BREAK
	EventErr     uint32 = 0x0080 // SERIAL_EV_ERR
	EventRing    uint32 = 0x0100 // SERIAL_EV_RING
)

// Purge flags (MS-RDPESP 2.2.2.14)
const (
	PurgeTxAbort uint32 = 0x00000001
	PurgeRxAbort uint32 = 0x00000002
	PurgeTxClear uint32 = 0x00000004
	PurgeRxClear uint32 = 0x00000008
)

// Modem status bits (MS-RDPESP 2.2.2.12)
const (
	ModemStatusCTS uint32 = 0x10
	ModemStatusDSR uint32 = 0x20
	ModemStatusRI  uint32 = 0x40
	ModemStatusDCD uint32 = 0x80
)

// DTR/RTS state bits returned by GET_DTRRTS
const (
	DTRState uint32 = 0x01
	RTSState uint32 = 0x02
)

// Line control values (MS-RDPESP 2.2.2.3)
const (
	StopBits1   uint8 = 0
	StopBits1_5 uint8 = 1
	StopBits2   uint8 = 2

	NoParity    uint8 = 0
	OddParity   uint8 = 1
	EvenParity  uint8 = 2
	MarkParity  uint8 = 3
	SpaceParity uint8 = 4
)

// Handflow control bits (MS-RDPESP 2.2.2.7)
const (
	HandshakeDTRControl   uint32 = 0x01
	HandshakeCTSHandshake uint32 = 0x08
	FlowAutoTransmit      uint32 = 0x01
	FlowAutoReceive       uint32 = 0x02
	FlowRTSControl        uint32 = 0x40
	FlowRTSHandshake      uint32 = 0x80
)

var errShortInput = errors.New("ioctl input too short")

func decode(data []byte, field string, v interface{}) error {
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, v); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errors.Wrapf(errShortInput, "%s: %d bytes", field, len(data))
		}
		return errors.Wrap(err, field)
	}
	return nil
}

func encode(v interface{}) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// IsShortInput reports whether err came from an IOCTL input that was too short.
func IsShortInput(err error) bool {
	return errors.Is(err, errShortInput)
}

// BaudRate is SERIAL_BAUD_RATE
type BaudRate struct {
	BaudRate uint32
}

func (b *BaudRate) Serialize() []byte            { return encode(b) }
func (b *BaudRate) Deserialize(data []byte) error { return decode(data, "baud rate", b) }

// LineControl is SERIAL_LINE_CONTROL
type LineControl struct {
	StopBits   uint8
	Parity     uint8
	WordLength uint8
}

func (l *LineControl) Serialize() []byte            { return encode(l) }
func (l *LineControl) Deserialize(data []byte) error { return decode(data, "line control", l) }

// Timeouts is SERIAL_TIMEOUTS (all values in milliseconds)
type Timeouts struct {
	ReadIntervalTimeout         uint32
	ReadTotalTimeoutMultiplier  uint32
	ReadTotalTimeoutConstant    uint32
	WriteTotalTimeoutMultiplier uint32
	WriteTotalTimeoutConstant   uint32
}

func (t *Timeouts) Serialize() []byte            { return encode(t) }
func (t *Timeouts) Deserialize(data []byte) error { return decode(data, "timeouts", t) }

// Chars is SERIAL_CHARS
type Chars struct {
	EofChar   uint8
	ErrorChar uint8
	BreakChar uint8
	EventChar uint8
	XonChar   uint8
	XoffChar  uint8
}

func (c *Chars) Serialize() []byte            { return encode(c) }
func (c *Chars) Deserialize(data []byte) error { return decode(data, "chars", c) }

// Handflow is SERIAL_HANDFLOW
type Handflow struct {
	ControlHandShake uint32
	FlowReplace      uint32
	XonLimit         uint32
	XoffLimit        uint32
}

func (h *Handflow) Serialize() []byte            { return encode(h) }
func (h *Handflow) Deserialize(data []byte) error { return decode(data, "handflow", h) }

// QueueSize is SERIAL_QUEUE_SIZE
type QueueSize struct {
	InSize  uint32
	OutSize uint32
}

func (q *QueueSize) Deserialize(data []byte) error { return decode(data, "queue size", q) }

// Status is SERIAL_STATUS
type Status struct {
	Errors           uint32
	HoldReasons      uint32
	AmountInInQueue  uint32
	AmountInOutQueue uint32
	EofReceived      uint8
	WaitForImmediate uint8
	Reserved         uint16
}

func (s *Status) Serialize() []byte { return encode(s) }

// Properties is SERIAL_COMMPROP (64 bytes)
type Properties struct {
	PacketLength       uint16
	PacketVersion      uint16
	ServiceMask        uint32
	Reserved1          uint32
	MaxTxQueue         uint32
	MaxRxQueue         uint32
	MaxBaud            uint32
	ProvSubType        uint32
	ProvCapabilities   uint32
	SettableParams     uint32
	SettableBaud       uint32
	SettableData       uint16
	SettableStopParity uint16
	CurrentTxQueue     uint32
	CurrentRxQueue     uint32
	ProvSpec1          uint32
	ProvSpec2          uint32
	ProvChar           [2]uint16
}

func (p *Properties) Serialize() []byte { return encode(p) }

// U32 encodes a single little-endian uint32 (wait mask, modem status, DTR/RTS).
func U32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

// ParseU32 decodes a single little-endian uint32 input.
func ParseU32(data []byte, field string) (uint32, error) {
	var v uint32
	err := decode(data, field, &v)
	return v, err
}
