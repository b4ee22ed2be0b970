package rdpefs

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/efficientgo/core/errors"
)

// MajorFunction is the IRP major function code (MS-RDPEFS 2.2.1.4)
type MajorFunction uint32

const (
	MajorCreate                 MajorFunction = 0x00000000 // IRP_MJ_CREATE
	MajorClose                  MajorFunction = 0x00000002 // IRP_MJ_CLOSE
	MajorRead                   MajorFunction = 0x00000003 // IRP_MJ_READ
	MajorWrite                  MajorFunction = 0x00000004 // IRP_MJ_WRITE
	MajorQueryInformation       MajorFunction = 0x00000005 // IRP_MJ_QUERY_INFORMATION
	MajorSetInformation         MajorFunction = 0x00000006 // IRP_MJ_SET_INFORMATION
	MajorQueryVolumeInformation MajorFunction = 0x0000000A // IRP_MJ_QUERY_VOLUME_INFORMATION
	MajorSetVolumeInformation   MajorFunction = 0x0000000B // IRP_MJ_SET_VOLUME_INFORMATION
	MajorDirectoryControl       MajorFunction = 0x0000000C // IRP_MJ_DIRECTORY_CONTROL
	MajorDeviceControl          MajorFunction = 0x0000000E // IRP_MJ_DEVICE_CONTROL
	MajorLockControl            MajorFunction = 0x00000011 // IRP_MJ_LOCK_CONTROL
)

var majorNames = map[MajorFunction]string{
	MajorCreate:                 "CREATE",
	MajorClose:                  "CLOSE",
	MajorRead:                   "READ",
	MajorWrite:                  "WRITE",
	MajorQueryInformation:       "QUERY_INFORMATION",
	MajorSetInformation:         "SET_INFORMATION",
	MajorQueryVolumeInformation: "QUERY_VOLUME_INFORMATION",
	MajorSetVolumeInformation:   "SET_VOLUME_INFORMATION",
	MajorDirectoryControl:       "DIRECTORY_CONTROL",
	MajorDeviceControl:          "DEVICE_CONTROL",
	MajorLockControl:            "LOCK_CONTROL",
}

func (m MajorFunction) String() string {
	if name, ok := majorNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// MinorFunction qualifies DIRECTORY_CONTROL requests
type MinorFunction uint32

const (
	MinorQueryDirectory        MinorFunction = 0x00000001 // IRP_MN_QUERY_DIRECTORY
	MinorNotifyChangeDirectory MinorFunction = 0x00000002 // IRP_MN_NOTIFY_CHANGE_DIRECTORY
)

// MaxPathLength bounds paths in CREATE and QUERY_DIRECTORY, in UTF-16 units
const MaxPathLength = 256

// ErrPathTooLong is returned for paths at or beyond MaxPathLength.
var ErrPathTooLong = errors.New("path too long")

// MaxReadLength bounds the length a single READ may ask for.
const MaxReadLength = 1 << 20

const ioRequestHeaderSize = 20

// IORequest is DR_DEVICE_IOREQUEST (MS-RDPEFS 2.2.1.4) without the RDPDR header.
// Body holds the major-specific request bytes.
type IORequest struct {
	DeviceID      uint32
	FileID        uint32
	CompletionID  uint32
	MajorFunction MajorFunction
	MinorFunction MinorFunction
	Body          []byte
}

func (r *IORequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, r.DeviceID)
	_ = binary.Write(buf, binary.LittleEndian, r.FileID)
	_ = binary.Write(buf, binary.LittleEndian, r.CompletionID)
	_ = binary.Write(buf, binary.LittleEndian, r.MajorFunction)
	_ = binary.Write(buf, binary.LittleEndian, r.MinorFunction)
	buf.Write(r.Body)
	return buf.Bytes()
}

// Deserialize decodes the fixed header; the rest of data becomes Body.
func (r *IORequest) Deserialize(data []byte) error {
	if len(data) < ioRequestHeaderSize {
		return errors.Wrapf(ErrTruncated, "io request header: %d bytes", len(data))
	}
	r.DeviceID = binary.LittleEndian.Uint32(data[0:4])
	r.FileID = binary.LittleEndian.Uint32(data[4:8])
	r.CompletionID = binary.LittleEndian.Uint32(data[8:12])
	r.MajorFunction = MajorFunction(binary.LittleEndian.Uint32(data[12:16]))
	r.MinorFunction = MinorFunction(binary.LittleEndian.Uint32(data[16:20]))
	r.Body = data[ioRequestHeaderSize:]
	return nil
}

// Create dispositions (MS-SMB2 2.2.13)
const (
	FileSupersede   uint32 = 0x00000000
	FileOpen        uint32 = 0x00000001
	FileCreate      uint32 = 0x00000002
	FileOpenIf      uint32 = 0x00000003
	FileOverwrite   uint32 = 0x00000004
	FileOverwriteIf uint32 = 0x00000005
)

// Create options
const (
	FileDirectoryFile    uint32 = 0x00000001
	FileNonDirectoryFile uint32 = 0x00000040
	FileDeleteOnClose    uint32 = 0x00001000
)

// Access mask bits that imply modification
const (
	AccessWriteData       uint32 = 0x00000002
	AccessAppendData      uint32 = 0x00000004
	AccessWriteEA         uint32 = 0x00000010
	AccessWriteAttributes uint32 = 0x00000100
	AccessDelete          uint32 = 0x00010000
	AccessMaximumAllowed  uint32 = 0x02000000
	AccessGenericAll      uint32 = 0x10000000
	AccessGenericWrite    uint32 = 0x40000000

	AccessAnyWrite = AccessWriteData | AccessAppendData | AccessWriteEA |
		AccessWriteAttributes | AccessDelete | AccessGenericAll | AccessGenericWrite
)

// CreateRequest is DR_CREATE_REQ (MS-RDPEFS 2.2.1.4.1)
type CreateRequest struct {
	DesiredAccess     uint32
	AllocationSize    uint64
	FileAttributes    uint32
	SharedAccess      uint32
	CreateDisposition uint32
	CreateOptions     uint32
	Path              string
}

func (c *CreateRequest) Serialize() []byte {
	var path []byte
	if c.Path != "" {
		path = EncodeUTF16(c.Path, true)
	}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, c.DesiredAccess)
	_ = binary.Write(buf, binary.LittleEndian, c.AllocationSize)
	_ = binary.Write(buf, binary.LittleEndian, c.FileAttributes)
	_ = binary.Write(buf, binary.LittleEndian, c.SharedAccess)
	_ = binary.Write(buf, binary.LittleEndian, c.CreateDisposition)
	_ = binary.Write(buf, binary.LittleEndian, c.CreateOptions)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(path)))
	buf.Write(path)
	return buf.Bytes()
}

func (c *CreateRequest) Deserialize(wire io.Reader) error {
	fields := []struct {
		name string
		v    interface{}
	}{
		{"create desired access", &c.DesiredAccess},
		{"create allocation size", &c.AllocationSize},
		{"create file attributes", &c.FileAttributes},
		{"create shared access", &c.SharedAccess},
		{"create disposition", &c.CreateDisposition},
		{"create options", &c.CreateOptions},
	}
	for _, f := range fields {
		if err := readField(wire, f.name, f.v); err != nil {
			return err
		}
	}
	var pathLen uint32
	if err := readField(wire, "create path length", &pathLen); err != nil {
		return err
	}
	var err error
	c.Path, err = readPath(wire, "create path", pathLen)
	return err
}

// readPath reads a UTF-16 path of n bytes, enforcing MaxPathLength.
func readPath(wire io.Reader, field string, n uint32) (string, error) {
	if n == 0 {
		return "", nil
	}
	if n/2 >= MaxPathLength {
		return "", errors.Wrapf(ErrPathTooLong, "%s: %d units", field, n/2)
	}
	return readUTF16(wire, field, n)
}

const ioPadding20 = 20

// ReadRequest is DR_READ_REQ (MS-RDPEFS 2.2.1.4.3)
type ReadRequest struct {
	Length uint32
	Offset uint64
}

func (r *ReadRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, r.Length)
	_ = binary.Write(buf, binary.LittleEndian, r.Offset)
	buf.Write(make([]byte, ioPadding20))
	return buf.Bytes()
}

func (r *ReadRequest) Deserialize(wire io.Reader) error {
	if err := readField(wire, "read length", &r.Length); err != nil {
		return err
	}
	if err := readField(wire, "read offset", &r.Offset); err != nil {
		return err
	}
	return skip(wire, "read padding", ioPadding20)
}

// WriteRequest is DR_WRITE_REQ (MS-RDPEFS 2.2.1.4.4)
type WriteRequest struct {
	Offset uint64
	Data   []byte
}

func (w *WriteRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(w.Data)))
	_ = binary.Write(buf, binary.LittleEndian, w.Offset)
	buf.Write(make([]byte, ioPadding20))
	buf.Write(w.Data)
	return buf.Bytes()
}

func (w *WriteRequest) Deserialize(wire io.Reader) error {
	var length uint32
	if err := readField(wire, "write length", &length); err != nil {
		return err
	}
	if err := readField(wire, "write offset", &w.Offset); err != nil {
		return err
	}
	if err := skip(wire, "write padding", ioPadding20); err != nil {
		return err
	}
	var err error
	w.Data, err = readBytes(wire, "write data", int(length))
	return err
}

// InformationRequest is the shared layout of DR_DRIVE_QUERY_INFORMATION_REQ,
// DR_DRIVE_SET_INFORMATION_REQ and DR_DRIVE_QUERY_VOLUME_INFORMATION_REQ
// (MS-RDPEFS 2.2.3.3.8, 2.2.3.3.9, 2.2.3.3.6).
type InformationRequest struct {
	InformationClass uint32
	Buffer           []byte
}

const informationPadding = 24

func (q *InformationRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, q.InformationClass)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(q.Buffer)))
	buf.Write(make([]byte, informationPadding))
	buf.Write(q.Buffer)
	return buf.Bytes()
}

func (q *InformationRequest) Deserialize(wire io.Reader) error {
	var length uint32
	if err := readField(wire, "information class", &q.InformationClass); err != nil {
		return err
	}
	if err := readField(wire, "information length", &length); err != nil {
		return err
	}
	if err := skip(wire, "information padding", informationPadding); err != nil {
		return err
	}
	var err error
	q.Buffer, err = readBytes(wire, "information buffer", int(length))
	return err
}

// QueryDirectoryRequest is DR_DRIVE_QUERY_DIRECTORY_REQ (MS-RDPEFS 2.2.3.3.10)
type QueryDirectoryRequest struct {
	InformationClass uint32
	InitialQuery     bool
	Path             string
}

const queryDirectoryPadding = 23

func (q *QueryDirectoryRequest) Serialize() []byte {
	var path []byte
	if q.Path != "" {
		path = EncodeUTF16(q.Path, true)
	}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, q.InformationClass)
	_ = binary.Write(buf, binary.LittleEndian, q.InitialQuery)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(path)))
	buf.Write(make([]byte, queryDirectoryPadding))
	buf.Write(path)
	return buf.Bytes()
}

func (q *QueryDirectoryRequest) Deserialize(wire io.Reader) error {
	var initial uint8
	var pathLen uint32
	if err := readField(wire, "query directory class", &q.InformationClass); err != nil {
		return err
	}
	if err := readField(wire, "query directory initial", &initial); err != nil {
		return err
	}
	if err := readField(wire, "query directory path length", &pathLen); err != nil {
		return err
	}
	if err := skip(wire, "query directory padding", queryDirectoryPadding); err != nil {
		return err
	}
	q.InitialQuery = initial != 0
	var err error
	q.Path, err = readPath(wire, "query directory path", pathLen)
	return err
}

// NotifyChangeDirectoryRequest is DR_DRIVE_NOTIFY_CHANGE_DIRECTORY_REQ (MS-RDPEFS 2.2.3.3.11)
type NotifyChangeDirectoryRequest struct {
	WatchTree        bool
	CompletionFilter uint32
}

const notifyPadding = 27

func (n *NotifyChangeDirectoryRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, n.WatchTree)
	_ = binary.Write(buf, binary.LittleEndian, n.CompletionFilter)
	buf.Write(make([]byte, notifyPadding))
	return buf.Bytes()
}

func (n *NotifyChangeDirectoryRequest) Deserialize(wire io.Reader) error {
	var watch uint8
	if err := readField(wire, "notify watch tree", &watch); err != nil {
		return err
	}
	if err := readField(wire, "notify completion filter", &n.CompletionFilter); err != nil {
		return err
	}
	n.WatchTree = watch != 0
	return skip(wire, "notify padding", notifyPadding)
}

// DeviceControlRequest is DR_CONTROL_REQ (MS-RDPEFS 2.2.1.4.5)
type DeviceControlRequest struct {
	OutputBufferLength uint32
	IoControlCode      uint32
	Input              []byte
}

func (d *DeviceControlRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, d.OutputBufferLength)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(d.Input)))
	_ = binary.Write(buf, binary.LittleEndian, d.IoControlCode)
	buf.Write(make([]byte, ioPadding20))
	buf.Write(d.Input)
	return buf.Bytes()
}

func (d *DeviceControlRequest) Deserialize(wire io.Reader) error {
	var inputLen uint32
	if err := readField(wire, "control output length", &d.OutputBufferLength); err != nil {
		return err
	}
	if err := readField(wire, "control input length", &inputLen); err != nil {
		return err
	}
	if err := readField(wire, "control code", &d.IoControlCode); err != nil {
		return err
	}
	if err := skip(wire, "control padding", ioPadding20); err != nil {
		return err
	}
	var err error
	d.Input, err = readBytes(wire, "control input", int(inputLen))
	return err
}

// Lock operations (MS-RDPEFS 2.2.3.3.12)
const (
	LockShared    uint32 = 0x00000002 // RDP_LOWIO_OP_SHAREDLOCK
	LockExclusive uint32 = 0x00000003 // RDP_LOWIO_OP_EXCLUSIVELOCK
	LockUnlock    uint32 = 0x00000004 // RDP_LOWIO_OP_UNLOCK
)

// LockRange is RDP_LOCK_INFO
type LockRange struct {
	Length uint64
	Offset uint64
}

// LockControlRequest is DR_DRIVE_LOCK_REQ (MS-RDPEFS 2.2.3.3.12)
type LockControlRequest struct {
	Operation     uint32
	FailImmediate bool
	Locks         []LockRange
}

func (l *LockControlRequest) Serialize() []byte {
	var flags uint32
	if l.FailImmediate {
		flags = 1
	}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, l.Operation)
	_ = binary.Write(buf, binary.LittleEndian, flags)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(l.Locks)))
	buf.Write(make([]byte, ioPadding20))
	for _, r := range l.Locks {
		_ = binary.Write(buf, binary.LittleEndian, r.Length)
		_ = binary.Write(buf, binary.LittleEndian, r.Offset)
	}
	return buf.Bytes()
}

func (l *LockControlRequest) Deserialize(wire io.Reader) error {
	var flags, count uint32
	if err := readField(wire, "lock operation", &l.Operation); err != nil {
		return err
	}
	if err := readField(wire, "lock flags", &flags); err != nil {
		return err
	}
	if err := readField(wire, "lock count", &count); err != nil {
		return err
	}
	if err := skip(wire, "lock padding", ioPadding20); err != nil {
		return err
	}
	l.FailImmediate = flags&1 != 0
	l.Locks = nil
	for i := uint32(0); i < count; i++ {
		var r LockRange
		if err := readField(wire, "lock length", &r.Length); err != nil {
			return err
		}
		if err := readField(wire, "lock offset", &r.Offset); err != nil {
			return err
		}
		l.Locks = append(l.Locks, r)
	}
	return nil
}
