package rdpefs

import (
	"bytes"
	"encoding/binary"
	"io"
)

// DeviceIOCompletion is DR_DEVICE_IOCOMPLETION (MS-RDPEFS 2.2.1.5).
// Result carries the major-specific leading word (FileId, Length,
// or padding) and Payload whatever follows it.
type DeviceIOCompletion struct {
	DeviceID     uint32
	CompletionID uint32
	IoStatus     NTStatus
	Result       uint32
	Payload      []byte
}

// Serialize encodes the full PDU including the RDPDR header.
func (c *DeviceIOCompletion) Serialize() []byte {
	buf := new(bytes.Buffer)
	h := Header{Component: ComponentCore, PacketID: PacketDeviceIOCompletion}
	buf.Write(h.Serialize())
	_ = binary.Write(buf, binary.LittleEndian, c.DeviceID)
	_ = binary.Write(buf, binary.LittleEndian, c.CompletionID)
	_ = binary.Write(buf, binary.LittleEndian, c.IoStatus)
	_ = binary.Write(buf, binary.LittleEndian, c.Result)
	buf.Write(c.Payload)
	return buf.Bytes()
}

// Deserialize decodes a completion body (header already consumed).
func (c *DeviceIOCompletion) Deserialize(wire io.Reader) error {
	if err := readField(wire, "completion device id", &c.DeviceID); err != nil {
		return err
	}
	if err := readField(wire, "completion id", &c.CompletionID); err != nil {
		return err
	}
	if err := readField(wire, "completion status", &c.IoStatus); err != nil {
		return err
	}
	if err := readField(wire, "completion result", &c.Result); err != nil {
		return err
	}
	rest, err := io.ReadAll(wire)
	if err != nil {
		return err
	}
	c.Payload = rest
	return nil
}

// Create completion Information values (MS-RDPEFS 2.2.1.5.1)
const (
	FileSuperseded  uint8 = 0x00
	FileOpened      uint8 = 0x01
	FileOverwritten uint8 = 0x03
)

// CreateInformation is the Information byte reported for a successful create
// with the given disposition.
func CreateInformation(disposition uint32) uint8 {
	switch disposition {
	case FileSupersede:
		return FileSuperseded
	case FileOverwrite, FileOverwriteIf:
		return FileOverwritten
	default:
		return FileOpened
	}
}
