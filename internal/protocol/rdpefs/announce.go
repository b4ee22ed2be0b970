package rdpefs

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/efficientgo/core/errors"
)

// Protocol versions (MS-RDPEFS 2.2.2.3)
const (
	VersionMajor uint16 = 0x0001

	VersionMinor2  uint16 = 0x0002
	VersionMinor5  uint16 = 0x0005
	VersionMinor10 uint16 = 0x000A
	VersionMinor12 uint16 = 0x000C
	VersionMinor13 uint16 = 0x000D

	// Highest minor version this client speaks
	ClientVersionMinor = VersionMinor12
)

// ServerAnnounce is DR_CORE_SERVER_ANNOUNCE_REQ (MS-RDPEFS 2.2.2.2)
type ServerAnnounce struct {
	VersionMajor uint16
	VersionMinor uint16
	ClientID     uint32
}

// Serialize encodes the announce body (test harnesses act as the server)
func (s *ServerAnnounce) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, s.VersionMajor)
	_ = binary.Write(buf, binary.LittleEndian, s.VersionMinor)
	_ = binary.Write(buf, binary.LittleEndian, s.ClientID)
	return buf.Bytes()
}

// Deserialize decodes the announce body
func (s *ServerAnnounce) Deserialize(wire io.Reader) error {
	if err := readField(wire, "announce major", &s.VersionMajor); err != nil {
		return err
	}
	if err := readField(wire, "announce minor", &s.VersionMinor); err != nil {
		return err
	}
	return readField(wire, "announce client id", &s.ClientID)
}

// ClientIDConfirm is DR_CORE_CLIENTID_CONFIRM sent by the server (MS-RDPEFS 2.2.2.6).
// It shares the layout of ServerAnnounce.
type ClientIDConfirm ServerAnnounce

func (c *ClientIDConfirm) Serialize() []byte {
	return (*ServerAnnounce)(c).Serialize()
}

func (c *ClientIDConfirm) Deserialize(wire io.Reader) error {
	return (*ServerAnnounce)(c).Deserialize(wire)
}

// ClientAnnounceReply is DR_CORE_CLIENT_ANNOUNCE_RSP (MS-RDPEFS 2.2.2.3).
// The client id is echoed big-endian, as deployed servers expect.
type ClientAnnounceReply struct {
	VersionMajor uint16
	VersionMinor uint16
	ClientID     uint32
}

// NewClientAnnounceReply builds the reply to a server announce, capping the
// minor version at what this client implements.
func NewClientAnnounceReply(announce *ServerAnnounce) *ClientAnnounceReply {
	minor := announce.VersionMinor
	if minor > ClientVersionMinor {
		minor = ClientVersionMinor
	}
	return &ClientAnnounceReply{
		VersionMajor: VersionMajor,
		VersionMinor: minor,
		ClientID:     announce.ClientID,
	}
}

func (c *ClientAnnounceReply) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, c.VersionMajor)
	_ = binary.Write(buf, binary.LittleEndian, c.VersionMinor)
	_ = binary.Write(buf, binary.BigEndian, c.ClientID)
	return buf.Bytes()
}

func (c *ClientAnnounceReply) Deserialize(wire io.Reader) error {
	if err := readField(wire, "announce reply major", &c.VersionMajor); err != nil {
		return err
	}
	if err := readField(wire, "announce reply minor", &c.VersionMinor); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.BigEndian, &c.ClientID); err != nil {
		return errors.Wrapf(ErrTruncated, "announce reply client id: %v", err)
	}
	return nil
}

// ClientNameRequest is DR_CORE_CLIENT_NAME_REQ (MS-RDPEFS 2.2.2.4)
type ClientNameRequest struct {
	ComputerName string
}

func (c *ClientNameRequest) Serialize() []byte {
	name := EncodeUTF16(c.ComputerName, true)

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(1)) // UnicodeFlag
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // CodePage
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))
	buf.Write(name)
	return buf.Bytes()
}

func (c *ClientNameRequest) Deserialize(wire io.Reader) error {
	var unicodeFlag, codePage, nameLen uint32
	if err := readField(wire, "client name unicode flag", &unicodeFlag); err != nil {
		return err
	}
	if err := readField(wire, "client name code page", &codePage); err != nil {
		return err
	}
	if err := readField(wire, "client name length", &nameLen); err != nil {
		return err
	}
	raw, err := readBytes(wire, "client name", int(nameLen))
	if err != nil {
		return err
	}
	if unicodeFlag&1 == 0 {
		c.ComputerName = trimNUL(raw)
		return nil
	}
	c.ComputerName, err = DecodeUTF16(raw)
	return err
}

// DeviceReply is DR_CORE_DEVICE_ANNOUNCE_RSP (MS-RDPEFS 2.2.2.1)
type DeviceReply struct {
	DeviceID   uint32
	ResultCode NTStatus
}

func (d *DeviceReply) Serialize() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], d.DeviceID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(d.ResultCode))
	return buf
}

func (d *DeviceReply) Deserialize(wire io.Reader) error {
	if err := readField(wire, "device reply id", &d.DeviceID); err != nil {
		return err
	}
	return readField(wire, "device reply result", &d.ResultCode)
}
