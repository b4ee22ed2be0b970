package rdpefs

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/efficientgo/core/errors"
)

// CapabilityType identifies a capability set (MS-RDPEFS 2.2.1.2)
type CapabilityType uint16

const (
	CapabilityTypeGeneral   CapabilityType = 0x0001 // CAP_GENERAL_TYPE
	CapabilityTypePrinter   CapabilityType = 0x0002 // CAP_PRINTER_TYPE
	CapabilityTypePort      CapabilityType = 0x0003 // CAP_PORT_TYPE
	CapabilityTypeDrive     CapabilityType = 0x0004 // CAP_DRIVE_TYPE
	CapabilityTypeSmartcard CapabilityType = 0x0005 // CAP_SMARTCARD_TYPE
)

func (t CapabilityType) String() string {
	switch t {
	case CapabilityTypeGeneral:
		return "general"
	case CapabilityTypePrinter:
		return "printer"
	case CapabilityTypePort:
		return "port"
	case CapabilityTypeDrive:
		return "drive"
	case CapabilityTypeSmartcard:
		return "smartcard"
	default:
		return "unknown"
	}
}

// Capability set versions
const (
	GeneralCapabilityVersion1   uint32 = 0x00000001
	GeneralCapabilityVersion2   uint32 = 0x00000002
	PrinterCapabilityVersion1   uint32 = 0x00000001
	PortCapabilityVersion1      uint32 = 0x00000001
	DriveCapabilityVersion1     uint32 = 0x00000001
	DriveCapabilityVersion2     uint32 = 0x00000002
	SmartcardCapabilityVersion1 uint32 = 0x00000001
)

// General capability extendedPDU flags
const (
	ExtendedPDUDeviceRemove uint32 = 0x00000001 // RDPDR_DEVICE_REMOVE_PDUS
	ExtendedPDUDisplayName  uint32 = 0x00000002 // RDPDR_CLIENT_DISPLAY_NAME_PDU
	ExtendedPDUUserLoggedOn uint32 = 0x00000004 // RDPDR_USER_LOGGEDON_PDU
)

// General capability extraFlags1
const ExtraFlagEnableAsyncIO uint32 = 0x00000001 // ENABLE_ASYNCIO

// IOCode1 bits, one per supported major function
const (
	IOCodeCreate           uint32 = 0x00000001
	IOCodeCleanup          uint32 = 0x00000002
	IOCodeClose            uint32 = 0x00000004
	IOCodeRead             uint32 = 0x00000008
	IOCodeWrite            uint32 = 0x00000010
	IOCodeFlushBuffers     uint32 = 0x00000020
	IOCodeShutdown         uint32 = 0x00000040
	IOCodeDeviceControl    uint32 = 0x00000080
	IOCodeQueryVolumeInfo  uint32 = 0x00000100
	IOCodeSetVolumeInfo    uint32 = 0x00000200
	IOCodeQueryInformation uint32 = 0x00000400
	IOCodeSetInformation   uint32 = 0x00000800
	IOCodeDirectoryControl uint32 = 0x00001000
	IOCodeLockControl      uint32 = 0x00002000
	IOCodeQuerySecurity    uint32 = 0x00004000
	IOCodeSetSecurity      uint32 = 0x00008000
	IOCodeAll              uint32 = 0x0000FFFF
)

// OS type reported in the general capability
const OSTypeUnknown uint32 = 0x00000000

const capabilityHeaderSize = 8

// GeneralCapability is GENERAL_CAPS_SET (MS-RDPEFS 2.2.2.7.1)
type GeneralCapability struct {
	OSType               uint32
	OSVersion            uint32
	ProtocolMajorVersion uint16
	ProtocolMinorVersion uint16
	IOCode1              uint32
	IOCode2              uint32
	ExtendedPDU          uint32
	ExtraFlags1          uint32
	ExtraFlags2          uint32
	SpecialTypeDeviceCap uint32 // version 2 only
}

func (g *GeneralCapability) serialize(version uint32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, g.OSType)
	_ = binary.Write(buf, binary.LittleEndian, g.OSVersion)
	_ = binary.Write(buf, binary.LittleEndian, g.ProtocolMajorVersion)
	_ = binary.Write(buf, binary.LittleEndian, g.ProtocolMinorVersion)
	_ = binary.Write(buf, binary.LittleEndian, g.IOCode1)
	_ = binary.Write(buf, binary.LittleEndian, g.IOCode2)
	_ = binary.Write(buf, binary.LittleEndian, g.ExtendedPDU)
	_ = binary.Write(buf, binary.LittleEndian, g.ExtraFlags1)
	_ = binary.Write(buf, binary.LittleEndian, g.ExtraFlags2)
	if version >= GeneralCapabilityVersion2 {
		_ = binary.Write(buf, binary.LittleEndian, g.SpecialTypeDeviceCap)
	}
	return buf.Bytes()
}

func (g *GeneralCapability) deserialize(wire io.Reader, version uint32) error {
	fields := []struct {
		name string
		v    interface{}
	}{
		{"os type", &g.OSType},
		{"os version", &g.OSVersion},
		{"protocol major", &g.ProtocolMajorVersion},
		{"protocol minor", &g.ProtocolMinorVersion},
		{"io code 1", &g.IOCode1},
		{"io code 2", &g.IOCode2},
		{"extended pdu", &g.ExtendedPDU},
		{"extra flags 1", &g.ExtraFlags1},
		{"extra flags 2", &g.ExtraFlags2},
	}
	for _, f := range fields {
		if err := readField(wire, "general capability "+f.name, f.v); err != nil {
			return err
		}
	}
	if version >= GeneralCapabilityVersion2 {
		return readField(wire, "general capability special devices", &g.SpecialTypeDeviceCap)
	}
	return nil
}

// CapabilitySet is one CAPABILITY_HEADER plus body. Only the general set has
// a structured body; the others are carried as raw bytes (usually empty).
type CapabilitySet struct {
	Type    CapabilityType
	Version uint32
	General *GeneralCapability
	Data    []byte
}

func (s *CapabilitySet) Serialize() []byte {
	body := s.Data
	if s.Type == CapabilityTypeGeneral && s.General != nil {
		body = s.General.serialize(s.Version)
	}

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, s.Type)
	_ = binary.Write(buf, binary.LittleEndian, uint16(capabilityHeaderSize+len(body)))
	_ = binary.Write(buf, binary.LittleEndian, s.Version)
	buf.Write(body)
	return buf.Bytes()
}

func (s *CapabilitySet) Deserialize(wire io.Reader) error {
	var length uint16
	if err := readField(wire, "capability type", &s.Type); err != nil {
		return err
	}
	if err := readField(wire, "capability length", &length); err != nil {
		return err
	}
	if length < capabilityHeaderSize {
		return errors.Wrapf(ErrTruncated, "capability %s length %d", s.Type, length)
	}
	if err := readField(wire, "capability version", &s.Version); err != nil {
		return err
	}
	body, err := readBytes(wire, "capability body", int(length)-capabilityHeaderSize)
	if err != nil {
		return err
	}
	s.Data = body
	if s.Type == CapabilityTypeGeneral {
		s.General = &GeneralCapability{}
		if err := s.General.deserialize(bytes.NewReader(body), s.Version); err != nil {
			return err
		}
	}
	return nil
}

// CapabilityBlock is the body of DR_CORE_CAPABILITY_REQ / _RSP (MS-RDPEFS 2.2.2.7, 2.2.2.8)
type CapabilityBlock struct {
	Sets []CapabilitySet
}

func (b *CapabilityBlock) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(b.Sets)))
	_ = binary.Write(buf, binary.LittleEndian, uint16(0)) // Padding
	for i := range b.Sets {
		buf.Write(b.Sets[i].Serialize())
	}
	return buf.Bytes()
}

func (b *CapabilityBlock) Deserialize(wire io.Reader) error {
	var count, pad uint16
	if err := readField(wire, "capability count", &count); err != nil {
		return err
	}
	if err := readField(wire, "capability padding", &pad); err != nil {
		return err
	}
	b.Sets = make([]CapabilitySet, 0, count)
	for i := 0; i < int(count); i++ {
		var set CapabilitySet
		if err := set.Deserialize(wire); err != nil {
			return errors.Wrapf(err, "capability set %d", i)
		}
		b.Sets = append(b.Sets, set)
	}
	return nil
}

// Find returns the first set of the given type.
func (b *CapabilityBlock) Find(t CapabilityType) (*CapabilitySet, bool) {
	for i := range b.Sets {
		if b.Sets[i].Type == t {
			return &b.Sets[i], true
		}
	}
	return nil, false
}

// NewClientCapabilities builds the client capability block answering a
// server that announced serverMinor.
func NewClientCapabilities(serverMinor uint16) *CapabilityBlock {
	extended := ExtendedPDUDeviceRemove | ExtendedPDUDisplayName
	if serverMinor >= VersionMinor12 {
		extended |= ExtendedPDUUserLoggedOn
	}
	minor := serverMinor
	if minor > ClientVersionMinor {
		minor = ClientVersionMinor
	}

	return &CapabilityBlock{Sets: []CapabilitySet{
		{
			Type:    CapabilityTypeGeneral,
			Version: GeneralCapabilityVersion2,
			General: &GeneralCapability{
				OSType:               OSTypeUnknown,
				ProtocolMajorVersion: VersionMajor,
				ProtocolMinorVersion: minor,
				IOCode1:              IOCodeAll,
				ExtendedPDU:          extended,
				ExtraFlags1:          ExtraFlagEnableAsyncIO,
			},
		},
		{Type: CapabilityTypePrinter, Version: PrinterCapabilityVersion1},
		{Type: CapabilityTypePort, Version: PortCapabilityVersion1},
		{Type: CapabilityTypeDrive, Version: DriveCapabilityVersion1},
		{Type: CapabilityTypeSmartcard, Version: SmartcardCapabilityVersion1},
	}}
}
