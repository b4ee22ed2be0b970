package rdpefs

import (
	"bytes"
	"encoding/binary"
	"io"
)

// DeviceType is the class of a redirected device (MS-RDPEFS 2.2.1.3)
type DeviceType uint32

const (
	DeviceTypeSerial     DeviceType = 0x00000001 // RDPDR_DTYP_SERIAL
	DeviceTypeParallel   DeviceType = 0x00000002 // RDPDR_DTYP_PARALLEL
	DeviceTypePrinter    DeviceType = 0x00000004 // RDPDR_DTYP_PRINT
	DeviceTypeFilesystem DeviceType = 0x00000008 // RDPDR_DTYP_FILESYSTEM
	DeviceTypeSmartcard  DeviceType = 0x00000020 // RDPDR_DTYP_SMARTCARD
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeSerial:
		return "serial"
	case DeviceTypeParallel:
		return "parallel"
	case DeviceTypePrinter:
		return "printer"
	case DeviceTypeFilesystem:
		return "filesystem"
	case DeviceTypeSmartcard:
		return "smartcard"
	default:
		return "unknown"
	}
}

// PreferredDosNameSize is the fixed width of the device name field
const PreferredDosNameSize = 8

// DeviceAnnounce is DEVICE_ANNOUNCE (MS-RDPEFS 2.2.1.3)
type DeviceAnnounce struct {
	DeviceType       DeviceType
	DeviceID         uint32
	PreferredDosName string
	DeviceData       []byte
}

func (d *DeviceAnnounce) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, d.DeviceType)
	_ = binary.Write(buf, binary.LittleEndian, d.DeviceID)
	buf.Write(fixedASCII(d.PreferredDosName, PreferredDosNameSize))
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(d.DeviceData)))
	buf.Write(d.DeviceData)
	return buf.Bytes()
}

func (d *DeviceAnnounce) Deserialize(wire io.Reader) error {
	if err := readField(wire, "device type", &d.DeviceType); err != nil {
		return err
	}
	if err := readField(wire, "device id", &d.DeviceID); err != nil {
		return err
	}
	name, err := readBytes(wire, "device name", PreferredDosNameSize)
	if err != nil {
		return err
	}
	d.PreferredDosName = trimNUL(name)

	var dataLen uint32
	if err := readField(wire, "device data length", &dataLen); err != nil {
		return err
	}
	d.DeviceData, err = readBytes(wire, "device data", int(dataLen))
	return err
}

// DeviceListAnnounce is DR_CORE_DEVICELIST_ANNOUNCE_REQ (MS-RDPEFS 2.2.2.9)
type DeviceListAnnounce struct {
	Devices []DeviceAnnounce
}

func (l *DeviceListAnnounce) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(l.Devices)))
	for i := range l.Devices {
		buf.Write(l.Devices[i].Serialize())
	}
	return buf.Bytes()
}

func (l *DeviceListAnnounce) Deserialize(wire io.Reader) error {
	var count uint32
	if err := readField(wire, "device count", &count); err != nil {
		return err
	}
	l.Devices = nil
	for i := uint32(0); i < count; i++ {
		var d DeviceAnnounce
		if err := d.Deserialize(wire); err != nil {
			return err
		}
		l.Devices = append(l.Devices, d)
	}
	return nil
}

// DeviceListRemove is DR_DEVICELIST_REMOVE (MS-RDPEFS 2.2.3.2)
type DeviceListRemove struct {
	DeviceIDs []uint32
}

func (l *DeviceListRemove) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(l.DeviceIDs)))
	for _, id := range l.DeviceIDs {
		_ = binary.Write(buf, binary.LittleEndian, id)
	}
	return buf.Bytes()
}

// Printer announce flags (MS-RDPEPC 2.2.2.1)
const (
	PrinterFlagASCII          uint32 = 0x00000001 // RDPDR_PRINTER_ANNOUNCE_FLAG_ASCII
	PrinterFlagDefaultPrinter uint32 = 0x00000002 // RDPDR_PRINTER_ANNOUNCE_FLAG_DEFAULTPRINTER
	PrinterFlagNetworkPrinter uint32 = 0x00000004 // RDPDR_PRINTER_ANNOUNCE_FLAG_NETWORKPRINTER
	PrinterFlagTSPrinter      uint32 = 0x00000008 // RDPDR_PRINTER_ANNOUNCE_FLAG_TSPRINTER
	PrinterFlagXPSFormat      uint32 = 0x00000010 // RDPDR_PRINTER_ANNOUNCE_FLAG_XPSFORMAT
)

// PrinterDeviceData is the DeviceData of a printer announce (MS-RDPEPC 2.2.2.1)
type PrinterDeviceData struct {
	Flags        uint32
	CodePage     uint32
	PnPName      string
	DriverName   string
	PrintName    string
	CachedFields []byte
}

func (p *PrinterDeviceData) Serialize() []byte {
	var pnp []byte
	if p.PnPName != "" {
		pnp = EncodeUTF16(p.PnPName, true)
	}
	driver := EncodeUTF16(p.DriverName, true)
	name := EncodeUTF16(p.PrintName, true)

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, p.Flags)
	_ = binary.Write(buf, binary.LittleEndian, p.CodePage)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pnp)))
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(driver)))
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(p.CachedFields)))
	buf.Write(pnp)
	buf.Write(driver)
	buf.Write(name)
	buf.Write(p.CachedFields)
	return buf.Bytes()
}

func (p *PrinterDeviceData) Deserialize(wire io.Reader) error {
	var pnpLen, driverLen, nameLen, cachedLen uint32
	if err := readField(wire, "printer flags", &p.Flags); err != nil {
		return err
	}
	if err := readField(wire, "printer code page", &p.CodePage); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		v    *uint32
	}{
		{"printer pnp name length", &pnpLen},
		{"printer driver name length", &driverLen},
		{"printer name length", &nameLen},
		{"printer cached fields length", &cachedLen},
	} {
		if err := readField(wire, f.name, f.v); err != nil {
			return err
		}
	}

	var err error
	if p.PnPName, err = readUTF16(wire, "printer pnp name", pnpLen); err != nil {
		return err
	}
	if p.DriverName, err = readUTF16(wire, "printer driver name", driverLen); err != nil {
		return err
	}
	if p.PrintName, err = readUTF16(wire, "printer name", nameLen); err != nil {
		return err
	}
	p.CachedFields, err = readBytes(wire, "printer cached fields", int(cachedLen))
	return err
}

// DisplayNameData is the DeviceData of a filesystem announce: the UTF-16LE
// display name with a NUL terminator.
func DisplayNameData(name string) []byte {
	if name == "" {
		return nil
	}
	return EncodeUTF16(name, true)
}

func readUTF16(wire io.Reader, field string, n uint32) (string, error) {
	raw, err := readBytes(wire, field, int(n))
	if err != nil || len(raw) == 0 {
		return "", err
	}
	return DecodeUTF16(raw)
}
