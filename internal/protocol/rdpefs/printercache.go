package rdpefs

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/efficientgo/core/errors"
)

// PrinterCacheEventID selects the body of a PRN cache data PDU (MS-RDPEPC 2.2.2.3)
type PrinterCacheEventID uint32

const (
	PrinterCacheAdd    PrinterCacheEventID = 0x00000001 // RDPDR_ADD_PRINTER_EVENT
	PrinterCacheUpdate PrinterCacheEventID = 0x00000002 // RDPDR_UPDATE_PRINTER_EVENT
	PrinterCacheDelete PrinterCacheEventID = 0x00000003 // RDPDR_DELETE_PRINTER_EVENT
	PrinterCacheRename PrinterCacheEventID = 0x00000004 // RDPDR_RENAME_PRINTER_EVENT
)

func (e PrinterCacheEventID) String() string {
	switch e {
	case PrinterCacheAdd:
		return "add"
	case PrinterCacheUpdate:
		return "update"
	case PrinterCacheDelete:
		return "delete"
	case PrinterCacheRename:
		return "rename"
	default:
		return "unknown"
	}
}

// PrinterCacheEvent is the decoded body of DR_PRN_CACHE_DATA.
// Add carries PortDosName, PnPName, DriverName, PrinterName and Config;
// Update carries PrinterName and Config; Delete carries PrinterName;
// Rename carries PrinterName and NewPrinterName.
type PrinterCacheEvent struct {
	EventID        PrinterCacheEventID
	PortDosName    string
	PnPName        string
	DriverName     string
	PrinterName    string
	NewPrinterName string
	Config         []byte
}

func (e *PrinterCacheEvent) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, e.EventID)
	switch e.EventID {
	case PrinterCacheAdd:
		pnp := EncodeUTF16(e.PnPName, true)
		driver := EncodeUTF16(e.DriverName, true)
		name := EncodeUTF16(e.PrinterName, true)
		buf.Write(fixedASCII(e.PortDosName, PreferredDosNameSize))
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(pnp)))
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(driver)))
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(e.Config)))
		buf.Write(pnp)
		buf.Write(driver)
		buf.Write(name)
		buf.Write(e.Config)
	case PrinterCacheUpdate:
		name := EncodeUTF16(e.PrinterName, true)
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(e.Config)))
		buf.Write(name)
		buf.Write(e.Config)
	case PrinterCacheDelete:
		name := EncodeUTF16(e.PrinterName, true)
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))
		buf.Write(name)
	case PrinterCacheRename:
		oldName := EncodeUTF16(e.PrinterName, true)
		newName := EncodeUTF16(e.NewPrinterName, true)
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(oldName)))
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(newName)))
		buf.Write(oldName)
		buf.Write(newName)
	}
	return buf.Bytes()
}

func (e *PrinterCacheEvent) Deserialize(wire io.Reader) error {
	if err := readField(wire, "printer cache event", &e.EventID); err != nil {
		return err
	}

	var err error
	switch e.EventID {
	case PrinterCacheAdd:
		var port []byte
		if port, err = readBytes(wire, "printer cache port", PreferredDosNameSize); err != nil {
			return err
		}
		e.PortDosName = trimNUL(port)
		var pnpLen, driverLen, nameLen, configLen uint32
		for _, f := range []struct {
			name string
			v    *uint32
		}{
			{"printer cache pnp length", &pnpLen},
			{"printer cache driver length", &driverLen},
			{"printer cache name length", &nameLen},
			{"printer cache config length", &configLen},
		} {
			if err := readField(wire, f.name, f.v); err != nil {
				return err
			}
		}
		if e.PnPName, err = readUTF16(wire, "printer cache pnp name", pnpLen); err != nil {
			return err
		}
		if e.DriverName, err = readUTF16(wire, "printer cache driver name", driverLen); err != nil {
			return err
		}
		if e.PrinterName, err = readUTF16(wire, "printer cache printer name", nameLen); err != nil {
			return err
		}
		e.Config, err = readBytes(wire, "printer cache config", int(configLen))
		return err
	case PrinterCacheUpdate:
		var nameLen, configLen uint32
		if err := readField(wire, "printer cache name length", &nameLen); err != nil {
			return err
		}
		if err := readField(wire, "printer cache config length", &configLen); err != nil {
			return err
		}
		if e.PrinterName, err = readUTF16(wire, "printer cache printer name", nameLen); err != nil {
			return err
		}
		e.Config, err = readBytes(wire, "printer cache config", int(configLen))
		return err
	case PrinterCacheDelete:
		var nameLen uint32
		if err := readField(wire, "printer cache name length", &nameLen); err != nil {
			return err
		}
		e.PrinterName, err = readUTF16(wire, "printer cache printer name", nameLen)
		return err
	case PrinterCacheRename:
		var oldLen, newLen uint32
		if err := readField(wire, "printer cache old name length", &oldLen); err != nil {
			return err
		}
		if err := readField(wire, "printer cache new name length", &newLen); err != nil {
			return err
		}
		if e.PrinterName, err = readUTF16(wire, "printer cache old name", oldLen); err != nil {
			return err
		}
		e.NewPrinterName, err = readUTF16(wire, "printer cache new name", newLen)
		return err
	default:
		return errors.Newf("unknown printer cache event %d", e.EventID)
	}
}
