// Package rdpefs implements the File System Virtual Channel Extension (MS-RDPEFS).
// It covers the PDUs exchanged on the "rdpdr" static virtual channel.
package rdpefs

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/efficientgo/core/errors"
)

// Static channel name for device redirection
const ChannelName = "rdpdr"

// ErrTruncated is returned when a PDU ends before a fixed-width field.
var ErrTruncated = errors.New("truncated PDU")

// Component identifies the sub-protocol of a PDU (MS-RDPEFS 2.2.1.1)
type Component uint16

const (
	ComponentCore    Component = 0x4472 // RDPDR_CTYP_CORE
	ComponentPrinter Component = 0x5052 // RDPDR_CTYP_PRN
)

func (c Component) String() string {
	switch c {
	case ComponentCore:
		return "core"
	case ComponentPrinter:
		return "printer"
	default:
		return "unknown"
	}
}

// PacketID identifies the PDU within its component (MS-RDPEFS 2.2.1.1)
type PacketID uint16

const (
	PacketServerAnnounce     PacketID = 0x496E // PAKID_CORE_SERVER_ANNOUNCE
	PacketClientIDConfirm    PacketID = 0x4343 // PAKID_CORE_CLIENTID_CONFIRM
	PacketClientName         PacketID = 0x434E // PAKID_CORE_CLIENT_NAME
	PacketDeviceListAnnounce PacketID = 0x4441 // PAKID_CORE_DEVICELIST_ANNOUNCE
	PacketDeviceReply        PacketID = 0x6472 // PAKID_CORE_DEVICE_REPLY
	PacketDeviceIORequest    PacketID = 0x4952 // PAKID_CORE_DEVICE_IOREQUEST
	PacketDeviceIOCompletion PacketID = 0x4943 // PAKID_CORE_DEVICE_IOCOMPLETION
	PacketServerCapability   PacketID = 0x5350 // PAKID_CORE_SERVER_CAPABILITY
	PacketClientCapability   PacketID = 0x4350 // PAKID_CORE_CLIENT_CAPABILITY
	PacketDeviceListRemove   PacketID = 0x444D // PAKID_CORE_DEVICELIST_REMOVE
	PacketUserLoggedOn       PacketID = 0x554C // PAKID_CORE_USER_LOGGEDON
	PacketPrinterCacheData   PacketID = 0x5043 // PAKID_PRN_CACHE_DATA
	PacketPrinterUsingXPS    PacketID = 0x5543 // PAKID_PRN_USING_XPS
)

var packetNames = map[PacketID]string{
	PacketServerAnnounce:     "ServerAnnounce",
	PacketClientIDConfirm:    "ClientIDConfirm",
	PacketClientName:         "ClientName",
	PacketDeviceListAnnounce: "DeviceListAnnounce",
	PacketDeviceReply:        "DeviceReply",
	PacketDeviceIORequest:    "DeviceIORequest",
	PacketDeviceIOCompletion: "DeviceIOCompletion",
	PacketServerCapability:   "ServerCapability",
	PacketClientCapability:   "ClientCapability",
	PacketDeviceListRemove:   "DeviceListRemove",
	PacketUserLoggedOn:       "UserLoggedOn",
	PacketPrinterCacheData:   "PrinterCacheData",
	PacketPrinterUsingXPS:    "PrinterUsingXPS",
}

func (p PacketID) String() string {
	if name, ok := packetNames[p]; ok {
		return name
	}
	return "Unknown"
}

// HeaderSize is the size of the shared RDPDR header
const HeaderSize = 4

// Header is RDPDR_HEADER (MS-RDPEFS 2.2.1.1)
type Header struct {
	Component Component
	PacketID  PacketID
}

// Serialize encodes the header
func (h *Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h.Component))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.PacketID))
	return buf
}

// Deserialize decodes the header
func (h *Header) Deserialize(wire io.Reader) error {
	if err := readField(wire, "header component", &h.Component); err != nil {
		return err
	}
	return readField(wire, "header packet id", &h.PacketID)
}

// DecodeHeader splits a reassembled channel PDU into its header and body.
func DecodeHeader(data []byte) (Header, []byte, error) {
	var h Header
	if err := h.Deserialize(bytes.NewReader(data)); err != nil {
		return h, nil, err
	}
	return h, data[HeaderSize:], nil
}

// BuildPDU prefixes body with an RDPDR header.
func BuildPDU(component Component, packetID PacketID, body []byte) []byte {
	h := Header{Component: component, PacketID: packetID}
	buf := make([]byte, 0, HeaderSize+len(body))
	buf = append(buf, h.Serialize()...)
	return append(buf, body...)
}

func readField(wire io.Reader, field string, v interface{}) error {
	if err := binary.Read(wire, binary.LittleEndian, v); err != nil {
		return errors.Wrapf(ErrTruncated, "%s: %v", field, err)
	}
	return nil
}

func readBytes(wire io.Reader, field string, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	// Cap speculative allocation at what the reader actually holds.
	if l, ok := wire.(interface{ Len() int }); ok && l.Len() < n {
		return nil, errors.Wrapf(ErrTruncated, "%s: need %d bytes, have %d", field, n, l.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(wire, buf); err != nil {
		return nil, errors.Wrapf(ErrTruncated, "%s: %v", field, err)
	}
	return buf, nil
}

func skip(wire io.Reader, field string, n int) error {
	_, err := readBytes(wire, field, n)
	return err
}
