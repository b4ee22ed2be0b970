package fscc

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

// VolumeInformation is FILE_FS_VOLUME_INFORMATION without Reserved
type VolumeInformation struct {
	CreationTime    time.Time
	SerialNumber    uint32
	Label           string
	SupportsObjects bool
}

func (v *VolumeInformation) Serialize() []byte {
	label := rdpefs.EncodeUTF16(v.Label, false)
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, Filetime(v.CreationTime))
	_ = binary.Write(buf, binary.LittleEndian, v.SerialNumber)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(label)))
	_ = binary.Write(buf, binary.LittleEndian, v.SupportsObjects)
	buf.Write(label)
	return buf.Bytes()
}

// SizeInformation is FILE_FS_SIZE_INFORMATION
type SizeInformation struct {
	TotalAllocationUnits     int64
	AvailableAllocationUnits int64
	SectorsPerAllocationUnit uint32
	BytesPerSector           uint32
}

func (s *SizeInformation) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, s.TotalAllocationUnits)
	_ = binary.Write(buf, binary.LittleEndian, s.AvailableAllocationUnits)
	_ = binary.Write(buf, binary.LittleEndian, s.SectorsPerAllocationUnit)
	_ = binary.Write(buf, binary.LittleEndian, s.BytesPerSector)
	return buf.Bytes()
}

// FullSizeInformation is FILE_FS_FULL_SIZE_INFORMATION
type FullSizeInformation struct {
	TotalAllocationUnits           int64
	CallerAvailableAllocationUnits int64
	ActualAvailableAllocationUnits int64
	SectorsPerAllocationUnit       uint32
	BytesPerSector                 uint32
}

func (f *FullSizeInformation) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, f.TotalAllocationUnits)
	_ = binary.Write(buf, binary.LittleEndian, f.CallerAvailableAllocationUnits)
	_ = binary.Write(buf, binary.LittleEndian, f.ActualAvailableAllocationUnits)
	_ = binary.Write(buf, binary.LittleEndian, f.SectorsPerAllocationUnit)
	_ = binary.Write(buf, binary.LittleEndian, f.BytesPerSector)
	return buf.Bytes()
}

// AttributeInformation is FILE_FS_ATTRIBUTE_INFORMATION
type AttributeInformation struct {
	FileSystemAttributes       uint32
	MaximumComponentNameLength int32
	FileSystemName             string
}

func (a *AttributeInformation) Serialize() []byte {
	name := rdpefs.EncodeUTF16(a.FileSystemName, false)
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, a.FileSystemAttributes)
	_ = binary.Write(buf, binary.LittleEndian, a.MaximumComponentNameLength)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))
	buf.Write(name)
	return buf.Bytes()
}

// DeviceInformation is FILE_FS_DEVICE_INFORMATION
type DeviceInformation struct {
	DeviceType      uint32
	Characteristics uint32
}

func (d *DeviceInformation) Serialize() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], d.DeviceType)
	binary.LittleEndian.PutUint32(buf[4:8], d.Characteristics)
	return buf
}
