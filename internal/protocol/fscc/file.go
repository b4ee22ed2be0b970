package fscc

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

// Times groups the four timestamps every file information class carries.
type Times struct {
	Creation   time.Time
	LastAccess time.Time
	LastWrite  time.Time
	Change     time.Time
}

func (t *Times) write(buf *bytes.Buffer) {
	_ = binary.Write(buf, binary.LittleEndian, Filetime(t.Creation))
	_ = binary.Write(buf, binary.LittleEndian, Filetime(t.LastAccess))
	_ = binary.Write(buf, binary.LittleEndian, Filetime(t.LastWrite))
	_ = binary.Write(buf, binary.LittleEndian, Filetime(t.Change))
}

// BasicInformation is FILE_BASIC_INFORMATION without the trailing Reserved
// field, as MS-RDPEFS 2.2.3.3.8 requires (36 bytes).
type BasicInformation struct {
	Times
	FileAttributes uint32
}

func (b *BasicInformation) Serialize() []byte {
	buf := new(bytes.Buffer)
	b.Times.write(buf)
	_ = binary.Write(buf, binary.LittleEndian, b.FileAttributes)
	return buf.Bytes()
}

// ParseBasicInformation decodes a FileBasicInformation set request. It accepts
// both the 36 byte and the 40 byte (with Reserved) layouts.
func ParseBasicInformation(data []byte) (*BasicInformation, error) {
	if len(data) < 36 {
		return nil, errors.Wrapf(rdpefs.ErrTruncated, "basic information: %d bytes", len(data))
	}
	return &BasicInformation{
		Times: Times{
			Creation:   TimeFromFiletime(binary.LittleEndian.Uint64(data[0:8])),
			LastAccess: TimeFromFiletime(binary.LittleEndian.Uint64(data[8:16])),
			LastWrite:  TimeFromFiletime(binary.LittleEndian.Uint64(data[16:24])),
			Change:     TimeFromFiletime(binary.LittleEndian.Uint64(data[24:32])),
		},
		FileAttributes: binary.LittleEndian.Uint32(data[32:36]),
	}, nil
}

// StandardInformation is FILE_STANDARD_INFORMATION without Reserved (22 bytes).
type StandardInformation struct {
	AllocationSize int64
	EndOfFile      int64
	NumberOfLinks  uint32
	DeletePending  bool
	Directory      bool
}

func (s *StandardInformation) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, s.AllocationSize)
	_ = binary.Write(buf, binary.LittleEndian, s.EndOfFile)
	_ = binary.Write(buf, binary.LittleEndian, s.NumberOfLinks)
	_ = binary.Write(buf, binary.LittleEndian, s.DeletePending)
	_ = binary.Write(buf, binary.LittleEndian, s.Directory)
	return buf.Bytes()
}

// InternalInformation is FILE_INTERNAL_INFORMATION
type InternalInformation struct {
	IndexNumber uint64
}

func (i *InternalInformation) Serialize() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, i.IndexNumber)
	return buf
}

// AttributeTagInformation is FILE_ATTRIBUTE_TAG_INFORMATION
type AttributeTagInformation struct {
	FileAttributes uint32
	ReparseTag     uint32
}

func (a *AttributeTagInformation) Serialize() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], a.FileAttributes)
	binary.LittleEndian.PutUint32(buf[4:8], a.ReparseTag)
	return buf
}

// NetworkOpenInformation is FILE_NETWORK_OPEN_INFORMATION (56 bytes)
type NetworkOpenInformation struct {
	Times
	AllocationSize int64
	EndOfFile      int64
	FileAttributes uint32
}

func (n *NetworkOpenInformation) Serialize() []byte {
	buf := new(bytes.Buffer)
	n.Times.write(buf)
	_ = binary.Write(buf, binary.LittleEndian, n.AllocationSize)
	_ = binary.Write(buf, binary.LittleEndian, n.EndOfFile)
	_ = binary.Write(buf, binary.LittleEndian, n.FileAttributes)
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // Reserved
	return buf.Bytes()
}

// ParseInt64 decodes FileEndOfFileInformation and FileAllocationInformation.
func ParseInt64(data []byte) (int64, error) {
	if len(data) < 8 {
		return 0, errors.Wrapf(rdpefs.ErrTruncated, "size information: %d bytes", len(data))
	}
	return int64(binary.LittleEndian.Uint64(data[0:8])), nil
}

// ParseDisposition decodes FileDispositionInformation. An empty buffer means
// delete, which is what Windows servers send.
func ParseDisposition(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	return data[0] != 0
}

// RenameInformation is RDP_FILE_RENAME_INFORMATION (MS-RDPEFS 2.2.3.3.9.1)
type RenameInformation struct {
	ReplaceIfExists bool
	FileName        string
}

func (r *RenameInformation) Serialize() []byte {
	name := rdpefs.EncodeUTF16(r.FileName, false)
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, r.ReplaceIfExists)
	_ = binary.Write(buf, binary.LittleEndian, uint8(0)) // RootDirectory
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))
	buf.Write(name)
	return buf.Bytes()
}

func ParseRenameInformation(data []byte) (*RenameInformation, error) {
	if len(data) < 6 {
		return nil, errors.Wrapf(rdpefs.ErrTruncated, "rename information: %d bytes", len(data))
	}
	nameLen := int(binary.LittleEndian.Uint32(data[2:6]))
	if len(data) < 6+nameLen {
		return nil, errors.Wrapf(rdpefs.ErrTruncated, "rename file name: need %d bytes", nameLen)
	}
	name, err := rdpefs.DecodeUTF16(data[6 : 6+nameLen])
	if err != nil {
		return nil, err
	}
	return &RenameInformation{ReplaceIfExists: data[0] != 0, FileName: name}, nil
}
