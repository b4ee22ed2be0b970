package fscc

import (
	"bytes"
	"encoding/binary"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

const shortNameSize = 24

// DirectoryEntry is the data shared by every directory information class.
type DirectoryEntry struct {
	FileIndex      uint32
	Times          Times
	EndOfFile      int64
	AllocationSize int64
	FileAttributes uint32
	FileName       string
	ShortName      string
}

// DirectoryInformation serializes a single entry in the requested class.
// NextEntryOffset is always 0: one entry is returned per query.
type DirectoryInformation struct {
	Class InformationClass
	Entry DirectoryEntry
}

// SupportsDirectoryClass reports whether class can be answered by Serialize.
func SupportsDirectoryClass(class InformationClass) bool {
	switch class {
	case FileDirectoryInformation, FileFullDirectoryInformation,
		FileBothDirectoryInformation, FileNamesInformation:
		return true
	}
	return false
}

func (d *DirectoryInformation) Serialize() []byte {
	e := &d.Entry
	name := rdpefs.EncodeUTF16(e.FileName, false)

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // NextEntryOffset
	_ = binary.Write(buf, binary.LittleEndian, e.FileIndex)

	if d.Class == FileNamesInformation {
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))
		buf.Write(name)
		return buf.Bytes()
	}

	e.Times.write(buf)
	_ = binary.Write(buf, binary.LittleEndian, e.EndOfFile)
	_ = binary.Write(buf, binary.LittleEndian, e.AllocationSize)
	_ = binary.Write(buf, binary.LittleEndian, e.FileAttributes)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))

	switch d.Class {
	case FileFullDirectoryInformation:
		_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // EaSize
	case FileBothDirectoryInformation:
		short := rdpefs.EncodeUTF16(e.ShortName, false)
		if len(short) > shortNameSize {
			short = short[:shortNameSize]
		}
		_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // EaSize
		_ = binary.Write(buf, binary.LittleEndian, uint8(len(short)))
		_ = binary.Write(buf, binary.LittleEndian, uint8(0)) // Reserved1
		padded := make([]byte, shortNameSize)
		copy(padded, short)
		buf.Write(padded)
	}
	buf.Write(name)
	return buf.Bytes()
}

// ErrUnsupportedClass is returned for information classes with no encoder.
var ErrUnsupportedClass = errors.New("unsupported information class")
