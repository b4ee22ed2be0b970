package fscc

import (
	"bytes"
	"encoding/binary"

	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

// Notify actions (MS-FSCC 2.4.42)
const (
	FileActionAdded          uint32 = 0x00000001
	FileActionRemoved        uint32 = 0x00000002
	FileActionModified       uint32 = 0x00000003
	FileActionRenamedOldName uint32 = 0x00000004
	FileActionRenamedNewName uint32 = 0x00000005
)

// NotifyInformation is one FILE_NOTIFY_INFORMATION record.
type NotifyInformation struct {
	Action   uint32
	FileName string
}

// SerializeNotify chains records with NextEntryOffset, each aligned to 4 bytes.
func SerializeNotify(records []NotifyInformation) []byte {
	buf := new(bytes.Buffer)
	for i, r := range records {
		name := rdpefs.EncodeUTF16(r.FileName, false)
		size := 12 + len(name)
		next := 0
		if i < len(records)-1 {
			next = (size + 3) &^ 3
		}
		_ = binary.Write(buf, binary.LittleEndian, uint32(next))
		_ = binary.Write(buf, binary.LittleEndian, r.Action)
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))
		buf.Write(name)
		if next > size {
			buf.Write(make([]byte, next-size))
		}
	}
	return buf.Bytes()
}
