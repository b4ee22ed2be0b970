// Package fscc implements the File System Control Codes structures (MS-FSCC)
// that disk redirection answers with.
package fscc

import "time"

// FILETIME epoch offset: 100ns intervals between 1601-01-01 and 1970-01-01
const filetimeEpoch = 116444736000000000

// Filetime converts t to a Windows FILETIME. The zero time maps to 0.
func Filetime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + filetimeEpoch)
}

// TimeFromFiletime converts a FILETIME to time.Time. 0 and -1 mean "not set"
// in set-information requests and map to the zero time.
func TimeFromFiletime(ft uint64) time.Time {
	if ft == 0 || ft == ^uint64(0) {
		return time.Time{}
	}
	ns := (int64(ft) - filetimeEpoch) * 100
	return time.Unix(0, ns).UTC()
}

// File attributes (MS-FSCC 2.6)
const (
	FileAttributeReadonly  uint32 = 0x00000001
	FileAttributeHidden    uint32 = 0x00000002
	FileAttributeSystem    uint32 = 0x00000004
	FileAttributeDirectory uint32 = 0x00000010
	FileAttributeArchive   uint32 = 0x00000020
	FileAttributeNormal    uint32 = 0x00000080
)

// InformationClass is a FileInformationClass (MS-FSCC 2.4)
type InformationClass uint32

const (
	FileDirectoryInformation     InformationClass = 1
	FileFullDirectoryInformation InformationClass = 2
	FileBothDirectoryInformation InformationClass = 3
	FileBasicInformation         InformationClass = 4
	FileStandardInformation      InformationClass = 5
	FileInternalInformation      InformationClass = 6
	FileRenameInformation        InformationClass = 10
	FileNamesInformation         InformationClass = 12
	FileDispositionInformation   InformationClass = 13
	FileAllocationInformation    InformationClass = 19
	FileEndOfFileInformation     InformationClass = 20
	FileNetworkOpenInformation   InformationClass = 34
	FileAttributeTagInformation  InformationClass = 35
)

// FsInformationClass is a FileSystemInformationClass (MS-FSCC 2.5)
type FsInformationClass uint32

const (
	FileFsVolumeInformation    FsInformationClass = 1
	FileFsSizeInformation      FsInformationClass = 3
	FileFsDeviceInformation    FsInformationClass = 4
	FileFsAttributeInformation FsInformationClass = 5
	FileFsFullSizeInformation  FsInformationClass = 7
)

// File system attribute flags (MS-FSCC 2.5.1)
const (
	FileCaseSensitiveSearch uint32 = 0x00000001
	FileCasePreservedNames  uint32 = 0x00000002
	FileUnicodeOnDisk       uint32 = 0x00000004
)

// Device types and characteristics (MS-FSCC 2.5.10)
const (
	FileDeviceDisk      uint32 = 0x00000007
	FileRemoteDevice    uint32 = 0x00000010
	FileDeviceIsMounted uint32 = 0x00000020
)

// Completion filter bits of NOTIFY_CHANGE_DIRECTORY (MS-SMB2 2.2.35)
const (
	FileNotifyChangeFileName   uint32 = 0x00000001
	FileNotifyChangeDirName    uint32 = 0x00000002
	FileNotifyChangeAttributes uint32 = 0x00000004
	FileNotifyChangeSize       uint32 = 0x00000008
	FileNotifyChangeLastWrite  uint32 = 0x00000010
)

// Information is any structure answered to a query.
type Information interface {
	Serialize() []byte
}
