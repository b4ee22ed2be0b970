package rdpefs

import "fmt"

// NTStatus is an NTSTATUS value carried in IO completions (MS-ERREF 2.3)
type NTStatus uint32

const (
	StatusSuccess               NTStatus = 0x00000000
	StatusPending               NTStatus = 0x00000103
	StatusNoMoreFiles           NTStatus = 0x80000006
	StatusUnsuccessful          NTStatus = 0xC0000001
	StatusNotImplemented        NTStatus = 0xC0000002
	StatusInvalidHandle         NTStatus = 0xC0000008
	StatusInvalidParameter      NTStatus = 0xC000000D
	StatusNoSuchFile            NTStatus = 0xC000000F
	StatusInvalidDeviceRequest  NTStatus = 0xC0000010
	StatusEndOfFile             NTStatus = 0xC0000011
	StatusAccessDenied          NTStatus = 0xC0000022
	StatusBufferTooSmall        NTStatus = 0xC0000023
	StatusObjectNameInvalid     NTStatus = 0xC0000033
	StatusObjectNameNotFound    NTStatus = 0xC0000034
	StatusObjectNameCollision   NTStatus = 0xC0000035
	StatusObjectPathNotFound    NTStatus = 0xC000003A
	StatusSharingViolation      NTStatus = 0xC0000043
	StatusLockNotGranted        NTStatus = 0xC0000055
	StatusDiskFull              NTStatus = 0xC000007F
	StatusInsufficientResources NTStatus = 0xC000009A
	StatusIOTimeout             NTStatus = 0xC00000B5
	StatusFileIsADirectory      NTStatus = 0xC00000BA
	StatusNotSupported          NTStatus = 0xC00000BB
	StatusDirectoryNotEmpty     NTStatus = 0xC0000101
	StatusNotADirectory         NTStatus = 0xC0000103
	StatusCancelled             NTStatus = 0xC0000120
)

var statusNames = map[NTStatus]string{
	StatusSuccess:               "STATUS_SUCCESS",
	StatusPending:               "STATUS_PENDING",
	StatusNoMoreFiles:           "STATUS_NO_MORE_FILES",
	StatusUnsuccessful:          "STATUS_UNSUCCESSFUL",
	StatusNotImplemented:        "STATUS_NOT_IMPLEMENTED",
	StatusInvalidHandle:         "STATUS_INVALID_HANDLE",
	StatusInvalidParameter:      "STATUS_INVALID_PARAMETER",
	StatusNoSuchFile:            "STATUS_NO_SUCH_FILE",
	StatusInvalidDeviceRequest:  "STATUS_INVALID_DEVICE_REQUEST",
	StatusEndOfFile:             "STATUS_END_OF_FILE",
	StatusAccessDenied:          "STATUS_ACCESS_DENIED",
	StatusBufferTooSmall:        "STATUS_BUFFER_TOO_SMALL",
	StatusObjectNameInvalid:     "STATUS_OBJECT_NAME_INVALID",
	StatusObjectNameNotFound:    "STATUS_OBJECT_NAME_NOT_FOUND",
	StatusObjectNameCollision:   "STATUS_OBJECT_NAME_COLLISION",
	StatusObjectPathNotFound:    "STATUS_OBJECT_PATH_NOT_FOUND",
	StatusSharingViolation:      "STATUS_SHARING_VIOLATION",
	StatusLockNotGranted:        "STATUS_LOCK_NOT_GRANTED",
	StatusDiskFull:              "STATUS_DISK_FULL",
	StatusInsufficientResources: "STATUS_INSUFFICIENT_RESOURCES",
	StatusIOTimeout:             "STATUS_IO_TIMEOUT",
	StatusFileIsADirectory:      "STATUS_FILE_IS_A_DIRECTORY",
	StatusNotSupported:          "STATUS_NOT_SUPPORTED",
	StatusDirectoryNotEmpty:     "STATUS_DIRECTORY_NOT_EMPTY",
	StatusNotADirectory:         "STATUS_NOT_A_DIRECTORY",
	StatusCancelled:             "STATUS_CANCELLED",
}

func (s NTStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NTSTATUS(0x%08X)", uint32(s))
}

// IsFailure reports whether the top bit is set (warnings and errors).
func (s NTStatus) IsFailure() bool {
	return s&0x80000000 != 0
}
