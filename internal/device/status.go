package device

import (
	"io/fs"
	"os"
	"syscall"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

// ErrWouldBlock is returned by Stream reads and writes that would block.
var ErrWouldBlock = errors.New("operation would block")

// StatusFromError maps an OS error to the NT status reported to the server.
func StatusFromError(err error) rdpefs.NTStatus {
	if err == nil {
		return rdpefs.StatusSuccess
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOENT:
			return rdpefs.StatusObjectNameNotFound
		case syscall.EACCES, syscall.EPERM, syscall.EROFS:
			return rdpefs.StatusAccessDenied
		case syscall.EEXIST:
			return rdpefs.StatusObjectNameCollision
		case syscall.ENOSPC:
			return rdpefs.StatusDiskFull
		case syscall.ENOTEMPTY:
			return rdpefs.StatusDirectoryNotEmpty
		case syscall.ENOTDIR:
			return rdpefs.StatusNotADirectory
		case syscall.EISDIR:
			return rdpefs.StatusFileIsADirectory
		case syscall.EBADF:
			return rdpefs.StatusInvalidHandle
		case syscall.EINVAL:
			return rdpefs.StatusInvalidParameter
		case syscall.EBUSY:
			return rdpefs.StatusSharingViolation
		}
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return rdpefs.StatusObjectNameNotFound
	case errors.Is(err, fs.ErrPermission):
		return rdpefs.StatusAccessDenied
	case errors.Is(err, fs.ErrExist):
		return rdpefs.StatusObjectNameCollision
	case errors.Is(err, os.ErrClosed):
		return rdpefs.StatusInvalidHandle
	}
	return rdpefs.StatusUnsuccessful
}
