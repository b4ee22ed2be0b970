package device

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// FdStream is a Stream over a descriptor opened with O_NONBLOCK.
type FdStream int

func (s FdStream) Fd() int { return int(s) }

func (s FdStream) Read(p []byte) (int, error) {
	n, err := unix.Read(int(s), p)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, ErrWouldBlock
	case err != nil:
		return 0, err
	case n == 0 && len(p) > 0:
		return 0, io.EOF
	}
	return n, nil
}

func (s FdStream) Write(p []byte) (int, error) {
	n, err := unix.Write(int(s), p)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, ErrWouldBlock
	case err != nil:
		return 0, err
	}
	return n, nil
}

// OpenNonblocking opens a device node for reading and writing without making
// it the controlling terminal.
func OpenNonblocking(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return fd, nil
}
