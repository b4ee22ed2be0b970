// Package device defines the contracts between the redirection engine and the
// local device back ends. One implementation exists per device class; the
// engine only ever sees these interfaces.
package device

import (
	"time"

	"github.com/rcarmo/go-rdpdr/internal/protocol/fscc"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

// Handle identifies an open file or port; it is the FileId on the wire.
type Handle uint32

// Backend is implemented by every device class.
type Backend interface {
	// Create opens Path (already translated to forward slashes) and returns
	// the handle to report as FileId.
	Create(req *rdpefs.CreateRequest) (Handle, rdpefs.NTStatus)
	Close(h Handle) rdpefs.NTStatus
	Read(h Handle, length uint32, offset uint64) ([]byte, rdpefs.NTStatus)
	Write(h Handle, data []byte, offset uint64) (uint32, rdpefs.NTStatus)
}

// Disk is the filesystem class.
type Disk interface {
	Backend
	QueryInformation(h Handle, class fscc.InformationClass) ([]byte, rdpefs.NTStatus)
	SetInformation(h Handle, class fscc.InformationClass, data []byte) rdpefs.NTStatus
	QueryVolumeInformation(h Handle, class fscc.FsInformationClass) ([]byte, rdpefs.NTStatus)
	// QueryDirectory returns one serialized entry, or StatusNoMoreFiles.
	QueryDirectory(h Handle, class fscc.InformationClass, initial bool, pattern string) ([]byte, rdpefs.NTStatus)
	// NotifyChangeDirectory arms a watch; StatusPending means the answer
	// comes later through CheckNotify.
	NotifyChangeDirectory(h Handle, watchTree bool, filter uint32) rdpefs.NTStatus
	// CheckNotify returns StatusPending until a change matching the armed
	// filter was seen on h.
	CheckNotify(h Handle) ([]byte, rdpefs.NTStatus)
	// Changed drains pending change events and reports whether any arrived
	// since the last call.
	Changed() bool
}

// Stream is a non-blocking descriptor the scheduler moves bytes through.
type Stream interface {
	Fd() int
	// Read and Write return ErrWouldBlock when the descriptor is not ready.
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Line is a byte-stream class (serial, parallel) whose reads and writes are
// always completed asynchronously by the scheduler.
type Line interface {
	Backend
	Stream(h Handle) (Stream, rdpefs.NTStatus)
	// Timeouts returns the total and interval timeouts for a transfer of
	// length bytes; zero disables the respective timeout.
	Timeouts(h Handle, major rdpefs.MajorFunction, length uint32) (total, interval time.Duration)
}

// BufferedReader is implemented by lines whose reads can be told to return
// only what is already buffered. Such a read completes successfully at its
// total timeout even when nothing arrived.
type BufferedReader interface {
	ReadsBuffered(h Handle) bool
}

// Controller handles DEVICE_CONTROL. A StatusPending answer is followed by
// PollEvent calls on every scheduler tick until it reports done.
type Controller interface {
	DeviceControl(h Handle, code uint32, input []byte, outputLength uint32) ([]byte, rdpefs.NTStatus)
	PollEvent(h Handle) ([]byte, bool)
}

// PrinterAnnounce is what a printer reports for the device list.
type PrinterAnnounce struct {
	Flags      uint32
	DriverName string
	PrintName  string
}

// Printer is the printer class.
type Printer interface {
	Backend
	Announce() PrinterAnnounce
}
