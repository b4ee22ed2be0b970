// Package parallel implements the parallel port device class: a device node
// opened non-blocking whose transfers never time out.
package parallel

import (
	"time"

	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"golang.org/x/sys/unix"
)

// Port is one parallel device node.
type Port struct {
	path string
	fds  map[device.Handle]int
	next device.Handle
}

func New(path string) *Port {
	return &Port{path: path, fds: make(map[device.Handle]int), next: 1}
}

func (p *Port) Create(*rdpefs.CreateRequest) (device.Handle, rdpefs.NTStatus) {
	fd, err := device.OpenNonblocking(p.path)
	if err != nil {
		logging.Warn("Parallel: Open %s: %v", p.path, err)
		return 0, device.StatusFromError(err)
	}
	h := p.next
	p.next++
	p.fds[h] = fd
	return h, rdpefs.StatusSuccess
}

func (p *Port) Close(h device.Handle) rdpefs.NTStatus {
	fd, ok := p.fds[h]
	if !ok {
		return rdpefs.StatusInvalidHandle
	}
	delete(p.fds, h)
	if err := unix.Close(fd); err != nil {
		return device.StatusFromError(err)
	}
	return rdpefs.StatusSuccess
}

func (p *Port) Read(device.Handle, uint32, uint64) ([]byte, rdpefs.NTStatus) {
	return nil, rdpefs.StatusInvalidDeviceRequest
}

func (p *Port) Write(device.Handle, []byte, uint64) (uint32, rdpefs.NTStatus) {
	return 0, rdpefs.StatusInvalidDeviceRequest
}

func (p *Port) Stream(h device.Handle) (device.Stream, rdpefs.NTStatus) {
	fd, ok := p.fds[h]
	if !ok {
		return nil, rdpefs.StatusInvalidHandle
	}
	return device.FdStream(fd), rdpefs.StatusSuccess
}

func (p *Port) Timeouts(device.Handle, rdpefs.MajorFunction, uint32) (time.Duration, time.Duration) {
	return 0, 0
}

// Release closes every open handle.
func (p *Port) Release() error {
	for h := range p.fds {
		p.Close(h)
	}
	return nil
}
