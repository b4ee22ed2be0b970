package rdpdr

import (
	"bytes"
	"strings"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/fscc"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

// Outcome is the result of dispatching one I/O request. A pending outcome
// has been handed to the scheduler and is completed from there.
type Outcome struct {
	Pending bool
	Status  rdpefs.NTStatus
	// Result is the major-specific word that follows the status: FileId for
	// CREATE, a byte count otherwise.
	Result uint32
	Buffer []byte
}

func completed(status rdpefs.NTStatus, result uint32, buf []byte) Outcome {
	return Outcome{Status: status, Result: result, Buffer: buf}
}

func pad() []byte { return []byte{0} }

var pending = Outcome{Pending: true, Status: rdpefs.StatusPending}

// Dispatcher routes I/O requests to device back ends.
type Dispatcher struct {
	devices   *DeviceTable
	scheduler *Scheduler
	metrics   *Metrics
}

func NewDispatcher(devices *DeviceTable, scheduler *Scheduler, metrics *Metrics) *Dispatcher {
	return &Dispatcher{devices: devices, scheduler: scheduler, metrics: metrics}
}

// Dispatch runs req against its device. The error is fatal only when
// IsFatal reports so; otherwise the outcome still has to be completed.
func (d *Dispatcher) Dispatch(req *rdpefs.IORequest) (Outcome, error) {
	dev, ok := d.devices.Lookup(req.DeviceID)
	if !ok {
		return Outcome{}, errors.Wrapf(ErrUnknownDevice, "device %d", req.DeviceID)
	}
	d.metrics.request(req.MajorFunction)

	if dev.Type == rdpefs.DeviceTypeSmartcard {
		return completed(rdpefs.StatusNotSupported, 0, nil),
			errors.Wrapf(ErrNotImplemented, "smart card device %d", dev.ID)
	}

	h := device.Handle(req.FileID)
	if req.MajorFunction != rdpefs.MajorCreate && !dev.HasHandle(h) {
		logging.Debug("RDPDR: %s on device %d with unknown file id %d", req.MajorFunction, dev.ID, req.FileID)
		return completed(rdpefs.StatusInvalidHandle, 0, nil), nil
	}

	body := bytes.NewReader(req.Body)
	switch req.MajorFunction {
	case rdpefs.MajorCreate:
		return d.create(dev, body)
	case rdpefs.MajorClose:
		return d.close(dev, h)
	case rdpefs.MajorRead:
		return d.read(dev, req, body)
	case rdpefs.MajorWrite:
		return d.write(dev, req, body)
	case rdpefs.MajorQueryInformation:
		return d.queryInformation(dev, h, body)
	case rdpefs.MajorSetInformation:
		return d.setInformation(dev, h, body)
	case rdpefs.MajorQueryVolumeInformation:
		return d.queryVolumeInformation(dev, h, body)
	case rdpefs.MajorDirectoryControl:
		return d.directoryControl(dev, req, body)
	case rdpefs.MajorDeviceControl:
		return d.deviceControl(dev, req, body)
	case rdpefs.MajorLockControl:
		return d.lockControl(dev, body)
	default:
		return completed(rdpefs.StatusNotImplemented, 0, nil),
			errors.Wrapf(ErrNotImplemented, "major function 0x%X", uint32(req.MajorFunction))
	}
}

func malformed(major rdpefs.MajorFunction, err error) (Outcome, error) {
	return completed(rdpefs.StatusInvalidParameter, 0, nil), errors.Wrapf(ErrMalformed, "%s: %v", major, err)
}

func notForClass(dev *Device, major rdpefs.MajorFunction) (Outcome, error) {
	logging.Debug("RDPDR: %s not supported by %s device %d", major, dev.Type, dev.ID)
	return completed(rdpefs.StatusInvalidDeviceRequest, 0, nil), nil
}

// localPath converts a server path to the back end's separator.
func localPath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func (d *Dispatcher) create(dev *Device, body *bytes.Reader) (Outcome, error) {
	var req rdpefs.CreateRequest
	if err := req.Deserialize(body); err != nil {
		if errors.Is(err, rdpefs.ErrPathTooLong) {
			return completed(rdpefs.StatusObjectNameInvalid, 0, pad()), nil
		}
		return malformed(rdpefs.MajorCreate, err)
	}
	req.Path = localPath(req.Path)

	h, status := dev.Backend.Create(&req)
	if status != rdpefs.StatusSuccess {
		logging.Debug("RDPDR: Create %q on device %d: %s", req.Path, dev.ID, status)
		return completed(status, 0, pad()), nil
	}
	dev.addHandle(h)
	logging.Debug("RDPDR: Created %q on device %d as file id %d", req.Path, dev.ID, h)
	return completed(status, uint32(h), []byte{rdpefs.CreateInformation(req.CreateDisposition)}), nil
}

func (d *Dispatcher) close(dev *Device, h device.Handle) (Outcome, error) {
	if err := d.scheduler.AbortHandle(dev.ID, h, rdpefs.StatusCancelled); err != nil {
		logging.Warn("RDPDR: Aborting requests on file id %d: %v", h, err)
	}
	status := dev.Backend.Close(h)
	dev.removeHandle(h)
	return completed(status, 0, pad()), nil
}

func (d *Dispatcher) read(dev *Device, req *rdpefs.IORequest, body *bytes.Reader) (Outcome, error) {
	var rr rdpefs.ReadRequest
	if err := rr.Deserialize(body); err != nil {
		return malformed(req.MajorFunction, err)
	}
	h := device.Handle(req.FileID)
	if rr.Length > rdpefs.MaxReadLength {
		logging.Warn("RDPDR: Rejecting %d byte read on device %d", rr.Length, dev.ID)
		return completed(rdpefs.StatusInvalidParameter, 0, nil), nil
	}

	if line, ok := dev.Backend.(device.Line); ok {
		return d.enqueue(dev, line, req, h, rr.Length, nil, rr.Offset)
	}

	data, status := dev.Backend.Read(h, rr.Length, rr.Offset)
	if status.IsFailure() {
		return completed(status, 0, nil), nil
	}
	return completed(status, uint32(len(data)), data), nil
}

func (d *Dispatcher) write(dev *Device, req *rdpefs.IORequest, body *bytes.Reader) (Outcome, error) {
	var wr rdpefs.WriteRequest
	if err := wr.Deserialize(body); err != nil {
		return malformed(req.MajorFunction, err)
	}
	h := device.Handle(req.FileID)

	if line, ok := dev.Backend.(device.Line); ok {
		data := make([]byte, len(wr.Data))
		copy(data, wr.Data)
		return d.enqueue(dev, line, req, h, uint32(len(data)), data, wr.Offset)
	}

	n, status := dev.Backend.Write(h, wr.Data, wr.Offset)
	return completed(status, n, pad()), nil
}

// enqueue hands a line-class transfer to the scheduler. Reads start with no
// buffer; the scheduler grows it as data arrives.
func (d *Dispatcher) enqueue(dev *Device, line device.Line, req *rdpefs.IORequest, h device.Handle, length uint32, buf []byte, offset uint64) (Outcome, error) {
	if length == 0 {
		return completed(rdpefs.StatusSuccess, 0, pad()), nil
	}
	stream, status := line.Stream(h)
	if status != rdpefs.StatusSuccess {
		return completed(status, 0, nil), nil
	}
	total, interval := line.Timeouts(h, req.MajorFunction, length)
	var buffered bool
	if br, ok := line.(device.BufferedReader); ok && req.MajorFunction == rdpefs.MajorRead {
		buffered = br.ReadsBuffered(h)
	}

	_, err := d.scheduler.Register(AsyncRequest{
		Stream:          stream,
		Fd:              stream.Fd(),
		DeviceID:        dev.ID,
		FileID:          h,
		CompletionID:    req.CompletionID,
		Major:           req.MajorFunction,
		Length:          length,
		TotalTimeout:    total,
		IntervalTimeout: interval,
		Buffer:          buf,
		Offset:          offset,
		Serial:          dev.Type == rdpefs.DeviceTypeSerial,
		Buffered:        buffered,
	})
	if err != nil {
		return completed(rdpefs.StatusInsufficientResources, 0, nil), err
	}
	return pending, nil
}

func (d *Dispatcher) queryInformation(dev *Device, h device.Handle, body *bytes.Reader) (Outcome, error) {
	disk, ok := dev.Backend.(device.Disk)
	if !ok {
		return notForClass(dev, rdpefs.MajorQueryInformation)
	}
	var req rdpefs.InformationRequest
	if err := req.Deserialize(body); err != nil {
		return malformed(rdpefs.MajorQueryInformation, err)
	}
	out, status := disk.QueryInformation(h, fscc.InformationClass(req.InformationClass))
	return completed(status, uint32(len(out)), out), nil
}

func (d *Dispatcher) setInformation(dev *Device, h device.Handle, body *bytes.Reader) (Outcome, error) {
	disk, ok := dev.Backend.(device.Disk)
	if !ok {
		return notForClass(dev, rdpefs.MajorSetInformation)
	}
	var req rdpefs.InformationRequest
	if err := req.Deserialize(body); err != nil {
		return malformed(rdpefs.MajorSetInformation, err)
	}
	status := disk.SetInformation(h, fscc.InformationClass(req.InformationClass), req.Buffer)
	return completed(status, uint32(len(req.Buffer)), pad()), nil
}

func (d *Dispatcher) queryVolumeInformation(dev *Device, h device.Handle, body *bytes.Reader) (Outcome, error) {
	disk, ok := dev.Backend.(device.Disk)
	if !ok {
		return notForClass(dev, rdpefs.MajorQueryVolumeInformation)
	}
	var req rdpefs.InformationRequest
	if err := req.Deserialize(body); err != nil {
		return malformed(rdpefs.MajorQueryVolumeInformation, err)
	}
	out, status := disk.QueryVolumeInformation(h, fscc.FsInformationClass(req.InformationClass))
	return completed(status, uint32(len(out)), out), nil
}

func (d *Dispatcher) directoryControl(dev *Device, req *rdpefs.IORequest, body *bytes.Reader) (Outcome, error) {
	disk, ok := dev.Backend.(device.Disk)
	if !ok {
		return notForClass(dev, rdpefs.MajorDirectoryControl)
	}
	h := device.Handle(req.FileID)

	switch req.MinorFunction {
	case rdpefs.MinorQueryDirectory:
		var q rdpefs.QueryDirectoryRequest
		if err := q.Deserialize(body); err != nil {
			if errors.Is(err, rdpefs.ErrPathTooLong) {
				return completed(rdpefs.StatusObjectNameInvalid, 0, pad()), nil
			}
			return malformed(req.MajorFunction, err)
		}
		out, status := disk.QueryDirectory(h, fscc.InformationClass(q.InformationClass), q.InitialQuery, localPath(q.Path))
		if status != rdpefs.StatusSuccess {
			return completed(status, 0, pad()), nil
		}
		return completed(status, uint32(len(out)), out), nil

	case rdpefs.MinorNotifyChangeDirectory:
		var n rdpefs.NotifyChangeDirectoryRequest
		if err := n.Deserialize(body); err != nil {
			return malformed(req.MajorFunction, err)
		}
		status := disk.NotifyChangeDirectory(h, n.WatchTree, n.CompletionFilter)
		if status != rdpefs.StatusPending {
			return completed(status, 0, nil), nil
		}
		_, err := d.scheduler.Register(AsyncRequest{
			Fd:           -1,
			DeviceID:     dev.ID,
			FileID:       h,
			CompletionID: req.CompletionID,
			Major:        rdpefs.MajorDirectoryControl,
			Disk:         disk,
		})
		if err != nil {
			return completed(rdpefs.StatusInsufficientResources, 0, nil), err
		}
		return pending, nil

	default:
		return completed(rdpefs.StatusNotImplemented, 0, nil),
			errors.Wrapf(ErrNotImplemented, "directory control minor 0x%X", uint32(req.MinorFunction))
	}
}

func (d *Dispatcher) deviceControl(dev *Device, req *rdpefs.IORequest, body *bytes.Reader) (Outcome, error) {
	ctl, ok := dev.Backend.(device.Controller)
	if !ok {
		return notForClass(dev, rdpefs.MajorDeviceControl)
	}
	var dc rdpefs.DeviceControlRequest
	if err := dc.Deserialize(body); err != nil {
		return malformed(req.MajorFunction, err)
	}
	h := device.Handle(req.FileID)

	out, status := ctl.DeviceControl(h, dc.IoControlCode, dc.Input, dc.OutputBufferLength)
	if status != rdpefs.StatusPending {
		return completed(status, uint32(len(out)), out), nil
	}
	_, err := d.scheduler.Register(AsyncRequest{
		Fd:           -1,
		DeviceID:     dev.ID,
		FileID:       h,
		CompletionID: req.CompletionID,
		Major:        rdpefs.MajorDeviceControl,
		Controller:   ctl,
	})
	if err != nil {
		return completed(rdpefs.StatusInsufficientResources, 0, nil), err
	}
	return pending, nil
}

// lockControl reports success without taking any lock.
func (d *Dispatcher) lockControl(dev *Device, body *bytes.Reader) (Outcome, error) {
	if dev.Type != rdpefs.DeviceTypeFilesystem {
		return notForClass(dev, rdpefs.MajorLockControl)
	}
	var req rdpefs.LockControlRequest
	if err := req.Deserialize(body); err != nil {
		return malformed(rdpefs.MajorLockControl, err)
	}
	return completed(rdpefs.StatusSuccess, 0, pad()), nil
}
