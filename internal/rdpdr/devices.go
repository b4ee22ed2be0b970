package rdpdr

import (
	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

// MaxDevices is the default device table capacity.
const MaxDevices = 16

// DeviceSpec describes a device to register.
type DeviceSpec struct {
	Type rdpefs.DeviceType
	// Name is the DOS name announced to the server, at most 8 ASCII bytes.
	Name string
	// DisplayName is the long name shown for disks; Name is used when empty.
	DisplayName string
	Backend     device.Backend
}

// Device is a registered device. Type, ID and Name never change.
type Device struct {
	Type        rdpefs.DeviceType
	ID          uint32
	Name        string
	DisplayName string
	Backend     device.Backend

	handles map[device.Handle]struct{}
}

// HasHandle reports whether the back end issued h and it is still open.
func (d *Device) HasHandle(h device.Handle) bool {
	_, ok := d.handles[h]
	return ok
}

// OpenHandles returns the number of open handles.
func (d *Device) OpenHandles() int {
	return len(d.handles)
}

func (d *Device) addHandle(h device.Handle)    { d.handles[h] = struct{}{} }
func (d *Device) removeHandle(h device.Handle) { delete(d.handles, h) }

// DeviceTable holds the registered devices in registration order.
type DeviceTable struct {
	devices []*Device
	byID    map[uint32]*Device
	max     int
	ready   bool
}

// NewDeviceTable creates a table holding at most max devices (MaxDevices when max <= 0).
func NewDeviceTable(max int) *DeviceTable {
	if max <= 0 {
		max = MaxDevices
	}
	return &DeviceTable{byID: make(map[uint32]*Device), max: max}
}

// Register adds a device and returns its wire id.
func (t *DeviceTable) Register(spec DeviceSpec) (uint32, error) {
	if t.ready {
		return 0, ErrChannelReady
	}
	if err := validateDeviceName(spec.Name); err != nil {
		return 0, err
	}
	if spec.Backend == nil && spec.Type != rdpefs.DeviceTypeSmartcard {
		return 0, errors.Newf("device %s has no back end", spec.Name)
	}
	if len(t.devices) >= t.max {
		return 0, ErrDeviceTableFull
	}

	id := uint32(0)
	for {
		if _, taken := t.byID[id]; !taken {
			break
		}
		id++
	}

	d := &Device{
		Type:        spec.Type,
		ID:          id,
		Name:        spec.Name,
		DisplayName: spec.DisplayName,
		Backend:     spec.Backend,
		handles:     make(map[device.Handle]struct{}),
	}
	if d.DisplayName == "" {
		d.DisplayName = d.Name
	}
	t.devices = append(t.devices, d)
	t.byID[id] = d
	return id, nil
}

func validateDeviceName(name string) error {
	if name == "" || len(name) > rdpefs.PreferredDosNameSize {
		return errors.Wrapf(ErrInvalidDeviceName, "%q", name)
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7E {
			return errors.Wrapf(ErrInvalidDeviceName, "%q", name)
		}
	}
	return nil
}

// Lookup returns the device with the given wire id.
func (t *DeviceTable) Lookup(id uint32) (*Device, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// Devices returns the devices in registration order.
func (t *DeviceTable) Devices() []*Device {
	return t.devices
}

func (t *DeviceTable) Len() int {
	return len(t.devices)
}

func (t *DeviceTable) setReady(ready bool) {
	t.ready = ready
}

// forgetHandles drops every recorded handle; used when the channel resets.
func (t *DeviceTable) forgetHandles() {
	for _, d := range t.devices {
		d.handles = make(map[device.Handle]struct{})
	}
}
