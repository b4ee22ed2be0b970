// Package rdpdr implements the client side of the RDP device redirection
// virtual channel: the capability handshake, device announcement, dispatch
// of server I/O requests to local back ends and the asynchronous completion
// of requests that cannot finish immediately.
package rdpdr

import (
	"sync"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/rcarmo/go-rdpdr/internal/reactor"
)

// Options configures a Channel.
type Options struct {
	ClientName   string
	MaxDevices   int
	MaxPending   int
	ChunkSize    int
	PrinterCache PrinterCache
	// Registerer receives the engine metrics; nil disables registration.
	Registerer prometheus.Registerer
	Clock      func() time.Time
}

// Channel is the per-connection context of the redirection engine. All entry
// points are serialized, so snapshots may be taken from other goroutines;
// the engine itself never blocks and starts no goroutines.
type Channel struct {
	mu         sync.Mutex
	devices    *DeviceTable
	negotiator *Negotiator
	dispatcher *Dispatcher
	scheduler  *Scheduler
	sender     *CompletionSender
	metrics    *Metrics
}

func NewChannel(transport Transport, opts Options) *Channel {
	metrics := NewMetrics(opts.Registerer)
	sender := NewCompletionSender(transport, metrics)

	schedOpts := []SchedulerOption{WithMaxPending(opts.MaxPending), WithChunkSize(opts.ChunkSize)}
	if opts.Clock != nil {
		schedOpts = append(schedOpts, WithClock(opts.Clock))
	}
	scheduler := NewScheduler(sender, metrics, schedOpts...)
	devices := NewDeviceTable(opts.MaxDevices)

	return &Channel{
		devices:    devices,
		negotiator: NewNegotiator(opts.ClientName, devices, opts.PrinterCache, transport),
		dispatcher: NewDispatcher(devices, scheduler, metrics),
		scheduler:  scheduler,
		sender:     sender,
		metrics:    metrics,
	}
}

// Register adds a device. It fails once the channel is ready.
func (c *Channel) Register(spec DeviceSpec) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.devices.Register(spec)
	if err != nil {
		return 0, err
	}
	c.metrics.setDevices(c.devices.Len())
	logging.Info("RDPDR: Registered %s device %q as %d", spec.Type, spec.Name, id)
	return id, nil
}

// HandlePDU processes one reassembled RDPDR PDU from the server. Errors for
// which IsFatal reports true must end the session; others concern only
// this PDU.
func (c *Channel) HandlePDU(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, body, err := rdpefs.DecodeHeader(data)
	if err != nil {
		return errors.Wrapf(ErrMalformed, "header: %v", err)
	}

	switch h.Component {
	case rdpefs.ComponentPrinter:
		return c.negotiator.HandlePrinter(h, body)
	case rdpefs.ComponentCore:
	default:
		logging.Debug("RDPDR: Ignoring component 0x%04X", uint16(h.Component))
		return nil
	}

	switch {
	case h.PacketID == rdpefs.PacketDeviceIORequest && c.negotiator.Ready():
		return c.handleIORequest(body)
	case h.PacketID == rdpefs.PacketServerAnnounce && c.negotiator.session.State != StateAwaitingServerAnnounce:
		c.resetLocked()
	}
	return c.negotiator.Handle(h, body)
}

func (c *Channel) handleIORequest(body []byte) error {
	var req rdpefs.IORequest
	if err := req.Deserialize(body); err != nil {
		return errors.Wrapf(ErrMalformed, "io request: %v", err)
	}

	out, err := c.dispatcher.Dispatch(&req)
	if IsFatal(err) {
		logging.Error("RDPDR: %v", err)
		return err
	}
	if err != nil {
		logging.Warn("RDPDR: %s on device %d: %v", req.MajorFunction, req.DeviceID, err)
	}
	if out.Pending {
		return nil
	}
	return c.sender.Send(req.DeviceID, req.CompletionID, out.Status, out.Result, out.Buffer)
}

// WaitDescriptors implements reactor.Source.
func (c *Channel) WaitDescriptors(read, write reactor.FDSet) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduler.CollectWaitSet(read, write)
}

// CheckDescriptors implements reactor.Source.
func (c *Channel) CheckDescriptors(read, write reactor.FDSet, timedOut bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.scheduler.OnReady(read, write)
	if timedOut {
		if terr := c.scheduler.OnTimeout(); err == nil {
			err = terr
		}
	}
	return err
}

// Reset cancels pending requests, closes every handle the back ends issued
// and forgets the session. Registered devices are kept for the next handshake.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Channel) resetLocked() {
	if err := c.scheduler.AbortAll(rdpefs.StatusCancelled); err != nil {
		logging.Warn("RDPDR: Cancelling pending requests: %v", err)
	}
	for _, d := range c.devices.Devices() {
		for h := range d.handles {
			if status := d.Backend.Close(h); status.IsFailure() {
				logging.Debug("RDPDR: Closing file id %d on device %d: %s", h, d.ID, status)
			}
		}
	}
	c.devices.forgetHandles()
	c.negotiator.Reset()
}

// State returns the handshake state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiator.session.State
}

// DeviceInfo describes a registered device.
type DeviceInfo struct {
	ID          uint32 `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	OpenHandles int    `json:"open_handles"`
}

// Snapshot is a consistent view of the channel for diagnostics.
type Snapshot struct {
	State       string           `json:"state"`
	ServerMajor uint16           `json:"server_major"`
	ServerMinor uint16           `json:"server_minor"`
	ClientID    uint32           `json:"client_id"`
	Devices     []DeviceInfo     `json:"devices"`
	Pending     []PendingRequest `json:"pending"`
}

func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.negotiator.session
	snap := Snapshot{
		State:       s.State.String(),
		ServerMajor: s.ServerMajor,
		ServerMinor: s.ServerMinor,
		ClientID:    s.ClientID,
		Devices:     make([]DeviceInfo, 0, c.devices.Len()),
		Pending:     c.scheduler.Snapshot(),
	}
	for _, d := range c.devices.Devices() {
		snap.Devices = append(snap.Devices, DeviceInfo{
			ID:          d.ID,
			Type:        d.Type.String(),
			Name:        d.Name,
			DisplayName: d.DisplayName,
			OpenHandles: d.OpenHandles(),
		})
	}
	return snap
}
