package rdpdr

import (
	"bytes"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

// State is the capability negotiation state of a channel.
type State int

const (
	StateAwaitingServerAnnounce State = iota
	StateClientAnnounced
	StateAwaitingClientIDConfirm
	StateDevicesAnnounced
	StateCapabilityExchanged
	StateReady
)

var stateNames = map[State]string{
	StateAwaitingServerAnnounce:  "AwaitingServerAnnounce",
	StateClientAnnounced:         "ClientAnnounced",
	StateAwaitingClientIDConfirm: "AwaitingClientIDConfirm",
	StateDevicesAnnounced:        "DevicesAnnounced",
	StateCapabilityExchanged:     "CapabilityExchanged",
	StateReady:                   "Ready",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// PrinterCache stores the opaque per-printer configuration the server asks
// the client to keep between sessions.
type PrinterCache interface {
	// Load returns a fresh copy of the cached blob for printer, or nil.
	Load(printer string) ([]byte, error)
	Apply(event *rdpefs.PrinterCacheEvent) error
}

// Session is what the handshake learned about the server.
type Session struct {
	State           State
	ServerMajor     uint16
	ServerMinor     uint16
	NegotiatedMinor uint16
	ClientID        uint32
	// ServerCapabilities holds the decoded server sets by type.
	ServerCapabilities map[rdpefs.CapabilityType]rdpefs.CapabilitySet

	devicesAnnounced      bool
	capabilitiesExchanged bool
}

// Negotiator drives the RDPDR handshake.
type Negotiator struct {
	session    Session
	clientName string
	devices    *DeviceTable
	cache      PrinterCache
	transport  Transport
}

func NewNegotiator(clientName string, devices *DeviceTable, cache PrinterCache, transport Transport) *Negotiator {
	return &Negotiator{
		clientName: clientName,
		devices:    devices,
		cache:      cache,
		transport:  transport,
	}
}

// Session returns a copy of the negotiated session.
func (n *Negotiator) Session() Session {
	s := n.session
	s.ServerCapabilities = make(map[rdpefs.CapabilityType]rdpefs.CapabilitySet, len(n.session.ServerCapabilities))
	for k, v := range n.session.ServerCapabilities {
		s.ServerCapabilities[k] = v
	}
	return s
}

func (n *Negotiator) Ready() bool {
	return n.session.State == StateReady
}

// Reset forgets the session so the next Server Announce starts over.
func (n *Negotiator) Reset() {
	n.session = Session{}
	n.devices.setReady(false)
}

// Handle processes one core PDU that is not a device I/O request on a
// ready channel.
func (n *Negotiator) Handle(h rdpefs.Header, body []byte) error {
	switch h.PacketID {
	case rdpefs.PacketServerAnnounce:
		return n.handleServerAnnounce(body)
	case rdpefs.PacketClientIDConfirm:
		return n.handleClientIDConfirm(body)
	case rdpefs.PacketServerCapability:
		return n.handleServerCapability(body)
	case rdpefs.PacketDeviceReply:
		return n.handleDeviceReply(body)
	case rdpefs.PacketUserLoggedOn:
		return n.handleUserLoggedOn()
	case rdpefs.PacketDeviceIORequest:
		// Only reached before Ready.
		return errors.Wrapf(ErrEarlyIORequest, "state %s", n.session.State)
	default:
		logging.Debug("RDPDR: Ignoring %s in state %s", h.PacketID, n.session.State)
		return nil
	}
}

func (n *Negotiator) handleServerAnnounce(body []byte) error {
	var announce rdpefs.ServerAnnounce
	if err := announce.Deserialize(bytes.NewReader(body)); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	if n.session.State != StateAwaitingServerAnnounce {
		logging.Info("RDPDR: Server restarted the handshake in state %s", n.session.State)
		n.Reset()
	}

	reply := rdpefs.NewClientAnnounceReply(&announce)
	n.session.ServerMajor = announce.VersionMajor
	n.session.ServerMinor = announce.VersionMinor
	n.session.NegotiatedMinor = reply.VersionMinor
	n.session.ClientID = announce.ClientID
	logging.Info("RDPDR: Server announce version %d.%d, client id %d",
		announce.VersionMajor, announce.VersionMinor, announce.ClientID)

	if err := n.send(rdpefs.PacketClientIDConfirm, reply.Serialize()); err != nil {
		return err
	}
	n.session.State = StateClientAnnounced

	name := &rdpefs.ClientNameRequest{ComputerName: n.clientName}
	if err := n.send(rdpefs.PacketClientName, name.Serialize()); err != nil {
		return err
	}
	n.session.State = StateAwaitingClientIDConfirm
	return nil
}

func (n *Negotiator) handleClientIDConfirm(body []byte) error {
	var confirm rdpefs.ClientIDConfirm
	if err := confirm.Deserialize(bytes.NewReader(body)); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	if n.session.State == StateAwaitingServerAnnounce || n.session.State == StateReady {
		logging.Debug("RDPDR: Ignoring client id confirm in state %s", n.session.State)
		return nil
	}
	n.session.ClientID = confirm.ClientID

	if err := n.announceDevices(); err != nil {
		return err
	}
	n.session.devicesAnnounced = true
	n.advance(StateDevicesAnnounced)
	return nil
}

func (n *Negotiator) handleServerCapability(body []byte) error {
	if n.session.State == StateAwaitingServerAnnounce || n.session.State == StateReady {
		logging.Debug("RDPDR: Ignoring server capabilities in state %s", n.session.State)
		return nil
	}

	var block rdpefs.CapabilityBlock
	if err := block.Deserialize(bytes.NewReader(body)); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	n.session.ServerCapabilities = make(map[rdpefs.CapabilityType]rdpefs.CapabilitySet, len(block.Sets))
	for _, set := range block.Sets {
		switch set.Type {
		case rdpefs.CapabilityTypeGeneral, rdpefs.CapabilityTypePrinter, rdpefs.CapabilityTypePort,
			rdpefs.CapabilityTypeDrive, rdpefs.CapabilityTypeSmartcard:
			n.session.ServerCapabilities[set.Type] = set
			logging.Debug("RDPDR: Server capability %s version %d", set.Type, set.Version)
		default:
			logging.Debug("RDPDR: Skipping unknown capability type 0x%04X", uint16(set.Type))
		}
	}

	reply := rdpefs.NewClientCapabilities(n.session.ServerMinor)
	if err := n.send(rdpefs.PacketClientCapability, reply.Serialize()); err != nil {
		return err
	}
	n.session.capabilitiesExchanged = true
	n.advance(StateCapabilityExchanged)
	return nil
}

// advance moves to next, or to Ready once both halves of the exchange are done.
func (n *Negotiator) advance(next State) {
	if n.session.devicesAnnounced && n.session.capabilitiesExchanged {
		next = StateReady
	}
	if next == StateReady && n.session.State != StateReady {
		logging.Info("RDPDR: Channel ready with %d devices", n.devices.Len())
		n.devices.setReady(true)
	}
	n.session.State = next
}

func (n *Negotiator) handleDeviceReply(body []byte) error {
	var reply rdpefs.DeviceReply
	if err := reply.Deserialize(bytes.NewReader(body)); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	d, ok := n.devices.Lookup(reply.DeviceID)
	name := "?"
	if ok {
		name = d.Name
	}
	if reply.ResultCode.IsFailure() {
		logging.Warn("RDPDR: Server rejected device %d (%s): %s", reply.DeviceID, name, reply.ResultCode)
		return nil
	}
	logging.Debug("RDPDR: Server accepted device %d (%s)", reply.DeviceID, name)
	return nil
}

func (n *Negotiator) handleUserLoggedOn() error {
	if n.session.State != StateReady {
		logging.Debug("RDPDR: Ignoring user logged on in state %s", n.session.State)
		return nil
	}
	logging.Info("RDPDR: User logged on, announcing devices again")
	return n.announceDevices()
}

// HandlePrinter processes a printer component PDU.
func (n *Negotiator) HandlePrinter(h rdpefs.Header, body []byte) error {
	switch h.PacketID {
	case rdpefs.PacketPrinterCacheData:
		var event rdpefs.PrinterCacheEvent
		if err := event.Deserialize(bytes.NewReader(body)); err != nil {
			return errors.Wrap(ErrMalformed, err.Error())
		}
		if n.cache == nil {
			logging.Debug("RDPDR: No printer cache, dropping %s event", event.EventID)
			return nil
		}
		if err := n.cache.Apply(&event); err != nil {
			logging.Warn("RDPDR: Printer cache %s for %q failed: %v", event.EventID, event.PrinterName, err)
		}
		return nil
	case rdpefs.PacketPrinterUsingXPS:
		logging.Debug("RDPDR: Server uses XPS for printing")
		return nil
	default:
		logging.Debug("RDPDR: Ignoring printer packet 0x%04X", uint16(h.PacketID))
		return nil
	}
}

// DeviceList builds the Device List Announce for the registered devices.
// Printer cache blobs are loaded anew on every call.
func (n *Negotiator) DeviceList() *rdpefs.DeviceListAnnounce {
	list := &rdpefs.DeviceListAnnounce{}
	for _, d := range n.devices.Devices() {
		announce := rdpefs.DeviceAnnounce{
			DeviceType:       d.Type,
			DeviceID:         d.ID,
			PreferredDosName: d.Name,
		}
		switch d.Type {
		case rdpefs.DeviceTypePrinter:
			announce.DeviceData = n.printerData(d)
		case rdpefs.DeviceTypeFilesystem:
			announce.DeviceData = rdpefs.DisplayNameData(d.DisplayName)
		}
		list.Devices = append(list.Devices, announce)
	}
	return list
}

func (n *Negotiator) printerData(d *Device) []byte {
	info := device.PrinterAnnounce{PrintName: d.DisplayName}
	if p, ok := d.Backend.(device.Printer); ok {
		info = p.Announce()
	}
	if info.PrintName == "" {
		info.PrintName = d.DisplayName
	}

	var blob []byte
	if n.cache != nil {
		var err error
		if blob, err = n.cache.Load(info.PrintName); err != nil {
			logging.Warn("RDPDR: Loading cached config for %q: %v", info.PrintName, err)
			blob = nil
		}
	}

	data := &rdpefs.PrinterDeviceData{
		Flags:        info.Flags,
		DriverName:   info.DriverName,
		PrintName:    info.PrintName,
		CachedFields: blob,
	}
	return data.Serialize()
}

func (n *Negotiator) announceDevices() error {
	list := n.DeviceList()
	logging.Info("RDPDR: Announcing %d devices", len(list.Devices))
	return n.send(rdpefs.PacketDeviceListAnnounce, list.Serialize())
}

func (n *Negotiator) send(packet rdpefs.PacketID, body []byte) error {
	if err := n.transport.Send(rdpefs.BuildPDU(rdpefs.ComponentCore, packet, body)); err != nil {
		return errors.Wrapf(err, "send %s", packet)
	}
	return nil
}
