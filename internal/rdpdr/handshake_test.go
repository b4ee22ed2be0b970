package rdpdr

import (
	"bytes"
	"testing"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverAnnounce(minor uint16, clientID uint32) []byte {
	return corePDU(rdpefs.PacketServerAnnounce, (&rdpefs.ServerAnnounce{
		VersionMajor: 1, VersionMinor: minor, ClientID: clientID,
	}).Serialize())
}

func serverCapabilities(minor uint16) []byte {
	return corePDU(rdpefs.PacketServerCapability, rdpefs.NewClientCapabilities(minor).Serialize())
}

func clientIDConfirm(clientID uint32) []byte {
	return corePDU(rdpefs.PacketClientIDConfirm, (&rdpefs.ClientIDConfirm{
		VersionMajor: 1, VersionMinor: 12, ClientID: clientID,
	}).Serialize())
}

func newTestChannel(t *testing.T) (*Channel, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	return NewChannel(tr, Options{ClientName: "testhost"}), tr
}

func TestHandshake_Sequence(t *testing.T) {
	ch, tr := newTestChannel(t)
	_, err := ch.Register(DeviceSpec{Type: rdpefs.DeviceTypeFilesystem, Name: "HOME", DisplayName: "home", Backend: &fakeDisk{}})
	require.NoError(t, err)

	require.NoError(t, ch.HandlePDU(serverAnnounce(13, 0x2A)))
	assert.Equal(t, StateAwaitingClientIDConfirm, ch.State())
	assert.Equal(t, []rdpefs.PacketID{rdpefs.PacketClientIDConfirm, rdpefs.PacketClientName}, tr.packets(t))

	_, body, err := rdpefs.DecodeHeader(tr.sent[0])
	require.NoError(t, err)
	var reply rdpefs.ClientAnnounceReply
	require.NoError(t, reply.Deserialize(bytes.NewReader(body)))
	assert.Equal(t, rdpefs.ClientVersionMinor, reply.VersionMinor)
	assert.Equal(t, uint32(0x2A), reply.ClientID)

	_, body, err = rdpefs.DecodeHeader(tr.sent[1])
	require.NoError(t, err)
	var name rdpefs.ClientNameRequest
	require.NoError(t, name.Deserialize(bytes.NewReader(body)))
	assert.Equal(t, "testhost", name.ComputerName)

	tr.reset()
	require.NoError(t, ch.HandlePDU(serverCapabilities(13)))
	assert.Equal(t, StateCapabilityExchanged, ch.State())
	assert.Equal(t, []rdpefs.PacketID{rdpefs.PacketClientCapability}, tr.packets(t))

	tr.reset()
	require.NoError(t, ch.HandlePDU(clientIDConfirm(0x2A)))
	assert.Equal(t, StateReady, ch.State())
	assert.Equal(t, []rdpefs.PacketID{rdpefs.PacketDeviceListAnnounce}, tr.packets(t))

	list := tr.lastDeviceList(t)
	require.Len(t, list.Devices, 1)
	assert.Equal(t, uint32(0), list.Devices[0].DeviceID)
	assert.Equal(t, "HOME", list.Devices[0].PreferredDosName)
	assert.Equal(t, rdpefs.DisplayNameData("home"), list.Devices[0].DeviceData)

	snap := ch.Snapshot()
	assert.Equal(t, "Ready", snap.State)
	assert.Equal(t, uint16(13), snap.ServerMinor)
	assert.Equal(t, uint32(0x2A), snap.ClientID)
}

func TestHandshake_ConfirmBeforeCapabilities(t *testing.T) {
	ch, tr := newTestChannel(t)

	require.NoError(t, ch.HandlePDU(serverAnnounce(12, 1)))
	require.NoError(t, ch.HandlePDU(clientIDConfirm(1)))
	assert.Equal(t, StateDevicesAnnounced, ch.State())

	require.NoError(t, ch.HandlePDU(serverCapabilities(12)))
	assert.Equal(t, StateReady, ch.State())
	assert.Equal(t, []rdpefs.PacketID{
		rdpefs.PacketClientIDConfirm,
		rdpefs.PacketClientName,
		rdpefs.PacketDeviceListAnnounce,
		rdpefs.PacketClientCapability,
	}, tr.packets(t))
}

func TestHandshake_RepeatedPDUsAreIgnoredOnceReady(t *testing.T) {
	ch, tr := newTestChannel(t)
	negotiate(t, ch, tr)

	require.NoError(t, ch.HandlePDU(serverCapabilities(12)))
	require.NoError(t, ch.HandlePDU(clientIDConfirm(3)))
	assert.Empty(t, tr.sent)
	assert.Equal(t, StateReady, ch.State())
}

func TestHandshake_ClientCapabilitiesFollowServerVersion(t *testing.T) {
	for _, tt := range []struct {
		minor       uint16
		loggedOnPDU bool
	}{
		{minor: 10, loggedOnPDU: false},
		{minor: 12, loggedOnPDU: true},
	} {
		ch, tr := newTestChannel(t)
		require.NoError(t, ch.HandlePDU(serverAnnounce(tt.minor, 1)))
		tr.reset()
		require.NoError(t, ch.HandlePDU(serverCapabilities(tt.minor)))

		_, body, err := rdpefs.DecodeHeader(tr.sent[0])
		require.NoError(t, err)
		var block rdpefs.CapabilityBlock
		require.NoError(t, block.Deserialize(bytes.NewReader(body)))
		general, ok := block.Find(rdpefs.CapabilityTypeGeneral)
		require.True(t, ok)
		assert.Equal(t, tt.loggedOnPDU, general.General.ExtendedPDU&rdpefs.ExtendedPDUUserLoggedOn != 0, "minor %d", tt.minor)
		assert.Len(t, block.Sets, 5)
	}
}

func TestHandshake_IORequestBeforeReadyIsFatal(t *testing.T) {
	ch, tr := newTestChannel(t)
	_, err := ch.Register(DeviceSpec{Type: rdpefs.DeviceTypeFilesystem, Name: "C", Backend: &fakeDisk{}})
	require.NoError(t, err)
	require.NoError(t, ch.HandlePDU(serverAnnounce(12, 1)))
	tr.reset()

	err = ch.HandlePDU(ioPDU(0, 0, 1, rdpefs.MajorCreate, 0, createBody("a", rdpefs.FileOpen)))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, ErrEarlyIORequest))
	assert.Empty(t, tr.sent)
}

func TestHandshake_MalformedPDUIsDropped(t *testing.T) {
	ch, tr := newTestChannel(t)

	err := ch.HandlePDU([]byte{0x72})
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.True(t, errors.Is(err, ErrMalformed))

	err = ch.HandlePDU(corePDU(rdpefs.PacketServerAnnounce, []byte{1, 0}))
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, StateAwaitingServerAnnounce, ch.State())
	assert.Empty(t, tr.sent)
}

func TestHandshake_UserLoggedOnAnnouncesAgain(t *testing.T) {
	ch, tr := newTestChannel(t)
	_, err := ch.Register(DeviceSpec{Type: rdpefs.DeviceTypeFilesystem, Name: "C", Backend: &fakeDisk{}})
	require.NoError(t, err)

	// Ignored before the channel is ready.
	require.NoError(t, ch.HandlePDU(corePDU(rdpefs.PacketUserLoggedOn, nil)))
	assert.Empty(t, tr.sent)

	negotiate(t, ch, tr)
	require.NoError(t, ch.HandlePDU(corePDU(rdpefs.PacketUserLoggedOn, nil)))
	assert.Equal(t, []rdpefs.PacketID{rdpefs.PacketDeviceListAnnounce}, tr.packets(t))
	assert.Len(t, tr.lastDeviceList(t).Devices, 1)
}

func TestHandshake_PrinterBlobIsReloadedOnEveryAnnounce(t *testing.T) {
	cache := &fakeCache{blobs: map[string][]byte{"Office": {1, 2, 3}}}
	tr := &fakeTransport{}
	ch := NewChannel(tr, Options{ClientName: "testhost", PrinterCache: cache})

	printer := &fakePrinter{announce: device.PrinterAnnounce{
		Flags:      rdpefs.PrinterFlagDefaultPrinter,
		DriverName: "MS Publisher Imagesetter",
		PrintName:  "Office",
	}}
	_, err := ch.Register(DeviceSpec{Type: rdpefs.DeviceTypePrinter, Name: "PRN1", Backend: printer})
	require.NoError(t, err)

	require.NoError(t, ch.HandlePDU(serverAnnounce(12, 1)))
	require.NoError(t, ch.HandlePDU(clientIDConfirm(1)))

	data := printerData(t, tr)
	assert.Equal(t, "Office", data.PrintName)
	assert.Equal(t, "MS Publisher Imagesetter", data.DriverName)
	assert.Equal(t, []byte{1, 2, 3}, data.CachedFields)

	update := &rdpefs.PrinterCacheEvent{EventID: rdpefs.PrinterCacheUpdate, PrinterName: "Office", Config: []byte{9, 9}}
	require.NoError(t, ch.HandlePDU(rdpefs.BuildPDU(rdpefs.ComponentPrinter, rdpefs.PacketPrinterCacheData, update.Serialize())))
	require.Len(t, cache.events, 1)

	// A new server announce restarts the handshake and the next device list
	// carries the updated blob.
	require.NoError(t, ch.HandlePDU(serverAnnounce(12, 2)))
	require.NoError(t, ch.HandlePDU(clientIDConfirm(2)))
	assert.Equal(t, []byte{9, 9}, printerData(t, tr).CachedFields)
	assert.Equal(t, 2, cache.loads)
}

func printerData(t *testing.T, tr *fakeTransport) *rdpefs.PrinterDeviceData {
	t.Helper()
	list := tr.lastDeviceList(t)
	require.Len(t, list.Devices, 1)
	require.Equal(t, rdpefs.DeviceTypePrinter, list.Devices[0].DeviceType)
	var data rdpefs.PrinterDeviceData
	require.NoError(t, data.Deserialize(bytes.NewReader(list.Devices[0].DeviceData)))
	return &data
}
