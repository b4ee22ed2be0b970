package rdpdr

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/protocol/fscc"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every PDU the engine sends.
type fakeTransport struct {
	sent [][]byte
	err  error
}

func (f *fakeTransport) Send(pdu []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, append([]byte(nil), pdu...))
	return nil
}

func (f *fakeTransport) reset() { f.sent = nil }

func (f *fakeTransport) packets(t *testing.T) []rdpefs.PacketID {
	t.Helper()
	var ids []rdpefs.PacketID
	for _, pdu := range f.sent {
		h, _, err := rdpefs.DecodeHeader(pdu)
		require.NoError(t, err)
		ids = append(ids, h.PacketID)
	}
	return ids
}

func (f *fakeTransport) completions(t *testing.T) []rdpefs.DeviceIOCompletion {
	t.Helper()
	var out []rdpefs.DeviceIOCompletion
	for _, pdu := range f.sent {
		h, body, err := rdpefs.DecodeHeader(pdu)
		require.NoError(t, err)
		if h.PacketID != rdpefs.PacketDeviceIOCompletion {
			continue
		}
		var c rdpefs.DeviceIOCompletion
		require.NoError(t, c.Deserialize(bytes.NewReader(body)))
		out = append(out, c)
	}
	return out
}

// lastDeviceList decodes the most recent Device List Announce.
func (f *fakeTransport) lastDeviceList(t *testing.T) *rdpefs.DeviceListAnnounce {
	t.Helper()
	for i := len(f.sent) - 1; i >= 0; i-- {
		h, body, err := rdpefs.DecodeHeader(f.sent[i])
		require.NoError(t, err)
		if h.PacketID == rdpefs.PacketDeviceListAnnounce {
			var list rdpefs.DeviceListAnnounce
			require.NoError(t, list.Deserialize(bytes.NewReader(body)))
			return &list
		}
	}
	t.Fatal("no device list announced")
	return nil
}

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// memStream is a non-blocking in-memory stream. Reads return ErrWouldBlock
// while the input is empty; writes accept at most limit bytes per call.
// Once err is set, reads fail with it after the input drains and writes fail
// straight away.
type memStream struct {
	fd    int
	in    bytes.Buffer
	out   bytes.Buffer
	limit int
	eof   bool
	err   error
}

func (s *memStream) Fd() int { return s.fd }

func (s *memStream) Read(p []byte) (int, error) {
	if s.in.Len() == 0 {
		if s.err != nil {
			return 0, s.err
		}
		if s.eof {
			return 0, io.EOF
		}
		return 0, device.ErrWouldBlock
	}
	return s.in.Read(p)
}

func (s *memStream) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.limit > 0 && len(p) > s.limit {
		p = p[:s.limit]
	}
	return s.out.Write(p)
}

// fakeLine is a serial or parallel back end whose handles share one stream.
type fakeLine struct {
	stream   *memStream
	next     device.Handle
	total    time.Duration
	interval time.Duration
	buffered bool
	closed   []device.Handle
}

func newFakeLine(fd int) *fakeLine {
	return &fakeLine{stream: &memStream{fd: fd}, next: 1}
}

func (l *fakeLine) Create(*rdpefs.CreateRequest) (device.Handle, rdpefs.NTStatus) {
	h := l.next
	l.next++
	return h, rdpefs.StatusSuccess
}

func (l *fakeLine) Close(h device.Handle) rdpefs.NTStatus {
	l.closed = append(l.closed, h)
	return rdpefs.StatusSuccess
}

func (l *fakeLine) Read(device.Handle, uint32, uint64) ([]byte, rdpefs.NTStatus) {
	return nil, rdpefs.StatusInvalidDeviceRequest
}

func (l *fakeLine) Write(device.Handle, []byte, uint64) (uint32, rdpefs.NTStatus) {
	return 0, rdpefs.StatusInvalidDeviceRequest
}

func (l *fakeLine) Stream(device.Handle) (device.Stream, rdpefs.NTStatus) {
	return l.stream, rdpefs.StatusSuccess
}

func (l *fakeLine) Timeouts(device.Handle, rdpefs.MajorFunction, uint32) (time.Duration, time.Duration) {
	return l.total, l.interval
}

func (l *fakeLine) ReadsBuffered(device.Handle) bool { return l.buffered }

// fakeController adds DEVICE_CONTROL to a line; code 1 waits for an event.
type fakeController struct {
	*fakeLine
	event []byte
}

const waitOnMaskCode = 1

func (c *fakeController) DeviceControl(h device.Handle, code uint32, input []byte, _ uint32) ([]byte, rdpefs.NTStatus) {
	if code == waitOnMaskCode {
		return nil, rdpefs.StatusPending
	}
	return append([]byte(nil), input...), rdpefs.StatusSuccess
}

func (c *fakeController) PollEvent(device.Handle) ([]byte, bool) {
	if c.event == nil {
		return nil, false
	}
	out := c.event
	c.event = nil
	return out, true
}

// fakeDisk serves a single file whose handle is always 7.
type fakeDisk struct {
	content  []byte
	changed  bool
	notified bool
	entries  []string
	cursor   int
	closed   int
}

const diskHandle device.Handle = 7

func (d *fakeDisk) Create(req *rdpefs.CreateRequest) (device.Handle, rdpefs.NTStatus) {
	if req.Path == "/missing" {
		return 0, rdpefs.StatusObjectNameNotFound
	}
	return diskHandle, rdpefs.StatusSuccess
}

func (d *fakeDisk) Close(device.Handle) rdpefs.NTStatus {
	d.closed++
	return rdpefs.StatusSuccess
}

func (d *fakeDisk) Read(_ device.Handle, length uint32, offset uint64) ([]byte, rdpefs.NTStatus) {
	if offset >= uint64(len(d.content)) {
		return nil, rdpefs.StatusSuccess
	}
	end := offset + uint64(length)
	if end > uint64(len(d.content)) {
		end = uint64(len(d.content))
	}
	return d.content[offset:end], rdpefs.StatusSuccess
}

func (d *fakeDisk) Write(_ device.Handle, data []byte, _ uint64) (uint32, rdpefs.NTStatus) {
	d.content = append(d.content, data...)
	return uint32(len(data)), rdpefs.StatusSuccess
}

func (d *fakeDisk) QueryInformation(_ device.Handle, class fscc.InformationClass) ([]byte, rdpefs.NTStatus) {
	if class != fscc.FileStandardInformation {
		return nil, rdpefs.StatusNotSupported
	}
	info := &fscc.StandardInformation{EndOfFile: int64(len(d.content)), NumberOfLinks: 1}
	return info.Serialize(), rdpefs.StatusSuccess
}

func (d *fakeDisk) SetInformation(device.Handle, fscc.InformationClass, []byte) rdpefs.NTStatus {
	return rdpefs.StatusSuccess
}

func (d *fakeDisk) QueryVolumeInformation(device.Handle, fscc.FsInformationClass) ([]byte, rdpefs.NTStatus) {
	return (&fscc.DeviceInformation{DeviceType: fscc.FileDeviceDisk}).Serialize(), rdpefs.StatusSuccess
}

func (d *fakeDisk) QueryDirectory(_ device.Handle, class fscc.InformationClass, initial bool, _ string) ([]byte, rdpefs.NTStatus) {
	if initial {
		d.cursor = 0
	}
	if d.cursor >= len(d.entries) {
		return nil, rdpefs.StatusNoMoreFiles
	}
	e := &fscc.DirectoryInformation{Class: class, Entry: fscc.DirectoryEntry{FileName: d.entries[d.cursor]}}
	d.cursor++
	return e.Serialize(), rdpefs.StatusSuccess
}

func (d *fakeDisk) NotifyChangeDirectory(device.Handle, bool, uint32) rdpefs.NTStatus {
	return rdpefs.StatusPending
}

func (d *fakeDisk) CheckNotify(device.Handle) ([]byte, rdpefs.NTStatus) {
	if !d.notified {
		return nil, rdpefs.StatusPending
	}
	return []byte{1, 2, 3, 4}, rdpefs.StatusSuccess
}

func (d *fakeDisk) Changed() bool {
	c := d.changed
	d.changed = false
	if c {
		d.notified = true
	}
	return c
}

type fakePrinter struct {
	fakeDisk
	announce device.PrinterAnnounce
}

func (p *fakePrinter) Announce() device.PrinterAnnounce { return p.announce }

// fakeCache hands out a copy of its blob and records applied events.
type fakeCache struct {
	blobs  map[string][]byte
	loads  int
	events []rdpefs.PrinterCacheEvent
}

func (c *fakeCache) Load(printer string) ([]byte, error) {
	c.loads++
	b, ok := c.blobs[printer]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (c *fakeCache) Apply(event *rdpefs.PrinterCacheEvent) error {
	c.events = append(c.events, *event)
	if event.EventID == rdpefs.PrinterCacheUpdate {
		c.blobs[event.PrinterName] = event.Config
	}
	return nil
}

func corePDU(packet rdpefs.PacketID, body []byte) []byte {
	return rdpefs.BuildPDU(rdpefs.ComponentCore, packet, body)
}

func ioPDU(deviceID, fileID, completionID uint32, major rdpefs.MajorFunction, minor rdpefs.MinorFunction, body []byte) []byte {
	req := &rdpefs.IORequest{
		DeviceID:      deviceID,
		FileID:        fileID,
		CompletionID:  completionID,
		MajorFunction: major,
		MinorFunction: minor,
		Body:          body,
	}
	return corePDU(rdpefs.PacketDeviceIORequest, req.Serialize())
}

func createBody(path string, disposition uint32) []byte {
	return (&rdpefs.CreateRequest{CreateDisposition: disposition, Path: path}).Serialize()
}

func readBody(length uint32, offset uint64) []byte {
	return (&rdpefs.ReadRequest{Length: length, Offset: offset}).Serialize()
}

func writeBody(data []byte) []byte {
	return (&rdpefs.WriteRequest{Data: data}).Serialize()
}

// negotiate runs the handshake to Ready and clears the recorded PDUs.
func negotiate(t *testing.T, ch *Channel, tr *fakeTransport) {
	t.Helper()
	announce := &rdpefs.ServerAnnounce{VersionMajor: 1, VersionMinor: 12, ClientID: 3}
	require.NoError(t, ch.HandlePDU(corePDU(rdpefs.PacketServerAnnounce, announce.Serialize())))
	require.NoError(t, ch.HandlePDU(corePDU(rdpefs.PacketServerCapability, rdpefs.NewClientCapabilities(12).Serialize())))
	confirm := &rdpefs.ClientIDConfirm{VersionMajor: 1, VersionMinor: 12, ClientID: 3}
	require.NoError(t, ch.HandlePDU(corePDU(rdpefs.PacketClientIDConfirm, confirm.Serialize())))
	require.Equal(t, StateReady, ch.State())
	tr.reset()
}
