package rdpdr

import (
	"io"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/rcarmo/go-rdpdr/internal/reactor"
)

const (
	// DefaultMaxPending bounds the number of outstanding async requests.
	DefaultMaxPending = 256
	// DefaultChunkSize bounds the bytes moved per request per tick.
	DefaultChunkSize = 8192
)

// MajorAny matches every major function in Abort.
const MajorAny rdpefs.MajorFunction = 0xFFFFFFFF

// AsyncRequest is an I/O request the scheduler advances across ticks.
// Polling entries (notify change, wait on mask) have no Stream and Fd -1.
type AsyncRequest struct {
	Stream          device.Stream
	Fd              int
	DeviceID        uint32
	FileID          device.Handle
	CompletionID    uint32
	Major           rdpefs.MajorFunction
	Length          uint32
	Transferred     uint32
	TotalTimeout    time.Duration
	IntervalTimeout time.Duration
	// Buffer holds the data to write, or what a read has received so far.
	// A read buffer may start empty and grows up to Length.
	Buffer []byte
	Offset uint64
	// Serial requests end successfully when the interval timeout fires
	// after some bytes moved.
	Serial bool
	// Buffered reads complete successfully at the total timeout even with
	// nothing received.
	Buffered bool

	Controller device.Controller
	Disk       device.Disk

	registered time.Time
	lastIO     time.Time
}

// polling reports whether the request is serviced by probing instead of readiness.
func (r *AsyncRequest) polling() bool {
	return r.Major == rdpefs.MajorDeviceControl || r.Major == rdpefs.MajorDirectoryControl
}

// deadline returns when the request times out, if it has a timeout.
func (r *AsyncRequest) deadline() (time.Time, bool) {
	switch {
	case r.polling():
		return time.Time{}, false
	case r.Transferred == 0 && r.TotalTimeout > 0:
		return r.registered.Add(r.TotalTimeout), true
	case r.Transferred > 0 && r.Serial && r.IntervalTimeout > 0:
		return r.lastIO.Add(r.IntervalTimeout), true
	}
	return time.Time{}, false
}

// RequestID names a slot and the generation that occupied it.
type RequestID struct {
	index int32
	gen   uint32
}

// PendingRequest is a read-only view of an async request.
type PendingRequest struct {
	DeviceID     uint32        `json:"device_id"`
	FileID       uint32        `json:"file_id"`
	CompletionID uint32        `json:"completion_id"`
	Major        string        `json:"major"`
	Fd           int           `json:"fd"`
	Length       uint32        `json:"length"`
	Transferred  uint32        `json:"transferred"`
	Age          time.Duration `json:"age"`
}

const nilIndex int32 = -1

type slot struct {
	req        AsyncRequest
	gen        uint32
	used       bool
	prev, next int32
}

// Scheduler owns every pending async request. Requests live in an
// index-stable arena linked in registration order; each ends in exactly
// one completion sent through the CompletionSender.
type Scheduler struct {
	slots      []slot
	free       []int32
	head, tail int32
	count      int

	maxPending int
	chunkSize  int
	sender     *CompletionSender
	metrics    *Metrics
	now        func() time.Time

	// request that produced the last timeout handed to the reactor
	timeoutID  RequestID
	hasTimeout bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

func WithMaxPending(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxPending = n
		}
	}
}

func WithChunkSize(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(sender *CompletionSender, metrics *Metrics, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		head:       nilIndex,
		tail:       nilIndex,
		maxPending: DefaultMaxPending,
		chunkSize:  DefaultChunkSize,
		sender:     sender,
		metrics:    metrics,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Len returns the number of pending requests.
func (s *Scheduler) Len() int {
	return s.count
}

// Register inserts r at the end of the pending list.
func (s *Scheduler) Register(r AsyncRequest) (RequestID, error) {
	if s.count >= s.maxPending {
		return RequestID{}, errors.Wrapf(ErrSchedulerFull, "%d pending", s.count)
	}
	if r.polling() {
		r.Fd = -1
	}
	now := s.now()
	r.registered = now
	r.lastIO = now

	var i int32
	if n := len(s.free); n > 0 {
		i = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, slot{})
		i = int32(len(s.slots) - 1)
	}

	sl := &s.slots[i]
	sl.req = r
	sl.used = true
	sl.prev = s.tail
	sl.next = nilIndex
	if s.tail != nilIndex {
		s.slots[s.tail].next = i
	} else {
		s.head = i
	}
	s.tail = i
	s.count++
	s.metrics.setPending(s.count)

	logging.Debug("RDPDR: Pending %s on device %d, completion %d, %d bytes",
		r.Major, r.DeviceID, r.CompletionID, r.Length)
	return RequestID{index: i, gen: sl.gen}, nil
}

// Pending reports whether id still names a pending request.
func (s *Scheduler) Pending(id RequestID) bool {
	return s.lookup(id) != nil
}

func (s *Scheduler) lookup(id RequestID) *AsyncRequest {
	if id.index < 0 || int(id.index) >= len(s.slots) {
		return nil
	}
	sl := &s.slots[id.index]
	if !sl.used || sl.gen != id.gen {
		return nil
	}
	return &sl.req
}

// finish unlinks slot i, releases its buffer and sends the completion.
func (s *Scheduler) finish(i int32, status rdpefs.NTStatus, result uint32, payload []byte) error {
	sl := &s.slots[i]
	r := sl.req

	if sl.prev != nilIndex {
		s.slots[sl.prev].next = sl.next
	} else {
		s.head = sl.next
	}
	if sl.next != nilIndex {
		s.slots[sl.next].prev = sl.prev
	} else {
		s.tail = sl.prev
	}
	sl.req = AsyncRequest{}
	sl.used = false
	sl.gen++
	sl.prev, sl.next = nilIndex, nilIndex
	s.free = append(s.free, i)
	s.count--
	s.metrics.setPending(s.count)

	return s.sender.Send(r.DeviceID, r.CompletionID, status, result, payload)
}

// complete sends the natural completion for a finished transfer.
func (s *Scheduler) complete(i int32, status rdpefs.NTStatus) error {
	r := &s.slots[i].req
	switch r.Major {
	case rdpefs.MajorRead:
		return s.finish(i, status, r.Transferred, r.Buffer[:r.Transferred])
	case rdpefs.MajorWrite:
		return s.finish(i, status, r.Transferred, []byte{0})
	default:
		return s.finish(i, status, 0, nil)
	}
}

// CollectWaitSet adds the descriptors of pending reads and writes and returns
// the time until the earliest timeout, if any request has one.
func (s *Scheduler) CollectWaitSet(read, write reactor.FDSet) (time.Duration, bool) {
	now := s.now()
	s.hasTimeout = false
	var best time.Time

	for i := s.head; i != nilIndex; i = s.slots[i].next {
		r := &s.slots[i].req
		switch r.Major {
		case rdpefs.MajorRead:
			read.Add(r.Fd)
		case rdpefs.MajorWrite:
			write.Add(r.Fd)
		}
		if dl, ok := r.deadline(); ok && (!s.hasTimeout || dl.Before(best)) {
			best = dl
			s.timeoutID = RequestID{index: i, gen: s.slots[i].gen}
			s.hasTimeout = true
		}
	}

	if !s.hasTimeout {
		return 0, false
	}
	d := best.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// OnTimeout handles expiry of the request CollectWaitSet reported. A serial
// request with data, or a buffered read, completes successfully with what it
// has; anything else fails with STATUS_IO_TIMEOUT.
func (s *Scheduler) OnTimeout() error {
	if !s.hasTimeout {
		return nil
	}
	s.hasTimeout = false
	r := s.lookup(s.timeoutID)
	if r == nil {
		return nil
	}
	dl, ok := r.deadline()
	if !ok || s.now().Before(dl) {
		return nil
	}

	if r.Buffered || (r.Serial && r.Transferred > 0) {
		logging.Debug("RDPDR: Interval timeout on device %d after %d of %d bytes", r.DeviceID, r.Transferred, r.Length)
		return s.complete(s.timeoutID.index, rdpefs.StatusSuccess)
	}
	logging.Debug("RDPDR: %s on device %d timed out", r.Major, r.DeviceID)
	s.metrics.abort()
	return s.finish(s.timeoutID.index, rdpefs.StatusIOTimeout, 0, nil)
}

type streamKey struct {
	fd    int
	major rdpefs.MajorFunction
}

// OnReady moves at most one chunk for the oldest request of each ready
// (descriptor, direction) pair and probes every polling entry.
func (s *Scheduler) OnReady(read, write reactor.FDSet) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	served := make(map[streamKey]bool)
	changed := make(map[device.Disk]bool)

	for i := s.head; i != nilIndex; {
		next := s.slots[i].next
		r := &s.slots[i].req

		switch r.Major {
		case rdpefs.MajorRead, rdpefs.MajorWrite:
			key := streamKey{fd: r.Fd, major: r.Major}
			if served[key] {
				break
			}
			served[key] = true
			if (r.Major == rdpefs.MajorRead && read.Has(r.Fd)) || (r.Major == rdpefs.MajorWrite && write.Has(r.Fd)) {
				keep(s.transfer(i))
			}
		case rdpefs.MajorDeviceControl:
			if out, done := r.Controller.PollEvent(r.FileID); done {
				keep(s.finish(i, rdpefs.StatusSuccess, uint32(len(out)), out))
			}
		case rdpefs.MajorDirectoryControl:
			c, seen := changed[r.Disk]
			if !seen {
				c = r.Disk.Changed()
				changed[r.Disk] = c
			}
			if c {
				if out, status := r.Disk.CheckNotify(r.FileID); status != rdpefs.StatusPending {
					keep(s.finish(i, status, uint32(len(out)), out))
				}
			}
		}
		i = next
	}
	return firstErr
}

// transfer performs one bounded read or write for slot i.
func (s *Scheduler) transfer(i int32) error {
	r := &s.slots[i].req
	end := r.Transferred + uint32(s.chunkSize)
	if end > r.Length {
		end = r.Length
	}
	if r.Major == rdpefs.MajorRead && uint32(len(r.Buffer)) < end {
		r.Buffer = append(r.Buffer, make([]byte, int(end)-len(r.Buffer))...)
	}
	chunk := r.Buffer[r.Transferred:end]

	var n int
	var err error
	if r.Major == rdpefs.MajorRead {
		n, err = r.Stream.Read(chunk)
	} else {
		n, err = r.Stream.Write(chunk)
	}

	switch {
	case errors.Is(err, device.ErrWouldBlock):
		return nil
	case err != nil && !errors.Is(err, io.EOF):
		status := device.StatusFromError(err)
		logging.Debug("RDPDR: %s on device %d failed after %d bytes: %v", r.Major, r.DeviceID, r.Transferred, err)
		return s.complete(i, status)
	}

	if n == 0 {
		// End of stream completes what was moved so far.
		return s.complete(i, rdpefs.StatusSuccess)
	}
	r.Transferred += uint32(n)
	r.Offset += uint64(n)
	r.lastIO = s.now()
	if r.Transferred >= r.Length {
		return s.complete(i, rdpefs.StatusSuccess)
	}
	return nil
}

// Abort completes every request on fd matching major (or MajorAny) with status.
func (s *Scheduler) Abort(fd int, major rdpefs.MajorFunction, status rdpefs.NTStatus) error {
	return s.abortWhere(status, func(r *AsyncRequest) bool {
		return r.Fd == fd && (major == MajorAny || r.Major == major)
	})
}

// AbortHandle completes every request on a device handle with status.
func (s *Scheduler) AbortHandle(deviceID uint32, h device.Handle, status rdpefs.NTStatus) error {
	return s.abortWhere(status, func(r *AsyncRequest) bool {
		return r.DeviceID == deviceID && r.FileID == h
	})
}

// AbortAll completes every pending request with status.
func (s *Scheduler) AbortAll(status rdpefs.NTStatus) error {
	return s.abortWhere(status, func(*AsyncRequest) bool { return true })
}

func (s *Scheduler) abortWhere(status rdpefs.NTStatus, match func(*AsyncRequest) bool) error {
	var firstErr error
	for i := s.head; i != nilIndex; {
		next := s.slots[i].next
		if match(&s.slots[i].req) {
			s.metrics.abort()
			if err := s.finish(i, status, 0, nil); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		i = next
	}
	return firstErr
}

// Snapshot lists the pending requests in registration order.
func (s *Scheduler) Snapshot() []PendingRequest {
	now := s.now()
	out := make([]PendingRequest, 0, s.count)
	for i := s.head; i != nilIndex; i = s.slots[i].next {
		r := &s.slots[i].req
		out = append(out, PendingRequest{
			DeviceID:     r.DeviceID,
			FileID:       uint32(r.FileID),
			CompletionID: r.CompletionID,
			Major:        r.Major.String(),
			Fd:           r.Fd,
			Length:       r.Length,
			Transferred:  r.Transferred,
			Age:          now.Sub(r.registered),
		})
	}
	return out
}
