// Package reactor runs the single-threaded readiness loop that drives the
// redirection engine: every tick it asks each source which descriptors to
// watch, polls them, then hands the ready sets back.
package reactor

import (
	"context"
	"sort"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"golang.org/x/sys/unix"
)

// DefaultTick bounds a poll when no source imposes a timeout, so sources
// that poll state every tick keep progressing.
const DefaultTick = 100 * time.Millisecond

// FDSet is a set of file descriptors.
type FDSet map[int]struct{}

func NewFDSet() FDSet { return make(FDSet) }

func (s FDSet) Add(fd int) { s[fd] = struct{}{} }
func (s FDSet) Len() int   { return len(s) }

func (s FDSet) Has(fd int) bool {
	_, ok := s[fd]
	return ok
}

func (s FDSet) Clear() {
	for fd := range s {
		delete(s, fd)
	}
}

// Sorted returns the descriptors in ascending order.
func (s FDSet) Sorted() []int {
	fds := make([]int, 0, len(s))
	for fd := range s {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}

// Source participates in the loop.
type Source interface {
	// WaitDescriptors adds the descriptors to watch and returns the longest
	// the loop may sleep on behalf of this source; ok is false when the
	// source imposes no timeout.
	WaitDescriptors(read, write FDSet) (timeout time.Duration, ok bool)
	// CheckDescriptors processes ready descriptors. timedOut is set when the
	// timeout this source returned has elapsed.
	CheckDescriptors(read, write FDSet, timedOut bool) error
}

// Loop polls descriptors for a fixed list of sources.
type Loop struct {
	sources []Source
	tick    time.Duration
	waker   *Waker
	now     func() time.Time
}

// NewLoop creates a loop with its own waker registered as the first source.
func NewLoop(tick time.Duration, sources ...Source) (*Loop, error) {
	if tick <= 0 {
		tick = DefaultTick
	}
	waker, err := NewWaker()
	if err != nil {
		return nil, err
	}
	l := &Loop{tick: tick, waker: waker, now: time.Now}
	l.sources = append([]Source{waker}, sources...)
	return l, nil
}

// Add registers another source. Not safe to call while Run is active.
func (l *Loop) Add(s Source) {
	l.sources = append(l.sources, s)
}

// Waker returns the loop's waker so other goroutines can interrupt a poll.
func (l *Loop) Waker() *Waker {
	return l.waker
}

// Close releases the waker pipe.
func (l *Loop) Close() error {
	return l.waker.Close()
}

// Run iterates until ctx is cancelled or a source returns an error.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.waker.Wake)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := l.RunOnce(); err != nil {
			return err
		}
	}
}

// RunOnce performs a single collect / poll / dispatch iteration.
func (l *Loop) RunOnce() error {
	type wait struct {
		read, write FDSet
		deadline    time.Time
		hasDeadline bool
	}

	start := l.now()
	waits := make([]wait, len(l.sources))
	readAll, writeAll := NewFDSet(), NewFDSet()
	timeout := l.tick

	for i, s := range l.sources {
		w := wait{read: NewFDSet(), write: NewFDSet()}
		if d, ok := s.WaitDescriptors(w.read, w.write); ok {
			if d < 0 {
				d = 0
			}
			w.deadline = start.Add(d)
			w.hasDeadline = true
			if d < timeout {
				timeout = d
			}
		}
		for fd := range w.read {
			readAll.Add(fd)
		}
		for fd := range w.write {
			writeAll.Add(fd)
		}
		waits[i] = w
	}

	readyRead, readyWrite, err := poll(readAll, writeAll, timeout)
	if err != nil {
		return err
	}

	now := l.now()
	for i, s := range l.sources {
		w := waits[i]
		r, wr := NewFDSet(), NewFDSet()
		for fd := range w.read {
			if readyRead.Has(fd) {
				r.Add(fd)
			}
		}
		for fd := range w.write {
			if readyWrite.Has(fd) {
				wr.Add(fd)
			}
		}
		timedOut := w.hasDeadline && !now.Before(w.deadline)
		if err := s.CheckDescriptors(r, wr, timedOut); err != nil {
			return err
		}
	}
	return nil
}

func poll(read, write FDSet, timeout time.Duration) (FDSet, FDSet, error) {
	fds := make([]unix.PollFd, 0, read.Len()+write.Len())
	index := make(map[int]int)
	for _, fd := range read.Sorted() {
		index[fd] = len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	for _, fd := range write.Sorted() {
		if i, ok := index[fd]; ok {
			fds[i].Events |= unix.POLLOUT
			continue
		}
		index[fd] = len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT})
	}

	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}

	readyRead, readyWrite := NewFDSet(), NewFDSet()
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return readyRead, readyWrite, nil
		}
		return nil, nil, errors.Wrap(err, "poll")
	}
	if n == 0 {
		return readyRead, readyWrite, nil
	}

	for _, p := range fds {
		if p.Revents == 0 {
			continue
		}
		fd := int(p.Fd)
		failed := p.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0
		if p.Revents&unix.POLLNVAL != 0 {
			logging.Warn("Reactor: descriptor %d is not open", fd)
		}
		if p.Events&unix.POLLIN != 0 && (p.Revents&unix.POLLIN != 0 || failed) {
			readyRead.Add(fd)
		}
		if p.Events&unix.POLLOUT != 0 && (p.Revents&unix.POLLOUT != 0 || failed) {
			readyWrite.Add(fd)
		}
	}
	return readyRead, readyWrite, nil
}
