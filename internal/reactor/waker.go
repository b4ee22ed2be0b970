package reactor

import (
	"time"

	"github.com/efficientgo/core/errors"
	"golang.org/x/sys/unix"
)

// Waker is a self-pipe that lets other goroutines interrupt a poll.
type Waker struct {
	r, w int
}

func NewWaker() (*Waker, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "create waker pipe")
	}
	return &Waker{r: p[0], w: p[1]}, nil
}

// Wake makes the next (or current) poll return. Safe for concurrent use.
func (w *Waker) Wake() {
	// A full pipe already guarantees a wake-up.
	_, _ = unix.Write(w.w, []byte{1})
}

func (w *Waker) WaitDescriptors(read, _ FDSet) (time.Duration, bool) {
	read.Add(w.r)
	return 0, false
}

func (w *Waker) CheckDescriptors(read, _ FDSet, _ bool) error {
	if !read.Has(w.r) {
		return nil
	}
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if n <= 0 || err != nil {
			return nil
		}
	}
}

func (w *Waker) Close() error {
	errR := unix.Close(w.r)
	errW := unix.Close(w.w)
	if errR != nil {
		return errors.Wrap(errR, "close waker")
	}
	if errW != nil {
		return errors.Wrap(errW, "close waker")
	}
	return nil
}
