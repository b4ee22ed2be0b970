// Package printer implements the printer device class and the store for the
// per-printer configuration the server caches on the client.
//
// A job is spooled to a temporary file between CREATE and CLOSE and then
// handed to the configured print command in the background.
package printer

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/spf13/afero"
)

// FilePlaceholder in a command is replaced by the spooled file; without it
// the file is appended as the last argument.
const FilePlaceholder = "{file}"

// DefaultDriver is announced when no driver is configured.
const DefaultDriver = "MS Publisher Imagesetter"

const submitTimeout = 5 * time.Minute

// Options configures a printer.
type Options struct {
	Name     string
	Driver   string
	Default  bool
	SpoolDir string
	Command  []string
	// Logger defaults to a child of the default logger named after the
	// printer.
	Logger *logging.Logger
}

type job struct {
	f    afero.File
	size int64
}

// Printer is one redirected printer.
type Printer struct {
	opts  Options
	log   *logging.Logger
	fs    afero.Fs
	jobs  map[device.Handle]*job
	next  device.Handle
	queue sync.WaitGroup
}

// New returns a printer spooling to opts.SpoolDir on the host filesystem.
func New(opts Options) *Printer {
	if opts.Driver == "" {
		opts.Driver = DefaultDriver
	}
	if opts.SpoolDir == "" {
		opts.SpoolDir = os.TempDir()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Named("printer")
	}
	if opts.Name != "" {
		log = log.Named(opts.Name)
	}
	return &Printer{
		opts: opts,
		log:  log,
		fs:   afero.NewOsFs(),
		jobs: make(map[device.Handle]*job),
		next: 1,
	}
}

func (p *Printer) Announce() device.PrinterAnnounce {
	var flags uint32
	if p.opts.Default {
		flags |= rdpefs.PrinterFlagDefaultPrinter
	}
	return device.PrinterAnnounce{Flags: flags, DriverName: p.opts.Driver, PrintName: p.opts.Name}
}

// Create starts a new job.
func (p *Printer) Create(*rdpefs.CreateRequest) (device.Handle, rdpefs.NTStatus) {
	f, err := afero.TempFile(p.fs, p.opts.SpoolDir, "rdpdr-job-*.prn")
	if err != nil {
		p.log.Warn("Printer: Spool file in %s: %v", p.opts.SpoolDir, err)
		return 0, device.StatusFromError(err)
	}
	h := p.next
	p.next++
	p.jobs[h] = &job{f: f}
	p.log.Debug("Printer: Job %d spooling to %s", h, f.Name())
	return h, rdpefs.StatusSuccess
}

func (p *Printer) Read(device.Handle, uint32, uint64) ([]byte, rdpefs.NTStatus) {
	return nil, rdpefs.StatusInvalidDeviceRequest
}

// Write appends to the job; printers ignore the offset.
func (p *Printer) Write(h device.Handle, data []byte, _ uint64) (uint32, rdpefs.NTStatus) {
	j, ok := p.jobs[h]
	if !ok {
		return 0, rdpefs.StatusInvalidHandle
	}
	n, err := j.f.Write(data)
	j.size += int64(n)
	if err != nil {
		return uint32(n), device.StatusFromError(err)
	}
	return uint32(n), rdpefs.StatusSuccess
}

// Close ends the job and submits it unless nothing was written.
func (p *Printer) Close(h device.Handle) rdpefs.NTStatus {
	j, ok := p.jobs[h]
	if !ok {
		return rdpefs.StatusInvalidHandle
	}
	delete(p.jobs, h)

	path := j.f.Name()
	if err := j.f.Close(); err != nil {
		_ = p.fs.Remove(path)
		return device.StatusFromError(err)
	}
	if j.size == 0 {
		_ = p.fs.Remove(path)
		return rdpefs.StatusSuccess
	}

	p.queue.Add(1)
	go func() {
		defer p.queue.Done()
		if err := p.submit(path); err != nil {
			p.log.Error("Printer: %v", err)
		}
	}()
	return rdpefs.StatusSuccess
}

func (p *Printer) command(path string) []string {
	argv := make([]string, 0, len(p.opts.Command)+1)
	replaced := false
	for _, arg := range p.opts.Command {
		if strings.Contains(arg, FilePlaceholder) {
			arg = strings.ReplaceAll(arg, FilePlaceholder, path)
			replaced = true
		}
		argv = append(argv, arg)
	}
	if !replaced {
		argv = append(argv, path)
	}
	return argv
}

// submit runs the print command on the spooled file and removes it.
func (p *Printer) submit(path string) error {
	defer func() { _ = p.fs.Remove(path) }()
	if len(p.opts.Command) == 0 {
		return errors.New("no print command configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	argv := p.command(path)
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s: %s", argv[0], strings.TrimSpace(string(out)))
	}
	p.log.Info("Printer: Job submitted with %s", argv[0])
	return nil
}

// Release drops unfinished jobs and waits for submitted ones.
func (p *Printer) Release() error {
	for h, j := range p.jobs {
		delete(p.jobs, h)
		_ = j.f.Close()
		_ = p.fs.Remove(j.f.Name())
	}
	p.queue.Wait()
	return nil
}
