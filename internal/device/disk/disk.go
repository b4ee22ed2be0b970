// Package disk implements the filesystem device class on top of an afero
// filesystem rooted at the shared directory.
package disk

import (
	"io"
	"os"
	"path"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/fscc"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/spf13/afero"
)

// Options configures a share.
type Options struct {
	ReadOnly bool
	// Label is reported as the volume label.
	Label string
}

type file struct {
	path          string
	f             afero.File
	dir           bool
	deleteOnClose bool

	// directory enumeration
	listing []os.FileInfo
	cursor  int

	// armed change notification
	watching  bool
	watchTree bool
	filter    uint32
	changes   []fscc.NotifyInformation
}

// Disk is one shared directory. It is driven from the reactor goroutine
// only and is not safe for concurrent use.
type Disk struct {
	fs       afero.Fs
	root     string
	readOnly bool
	label    string

	files map[device.Handle]*file
	next  device.Handle

	watcher *fsnotify.Watcher
	watched map[string]bool
}

// New serves fs. root is the host directory fs is rooted at; it is used for
// volume statistics and change notification and may be empty.
func New(fs afero.Fs, root string, opts Options) *Disk {
	label := opts.Label
	if label == "" {
		label = "RDPDR"
	}
	return &Disk{
		fs:       fs,
		root:     root,
		readOnly: opts.ReadOnly,
		label:    label,
		files:    make(map[device.Handle]*file),
		next:     1,
		watched:  make(map[string]bool),
	}
}

// NewOS shares the host directory root.
func NewOS(root string, opts Options) *Disk {
	return New(afero.NewBasePathFs(afero.NewOsFs(), root), root, opts)
}

// clean maps a server path to a rooted share path.
func clean(p string) string {
	return path.Clean("/" + p)
}

func (d *Disk) lookup(h device.Handle) (*file, bool) {
	f, ok := d.files[h]
	return f, ok
}

func wantsWrite(req *rdpefs.CreateRequest) bool {
	if req.DesiredAccess&rdpefs.AccessAnyWrite != 0 || req.CreateOptions&rdpefs.FileDeleteOnClose != 0 {
		return true
	}
	switch req.CreateDisposition {
	case rdpefs.FileSupersede, rdpefs.FileCreate, rdpefs.FileOverwrite, rdpefs.FileOverwriteIf:
		return true
	}
	return false
}

func (d *Disk) Create(req *rdpefs.CreateRequest) (device.Handle, rdpefs.NTStatus) {
	p := clean(req.Path)
	fi, statErr := d.fs.Stat(p)
	exists := statErr == nil

	if d.readOnly && (wantsWrite(req) || (!exists && req.CreateDisposition == rdpefs.FileOpenIf)) {
		return 0, rdpefs.StatusAccessDenied
	}
	if statErr != nil && !os.IsNotExist(statErr) {
		return 0, device.StatusFromError(statErr)
	}

	var status rdpefs.NTStatus
	var nf *file
	switch {
	case req.CreateOptions&rdpefs.FileDirectoryFile != 0:
		nf, status = d.createDirectory(p, req.CreateDisposition, fi, exists)
	case exists && fi.IsDir():
		if req.CreateOptions&rdpefs.FileNonDirectoryFile != 0 {
			return 0, rdpefs.StatusFileIsADirectory
		}
		nf, status = d.createDirectory(p, req.CreateDisposition, fi, exists)
	default:
		nf, status = d.createFile(p, req, exists)
	}
	if status != rdpefs.StatusSuccess {
		return 0, status
	}

	nf.deleteOnClose = req.CreateOptions&rdpefs.FileDeleteOnClose != 0
	h := d.next
	d.next++
	d.files[h] = nf
	return h, rdpefs.StatusSuccess
}

func (d *Disk) createDirectory(p string, disposition uint32, fi os.FileInfo, exists bool) (*file, rdpefs.NTStatus) {
	if exists && !fi.IsDir() {
		return nil, rdpefs.StatusNotADirectory
	}
	switch disposition {
	case rdpefs.FileCreate:
		if exists {
			return nil, rdpefs.StatusObjectNameCollision
		}
		if err := d.fs.Mkdir(p, 0o755); err != nil {
			return nil, device.StatusFromError(err)
		}
	case rdpefs.FileOpenIf:
		if !exists {
			if err := d.fs.Mkdir(p, 0o755); err != nil {
				return nil, device.StatusFromError(err)
			}
		}
	case rdpefs.FileOpen:
		if !exists {
			return nil, rdpefs.StatusObjectNameNotFound
		}
	default:
		return nil, rdpefs.StatusInvalidParameter
	}

	f, err := d.fs.Open(p)
	if err != nil {
		return nil, device.StatusFromError(err)
	}
	return &file{path: p, f: f, dir: true}, rdpefs.StatusSuccess
}

func (d *Disk) createFile(p string, req *rdpefs.CreateRequest, exists bool) (*file, rdpefs.NTStatus) {
	flags := os.O_RDONLY
	if wantsWrite(req) {
		flags = os.O_RDWR
	}

	switch req.CreateDisposition {
	case rdpefs.FileSupersede, rdpefs.FileOverwriteIf:
		flags |= os.O_CREATE | os.O_TRUNC
	case rdpefs.FileOpen:
		if !exists {
			return nil, rdpefs.StatusObjectNameNotFound
		}
	case rdpefs.FileCreate:
		if exists {
			return nil, rdpefs.StatusObjectNameCollision
		}
		flags |= os.O_CREATE | os.O_EXCL
	case rdpefs.FileOpenIf:
		flags |= os.O_CREATE
	case rdpefs.FileOverwrite:
		if !exists {
			return nil, rdpefs.StatusObjectNameNotFound
		}
		flags |= os.O_TRUNC
	default:
		return nil, rdpefs.StatusInvalidParameter
	}
	f, err := d.fs.OpenFile(p, flags, 0o644)
	if err != nil {
		logging.Debug("Disk: Open %s: %v", p, err)
		return nil, device.StatusFromError(err)
	}
	return &file{path: p, f: f}, rdpefs.StatusSuccess
}

func (d *Disk) Close(h device.Handle) rdpefs.NTStatus {
	f, ok := d.lookup(h)
	if !ok {
		return rdpefs.StatusInvalidHandle
	}
	delete(d.files, h)

	status := rdpefs.StatusSuccess
	if err := f.f.Close(); err != nil {
		status = device.StatusFromError(err)
	}
	if f.deleteOnClose && !d.readOnly {
		if err := d.fs.Remove(f.path); err != nil {
			logging.Warn("Disk: Delete on close %s: %v", f.path, err)
			status = device.StatusFromError(err)
		}
	}
	return status
}

func (d *Disk) Read(h device.Handle, length uint32, offset uint64) ([]byte, rdpefs.NTStatus) {
	f, ok := d.lookup(h)
	if !ok {
		return nil, rdpefs.StatusInvalidHandle
	}
	if f.dir {
		return nil, rdpefs.StatusFileIsADirectory
	}
	buf := make([]byte, length)
	n, err := f.f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, device.StatusFromError(err)
	}
	return buf[:n], rdpefs.StatusSuccess
}

func (d *Disk) Write(h device.Handle, data []byte, offset uint64) (uint32, rdpefs.NTStatus) {
	f, ok := d.lookup(h)
	if !ok {
		return 0, rdpefs.StatusInvalidHandle
	}
	if d.readOnly {
		return 0, rdpefs.StatusAccessDenied
	}
	if f.dir {
		return 0, rdpefs.StatusFileIsADirectory
	}
	n, err := f.f.WriteAt(data, int64(offset))
	if err != nil {
		return uint32(n), device.StatusFromError(err)
	}
	return uint32(n), rdpefs.StatusSuccess
}

// OpenHandles returns the share paths of the open handles, sorted.
func (d *Disk) OpenHandles() []string {
	paths := make([]string, 0, len(d.files))
	for _, f := range d.files {
		paths = append(paths, f.path)
	}
	sort.Strings(paths)
	return paths
}

// Release closes every open handle and the change watcher.
func (d *Disk) Release() error {
	for h := range d.files {
		d.Close(h)
	}
	if d.watcher != nil {
		err := d.watcher.Close()
		d.watcher = nil
		return err
	}
	return nil
}
