package disk

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/fscc"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/spf13/afero"
)

// NotifyChangeDirectory arms a change watch on the directory behind h. The
// answer is collected by CheckNotify once Changed has seen a matching event.
func (d *Disk) NotifyChangeDirectory(h device.Handle, watchTree bool, filter uint32) rdpefs.NTStatus {
	f, ok := d.lookup(h)
	if !ok {
		return rdpefs.StatusInvalidHandle
	}
	if !f.dir {
		return rdpefs.StatusInvalidParameter
	}
	if d.root == "" {
		return rdpefs.StatusNotSupported
	}
	if err := d.watch(f.path, watchTree); err != nil {
		logging.Warn("Disk: Watching %s: %v", f.path, err)
		return device.StatusFromError(err)
	}
	f.watching = true
	f.watchTree = watchTree
	f.filter = filter
	f.changes = nil
	return rdpefs.StatusPending
}

func (d *Disk) watch(p string, tree bool) error {
	if d.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		d.watcher = w
	}
	add := func(sp string) error {
		if d.watched[sp] {
			return nil
		}
		if err := d.watcher.Add(d.hostPath(sp)); err != nil {
			return err
		}
		d.watched[sp] = true
		return nil
	}
	if !tree {
		return add(p)
	}
	return afero.Walk(d.fs, p, func(sp string, fi os.FileInfo, err error) error {
		if err != nil || !fi.IsDir() {
			return nil
		}
		return add(clean(sp))
	})
}

func (d *Disk) hostPath(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(p))
}

func (d *Disk) sharePath(host string) (string, bool) {
	rel, err := filepath.Rel(d.root, host)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return clean(filepath.ToSlash(rel)), true
}

// Changed drains the watcher without blocking and reports whether any event
// matched an armed watch.
func (d *Disk) Changed() bool {
	if d.watcher == nil {
		return false
	}
	changed := false
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return changed
			}
			if d.record(ev) {
				changed = true
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return changed
			}
			logging.Warn("Disk: Watcher: %v", err)
		default:
			return changed
		}
	}
}

func action(ev fsnotify.Event) (uint32, uint32) {
	names := fscc.FileNotifyChangeFileName | fscc.FileNotifyChangeDirName
	switch {
	case ev.Has(fsnotify.Create):
		return fscc.FileActionAdded, names
	case ev.Has(fsnotify.Remove):
		return fscc.FileActionRemoved, names
	case ev.Has(fsnotify.Rename):
		return fscc.FileActionRenamedOldName, names
	case ev.Has(fsnotify.Write):
		return fscc.FileActionModified, fscc.FileNotifyChangeLastWrite | fscc.FileNotifyChangeSize
	case ev.Has(fsnotify.Chmod):
		return fscc.FileActionModified, fscc.FileNotifyChangeAttributes
	}
	return 0, 0
}

// record queues ev on every armed handle that covers it.
func (d *Disk) record(ev fsnotify.Event) bool {
	p, ok := d.sharePath(ev.Name)
	if !ok {
		return false
	}
	act, mask := action(ev)
	if act == 0 {
		return false
	}
	dir := path.Dir(p)

	matched := false
	for _, f := range d.files {
		if !f.watching {
			continue
		}
		prefix := f.path
		if prefix != "/" {
			prefix += "/"
		}
		var rel string
		switch {
		case dir == f.path:
			rel = path.Base(p)
		case f.watchTree && strings.HasPrefix(p, prefix):
			rel = strings.TrimPrefix(p, prefix)
		default:
			continue
		}

		if f.watchTree && ev.Has(fsnotify.Create) {
			if fi, err := d.fs.Stat(p); err == nil && fi.IsDir() {
				if err := d.watch(p, true); err != nil {
					logging.Debug("Disk: Watching new directory %s: %v", p, err)
				}
			}
		}
		if f.filter&mask == 0 {
			continue
		}
		f.changes = append(f.changes, fscc.NotifyInformation{Action: act, FileName: strings.ReplaceAll(rel, "/", `\`)})
		matched = true
	}
	return matched
}

// CheckNotify returns the queued changes for h and disarms its watch.
func (d *Disk) CheckNotify(h device.Handle) ([]byte, rdpefs.NTStatus) {
	f, ok := d.lookup(h)
	if !ok {
		return nil, rdpefs.StatusInvalidHandle
	}
	if len(f.changes) == 0 {
		return nil, rdpefs.StatusPending
	}
	out := fscc.SerializeNotify(f.changes)
	f.changes = nil
	f.watching = false
	return out, rdpefs.StatusSuccess
}
