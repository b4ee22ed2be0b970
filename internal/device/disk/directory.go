package disk

import (
	"os"
	"path"
	"strings"

	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/protocol/fscc"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/spf13/afero"
)

func (f *file) readDir(d *Disk) ([]os.FileInfo, error) {
	return afero.ReadDir(d.fs, f.path)
}

// QueryDirectory returns one entry per call. An initial query restarts the
// enumeration with the last component of pattern as the filter.
func (d *Disk) QueryDirectory(h device.Handle, class fscc.InformationClass, initial bool, pattern string) ([]byte, rdpefs.NTStatus) {
	f, ok := d.lookup(h)
	if !ok {
		return nil, rdpefs.StatusInvalidHandle
	}
	if !fscc.SupportsDirectoryClass(class) {
		return nil, rdpefs.StatusNotSupported
	}
	if !f.dir {
		return nil, rdpefs.StatusNotADirectory
	}

	if initial || f.listing == nil {
		entries, err := f.readDir(d)
		if err != nil {
			return nil, device.StatusFromError(err)
		}
		filter := path.Base(clean(pattern))
		if filter == "/" {
			filter = "*"
		}

		f.listing = make([]os.FileInfo, 0, len(entries)+2)
		self, err := d.fs.Stat(f.path)
		if err == nil {
			for _, name := range []string{".", ".."} {
				if match(filter, name) {
					f.listing = append(f.listing, renamed{self, name})
				}
			}
		}
		for _, fi := range entries {
			if match(filter, fi.Name()) {
				f.listing = append(f.listing, fi)
			}
		}
		f.cursor = 0
	}

	if f.cursor >= len(f.listing) {
		return nil, rdpefs.StatusNoMoreFiles
	}
	fi := f.listing[f.cursor]
	f.cursor++

	entry := &fscc.DirectoryInformation{
		Class: class,
		Entry: fscc.DirectoryEntry{
			Times:          fileTimes(fi),
			EndOfFile:      size(fi),
			AllocationSize: allocation(fi),
			FileAttributes: attributes(fi),
			FileName:       fi.Name(),
		},
	}
	return entry.Serialize(), rdpefs.StatusSuccess
}

// renamed reports a FileInfo under another name, for "." and "..".
type renamed struct {
	os.FileInfo
	name string
}

func (r renamed) Name() string { return r.name }

// match reports whether name matches a Windows wildcard pattern: '*' matches
// any run of characters, '?' exactly one, comparison ignores case.
func match(pattern, name string) bool {
	if pattern == "*" || pattern == "*.*" {
		return true
	}
	p := []rune(strings.ToLower(pattern))
	n := []rune(strings.ToLower(name))

	pi, ni := 0, 0
	star, mark := -1, 0
	for ni < len(n) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == n[ni]):
			pi++
			ni++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = ni
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ni = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
