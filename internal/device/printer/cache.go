package printer

import (
	"encoding/hex"
	"os"
	"path"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/spf13/afero"
)

// Cache keeps one opaque configuration blob per printer name in a directory.
type Cache struct {
	fs  afero.Fs
	dir string
}

// NewCache stores blobs under dir on fs. The directory is created on the
// first write.
func NewCache(fs afero.Fs, dir string) *Cache {
	return &Cache{fs: fs, dir: dir}
}

// NewOSCache stores blobs under dir on the host filesystem.
func NewOSCache(dir string) *Cache {
	return NewCache(afero.NewOsFs(), dir)
}

// file names are hex encoded so any printer name maps to a valid file.
func (c *Cache) file(printer string) string {
	return path.Join(c.dir, hex.EncodeToString([]byte(printer))+".cfg")
}

// Load returns the blob for printer, or nil when none is cached.
func (c *Cache) Load(printer string) ([]byte, error) {
	data, err := afero.ReadFile(c.fs, c.file(printer))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read cached config for %q", printer)
	}
	return data, nil
}

func (c *Cache) save(printer string, config []byte) error {
	if err := c.fs.MkdirAll(c.dir, 0o700); err != nil {
		return errors.Wrap(err, "create printer cache directory")
	}
	target := c.file(printer)
	tmp := target + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, config, 0o600); err != nil {
		return errors.Wrapf(err, "write cached config for %q", printer)
	}
	if err := c.fs.Rename(tmp, target); err != nil {
		_ = c.fs.Remove(tmp)
		return errors.Wrapf(err, "store cached config for %q", printer)
	}
	return nil
}

// Apply performs one cache event sent by the server.
func (c *Cache) Apply(event *rdpefs.PrinterCacheEvent) error {
	logging.Debug("Printer: Cache %s for %q", event.EventID, event.PrinterName)
	switch event.EventID {
	case rdpefs.PrinterCacheAdd, rdpefs.PrinterCacheUpdate:
		return c.save(event.PrinterName, event.Config)
	case rdpefs.PrinterCacheDelete:
		if err := c.fs.Remove(c.file(event.PrinterName)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "delete cached config for %q", event.PrinterName)
		}
		return nil
	case rdpefs.PrinterCacheRename:
		err := c.fs.Rename(c.file(event.PrinterName), c.file(event.NewPrinterName))
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "rename cached config %q to %q", event.PrinterName, event.NewPrinterName)
		}
		return nil
	}
	return errors.Newf("unknown printer cache event %d", event.EventID)
}
