package disk

import (
	"hash/fnv"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/fscc"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

const clusterSize = 4096

func attributes(fi os.FileInfo) uint32 {
	var attrs uint32
	if fi.IsDir() {
		attrs |= fscc.FileAttributeDirectory
	} else {
		attrs |= fscc.FileAttributeArchive
	}
	if fi.Mode().Perm()&0o200 == 0 {
		attrs |= fscc.FileAttributeReadonly
	}
	if name := fi.Name(); len(name) > 1 && strings.HasPrefix(name, ".") && name != ".." {
		attrs |= fscc.FileAttributeHidden
	}
	return attrs
}

func allocation(fi os.FileInfo) int64 {
	if fi.IsDir() {
		return 0
	}
	return (fi.Size() + clusterSize - 1) / clusterSize * clusterSize
}

func size(fi os.FileInfo) int64 {
	if fi.IsDir() {
		return 0
	}
	return fi.Size()
}

func (d *Disk) QueryInformation(h device.Handle, class fscc.InformationClass) ([]byte, rdpefs.NTStatus) {
	f, ok := d.lookup(h)
	if !ok {
		return nil, rdpefs.StatusInvalidHandle
	}
	fi, err := d.fs.Stat(f.path)
	if err != nil {
		return nil, device.StatusFromError(err)
	}

	var info fscc.Information
	switch class {
	case fscc.FileBasicInformation:
		info = &fscc.BasicInformation{Times: fileTimes(fi), FileAttributes: attributes(fi)}
	case fscc.FileStandardInformation:
		info = &fscc.StandardInformation{
			AllocationSize: allocation(fi),
			EndOfFile:      size(fi),
			NumberOfLinks:  linkCount(fi),
			DeletePending:  f.deleteOnClose,
			Directory:      fi.IsDir(),
		}
	case fscc.FileInternalInformation:
		info = &fscc.InternalInformation{IndexNumber: fileIndex(fi, h)}
	case fscc.FileAttributeTagInformation:
		info = &fscc.AttributeTagInformation{FileAttributes: attributes(fi)}
	case fscc.FileNetworkOpenInformation:
		info = &fscc.NetworkOpenInformation{
			Times:          fileTimes(fi),
			AllocationSize: allocation(fi),
			EndOfFile:      size(fi),
			FileAttributes: attributes(fi),
		}
	default:
		logging.Debug("Disk: Unsupported information class %d", class)
		return nil, rdpefs.StatusNotSupported
	}
	return info.Serialize(), rdpefs.StatusSuccess
}

func (d *Disk) SetInformation(h device.Handle, class fscc.InformationClass, data []byte) rdpefs.NTStatus {
	f, ok := d.lookup(h)
	if !ok {
		return rdpefs.StatusInvalidHandle
	}
	if d.readOnly {
		return rdpefs.StatusAccessDenied
	}

	switch class {
	case fscc.FileBasicInformation:
		basic, err := fscc.ParseBasicInformation(data)
		if err != nil {
			return rdpefs.StatusInvalidParameter
		}
		return d.setBasic(f, basic)

	case fscc.FileEndOfFileInformation, fscc.FileAllocationInformation:
		n, err := fscc.ParseInt64(data)
		if err != nil || n < 0 {
			return rdpefs.StatusInvalidParameter
		}
		if f.dir {
			return rdpefs.StatusFileIsADirectory
		}
		if class == fscc.FileAllocationInformation {
			// Only shrinking below the current size has a visible effect.
			fi, err := f.f.Stat()
			if err != nil {
				return device.StatusFromError(err)
			}
			if n >= fi.Size() {
				return rdpefs.StatusSuccess
			}
		}
		if err := f.f.Truncate(n); err != nil {
			return device.StatusFromError(err)
		}
		return rdpefs.StatusSuccess

	case fscc.FileDispositionInformation:
		del := fscc.ParseDisposition(data)
		if del && f.dir {
			entries, err := f.readDir(d)
			if err != nil {
				return device.StatusFromError(err)
			}
			if len(entries) > 0 {
				return rdpefs.StatusDirectoryNotEmpty
			}
		}
		f.deleteOnClose = del
		return rdpefs.StatusSuccess

	case fscc.FileRenameInformation:
		rename, err := fscc.ParseRenameInformation(data)
		if err != nil {
			return rdpefs.StatusInvalidParameter
		}
		return d.rename(f, clean(strings.ReplaceAll(rename.FileName, `\`, "/")), rename.ReplaceIfExists)

	default:
		logging.Debug("Disk: Unsupported set information class %d", class)
		return rdpefs.StatusNotSupported
	}
}

func (d *Disk) setBasic(f *file, basic *fscc.BasicInformation) rdpefs.NTStatus {
	if !basic.LastAccess.IsZero() || !basic.LastWrite.IsZero() {
		fi, err := d.fs.Stat(f.path)
		if err != nil {
			return device.StatusFromError(err)
		}
		atime, mtime := basic.LastAccess, basic.LastWrite
		if atime.IsZero() {
			atime = fileTimes(fi).LastAccess
		}
		if mtime.IsZero() {
			mtime = fi.ModTime()
		}
		if err := d.fs.Chtimes(f.path, atime, mtime); err != nil {
			return device.StatusFromError(err)
		}
	}

	if basic.FileAttributes != 0 && !f.dir {
		mode := os.FileMode(0o644)
		if basic.FileAttributes&fscc.FileAttributeReadonly != 0 {
			mode = 0o444
		}
		if err := d.fs.Chmod(f.path, mode); err != nil {
			return device.StatusFromError(err)
		}
	}
	return rdpefs.StatusSuccess
}

func (d *Disk) rename(f *file, target string, replace bool) rdpefs.NTStatus {
	if target == f.path {
		return rdpefs.StatusSuccess
	}
	if fi, err := d.fs.Stat(target); err == nil {
		if !replace || fi.IsDir() {
			return rdpefs.StatusObjectNameCollision
		}
	}
	if err := d.fs.Rename(f.path, target); err != nil {
		return device.StatusFromError(err)
	}
	logging.Debug("Disk: Renamed %s to %s", f.path, target)

	// Keep paths of handles below a renamed directory valid.
	for _, other := range d.files {
		if other.path == f.path {
			other.path = target
		} else if strings.HasPrefix(other.path, f.path+"/") {
			other.path = path.Join(target, strings.TrimPrefix(other.path, f.path))
		}
	}
	return rdpefs.StatusSuccess
}

func (d *Disk) QueryVolumeInformation(h device.Handle, class fscc.FsInformationClass) ([]byte, rdpefs.NTStatus) {
	if _, ok := d.lookup(h); !ok {
		return nil, rdpefs.StatusInvalidHandle
	}

	var info fscc.Information
	switch class {
	case fscc.FileFsVolumeInformation:
		var created time.Time
		if fi, err := d.fs.Stat("/"); err == nil {
			created = fi.ModTime()
		}
		info = &fscc.VolumeInformation{
			CreationTime: created,
			SerialNumber: d.serialNumber(),
			Label:        d.label,
		}
	case fscc.FileFsSizeInformation:
		st := d.volumeStats()
		info = &fscc.SizeInformation{
			TotalAllocationUnits:     st.total,
			AvailableAllocationUnits: st.avail,
			SectorsPerAllocationUnit: st.sectorsPerUnit,
			BytesPerSector:           bytesPerSector,
		}
	case fscc.FileFsFullSizeInformation:
		st := d.volumeStats()
		info = &fscc.FullSizeInformation{
			TotalAllocationUnits:           st.total,
			CallerAvailableAllocationUnits: st.avail,
			ActualAvailableAllocationUnits: st.free,
			SectorsPerAllocationUnit:       st.sectorsPerUnit,
			BytesPerSector:                 bytesPerSector,
		}
	case fscc.FileFsAttributeInformation:
		info = &fscc.AttributeInformation{
			FileSystemAttributes:       fscc.FileCaseSensitiveSearch | fscc.FileCasePreservedNames | fscc.FileUnicodeOnDisk,
			MaximumComponentNameLength: 255,
			FileSystemName:             "FAT32",
		}
	case fscc.FileFsDeviceInformation:
		info = &fscc.DeviceInformation{DeviceType: fscc.FileDeviceDisk, Characteristics: fscc.FileRemoteDevice}
	default:
		logging.Debug("Disk: Unsupported volume information class %d", class)
		return nil, rdpefs.StatusNotSupported
	}
	return info.Serialize(), rdpefs.StatusSuccess
}

func (d *Disk) serialNumber() uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(d.root + "\x00" + d.label))
	return h.Sum32()
}

const bytesPerSector = 512

type volumeStats struct {
	total, avail, free int64
	sectorsPerUnit     uint32
}

// volumeStats reports the host filesystem of root in allocation units, or
// a fixed 1 GiB volume when the share has no host directory.
func (d *Disk) volumeStats() volumeStats {
	if d.root != "" {
		if st, err := statfs(d.root); err == nil {
			return st
		}
	}
	units := int64(1<<30) / clusterSize
	return volumeStats{total: units, avail: units, free: units, sectorsPerUnit: clusterSize / bytesPerSector}
}
