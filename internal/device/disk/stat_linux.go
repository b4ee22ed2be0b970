package disk

import (
	"os"
	"syscall"
	"time"

	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/protocol/fscc"
	"golang.org/x/sys/unix"
)

func fileTimes(fi os.FileInfo) fscc.Times {
	mtime := fi.ModTime()
	t := fscc.Times{Creation: mtime, LastAccess: mtime, LastWrite: mtime, Change: mtime}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		t.LastAccess = time.Unix(st.Atim.Unix())
		t.Change = time.Unix(st.Ctim.Unix())
		// Linux has no portable birth time; the older of mtime and ctime stands in.
		if t.Change.Before(mtime) {
			t.Creation = t.Change
		}
	}
	return t
}

func linkCount(fi os.FileInfo) uint32 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return uint32(st.Nlink)
	}
	return 1
}

func fileIndex(fi os.FileInfo, h device.Handle) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return uint64(h)
}

func statfs(root string) (volumeStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return volumeStats{}, err
	}
	unit := uint64(st.Bsize)
	if unit < bytesPerSector {
		unit = bytesPerSector
	}
	return volumeStats{
		total:          int64(st.Blocks),
		avail:          int64(st.Bavail),
		free:           int64(st.Bfree),
		sectorsPerUnit: uint32(unit / bytesPerSector),
	}, nil
}
