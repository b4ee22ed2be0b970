//go:build !linux

package disk

import (
	"os"

	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/protocol/fscc"
)

func fileTimes(fi os.FileInfo) fscc.Times {
	mtime := fi.ModTime()
	return fscc.Times{Creation: mtime, LastAccess: mtime, LastWrite: mtime, Change: mtime}
}

func linkCount(os.FileInfo) uint32 { return 1 }

func fileIndex(_ os.FileInfo, h device.Handle) uint64 { return uint64(h) }

func statfs(string) (volumeStats, error) {
	return volumeStats{}, errors.New("volume statistics not supported on this platform")
}
