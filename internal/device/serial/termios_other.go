//go:build !linux

package serial

import (
	"runtime"

	"github.com/efficientgo/core/errors"
)

var errPlatform = errors.Newf("serial line control is not implemented on %s", runtime.GOOS)

func configure(int, *settings) error { return errPlatform }
func setModemLine(int, modemLine, bool) error { return errPlatform }
func modemStatus(int) (uint32, error) { return 0, errPlatform }
func queued(int) (int, int, error) { return 0, 0, errPlatform }
func setBreak(int, bool) error { return errPlatform }
func flow(int, bool) error { return errPlatform }
func purge(int, uint32) error { return errPlatform }
