//go:build linux

package device

import (
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// posixAdvise applies the configured POSIX fadvise hint to f, matching
// original_source's file.set_posix_advice() call on both create() and
// open() (device_disk.h lines 87, 101). advice == 0 means "no hint",
// matching the zero value of Options.PosixAdvice.
func posixAdvise(f *os.File, advice int) {
	if advice == 0 {
		return
	}
	if err := unix.Fadvise(int(f.Fd()), 0, 0, advice); err != nil {
		log.WithError(err).Debug("device: fadvise not supported, ignoring")
	}
}
