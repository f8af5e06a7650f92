// Package sidberr defines the error taxonomy shared by the device and blob
// layers. Errors are surfaced to callers unchanged: the sentinels below are
// returned as they are, so errors.Is(err, sidberr.ErrBlobNotFound) works,
// and device-level I/O failures wrap the underlying os/syscall error with
// github.com/pkg/errors, so errors.Cause(err) returns that error.
package sidberr

import "github.com/pkg/errors"

var (
	// ErrLimitsReached is returned by Device.Truncate/Alloc when the
	// requested size exceeds the configured file size limit.
	ErrLimitsReached = errors.New("sidb: limits reached")

	// ErrBlobNotFound is returned when a BlobHeader's self field does not
	// match the blob-id that was requested.
	ErrBlobNotFound = errors.New("sidb: blob not found")

	// ErrInvalidParameter is returned for out-of-range partial reads.
	ErrInvalidParameter = errors.New("sidb: invalid parameter")

	// ErrIntegrityViolated is returned on CRC mismatch or a freelist
	// corruption detected outside of an assertion-enabled build.
	ErrIntegrityViolated = errors.New("sidb: integrity violated")

	// ErrMapFailed names the mmap-failure kind. No code in this module
	// returns it: device.Open logs the underlying mmap error and falls
	// back to pread/pwrite instead.
	ErrMapFailed = errors.New("sidb: mmap failed")
)

// Wrap annotates err with msg unless err is nil, preserving the original as
// the Cause() for errors.Is/As chains.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
