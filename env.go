// Package sidb wires the device, page-run allocator, blob manager and
// compression/encryption codecs into a single entry point, the way the
// teacher project's db.go wires its DB type around Options and Open.
// Everything in this package is thin: it carries no algorithmic logic of
// its own, only construction and delegation to device, pagemanager and
// blob.
package sidb

import (
	"os"

	"github.com/embedkv/sidb/blob"
	"github.com/embedkv/sidb/compressor"
	"github.com/embedkv/sidb/device"
	"github.com/embedkv/sidb/pagemanager"
)

// Options configures an Environment, mirroring the shape of the teacher
// project's Options (db.go) but scoped to the blob-storage subsystem.
type Options struct {
	PageSizeBytes      uint32
	FileSizeLimitBytes uint64
	DisableMmap        bool
	MmapFlags          int
	PosixAdvice        int
	EncryptionKey      []byte
	Compression        compressor.Algorithm
	EnableCRC32        bool
	ReadOnly           bool
}

// DefaultOptions mirrors the teacher project's DefaultOptions var: a
// ready-to-use zero-ish configuration rather than requiring every caller
// to fill in every field.
var DefaultOptions = Options{
	PageSizeBytes: 4096,
}

// Environment owns an open device, its page manager, and a configured
// blob manager. It is the unit of lifetime for a single open database
// file (spec §1's "Environment/Device pairing").
type Environment struct {
	device *device.Device
	pages  *pagemanager.Simple
	blobs  *blob.DiskBlobManager
	opts   Options
}

func newEnvironment(opts Options) *Environment {
	if opts.PageSizeBytes == 0 {
		opts.PageSizeBytes = DefaultOptions.PageSizeBytes
	}
	dev := device.New(device.Options{
		PageSizeBytes:      opts.PageSizeBytes,
		FileSizeLimitBytes: opts.FileSizeLimitBytes,
		DisableMmap:        opts.DisableMmap,
		MmapFlags:          opts.MmapFlags,
		PosixAdvice:        opts.PosixAdvice,
		EncryptionKey:      opts.EncryptionKey,
	})
	pages := pagemanager.New(dev)
	blobs := &blob.DiskBlobManager{
		Device:      dev,
		Pages:       pages,
		Compressor:  compressor.New(opts.Compression),
		EnableCRC32: opts.EnableCRC32,
	}
	return &Environment{device: dev, pages: pages, blobs: blobs, opts: opts}
}

// Create creates a new environment file at path.
func Create(path string, mode os.FileMode, opts Options) (*Environment, error) {
	env := newEnvironment(opts)
	if err := env.device.Create(path, mode); err != nil {
		return nil, err
	}
	return env, nil
}

// Open opens an existing environment file at path.
func Open(path string, opts Options) (*Environment, error) {
	env := newEnvironment(opts)
	if err := env.device.Open(path, opts.ReadOnly); err != nil {
		return nil, err
	}
	return env, nil
}

// Close writes back the page manager's dirty pages, fsyncs, and releases
// the underlying device.
func (e *Environment) Close() error {
	if err := e.pages.Flush(); err != nil {
		return err
	}
	return e.device.Close()
}

// Allocate stores data as a new blob and returns its blob-id.
func (e *Environment) Allocate(data []byte, flags blob.Flags) (uint64, error) {
	rec := &blob.Record{Data: data, Size: uint32(len(data))}
	return e.blobs.Allocate(&blob.Context{}, rec, flags)
}

// Read fetches the blob identified by id. When flags includes
// blob.Partial, offset/size describe the sub-range to read.
func (e *Environment) Read(id uint64, flags blob.Flags, offset, size uint32) ([]byte, error) {
	rec := &blob.Record{PartialOffset: offset, PartialSize: size}
	if err := e.blobs.Read(&blob.Context{}, id, rec, flags); err != nil {
		return nil, err
	}
	return rec.Data, nil
}

// Overwrite replaces the blob identified by id with data, returning the
// (possibly new) blob-id.
func (e *Environment) Overwrite(id uint64, data []byte, flags blob.Flags) (uint64, error) {
	rec := &blob.Record{Data: data, Size: uint32(len(data))}
	return e.blobs.Overwrite(&blob.Context{}, id, rec, flags)
}

// Erase deletes the blob identified by id.
func (e *Environment) Erase(id uint64) error {
	return e.blobs.Erase(&blob.Context{}, id)
}

// ReclaimSpace truncates away the device's pending excess-at-end reserve.
func (e *Environment) ReclaimSpace() error {
	return e.device.ReclaimSpace()
}

// CompressionMetrics returns the cumulative pre/post-compression byte
// counts observed by Allocate, for callers that want to monitor
// compression effectiveness (spec §9 supplemented feature).
func (e *Environment) CompressionMetrics() (before, after uint64) {
	return e.blobs.CompressedBytesIn(), e.blobs.CompressedBytesOut()
}
