// Package device implements the file-backed byte store every blob lives
// on: create/open/close, pread/pwrite, an mmap window covering a prefix of
// the file, and a bump allocator with an end-of-file excess reserve to
// amortize truncate() calls.
//
// Grounded on the teacher project's db.go (Open/close/init, mmap field
// layout) and sys.go (flock/mmap/munmap/madvise), generalized to the
// contract in original_source/src/2device/device_disk.h: a single spinlock
// guards every operation, mmap failure at open time is logged and
// downgraded to a pread/pwrite fallback rather than failing Open, and
// allocation amortizes truncation with a scaling excess-at-end reserve.
package device

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/embedkv/sidb/cipher"
	"github.com/embedkv/sidb/page"
	"github.com/embedkv/sidb/sidberr"
)

// Options configures a Device. Mirrors the subset of the teacher's
// top-level Options that is device-shaped (MmapFlags) plus the blob-layer
// knobs spec.md requires (PageSizeBytes, FileSizeLimitBytes, DisableMmap,
// PosixAdvice, EncryptionKey).
type Options struct {
	PageSizeBytes      uint32
	FileSizeLimitBytes uint64
	DisableMmap        bool
	MmapFlags          int
	PosixAdvice        int
	EncryptionKey      []byte
}

const defaultFileSizeLimit = 1 << 48 // 256TB, matches the teacher's maxMapSize order of magnitude

// Device is a file-backed byte store. All public methods acquire mu for
// their duration; mu is not reentrant, matching the single, non-reentrant
// spinlock the spec requires.
type Device struct {
	mu sync.Mutex

	file     *os.File
	readOnly bool

	pageSizeBytes      uint32
	fileSizeLimitBytes uint64
	disableMmap        bool
	mmapFlags          int
	posixAdvice        int

	mmapRegion   []byte // nil if not mapped
	mappedSize   uint64
	fileSize     uint64
	excessAtEnd  uint64

	cipher cipher.BlockCipher
}

// New constructs an unopened Device from opts.
func New(opts Options) *Device {
	limit := opts.FileSizeLimitBytes
	if limit == 0 {
		limit = defaultFileSizeLimit
	}
	d := &Device{
		pageSizeBytes:      opts.PageSizeBytes,
		fileSizeLimitBytes: limit,
		disableMmap:        opts.DisableMmap,
		mmapFlags:          opts.MmapFlags,
		posixAdvice:        opts.PosixAdvice,
	}
	if len(opts.EncryptionKey) > 0 {
		c, err := cipher.NewAESOffsetCipher(opts.EncryptionKey)
		if err == nil {
			d.cipher = c
		} else {
			log.WithError(err).Warn("device: invalid encryption key, encryption disabled")
		}
	}
	return d
}

// PageSizeBytes implements the Device collaborator contract (spec §6).
func (d *Device) PageSizeBytes() uint32 { return d.pageSizeBytes }

// FileSizeLimitBytes implements the Device collaborator contract (spec §6).
func (d *Device) FileSizeLimitBytes() uint64 { return d.fileSizeLimitBytes }

// Create creates a new file at path with the given mode, sized zero.
func (d *Device) Create(path string, mode os.FileMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return sidberr.Wrap(err, "device: create")
	}
	if err := flock(f, true); err != nil {
		_ = f.Close()
		return sidberr.Wrap(err, "device: create")
	}
	d.file = f
	d.readOnly = false
	posixAdvise(f, d.posixAdvice)
	return nil
}

// Open opens an existing file at path. If mmap is enabled and the file's
// size is non-zero and a multiple of the OS mmap granularity, it attempts
// to map the whole file; a failure there is logged and downgraded to the
// pread/pwrite fallback path rather than propagated, matching
// original_source's "ups_log(...); falls back" behavior.
func (d *Device) Open(path string, readOnly bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return sidberr.Wrap(err, "device: open")
	}
	// Exclusive lock for read-write opens, shared lock for read-only ones,
	// matching the teacher's flock(db, options.ReadOnly) call in Open.
	if err := flock(f, !readOnly); err != nil {
		_ = f.Close()
		return sidberr.Wrap(err, "device: open")
	}
	d.file = f
	d.readOnly = readOnly
	posixAdvise(f, d.posixAdvice)

	info, err := f.Stat()
	if err != nil {
		return sidberr.Wrap(err, "device: stat")
	}
	d.fileSize = uint64(info.Size())

	if d.disableMmapAt() {
		return nil
	}

	granularity := uint64(mmapGranularity())
	if d.fileSize == 0 || d.fileSize%granularity != 0 {
		return nil
	}

	region, err := mmapFile(f, d.fileSize, readOnly, d.mmapFlags)
	if err != nil {
		log.WithError(err).Warn("device: mmap failed, falling back to pread/pwrite")
		return nil
	}
	d.mmapRegion = region
	d.mappedSize = d.fileSize
	return nil
}

func (d *Device) disableMmapAt() bool {
	return d.disableMmap
}

// Close unmaps (if mapped) and closes the underlying file. It is safe to
// call on a Device whose mmap side-effects were never established.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mmapRegion != nil {
		if err := munmapFile(d.mmapRegion); err != nil {
			return sidberr.Wrap(err, "device: munmap")
		}
		d.mmapRegion = nil
		d.mappedSize = 0
	}
	if d.file != nil {
		// No need to unlock a read-only file's shared lock; matches the
		// teacher's Close, which only funlocks when !db.readOnly.
		if !d.readOnly {
			if err := funlock(d.file); err != nil {
				log.WithError(err).Warn("device: funlock failed")
			}
		}
		err := d.file.Close()
		d.file = nil
		if err != nil {
			return sidberr.Wrap(err, "device: close")
		}
	}
	return nil
}

// Flush fsyncs the underlying file. It does not force a flush of
// application-level dirty pages; that is the page manager's responsibility.
func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	return sidberr.Wrap(d.file.Sync(), "device: flush")
}

// Truncate resizes the file, failing with ErrLimitsReached if newSize
// exceeds the configured file size limit.
func (d *Device) Truncate(newSize uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.truncateLocked(newSize)
}

func (d *Device) truncateLocked(newSize uint64) error {
	if newSize > d.fileSizeLimitBytes {
		return sidberr.ErrLimitsReached
	}
	if err := d.file.Truncate(int64(newSize)); err != nil {
		return sidberr.Wrap(err, "device: truncate")
	}
	d.fileSize = newSize
	return nil
}

// FileSize returns the cached file size.
func (d *Device) FileSize() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fileSize
}

// Read performs a pread at off into buf, decrypting in place if encryption
// is enabled.
func (d *Device) Read(off uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.file.ReadAt(buf, int64(off)); err != nil {
		return sidberr.Wrap(err, "device: read")
	}
	if d.cipher != nil {
		if err := d.cipher.DecryptAt(off, buf); err != nil {
			return sidberr.Wrap(err, "device: decrypt")
		}
	}
	return nil
}

// Write performs a pwrite of buf at off. If encryption is enabled the
// write must be full-page aligned (off % len(buf) == 0): encryption
// disables direct sub-page writes, matching
// original_source/.../device_disk.h's ups_assert(offset % len == 0).
func (d *Device) Write(off uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cipher != nil {
		if len(buf) == 0 || off%uint64(len(buf)) != 0 {
			return errors.New("device: encrypted writes must be page-aligned")
		}
		ciphertext, err := d.cipher.EncryptAt(off, buf)
		if err != nil {
			return sidberr.Wrap(err, "device: encrypt")
		}
		if _, err := d.file.WriteAt(ciphertext, int64(off)); err != nil {
			return sidberr.Wrap(err, "device: write")
		}
		return nil
	}

	if _, err := d.file.WriteAt(buf, int64(off)); err != nil {
		return sidberr.Wrap(err, "device: write")
	}
	return nil
}

// Alloc bump-allocates size bytes at the end of the file, amortizing
// truncate() calls with a scaling excess reserve (spec §4.1 alloc policy).
func (d *Device) Alloc(size uint64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.excessAtEnd >= size {
		address := d.fileSize - d.excessAtEnd
		d.excessAtEnd -= size
		return address, nil
	}

	allocateExcess := true
	if d.mmapRegion != nil && mmapForbidsTruncate() {
		allocateExcess = false
	}

	var excess uint64
	if allocateExcess {
		switch {
		case d.fileSize < size*100:
			excess = 0
		case d.fileSize < size*250:
			excess = size * 100
		case d.fileSize < size*1000:
			excess = size * 250
		default:
			excess = size * 1000
		}
	}

	address := d.fileSize
	if err := d.truncateLocked(address + size + excess); err != nil {
		return 0, err
	}
	d.excessAtEnd = excess
	return address, nil
}

// ReadPage populates p from address: if the range is covered by the mmap
// window, p borrows directly into it (dropping any heap buffer it held);
// otherwise p is given (or keeps) a heap buffer and the page is pread into
// it, decrypting if enabled.
func (d *Device) ReadPage(p *page.Page, address uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if address+uint64(d.pageSizeBytes) <= d.mappedSize && d.mmapRegion != nil {
		p.FreeBuffer()
		p.AssignBorrowed(d.mappedPointer(address, uint64(d.pageSizeBytes)), address)
		return nil
	}

	buf := p.Data()
	if !p.IsBorrowed() && len(buf) == int(d.pageSizeBytes) {
		// reuse the existing heap buffer
	} else {
		buf = make([]byte, d.pageSizeBytes)
	}
	if _, err := d.file.ReadAt(buf, int64(address)); err != nil {
		return sidberr.Wrap(err, "device: read page")
	}
	if d.cipher != nil {
		if err := d.cipher.DecryptAt(address, buf); err != nil {
			return sidberr.Wrap(err, "device: decrypt page")
		}
	}
	p.AssignOwned(buf, address)
	return nil
}

// AllocPage allocates page-sized storage and assigns the page a heap
// buffer — never mmap, because the page's backing region may later be
// grown or truncated out from under a mapping.
func (d *Device) AllocPage(p *page.Page) error {
	address, err := d.Alloc(uint64(d.pageSizeBytes))
	if err != nil {
		return err
	}
	buf := make([]byte, d.pageSizeBytes)
	p.AssignOwned(buf, address)
	return nil
}

// FreePage releases the page's heap buffer. The device performs no
// reclamation of its own; callers must return freed space to the page
// manager separately.
func (d *Device) FreePage(p *page.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p.FreeBuffer()
	return nil
}

// IsMapped reports whether [offset, offset+length) lies entirely within
// the current mmap window.
func (d *Device) IsMapped(offset uint64, length uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return offset+uint64(length) <= d.mappedSize
}

// ReclaimSpace truncates away any pending excess-at-end reserve.
func (d *Device) ReclaimSpace() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.excessAtEnd == 0 {
		return nil
	}
	newSize := d.fileSize - d.excessAtEnd
	if err := d.truncateLocked(newSize); err != nil {
		return err
	}
	d.excessAtEnd = 0
	return nil
}

// mappedPointer returns a slice into the mmap window at address, sized n,
// with its capacity extended to the end of the mapped region rather than
// clipped at n. A blob's zero-copy payload can span past a single page's
// boundary while still lying entirely within one contiguous mmap window;
// extending capacity here lets the blob package reslice past n bytes
// without a second device call, since the underlying array is the same
// flat mapping regardless of which page "owns" byte n.
func (d *Device) mappedPointer(address uint64, n uint64) []byte {
	return d.mmapRegion[address : address+n : len(d.mmapRegion)]
}
