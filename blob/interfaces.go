// Package blob implements the allocator/reader/writer/eraser that
// multiplexes variable-sized records onto fixed-size pages: DiskBlobManager.
//
// Grounded directly on original_source/src/3blob_manager/blob_manager_disk.cc
// (DiskBlobManager::do_allocate/do_read/do_overwrite/do_erase,
// alloc_from_freelist, add_to_freelist, check_integrity, write_chunks,
// read_chunk, copy_chunk), translated from the hamsterdb/upscaledb C++
// original into the Go shape the teacher project favors: explicit error
// returns instead of exceptions, small collaborator interfaces instead of
// abstract base classes, and github.com/pkg/errors for wrapping I/O
// failures that cross a package boundary.
package blob

import "github.com/embedkv/sidb/page"

// Context stands in for the transaction/thread-local scratch object the
// out-of-scope cursor/txn layer would normally thread through every call
// (spec §1: B-tree index and transaction cursors are external
// collaborators named by interface only). It carries nothing of its own
// here; production callers are expected to embed it in their own
// transaction context.
type Context struct{}

// Device is the subset of the file-backed store DiskBlobManager needs,
// matching *device.Device's method set (spec §6, "Device collaborator
// contract").
type Device interface {
	PageSizeBytes() uint32
	FileSizeLimitBytes() uint64
	IsMapped(offset uint64, length uint32) bool
	ReadPage(p *page.Page, address uint64) error
	AllocPage(p *page.Page) error
	FreePage(p *page.Page) error
	Flush() error
	Truncate(newSize uint64) error
}

// PageManager allocates and fetches page runs on behalf of the blob
// manager, and remembers the "last blob page" hint across calls (spec §6,
// "PageManager collaborator contract"). It is implemented in production by
// the B-tree/page-cache layer (out of scope here); package pagemanager
// provides a minimal in-process reference implementation for tests and
// standalone use.
type PageManager interface {
	Fetch(ctx *Context, address uint64, flags FetchFlags) (*page.Page, error)
	AllocMultipleBlobPages(ctx *Context, numPages uint32) (*page.Page, error)
	Del(ctx *Context, p *page.Page, numPages uint32) error
	GetLastBlobPage(ctx *Context) *page.Page
	SetLastBlobPage(p *page.Page)
}

// Record is the opaque byte payload handed to Allocate/Overwrite and
// filled in by Read. Size is the logical length of the whole blob; when
// Partial is set, Data/PartialSize describe only the sub-range
// [PartialOffset, PartialOffset+PartialSize) being written or read. On
// write, Size is still the full blob length; Read sets Size to the number
// of bytes it returns.
type Record struct {
	Data          []byte
	Size          uint32
	PartialOffset uint32
	PartialSize   uint32

	// UserBuffer, when non-nil, is the caller-supplied destination for
	// Read (equivalent to flags.Has(UserAlloc)); Read writes into it
	// instead of allocating a fresh buffer.
	UserBuffer []byte
}
