// Package pagemanager provides Simple, a minimal in-process PageManager
// (spec §6 collaborator contract) for tests and standalone use of the blob
// package. Production callers own a real B-tree/page-cache layer and
// implement blob.PageManager against it directly; Simple exists so
// DiskBlobManager has something concrete to run against without one.
//
// Grounded on the teacher project's db.go page-cache map (a simple
// address-keyed in-memory index over pages fetched from the device) and on
// original_source/src/3blob_manager/blob_manager_disk.cc's expectations of
// its page-manager collaborator: Fetch must be idempotent for an
// already-cached address, AllocMultipleBlobPages must return the first page
// of a run of contiguous pages, and Del must evict
// every page of the run from the cache before the device reclaims the
// space.
package pagemanager

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/embedkv/sidb/blob"
	"github.com/embedkv/sidb/page"
)

// Simple caches fetched pages in a plain map keyed by file address. It
// performs no eviction, no dirty-page writeback scheduling, and no
// locking finer than a single mutex: correct for tests and small
// standalone programs, not for a concurrent production workload.
type Simple struct {
	mu sync.Mutex

	device Device

	pages        map[uint64]*page.Page
	lastBlobPage *page.Page
}

// Device is the subset of device.Device Simple needs to fetch and
// allocate pages. Declared locally (rather than reusing blob.Device)
// because Simple also needs multi-page contiguous allocation, which is
// not part of the blob manager's own view of its device.
type Device interface {
	PageSizeBytes() uint32
	ReadPage(p *page.Page, address uint64) error
	FreePage(p *page.Page) error
	Alloc(size uint64) (uint64, error)
	Write(off uint64, buf []byte) error
	Flush() error
}

// New constructs a Simple page manager backed by dev.
func New(dev Device) *Simple {
	return &Simple{
		device: dev,
		pages:  make(map[uint64]*page.Page),
	}
}

// Fetch implements blob.PageManager: return the cached page at address if
// present, otherwise read it from the device and cache it. flags.NoHeader
// marks the page as a headerless continuation page.
func (s *Simple) Fetch(_ *blob.Context, address uint64, flags blob.FetchFlags) (*page.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pages[address]; ok {
		p.SetWithoutHeader(flags.Has(blob.NoHeader))
		return p, nil
	}

	p := page.New()
	if err := s.device.ReadPage(p, address); err != nil {
		return nil, errors.Wrap(err, "pagemanager: fetch")
	}
	p.SetWithoutHeader(flags.Has(blob.NoHeader))
	s.pages[address] = p
	return p, nil
}

// AllocMultipleBlobPages implements blob.PageManager: allocate numPages
// contiguous pages from the device as a single run and cache each page of
// the run separately at its own address, since write_chunks/read_chunk/
// copy_chunk fetch one page at a time by its own page-aligned address
// (spec §4.2/§4.3). The first page (the one carrying the BlobPageHeader)
// is returned to the caller.
func (s *Simple) AllocMultipleBlobPages(_ *blob.Context, numPages uint32) (*page.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pageSize := uint64(s.device.PageSizeBytes())
	base, err := s.device.Alloc(pageSize * uint64(numPages))
	if err != nil {
		return nil, errors.Wrap(err, "pagemanager: alloc blob pages")
	}

	var first *page.Page
	for i := uint32(0); i < numPages; i++ {
		addr := base + uint64(i)*pageSize
		p := page.New()
		p.AssignOwned(make([]byte, pageSize), addr)
		p.SetDirty(true)
		if i > 0 {
			p.SetWithoutHeader(true)
		}
		s.pages[addr] = p
		if i == 0 {
			first = p
		}
	}
	return first, nil
}

// Del implements blob.PageManager: drop p and its continuation pages from
// the cache. The device performs no reclamation of its own space here;
// callers running against a real allocator are expected to track freed
// runs separately (spec §4.5, erase of a fully-free run).
func (s *Simple) Del(_ *blob.Context, p *page.Page, numPages uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pageSize := uint64(s.device.PageSizeBytes())
	base := p.Address()
	for i := uint32(0); i < numPages; i++ {
		addr := base + uint64(i)*pageSize
		if cached, ok := s.pages[addr]; ok {
			if err := s.device.FreePage(cached); err != nil {
				return err
			}
			delete(s.pages, addr)
		}
	}
	if s.lastBlobPage == p {
		s.lastBlobPage = nil
	}
	return nil
}

// GetLastBlobPage implements blob.PageManager.
func (s *Simple) GetLastBlobPage(_ *blob.Context) *page.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBlobPage
}

// SetLastBlobPage implements blob.PageManager.
func (s *Simple) SetLastBlobPage(p *page.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBlobPage = p
}

// Flush writes every dirty cached page that owns a heap buffer back to the
// device, then fsyncs it. Pages borrowed from the mmap window are not
// written: their bytes already live in the mapped file.
func (s *Simple) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, p := range s.pages {
		if !p.IsDirty() || p.IsBorrowed() {
			continue
		}
		if err := s.device.Write(addr, p.Data()); err != nil {
			return errors.Wrap(err, "pagemanager: flush")
		}
		p.SetDirty(false)
	}
	return s.device.Flush()
}
