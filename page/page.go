// Package page models the fixed-size buffer the device hands to the page
// manager and blob manager. A Page's buffer is either exclusively owned
// (heap-allocated) or a borrow into the device's mmap window; the tagged
// variant is modeled the way spec §9 asks ("Mmap + heap polymorphism on
// Page buffers"), grounded on original_source's Page::assign_allocated_buffer
// / assign_mapped_buffer / free_buffer split.
package page

// Page is a single fixed-size page of the file, either freshly allocated on
// the heap or borrowed from the device's mmap window.
type Page struct {
	address  uint64
	data     []byte
	borrowed bool // true iff data is a slice into the device's mmap window
	dirty    bool

	// withoutHeader marks a continuation page of a multi-page blob run:
	// it carries no BlobPageHeader and its payload starts at offset 0.
	withoutHeader bool
}

// New returns an unpopulated page; callers fill it via AssignOwned or
// AssignBorrowed before use.
func New() *Page {
	return &Page{}
}

// Address returns the page's file offset.
func (p *Page) Address() uint64 { return p.address }

// SetAddress overrides the page's file offset without touching its buffer.
func (p *Page) SetAddress(addr uint64) { p.address = addr }

// Data returns the page's backing buffer, whichever variant it currently
// holds.
func (p *Page) Data() []byte { return p.data }

// IsDirty reports whether the page has unflushed writes.
func (p *Page) IsDirty() bool { return p.dirty }

// SetDirty marks the page as having been written to since it was last
// fetched; the page manager, not the blob manager, is responsible for
// flushing dirty pages back to the device.
func (p *Page) SetDirty(dirty bool) { p.dirty = dirty }

// WithoutHeader reports whether this page is a raw continuation page of a
// multi-page blob run (no BlobPageHeader at offset 0).
func (p *Page) WithoutHeader() bool { return p.withoutHeader }

// SetWithoutHeader flags the page as a headerless continuation page.
func (p *Page) SetWithoutHeader(v bool) { p.withoutHeader = v }

// AssignOwned gives the page exclusive ownership of buf at the given
// address. Any previous borrowed buffer is simply dropped (no unmap is
// performed here — the device owns the mmap window's lifetime).
func (p *Page) AssignOwned(buf []byte, addr uint64) {
	p.data = buf
	p.address = addr
	p.borrowed = false
}

// AssignBorrowed points the page at a slice into the device's mmap window.
// FreeBuffer on a borrowed page is a no-op: ownership stays with the
// device, which must not unmap the window while any page still borrows
// from it.
func (p *Page) AssignBorrowed(buf []byte, addr uint64) {
	p.data = buf
	p.address = addr
	p.borrowed = true
}

// IsBorrowed reports whether the page's buffer is a borrow into the mmap
// window rather than a heap allocation the page owns.
func (p *Page) IsBorrowed() bool { return p.borrowed }

// FreeBuffer releases the page's heap buffer. It is a no-op for a borrowed
// page (the mmap window outlives any individual page).
func (p *Page) FreeBuffer() {
	if !p.borrowed {
		p.data = nil
	}
}

// Payload returns the page's usable region past any header. headerLen is
// zero for continuation pages and kPageOverhead-sized for the first page
// of a run; callers (blob package) own that decision.
func (p *Page) Payload(headerLen int) []byte {
	if p.withoutHeader || headerLen == 0 {
		return p.data
	}
	return p.data[headerLen:]
}
