package blob

import (
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/embedkv/sidb/blobcrc"
	"github.com/embedkv/sidb/compressor"
	"github.com/embedkv/sidb/page"
	"github.com/embedkv/sidb/sidberr"
)

// DiskBlobManager is the allocator/reader/writer/eraser for blobs. It holds
// no persistent state of its own — all durable state lives in page
// headers mutated through PageManager — matching
// original_source's DiskBlobManager, which keeps only a Device/Env
// reference and two running compression-metric counters.
type DiskBlobManager struct {
	Device Device
	Pages  PageManager

	// Compressor is consulted by Allocate/Read when non-nil. A nil
	// Compressor behaves like the original's "no compressor configured"
	// path: compression is simply skipped.
	Compressor compressor.Codec

	// EnableCRC32 turns on MurmurHash3-x86-32 verification for
	// multi-page blobs (spec §4.2 step 5, §4.3 step 6).
	EnableCRC32 bool

	metricBytesBeforeCompression atomic.Uint64
	metricBytesAfterCompression  atomic.Uint64
}

// CompressedBytesIn returns the cumulative pre-compression byte count
// across all Allocate calls that attempted compression.
func (m *DiskBlobManager) CompressedBytesIn() uint64 {
	return m.metricBytesBeforeCompression.Load()
}

// CompressedBytesOut returns the cumulative post-compression byte count.
func (m *DiskBlobManager) CompressedBytesOut() uint64 {
	return m.metricBytesAfterCompression.Load()
}

func loadPageHeader(p *page.Page) *BlobPageHeader {
	return DecodeBlobPageHeader(p.Data()[:PageOverhead])
}

func storePageHeader(p *page.Page, h *BlobPageHeader) {
	h.Encode(p.Data()[:PageOverhead])
	p.SetDirty(true)
}

// Allocate implements spec §4.2: compress (maybe), carve from the last
// blob page's freelist or allocate a fresh page run, write the header and
// payload (splitting around any partial-write gaps), and return the
// blob-id.
func (m *DiskBlobManager) Allocate(ctx *Context, rec *Record, flags Flags) (uint64, error) {
	pageSize := uint64(m.Device.PageSizeBytes())

	payload := rec.Data
	originalSize := rec.Size
	if originalSize == 0 {
		originalSize = uint32(len(rec.Data))
	}
	compressed := false

	if m.Compressor != nil && !flags.Has(DisableCompression) && !flags.Has(Partial) {
		m.metricBytesBeforeCompression.Add(uint64(len(rec.Data)))
		out, err := m.Compressor.Compress(rec.Data)
		if err != nil {
			return 0, errors.Wrap(err, "blob: compress")
		}
		if len(out) < len(rec.Data) {
			payload = out
			compressed = true
		}
		m.metricBytesAfterCompression.Add(uint64(len(payload)))
	}

	allocSize := HeaderSize() + uint32(len(payload))
	if flags.Has(Partial) {
		// A partial write only carries the sub-range being written, but
		// the allocation must cover the whole logical blob so the
		// untouched gaps have somewhere to live.
		allocSize = HeaderSize() + originalSize
	}

	p := m.Pages.GetLastBlobPage(ctx)
	var header *BlobPageHeader
	var address uint64
	found := false

	if p != nil {
		header = loadPageHeader(p)
		if off, ok := allocFromFreelist(header, allocSize); ok {
			address = p.Address() + uint64(off)
			found = true
		} else {
			p = nil
		}
	}

	if !found {
		required := allocSize + PageOverhead
		numPages := required / uint32(pageSize)
		if numPages*uint32(pageSize) < required {
			numPages++
		}

		var err error
		p, err = m.Pages.AllocMultipleBlobPages(ctx, numPages)
		if err != nil {
			return 0, err
		}

		header = &BlobPageHeader{
			NumPages:  numPages,
			FreeBytes: numPages*uint32(pageSize) - PageOverhead,
		}

		if numPages == 1 {
			remainder := header.FreeBytes - allocSize
			if remainder > 0 {
				header.SetFreelistOffset(0, PageOverhead+allocSize)
				header.SetFreelistSize(0, remainder)
			}
		}

		if numPages > 1 && m.EnableCRC32 && !flags.Has(Partial) {
			header.SetCRC32(blobcrc.MurmurHash3_x86_32(rec.Data, 0))
		}

		address = p.Address() + PageOverhead
		storePageHeader(p, header)
		if err := m.checkIntegrity(header); err != nil {
			return 0, err
		}
	}

	header.FreeBytes -= allocSize
	if header.FreeBytes > 0 {
		m.Pages.SetLastBlobPage(p)
	} else {
		m.Pages.SetLastBlobPage(nil)
	}
	storePageHeader(p, header)

	bh := BlobHeader{
		Self:      address,
		Size:      uint64(originalSize),
		AllocSize: allocSize,
	}
	if compressed {
		bh.Flags |= FlagCompressed
	}
	hdrBuf := make([]byte, HeaderSize())
	bh.Encode(hdrBuf)

	if flags.Has(Partial) && rec.PartialOffset > 0 {
		if err := m.writeChunks(ctx, p, address, hdrBuf); err != nil {
			return 0, err
		}
		gapAddr := address + uint64(HeaderSize())
		if err := m.writeZeroes(ctx, nil, gapAddr, uint64(rec.PartialOffset)); err != nil {
			return 0, err
		}
		dataAddr := gapAddr + uint64(rec.PartialOffset)
		if err := m.writeChunks(ctx, nil, dataAddr, rec.Data[:rec.PartialSize]); err != nil {
			return 0, err
		}
	} else {
		writeLen := payload
		if flags.Has(Partial) {
			writeLen = rec.Data[:rec.PartialSize]
		}
		if err := m.writeChunks(ctx, p, address, hdrBuf, writeLen); err != nil {
			return 0, err
		}
	}

	blobID := bh.Self

	if flags.Has(Partial) {
		end := rec.PartialOffset + rec.PartialSize
		if end < rec.Size {
			gapSize := uint64(rec.Size - end)
			gapAddr := address + uint64(HeaderSize()) + uint64(end)
			if err := m.writeZeroes(ctx, nil, gapAddr, gapSize); err != nil {
				return 0, err
			}
		}
	}

	if err := m.checkIntegrity(header); err != nil {
		return 0, err
	}

	return blobID, nil
}

// Read implements spec §4.3: fetch and validate the header, choose the
// zero-copy or copy path, and verify the CRC for multi-page blobs.
func (m *DiskBlobManager) Read(ctx *Context, blobID uint64, rec *Record, flags Flags) error {
	hdrBytes, hdrPage, err := m.readChunk(ctx, blobID, true)
	if err != nil {
		return err
	}
	header := DecodeBlobHeader(hdrBytes[:HeaderSize()])
	if header.Self != blobID {
		return sidberr.ErrBlobNotFound
	}

	blobSize := uint32(header.Size)
	if flags.Has(Partial) {
		if rec.PartialOffset > uint32(header.Size) {
			return sidberr.ErrInvalidParameter
		}
		if rec.PartialOffset+rec.PartialSize > uint32(header.Size) {
			rec.PartialSize = uint32(header.Size) - rec.PartialOffset
		}
		blobSize = rec.PartialSize
	}
	rec.Size = blobSize

	if blobSize == 0 {
		rec.Data = nil
		return nil
	}

	payloadOffset := uint32(0)
	if flags.Has(Partial) {
		payloadOffset = rec.PartialOffset
	}
	payloadAddr := blobID + uint64(HeaderSize()) + uint64(payloadOffset)

	if !flags.Has(ForceDeepCopy) && m.Device.IsMapped(blobID, blobSize) &&
		!header.IsCompressed() && !flags.Has(UserAlloc) && rec.UserBuffer == nil {
		data, _, err := m.readChunk(ctx, payloadAddr, true)
		if err != nil {
			return err
		}
		rec.Data = data[:blobSize]
	} else if header.IsCompressed() {
		if m.Compressor == nil {
			return errors.New("blob: blob is compressed but no compressor is configured")
		}
		arena := m.Compressor.Arena()
		rawLen := header.AllocSize - HeaderSize()
		if uint32(len(*arena)) < rawLen {
			*arena = make([]byte, rawLen)
		}
		if _, err := m.copyChunk(ctx, hdrPage, blobID+uint64(HeaderSize()), (*arena)[:rawLen], true); err != nil {
			return err
		}
		dst := rec.UserBuffer
		out, err := m.Compressor.Decompress((*arena)[:rawLen], int(blobSize), dst)
		if err != nil {
			return errors.Wrap(err, "blob: decompress")
		}
		rec.Data = out
	} else {
		dst := rec.UserBuffer
		if dst == nil {
			dst = make([]byte, blobSize)
		}
		if _, err := m.copyChunk(ctx, hdrPage, payloadAddr, dst[:blobSize], true); err != nil {
			return err
		}
		rec.Data = dst[:blobSize]
	}

	pageHeader := loadPageHeader(hdrPage)
	if pageHeader.NumPages > 1 && m.EnableCRC32 && !flags.Has(Partial) {
		want := pageHeader.CRC32()
		got := blobcrc.MurmurHash3_x86_32(rec.Data, 0)
		if want != got {
			log.WithFields(log.Fields{"blob_id": blobID, "want": want, "got": got}).
				Warn("blob: crc32 mismatch")
			return sidberr.ErrIntegrityViolated
		}
	}

	return nil
}

// Overwrite implements spec §4.4. Sizing ignores compression on purpose:
// the proposed alloc_size is always sizeof(header)+len(record), so an
// overwrite that would only fit after compressing still falls through to
// allocate+erase rather than silently reintroducing compression here.
func (m *DiskBlobManager) Overwrite(ctx *Context, oldID uint64, rec *Record, flags Flags) (uint64, error) {
	hdrBytes, p, err := m.readChunk(ctx, oldID, false)
	if err != nil {
		return 0, err
	}
	old := DecodeBlobHeader(hdrBytes[:HeaderSize()])
	if old.Self != oldID {
		return 0, sidberr.ErrBlobNotFound
	}

	proposedSize := HeaderSize() + uint32(len(rec.Data))
	if flags.Has(Partial) {
		proposedSize = HeaderSize() + rec.Size
	}

	if proposedSize <= old.AllocSize {
		newHeader := BlobHeader{
			Self:      old.Self,
			Size:      uint64(rec.Size),
			AllocSize: proposedSize,
		}
		if !flags.Has(Partial) {
			newHeader.Size = uint64(len(rec.Data))
		}
		hdrBuf := make([]byte, HeaderSize())
		newHeader.Encode(hdrBuf)

		if flags.Has(Partial) && rec.PartialOffset > 0 {
			// Preserved quirk (spec §9 open question c): the leading gap is
			// not zeroed here, unlike Allocate's partial path. Bytes from
			// the blob being overwritten may leak into the gap.
			if err := m.writeChunks(ctx, p, newHeader.Self, hdrBuf); err != nil {
				return 0, err
			}
			dataAddr := newHeader.Self + uint64(HeaderSize()) + uint64(rec.PartialOffset)
			if err := m.writeChunks(ctx, nil, dataAddr, rec.Data[:rec.PartialSize]); err != nil {
				return 0, err
			}
		} else {
			payload := rec.Data
			if flags.Has(Partial) {
				payload = rec.Data[:rec.PartialSize]
			}
			if err := m.writeChunks(ctx, p, newHeader.Self, hdrBuf, payload); err != nil {
				return 0, err
			}
		}

		pageHeader := loadPageHeader(p)
		if proposedSize < old.AllocSize {
			delta := old.AllocSize - proposedSize
			pageHeader.FreeBytes += delta
			addToFreelist(pageHeader, uint32(oldID+uint64(proposedSize)-p.Address()), delta)
		}
		if pageHeader.NumPages > 1 && m.EnableCRC32 && !flags.Has(Partial) {
			pageHeader.SetCRC32(blobcrc.MurmurHash3_x86_32(rec.Data, 0))
		}
		storePageHeader(p, pageHeader)

		return newHeader.Self, nil
	}

	newID, err := m.Allocate(ctx, rec, flags)
	if err != nil {
		return 0, err
	}
	if err := m.Erase(ctx, oldID); err != nil {
		return 0, err
	}
	return newID, nil
}

// Erase implements spec §4.5: return the whole run to the page manager if
// it becomes fully free, otherwise add the blob's footprint to the
// freelist.
func (m *DiskBlobManager) Erase(ctx *Context, blobID uint64) error {
	hdrBytes, p, err := m.readChunk(ctx, blobID, false)
	if err != nil {
		return err
	}
	header := DecodeBlobHeader(hdrBytes[:HeaderSize()])
	if header.Self != blobID {
		return sidberr.ErrBlobNotFound
	}

	pageHeader := loadPageHeader(p)
	pageHeader.FreeBytes += header.AllocSize

	fullyFree := pageHeader.FreeBytes == pageHeader.NumPages*m.Device.PageSizeBytes()-PageOverhead
	if fullyFree {
		numPages := pageHeader.NumPages
		pageHeader.Reset()
		storePageHeader(p, pageHeader)
		m.Pages.SetLastBlobPage(nil)
		return m.Pages.Del(ctx, p, numPages)
	}

	addToFreelist(pageHeader, uint32(blobID-p.Address()), header.AllocSize)
	storePageHeader(p, pageHeader)
	return nil
}

// allocFromFreelist implements spec §4.2's alloc_from_freelist: a linear
// scan for an exact-size slot (consumed whole) or a larger slot (shrunk
// from the front). Multi-page runs never use the freelist.
func allocFromFreelist(h *BlobPageHeader, size uint32) (uint32, bool) {
	if h.NumPages > 1 {
		return 0, false
	}
	for i := 0; i < FreelistCapacity; i++ {
		if h.FreelistSize(i) == size {
			off := h.FreelistOffset(i)
			h.SetFreelistOffset(i, 0)
			h.SetFreelistSize(i, 0)
			return off, true
		}
		if h.FreelistSize(i) > size {
			off := h.FreelistOffset(i)
			h.SetFreelistOffset(i, off+size)
			h.SetFreelistSize(i, h.FreelistSize(i)-size)
			return off, true
		}
	}
	return 0, false
}

// addToFreelist implements spec §4.5's add_to_freelist: coalesce with an
// adjacent slot if possible, else take an empty slot, else evict the
// smallest existing slot if the new region is larger (spec §9: bounded
// header size over perfect reclamation — the evicted gap is permanently
// lost). Per spec §9 open question (a), two-direction coalescing in a
// single call (merging with two neighboring slots at once) is
// deliberately not performed.
func addToFreelist(h *BlobPageHeader, offset, size uint32) {
	if h.NumPages > 1 {
		return
	}
	for i := 0; i < FreelistCapacity; i++ {
		if offset+size == h.FreelistOffset(i) {
			h.SetFreelistOffset(i, offset)
			h.SetFreelistSize(i, h.FreelistSize(i)+size)
			return
		}
		if h.FreelistOffset(i)+h.FreelistSize(i) == offset {
			h.SetFreelistSize(i, h.FreelistSize(i)+size)
			return
		}
	}

	smallest := 0
	for i := 0; i < FreelistCapacity; i++ {
		if h.FreelistSize(i) == 0 {
			h.SetFreelistOffset(i, offset)
			h.SetFreelistSize(i, size)
			return
		}
		if h.FreelistSize(i) < h.FreelistSize(smallest) {
			smallest = i
		}
	}

	if size > h.FreelistSize(smallest) {
		log.WithFields(log.Fields{"evicted_size": h.FreelistSize(smallest)}).
			Debug("blob: freelist full, evicting smallest slot")
		h.SetFreelistOffset(smallest, offset)
		h.SetFreelistSize(smallest, size)
	}
}

type freelistRange struct{ start, end uint32 }

// checkIntegrity implements spec §4.6/§8. Both the page-bound violation
// and the overlap violation are surfaced as sidberr.ErrIntegrityViolated;
// the original C++ distinguished a soft "return false" bounds check from a
// hard-throwing overlap check (itself gated by an ham_assert in the
// caller), a split that has no clean equivalent without a debug/release
// build switch. Spec §7 says both cases surface as a corruption error in
// release builds, which is what every caller here runs as.
func (m *DiskBlobManager) checkIntegrity(h *BlobPageHeader) error {
	if h.NumPages == 0 {
		return errors.New("blob: integrity violated: num_pages is zero")
	}
	pageSize := uint64(m.Device.PageSizeBytes())
	if uint64(h.FreeBytes)+uint64(PageOverhead) > pageSize*uint64(h.NumPages) {
		return sidberr.ErrIntegrityViolated
	}
	if h.NumPages > 1 {
		return nil
	}

	// Spec §9 open question (b): the original iterates `i < count - 1`,
	// which underflows if count == 0. FreelistCapacity is a compile-time
	// constant > 0 here, so the underflow can never actually trigger, but
	// the bound is kept exactly as `count - 1` (skipping the last slot,
	// matching the original) rather than widened to `count`, since the
	// spec asks only to guard the underflow, not to change which slots
	// get checked.
	count := FreelistCapacity
	var ranges []freelistRange
	var total uint32
	if count > 0 {
		for i := 0; i < count-1; i++ {
			sz := h.FreelistSize(i)
			if sz == 0 {
				continue
			}
			total += sz
			ranges = append(ranges, freelistRange{h.FreelistOffset(i), h.FreelistOffset(i) + sz})
		}
	}

	if total > h.FreeBytes {
		return sidberr.ErrIntegrityViolated
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	limit := uint32(pageSize * uint64(h.NumPages))
	if len(ranges) > 0 {
		for i := 0; i+1 < len(ranges); i++ {
			if ranges[i].end > limit {
				return sidberr.ErrIntegrityViolated
			}
			if ranges[i].end > ranges[i+1].start {
				return sidberr.ErrIntegrityViolated
			}
		}
	}
	return nil
}

// writeChunks implements spec §4.2's write_chunks: walk each chunk,
// fetching continuation pages (NoHeader) as needed, memcpy into the
// page's buffer, and mark it dirty.
func (m *DiskBlobManager) writeChunks(ctx *Context, startPage *page.Page, address uint64, chunks ...[]byte) error {
	pageSize := uint64(m.Device.PageSizeBytes())
	p := startPage
	for _, data := range chunks {
		for len(data) > 0 {
			pageID := address - address%pageSize
			if p != nil && p.Address() != pageID {
				p = nil
			}
			if p == nil {
				var err error
				p, err = m.Pages.Fetch(ctx, pageID, NoHeader)
				if err != nil {
					return err
				}
			}
			writeStart := address - p.Address()
			writeSize := pageSize - writeStart
			if writeSize > uint64(len(data)) {
				writeSize = uint64(len(data))
			}
			copy(p.Data()[writeStart:writeStart+writeSize], data[:writeSize])
			p.SetDirty(true)
			address += writeSize
			data = data[writeSize:]
		}
	}
	return nil
}

// writeZeroes fills size bytes of zero starting at address, split into
// page-sized chunks (spec §4.2 steps 8-9: partial-write gap fill).
func (m *DiskBlobManager) writeZeroes(ctx *Context, startPage *page.Page, address uint64, size uint64) error {
	pageSize := uint64(m.Device.PageSizeBytes())
	zero := make([]byte, pageSize)
	for size > 0 {
		chunk := pageSize
		if chunk > size {
			chunk = size
		}
		if err := m.writeChunks(ctx, startPage, address, zero[:chunk]); err != nil {
			return err
		}
		address += chunk
		size -= chunk
		startPage = nil
	}
	return nil
}

// readChunk implements spec §4.3's read_chunk: fetch the page containing
// address and return a slice starting at the in-page offset, plus the
// page itself so callers can keep reusing it as the "current" page for a
// following copyChunk call.
func (m *DiskBlobManager) readChunk(ctx *Context, address uint64, readOnly bool) ([]byte, *page.Page, error) {
	pageSize := uint64(m.Device.PageSizeBytes())
	pageID := address - address%pageSize
	var flags FetchFlags
	if readOnly {
		flags |= ReadOnly
	}
	p, err := m.Pages.Fetch(ctx, pageID, flags)
	if err != nil {
		return nil, nil, err
	}
	readStart := address - p.Address()
	return p.Data()[readStart:], p, nil
}

// copyChunk implements spec §4.3's copy_chunk: walk possibly-multiple
// pages, memcpy-ing into dst until it is full.
func (m *DiskBlobManager) copyChunk(ctx *Context, startPage *page.Page, address uint64, dst []byte, readOnly bool) (*page.Page, error) {
	pageSize := uint64(m.Device.PageSizeBytes())
	p := startPage
	first := true
	size := uint64(len(dst))
	off := uint64(0)
	for size > 0 {
		pageID := address - address%pageSize
		if p != nil && p.Address() != pageID {
			p = nil
		}
		if p == nil {
			var flags FetchFlags
			if readOnly {
				flags |= ReadOnly
			}
			if !first {
				flags |= NoHeader
			}
			var err error
			p, err = m.Pages.Fetch(ctx, pageID, flags)
			if err != nil {
				return nil, err
			}
		}
		readStart := address - p.Address()
		readSize := pageSize - readStart
		if readSize > size {
			readSize = size
		}
		copy(dst[off:off+readSize], p.Data()[readStart:readStart+readSize])
		address += readSize
		off += readSize
		size -= readSize
		first = false
	}
	return p, nil
}
