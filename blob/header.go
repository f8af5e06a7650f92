package blob

import "encoding/binary"

// FreelistCapacity is the fixed number of (offset, size) slots carried by
// every BlobPageHeader. Spec §9 calls this out as a deliberate trade-off:
// bounded header size over perfect reclamation — small gaps can be
// permanently lost once every slot is in use and a larger region evicts
// the smallest one.
const FreelistCapacity = 16

// blobHeaderSize is sizeof(BlobHeader) on disk: self(8) + size(8) +
// allocSize(4) + flags(4).
const blobHeaderSize = 24

// FlagCompressed is bit 0 of BlobHeader.Flags.
const FlagCompressed uint32 = 1 << 0

// BlobHeader is the fixed-size, self-identifying prefix written immediately
// before every blob's payload. BlobHeader.Self equals the absolute file
// offset of the header itself — this is what lets a read validate that a
// blob-id still points at a live blob without consulting any external
// index (spec §3, §9 "Self-identifying records").
type BlobHeader struct {
	Self      uint64
	Size      uint64
	AllocSize uint32
	Flags     uint32
}

// HeaderSize returns sizeof(BlobHeader) on disk.
func HeaderSize() uint32 { return blobHeaderSize }

// IsCompressed reports whether FlagCompressed is set.
func (h *BlobHeader) IsCompressed() bool { return h.Flags&FlagCompressed != 0 }

// Encode writes h's little-endian representation into buf, which must be
// at least blobHeaderSize bytes.
func (h *BlobHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.Self)
	binary.LittleEndian.PutUint64(buf[8:16], h.Size)
	binary.LittleEndian.PutUint32(buf[16:20], h.AllocSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.Flags)
}

// DecodeBlobHeader reads a BlobHeader from its little-endian
// representation in buf.
func DecodeBlobHeader(buf []byte) BlobHeader {
	return BlobHeader{
		Self:      binary.LittleEndian.Uint64(buf[0:8]),
		Size:      binary.LittleEndian.Uint64(buf[8:16]),
		AllocSize: binary.LittleEndian.Uint32(buf[16:20]),
		Flags:     binary.LittleEndian.Uint32(buf[20:24]),
	}
}

// freelistSlot is a single (offset, size) entry, page-run-relative.
type freelistSlot struct {
	Offset uint32
	Size   uint32
}

// PageOverhead is the fixed number of bytes reserved at the start of the
// first page of every run for a BlobPageHeader (spec's kPageOverhead).
const PageOverhead = 8 + FreelistCapacity*8

// BlobPageHeader sits at offset 0 of the first page of every page run used
// for blobs. For single-page runs its freelist tracks free (offset, size)
// regions within the run; for multi-page runs the freelist is unused
// except that slot 0's Offset field is repurposed to hold the blob
// payload's MurmurHash3-x86-32 checksum, when CRC is enabled and the
// write was not partial (spec §3).
type BlobPageHeader struct {
	NumPages  uint32
	FreeBytes uint32
	freelist  [FreelistCapacity]freelistSlot
}

// Encode writes h's little-endian representation into buf, which must be
// at least PageOverhead bytes.
func (h *BlobPageHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.NumPages)
	binary.LittleEndian.PutUint32(buf[4:8], h.FreeBytes)
	off := 8
	for i := range h.freelist {
		binary.LittleEndian.PutUint32(buf[off:off+4], h.freelist[i].Offset)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], h.freelist[i].Size)
		off += 8
	}
}

// DecodeBlobPageHeader reads a BlobPageHeader from its little-endian
// representation in buf.
func DecodeBlobPageHeader(buf []byte) *BlobPageHeader {
	h := &BlobPageHeader{
		NumPages:  binary.LittleEndian.Uint32(buf[0:4]),
		FreeBytes: binary.LittleEndian.Uint32(buf[4:8]),
	}
	off := 8
	for i := range h.freelist {
		h.freelist[i].Offset = binary.LittleEndian.Uint32(buf[off : off+4])
		h.freelist[i].Size = binary.LittleEndian.Uint32(buf[off+4 : off+8])
		off += 8
	}
	return h
}

// Reset zeroes the header, as done when a page run is returned to the
// page manager fully empty (spec §4.5 erase step 3).
func (h *BlobPageHeader) Reset() {
	*h = BlobPageHeader{}
}

// FreelistOffset returns slot i's offset (or, for multi-page runs, the
// repurposed CRC32 stored at slot 0).
func (h *BlobPageHeader) FreelistOffset(i int) uint32 { return h.freelist[i].Offset }

// FreelistSize returns slot i's size.
func (h *BlobPageHeader) FreelistSize(i int) uint32 { return h.freelist[i].Size }

// SetFreelistOffset sets slot i's offset.
func (h *BlobPageHeader) SetFreelistOffset(i int, v uint32) { h.freelist[i].Offset = v }

// SetFreelistSize sets slot i's size.
func (h *BlobPageHeader) SetFreelistSize(i int, v uint32) { h.freelist[i].Size = v }

// CRC32 returns the checksum stored in freelist slot 0, valid only for
// multi-page runs with CRC enabled.
func (h *BlobPageHeader) CRC32() uint32 { return h.freelist[0].Offset }

// SetCRC32 stores crc in freelist slot 0.
func (h *BlobPageHeader) SetCRC32(crc uint32) { h.freelist[0].Offset = crc }
