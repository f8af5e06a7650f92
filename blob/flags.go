package blob

// Flags is the single bitset shared by Allocate, Read and Overwrite,
// mirroring the original implementation's single uint32 flags word
// (HAM_PARTIAL, kDisableCompression, HAM_FORCE_DEEP_COPY,
// HAM_RECORD_USER_ALLOC all live in one namespace there too). The bit
// operations below are the same shape as the teacher project's flag.go
// (Set/Clear/Toggle/Has over a raw byte), specialized to this named type
// instead of kept as untyped uint8 helpers.
type Flags uint32

const (
	// Partial indicates record.PartialOffset/PartialSize describe a
	// sub-range write or read rather than the whole logical blob.
	Partial Flags = 1 << iota
	// DisableCompression skips the configured compressor for this call.
	DisableCompression
	// ForceDeepCopy forces Read to copy even when the blob is mmap-backed
	// and uncompressed.
	ForceDeepCopy
	// UserAlloc indicates the caller supplied its own destination buffer
	// for Read, so no arena buffer should be allocated.
	UserAlloc
)

// Has reports whether bit is set in f.
func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Set returns f with bit set.
func (f Flags) Set(bit Flags) Flags { return f | bit }

// Clear returns f with bit cleared.
func (f Flags) Clear(bit Flags) Flags { return f &^ bit }

// FetchFlags controls how PageManager.Fetch returns a page.
type FetchFlags uint8

const (
	// ReadOnly hints that the fetched page will not be mutated.
	ReadOnly FetchFlags = 1 << iota
	// NoHeader marks the fetch as targeting a continuation page of a
	// multi-page blob run, or any page accessed mid-blob without needing
	// its BlobPageHeader.
	NoHeader
)

// Has reports whether bit is set in f.
func (f FetchFlags) Has(bit FetchFlags) bool { return f&bit != 0 }
