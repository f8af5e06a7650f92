// Package compressor adapts the teacher project's free-function
// Compressor/DeCompressor pair (compress.go: SnappyCompress/Lz4Compress)
// into the stateful Codec contract the blob manager needs: a compress/
// decompress pair plus a scratch arena, owned by the codec value, that
// persists between calls (compressor collaborator contract, spec §6).
package compressor

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

// Codec compresses and decompresses blob payloads and exposes a reusable
// scratch arena so DiskBlobManager.Read can decompress without allocating a
// fresh buffer on every call.
type Codec interface {
	// Compress returns the compressed form of input. Callers must check
	// whether the result is actually shorter before adopting it.
	Compress(input []byte) ([]byte, error)

	// Decompress inflates input, which is known to expand to expectedLen
	// bytes, into dst if dst is non-nil, or into a freshly sized slice if
	// dst is nil. A non-nil dst too small for the output is an error.
	Decompress(input []byte, expectedLen int, dst []byte) ([]byte, error)

	// Arena returns the codec's persistent scratch buffer.
	Arena() *[]byte
}

type codec struct {
	arena   []byte
	compress func([]byte) ([]byte, error)
	decompress func([]byte, int) ([]byte, error)
}

func (c *codec) Compress(input []byte) ([]byte, error) {
	return c.compress(input)
}

func (c *codec) Decompress(input []byte, expectedLen int, dst []byte) ([]byte, error) {
	out, err := c.decompress(input, expectedLen)
	if err != nil {
		return nil, err
	}
	if dst != nil {
		if len(dst) < len(out) {
			return nil, errors.New("compressor: destination buffer too small")
		}
		copy(dst, out)
		return dst[:len(out)], nil
	}
	return out, nil
}

func (c *codec) Arena() *[]byte {
	return &c.arena
}

// None is a no-op codec: Compress returns its input unchanged, Decompress
// copies input verbatim. New returns it when Options.Compression is unset.
// (A call with DisableCompression skips whatever codec is configured.)
func None() Codec {
	return &codec{
		compress: func(in []byte) ([]byte, error) { return in, nil },
		decompress: func(in []byte, _ int) ([]byte, error) { return in, nil },
	}
}

// Snappy wraps golang/snappy, mirroring the teacher's SnappyCompress/
// SnappyDeCompress free functions (compress.go).
func Snappy() Codec {
	return &codec{
		compress: func(in []byte) ([]byte, error) {
			return snappy.Encode(nil, in), nil
		},
		decompress: func(in []byte, expectedLen int) ([]byte, error) {
			dst := make([]byte, 0, expectedLen)
			out, err := snappy.Decode(dst, in)
			if err != nil {
				return nil, errors.Wrap(err, "snappy decode")
			}
			return out, nil
		},
	}
}

// LZ4 wraps pierrec/lz4, mirroring the teacher's Lz4Compress/
// Lz4DeCompress free functions (compress.go).
func LZ4() Codec {
	return &codec{
		compress: func(in []byte) ([]byte, error) {
			buf := &bytes.Buffer{}
			w := lz4.NewWriter(buf)
			w.NoChecksum = true
			if _, err := w.Write(in); err != nil {
				return nil, errors.Wrap(err, "lz4 write")
			}
			if err := w.Close(); err != nil {
				return nil, errors.Wrap(err, "lz4 close")
			}
			return buf.Bytes(), nil
		},
		decompress: func(in []byte, expectedLen int) ([]byte, error) {
			buf := bytes.NewBuffer(make([]byte, 0, expectedLen))
			r := lz4.NewReader(bytes.NewReader(in))
			if _, err := buf.ReadFrom(r); err != nil {
				return nil, errors.Wrap(err, "lz4 read")
			}
			return buf.Bytes(), nil
		},
	}
}

// Algorithm identifies a compression codec, mirroring the teacher's
// CompressAlgorithm enum (compress.go) so Options.Compression can reuse the
// same small closed set instead of inventing a parallel one.
type Algorithm uint16

const (
	AlgorithmNone Algorithm = iota
	AlgorithmSnappy
	AlgorithmLZ4
)

// New resolves an Algorithm into a Codec.
func New(a Algorithm) Codec {
	switch a {
	case AlgorithmSnappy:
		return Snappy()
	case AlgorithmLZ4:
		return LZ4()
	default:
		return None()
	}
}
