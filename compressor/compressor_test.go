package compressor

import (
	"bytes"
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

func roundTrip(t *testing.T, codec Codec) {
	assert := assertion.New(t)

	input := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 64)
	compressed, err := codec.Compress(input)
	assert.NoError(err)

	out, err := codec.Decompress(compressed, len(input), nil)
	assert.NoError(err)
	assert.Equal(input, out)
}

func TestNoneRoundTrip(t *testing.T) {
	roundTrip(t, None())
}

func TestSnappyRoundTrip(t *testing.T) {
	roundTrip(t, Snappy())
}

func TestLZ4RoundTrip(t *testing.T) {
	roundTrip(t, LZ4())
}

func TestSnappyCompressesRepetitiveInput(t *testing.T) {
	assert := assertion.New(t)

	input := bytes.Repeat([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 128)
	compressed, err := Snappy().Compress(input)
	assert.NoError(err)
	assert.Less(len(compressed), len(input))
}

func TestDecompressIntoUndersizedDestinationFails(t *testing.T) {
	assert := assertion.New(t)

	codec := Snappy()
	input := bytes.Repeat([]byte("data"), 256)
	compressed, err := codec.Compress(input)
	assert.NoError(err)

	dst := make([]byte, 4)
	_, err = codec.Decompress(compressed, len(input), dst)
	assert.Error(err)
}

func TestNewResolvesAlgorithm(t *testing.T) {
	assert := assertion.New(t)

	assert.NotNil(New(AlgorithmNone))
	assert.NotNil(New(AlgorithmSnappy))
	assert.NotNil(New(AlgorithmLZ4))
}

func TestArenaPersistsAcrossCalls(t *testing.T) {
	assert := assertion.New(t)

	codec := Snappy()
	arena := codec.Arena()
	*arena = make([]byte, 16)
	assert.Same(arena, codec.Arena())
	assert.Len(*codec.Arena(), 16)
}
