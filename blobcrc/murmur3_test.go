package blobcrc

import (
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

func TestMurmurHash3_x86_32_EmptyInput(t *testing.T) {
	assert := assertion.New(t)
	assert.Equal(uint32(0), MurmurHash3_x86_32(nil, 0))
}

func TestMurmurHash3_x86_32_SensitiveToInput(t *testing.T) {
	assert := assertion.New(t)

	a := MurmurHash3_x86_32([]byte("hello"), 0)
	b := MurmurHash3_x86_32([]byte("hellp"), 0)
	assert.NotEqual(a, b)
}

func TestMurmurHash3_x86_32_SeedChangesResult(t *testing.T) {
	assert := assertion.New(t)

	data := []byte("the quick brown fox")
	h0 := MurmurHash3_x86_32(data, 0)
	h1 := MurmurHash3_x86_32(data, 1)
	assert.NotEqual(h0, h1)
}

func TestMurmurHash3_x86_32_DeterministicAcrossLengths(t *testing.T) {
	assert := assertion.New(t)

	for _, n := range []int{0, 1, 2, 3, 4, 5, 16, 17, 1000} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		first := MurmurHash3_x86_32(data, 0)
		second := MurmurHash3_x86_32(data, 0)
		assert.Equal(first, second, "length %d", n)
	}
}
