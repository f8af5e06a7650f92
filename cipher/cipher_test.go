package cipher

import (
	"bytes"
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

func TestAESOffsetCipherRoundTrip(t *testing.T) {
	assert := assertion.New(t)

	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := NewAESOffsetCipher(key)
	assert.NoError(err)

	plaintext := bytes.Repeat([]byte("page-data"), 50)
	ciphertext, err := c.EncryptAt(4096, plaintext)
	assert.NoError(err)
	assert.NotEqual(plaintext, ciphertext)
	assert.Len(ciphertext, len(plaintext))

	decrypted := make([]byte, len(ciphertext))
	copy(decrypted, ciphertext)
	assert.NoError(c.DecryptAt(4096, decrypted))
	assert.Equal(plaintext, decrypted)
}

func TestAESOffsetCipherDifferentOffsetsDifferentCiphertext(t *testing.T) {
	assert := assertion.New(t)

	key := bytes.Repeat([]byte{0x07}, 32)
	c, err := NewAESOffsetCipher(key)
	assert.NoError(err)

	plaintext := bytes.Repeat([]byte("x"), 64)
	out, err := c.EncryptAt(0, plaintext)
	assert.NoError(err)
	a := append([]byte(nil), out...)

	out, err = c.EncryptAt(4096, plaintext)
	assert.NoError(err)
	b := append([]byte(nil), out...)

	assert.NotEqual(a, b)
}

func TestNewAESOffsetCipherRejectsBadKeyLength(t *testing.T) {
	assert := assertion.New(t)

	_, err := NewAESOffsetCipher([]byte("too-short"))
	assert.Error(err)
}
