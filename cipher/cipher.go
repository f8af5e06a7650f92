// Package cipher defines the pluggable encryption hook the device layer
// writes and reads through. Per spec §9 "Encryption and compression hooks",
// correctness of the store never depends on encryption being enabled; the
// hook exists so a real cipher can be wired in without touching the device.
//
// No AES implementation appears anywhere in the retrieved example pack for
// this domain, so the one concrete adapter here (AESOffsetCipher) is built
// on the standard library's crypto/aes and crypto/cipher (see DESIGN.md):
// the *interface* and its wiring into Device are the domain contribution,
// the block cipher primitive itself is not a concern any example repo
// covers with a third-party package.
package cipher

import (
	stdcipher "crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/pkg/errors"
)

// BlockCipher encrypts and decrypts fixed-size pages keyed by file offset.
// Encryption forbids sub-page writes: callers must only invoke it for
// writes where offset % len(buf) == 0 (enforced by device.Write, not here).
type BlockCipher interface {
	// EncryptAt returns ciphertext for plaintext, derived using offset.
	// The returned slice is scratch owned by the cipher and is
	// overwritten by the next call.
	EncryptAt(offset uint64, plaintext []byte) ([]byte, error)

	// DecryptAt decrypts buf in place, using offset to re-derive the
	// same keystream EncryptAt used.
	DecryptAt(offset uint64, buf []byte) error
}

// AESOffsetCipher derives a per-offset counter value for AES-CTR the way
// the original device used AesCipher(key, offset) at every read_page/write
// call site (see original_source/.../device_disk.h lines 185, 202): the
// file offset seeds the nonce, so identical offsets always re-derive the
// same keystream and no nonce needs to be persisted alongside the data.
type AESOffsetCipher struct {
	block  cipher.Block
	scratch []byte
}

// NewAESOffsetCipher builds a cipher from a 16/24/32-byte AES key.
func NewAESOffsetCipher(key []byte) (*AESOffsetCipher, error) {
	block, err := stdcipher.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "cipher: invalid AES key")
	}
	return &AESOffsetCipher{block: block}, nil
}

func (c *AESOffsetCipher) iv(offset uint64) []byte {
	iv := make([]byte, stdcipher.BlockSize)
	binary.LittleEndian.PutUint64(iv, offset)
	return iv
}

// EncryptAt implements BlockCipher.
func (c *AESOffsetCipher) EncryptAt(offset uint64, plaintext []byte) ([]byte, error) {
	if cap(c.scratch) < len(plaintext) {
		c.scratch = make([]byte, len(plaintext))
	}
	out := c.scratch[:len(plaintext)]
	stream := cipher.NewCTR(c.block, c.iv(offset))
	stream.XORKeyStream(out, plaintext)
	return out, nil
}

// DecryptAt implements BlockCipher.
func (c *AESOffsetCipher) DecryptAt(offset uint64, buf []byte) error {
	stream := cipher.NewCTR(c.block, c.iv(offset))
	stream.XORKeyStream(buf, buf)
	return nil
}
