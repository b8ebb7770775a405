// ABOUTME: AES-256-GCM sealing for secrets at rest, hex encoded with the nonce prepended
// ABOUTME: Keys are stretched from an operator-supplied string with SHA-256

package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrDecrypt is returned when ciphertext was sealed with another key or was tampered with.
var ErrDecrypt = errors.New("decryption failed (wrong key or tampered data)")

// DeriveKey stretches an arbitrary passphrase into a 32-byte AES-256 key.
func DeriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// Encrypt takes a plaintext and a 32-byte key, returning an encrypted hex string.
func Encrypt(plaintext []byte, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	// Nonce is prepended so Decrypt can recover it.
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt takes the hex string and the 32-byte key to return the original bytes.
func Decrypt(cipherHex string, key []byte) ([]byte, error) {
	data, err := hex.DecodeString(cipherHex)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Cipher seals strings with a fixed key. It is safe for concurrent use.
type Cipher struct {
	key []byte
}

// NewCipher returns a Cipher keyed by DeriveKey(passphrase).
func NewCipher(passphrase string) *Cipher {
	return &Cipher{key: DeriveKey(passphrase)}
}

// Seal encrypts s.
func (c *Cipher) Seal(s string) (string, error) {
	return Encrypt([]byte(s), c.key)
}

// Open decrypts a value produced by Seal.
func (c *Cipher) Open(sealed string) (string, error) {
	b, err := Decrypt(sealed, c.key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
