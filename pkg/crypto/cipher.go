// Package crypto provides the authenticated symmetric cipher used for
// at-rest secrets (cloud provider keys, registry tokens, TOTP seeds).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// keyVersion is prepended to every ciphertext so a future key rotator can
// identify which key encrypted a payload.
const keyVersion byte = 0x01

// KeySize is the required symmetric key length in bytes (AES-256).
const KeySize = 32

// Cipher performs AES-256-GCM authenticated encryption.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a hex-encoded 32-byte key.
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key encoding: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext. Output layout: version byte || nonce || ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, keyVersion)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt. Payloads with an unknown
// version byte are rejected rather than tried against the current key.
func (c *Cipher) Decrypt(payload []byte) ([]byte, error) {
	if len(payload) < 1+c.aead.NonceSize()+c.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	if payload[0] != keyVersion {
		return nil, fmt.Errorf("unknown key version %#x", payload[0])
	}

	nonce := payload[1 : 1+c.aead.NonceSize()]
	ciphertext := payload[1+c.aead.NonceSize():]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// GenerateKey returns a fresh hex-encoded key suitable for NewCipher.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
