// Package cryptox provides authenticated encryption for OAuth tokens at
// rest. Tokens are sealed with AES-256-GCM and stored as three
// colon-delimited hex segments: iv:authTag:ciphertext.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeyHexLength is the expected length of the configured key: a
	// 32-byte secret encoded as hex.
	KeyHexLength = 64

	ivSize  = 16
	tagSize = 16
)

var (
	// ErrInvalidKey is returned for a key that is not 64 hex characters.
	// Fatal configuration error; validated once at process start.
	ErrInvalidKey = errors.New("encryption key must be 64 hex characters")

	// ErrMalformedCiphertext is returned when a stored value does not
	// have the iv:authTag:ciphertext shape.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrDecryptionFailed is returned when the authentication tag does
	// not verify. The caller must treat the connection as corrupted.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Cipher seals and opens token strings with a fixed 32-byte key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher parses and validates the hex-encoded key and builds the
// AES-GCM cipher used for all token encryption in the process.
func NewCipher(hexKey string) (*Cipher, error) {
	if len(hexKey) != KeyHexLength {
		return nil, ErrInvalidKey
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals a plaintext token under a fresh random IV and returns
// the iv:authTag:ciphertext hex wire format.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)

	// Seal appends the auth tag to the ciphertext; split it back out so
	// the stored value carries the tag as its own segment.
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a stored iv:authTag:ciphertext value. A wrong segment
// count yields ErrMalformedCiphertext; a failed authentication tag
// yields ErrDecryptionFailed. Both fail closed.
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 {
		return "", ErrMalformedCiphertext
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", ErrMalformedCiphertext
	}

	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrMalformedCiphertext
	}

	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedCiphertext
	}

	plaintext, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}
