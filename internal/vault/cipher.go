// Package vault encrypts key vault secrets at rest.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of a vault key in bytes
const KeySize = chacha20poly1305.KeySize

const derivationInfo = "safecrypt key vault v1"

// ErrDecrypt is returned when a sealed value fails authentication
var ErrDecrypt = errors.New("vault: sealed value could not be opened")

// Cipher seals values with XChaCha20-Poly1305. Sealed values carry their
// nonce as a prefix.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce. aad is authenticated
// but not stored; Open must be given the same aad.
func (c *Cipher) Seal(plaintext, aad []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, aad), nil
}

func (c *Cipher) Open(sealed, aad []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize+c.aead.Overhead() {
		return nil, ErrDecrypt
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// LoadKey decodes a base64 vault key. An empty key is derived from fallback
// with HKDF-SHA256 and derived is reported true.
func LoadKey(encoded, fallback string) (key []byte, derived bool, err error) {
	if encoded == "" {
		if fallback == "" {
			return nil, false, errors.New("vault: no key and nothing to derive one from")
		}
		key = make([]byte, KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(fallback), nil, []byte(derivationInfo)), key); err != nil {
			return nil, false, fmt.Errorf("vault: failed to derive key: %w", err)
		}
		return key, true, nil
	}

	key, err = base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("vault: key is not valid base64: %w", err)
	}
	if len(key) != KeySize {
		return nil, false, fmt.Errorf("vault: key must be %d bytes (got %d)", KeySize, len(key))
	}
	return key, false, nil
}
