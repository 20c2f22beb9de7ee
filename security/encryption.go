package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrCiphertextTooShort is returned by Open when the input cannot hold a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Encryptor seals store records at rest with AES-256-GCM. The zero key
// produces a pass-through Encryptor so callers need no branching.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an encryptor for key. A nil or empty key disables
// encryption; any other length than KeySize is an error.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return &Encryptor{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// IsEnabled reports whether Seal actually encrypts
func (e *Encryptor) IsEnabled() bool {
	return e != nil && e.aead != nil
}

// Seal encrypts plaintext. The output layout is nonce || ciphertext || tag.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	if !e.IsEnabled() {
		return plaintext, nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (e *Encryptor) Open(sealed []byte) ([]byte, error) {
	if !e.IsEnabled() {
		return sealed, nil
	}
	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := e.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// GenerateKey generates a new random AES-256 key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a standard base64 encryption key and checks its length
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
