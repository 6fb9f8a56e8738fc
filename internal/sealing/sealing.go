// Package sealing implements authenticated encryption of document bytes.
//
// A sealed blob is laid out as IV (12 bytes) | TAG (16 bytes) | CIPHERTEXT, using AES-256-GCM.
package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"ehranchor/internal/domain"
)

const (
	// KeySize is the AES-256 key length
	KeySize = 32
	// NonceSize is the GCM nonce length
	NonceSize = 12
	// TagSize is the GCM authentication tag length
	TagSize = 16
	// Overhead is the minimum length of a sealed blob
	Overhead = NonceSize + TagSize
)

// Engine seals and opens documents with a fixed key.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	aead cipher.AEAD
	rand io.Reader
}

// DeriveKey turns an operator supplied master secret into a 32 byte key.
// The derivation is deterministic so documents sealed earlier stay readable.
func DeriveKey(master string) []byte {
	sum := sha256.Sum256([]byte(master))
	return sum[:]
}

// New creates an Engine for the given 32 byte key
func New(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Engine{aead: aead, rand: rand.Reader}, nil
}

// Seal encrypts plaintext under a fresh random nonce
func (e *Engine) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// GCM appends the tag after the ciphertext; the wire layout wants it up front.
	out := e.aead.Seal(nil, nonce, plaintext, nil)
	ct, tag := out[:len(out)-TagSize], out[len(out)-TagSize:]

	sealed := make([]byte, 0, Overhead+len(ct))
	sealed = append(sealed, nonce...)
	sealed = append(sealed, tag...)
	sealed = append(sealed, ct...)
	return sealed, nil
}

// Open authenticates and decrypts a sealed blob.
// It fails with domain.ErrMalformedInput when the blob is shorter than Overhead and with
// domain.ErrIntegrity when authentication fails.
func (e *Engine) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("sealed blob is %d bytes, need at least %d: %w", len(sealed), Overhead, domain.ErrMalformedInput)
	}
	nonce := sealed[:NonceSize]
	tag := sealed[NonceSize:Overhead]
	ct := sealed[Overhead:]

	buf := make([]byte, 0, len(ct)+TagSize)
	buf = append(buf, ct...)
	buf = append(buf, tag...)

	plaintext, err := e.aead.Open(nil, nonce, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", domain.ErrIntegrity)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
