// Package crypto implements the confidentiality wrap applied to Tachikoma
// records at rest. Records are JSON-encoded and sealed with AES-256-GCM
// under a fixed shared key; the durable store only ever sees opaque blobs.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the required key length for AES-256-GCM (32 bytes).
	KeySize = 32

	nonceSize = 12
)

var (
	ErrInvalidKeySize = fmt.Errorf("crypto: key must be exactly %d bytes", KeySize)
	ErrBlobTooShort   = errors.New("crypto: sealed blob too short")
)

// Sealer seals and unseals records with a single symmetric key. The sealed
// layout is [nonce(12)] + [ciphertext]; a fresh random nonce is drawn per
// Seal call, so sealing the same record twice yields different blobs.
//
// A Sealer is safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer returns a Sealer keyed with the given 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal JSON-encodes v and encrypts the encoding into an opaque blob.
func (s *Sealer) Seal(v any) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("crypto: encode record: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	// Seal appends the encrypted+authenticated ciphertext to the nonce.
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

// Unseal decrypts a blob produced by Seal and decodes the recovered JSON
// into v. Unsealing a blob produced under a different key fails.
func (s *Sealer) Unseal(blob []byte, v any) error {
	if len(blob) < nonceSize {
		return ErrBlobTooShort
	}

	nonce, data := blob[:nonceSize], blob[nonceSize:]
	plain, err := s.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return fmt.Errorf("crypto: decrypt: %w", err)
	}

	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("crypto: decode record: %w", err)
	}
	return nil
}
