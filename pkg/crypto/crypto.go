package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrDecrypt = errors.New("crypto: message authentication failed")

// Sealer encrypts provider credentials and settings blobs at rest.
type Sealer struct {
	key [keySize]byte
}

// NewSealer accepts a base64 encoded 32-byte key. Any other non-empty value
// is treated as a passphrase and stretched with HKDF-SHA256.
func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return nil, errors.New("crypto: encryption key is empty")
	}

	s := &Sealer{}
	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) == keySize {
		copy(s.key[:], raw)
		return s, nil
	}

	r := hkdf.New(sha256.New, []byte(key), []byte("uou-settings"), nil)
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return s, nil
}

// Seal returns nonce || secretbox(plaintext).
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	out, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

// SealString is Seal for text columns; the result is base64.
func (s *Sealer) SealString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	out, err := s.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Sealer) OpenString(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	out, err := s.Open(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// GenerateKey returns a fresh base64 key suitable for NewSealer.
func GenerateKey() (string, error) {
	var k [keySize]byte
	if _, err := rand.Read(k[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k[:]), nil
}
