// Package secrets seals credentials at rest. A sealed value looks like ENC[v2]:<base64>,
// where the version names the key it was sealed with, so keys can be rotated without
// re-issuing every stored value at once.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

const sealedPrefix = "ENC[v"

var (
	ErrInvalidKey    = errors.New("secrets: key must be 32 bytes")
	ErrMalformed     = errors.New("secrets: malformed sealed value")
	ErrOpenFailed    = errors.New("secrets: cannot open sealed value")
	ErrNoKey         = errors.New("secrets: no sealing key configured")
	ErrUnknownKeyVer = errors.New("secrets: key version not loaded")
)

// Sealer seals and opens values with one AES-256-GCM key.
type Sealer struct {
	aead    cipher.AEAD
	version int
}

// NewSealer builds a sealer for key, tagging its output with version.
func NewSealer(key []byte, version int) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: gcm: %w", err)
	}
	return &Sealer{aead: aead, version: version}, nil
}

// Version is the key version this sealer writes.
func (s *Sealer) Version() int { return s.version }

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	// The version tag is authenticated so a value cannot be replayed under another key slot.
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), s.additionalData())
	return sealedPrefix + strconv.Itoa(s.version) + "]:" + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal with the same key.
func (s *Sealer) Open(sealed string) (string, error) {
	version, payload, err := split(sealed)
	if err != nil {
		return "", err
	}
	if version != s.version {
		return "", fmt.Errorf("%w: sealed with v%d, sealer holds v%d", ErrUnknownKeyVer, version, s.version)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) < s.aead.NonceSize() {
		return "", ErrMalformed
	}
	n := s.aead.NonceSize()
	plain, err := s.aead.Open(nil, data[:n], data[n:], s.additionalData())
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

func (s *Sealer) additionalData() []byte {
	return []byte("v" + strconv.Itoa(s.version))
}

// IsSealed reports whether v carries the sealed-value prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealedPrefix)
}

// split parses ENC[vN]:payload.
func split(sealed string) (int, string, error) {
	if !IsSealed(sealed) {
		return 0, "", ErrMalformed
	}
	rest := sealed[len(sealedPrefix):]
	end := strings.Index(rest, "]:")
	if end <= 0 {
		return 0, "", ErrMalformed
	}
	version, err := strconv.Atoi(rest[:end])
	if err != nil || version <= 0 {
		return 0, "", ErrMalformed
	}
	return version, rest[end+2:], nil
}

// GenerateKey returns a random key, base64 encoded for use in the environment.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("secrets: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
