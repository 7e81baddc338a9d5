// Package secrets implements the sealed storage of credential material.
//
// Purpose:
// - AES-256-GCM authenticated encryption of credential values
// - Key derivation from the operator-supplied secret (HKDF by default)
// - Lossy masking for API responses
// - Constant-time comparison for secret material
//
// Sealed blobs are base64(IV || ciphertext || tag) and never leave the
// process; decrypted values live on the stack for the duration of a single
// probe and are never logged.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/velzox/apimon/core"
)

const (
	keyLen   = 32 // AES-256
	ivLen    = 12 // 96-bit GCM nonce
	tagLen   = 16 // 128-bit GCM tag
	hkdfInfo = "apimon/credential-sealing/v1"

	// minSecretLen is enforced in HKDF mode only. The legacy mode accepts
	// any non-empty secret for compatibility with existing stores.
	minSecretLen = 16
)

// Box seals and opens credential material with a process-wide derived key.
// It is safe for concurrent use.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives the AES-256 key from the configured secret and returns a
// ready Box. In HKDF mode the secret is stretched with HKDF-SHA256 under a
// fixed context label; in legacy mode it is right-padded or truncated to 32
// bytes, matching stores sealed by earlier deployments.
func NewBox(cfg core.EncryptionConfig) (*Box, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("derive key: %w", core.ErrMissingConfiguration)
	}

	var key []byte
	switch cfg.KDF {
	case core.KDFLegacy:
		key = make([]byte, keyLen)
		copy(key, cfg.Secret)
	case core.KDFHKDF, "":
		if len(cfg.Secret) < minSecretLen {
			return nil, fmt.Errorf("derive key: %w: need at least %d bytes", core.ErrWeakSecret, minSecretLen)
		}
		key = make([]byte, keyLen)
		r := hkdf.New(sha256.New, []byte(cfg.Secret), nil, []byte(hkdfInfo))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("derive key: %w: %v", core.ErrCryptoFailure, err)
		}
	default:
		return nil, fmt.Errorf("derive key: %w: unknown KDF %q", core.ErrInvalidConfiguration, cfg.KDF)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w: %v", core.ErrCryptoFailure, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w: %v", core.ErrCryptoFailure, err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random IV and returns
// base64(IV || ciphertext || tag).
func (b *Box) Seal(plaintext string) (string, error) {
	if b == nil || b.aead == nil {
		return "", core.ErrKeyNotDerived
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("seal: %w: %v", core.ErrCryptoFailure, err)
	}

	sealed := b.aead.Seal(iv, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open authenticates and decrypts a sealed blob. Any tamper, truncation, or
// wrong-key condition fails with a crypto error.
func (b *Box) Open(ciphertext string) (string, error) {
	if b == nil || b.aead == nil {
		return "", core.ErrKeyNotDerived
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("open: %w: %v", core.ErrCiphertextForm, err)
	}
	if len(raw) < ivLen+tagLen {
		return "", fmt.Errorf("open: %w: blob too short", core.ErrCiphertextForm)
	}

	plaintext, err := b.aead.Open(nil, raw[:ivLen], raw[ivLen:], nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", core.ErrCryptoFailure)
	}
	return string(plaintext), nil
}

// Mask returns the display form of a secret: "****" plus the last four
// characters, or just "****" for values shorter than five characters.
// The mask is lossy.
func Mask(value string) string {
	runes := []rune(value)
	if len(runes) < 5 {
		return "****"
	}
	return "****" + string(runes[len(runes)-4:])
}

// ConstantTimeEqual compares two strings without short-circuiting on the
// first mismatching byte. Differing lengths return false immediately; length
// is not secret here.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
