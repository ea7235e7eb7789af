package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const encryptionSalt = "session-bridge-totp-encryption"

// SecretBox encrypts TOTP secrets at rest with AES-256-GCM.  The key is
// derived from a configured passphrase with HKDF-SHA256.  A zero-value
// or nil SecretBox stores secrets in plaintext.
type SecretBox struct {
	key []byte
}

// NewSecretBox derives the encryption key from passphrase.  An empty
// passphrase disables encryption.
func NewSecretBox(passphrase string) (*SecretBox, error) {
	if passphrase == "" {
		return &SecretBox{}, nil
	}
	r := hkdf.New(sha256.New, []byte(passphrase), []byte(encryptionSalt), []byte("encryption-key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	return &SecretBox{key: key}, nil
}

// Enabled reports whether secrets are encrypted.
func (b *SecretBox) Enabled() bool { return b != nil && len(b.key) > 0 }

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func (b *SecretBox) Seal(plaintext string) (string, error) {
	if !b.Enabled() {
		return plaintext, nil
	}
	gcm, err := b.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (b *SecretBox) Open(encoded string) (string, error) {
	if !b.Enabled() {
		return encoded, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	gcm, err := b.aead()
	if err != nil {
		return "", err
	}
	ns := gcm.NonceSize()
	if len(raw) < ns {
		return "", errors.New("ciphertext too short")
	}
	plain, err := gcm.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// OpenOrPlaintext opens an encrypted value and falls back to the stored
// value for secrets written before encryption was configured.
func (b *SecretBox) OpenOrPlaintext(value string) string {
	if value == "" {
		return ""
	}
	plain, err := b.Open(value)
	if err != nil {
		return value
	}
	return plain
}

func (b *SecretBox) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
