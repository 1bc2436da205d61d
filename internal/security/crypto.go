// Package security implements the crypto collaborator for license keys:
// keyed encryption of key plaintext at rest and a deterministic keyed hash
// used for equality lookups without decryption.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// SCRYPT parameters (OWASP recommended minimum for interactive use).
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64 // 32 bytes AES-256 key + 32 bytes HMAC key
)

// Domain-separation salt for key derivation. Changing it invalidates every
// stored ciphertext and hash, so it is a constant, not configuration.
var derivationSalt = []byte("keymint/license-key/v1")

// Codec encrypts, decrypts and hashes license key plaintext. Encryption is
// AES-256-GCM with a random nonce per call, so ciphertext is never
// deterministic; Hash is a keyed HMAC-SHA256 and is fully deterministic.
// Uniqueness of stored keys is enforced on the hash, never the ciphertext.
type Codec struct {
	aead    cipher.AEAD
	hmacKey []byte
}

// NewCodec derives the cipher and HMAC keys from the configured secret
// using scrypt and returns a ready codec.
func NewCodec(secret string) (*Codec, error) {
	if len(secret) < 16 {
		return nil, errors.New("crypto secret must be at least 16 characters")
	}

	derived, err := scrypt.Key([]byte(secret), derivationSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(derived[:32])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Codec{
		aead:    aead,
		hmacKey: derived[32:],
	}, nil
}

// Encrypt seals the plaintext with a fresh random nonce and returns
// base64(nonce || ciphertext). Two calls with the same plaintext produce
// different outputs.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("plaintext cannot be empty")
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. It fails closed: any
// decode, key or tamper failure yields an empty string rather than an error,
// so a corrupted row never throws into a user-facing flow.
func (c *Codec) Decrypt(ciphertext string) string {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return ""
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) <= nonceSize {
		return ""
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return ""
	}
	return string(plaintext)
}

// Hash returns the hex-encoded keyed HMAC-SHA256 of the plaintext. Equal
// plaintexts always produce equal hashes, which is what the uniqueness
// check and the lookup-by-key path rely on.
func (c *Codec) Hash(plaintext string) string {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}
