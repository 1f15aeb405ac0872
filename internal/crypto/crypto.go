// internal/crypto/crypto.go
//
// Package crypto protects host passwords at rest.
// Keys are derived from the operator passphrase with scrypt and a per-store
// salt, and data is sealed with AES-256-GCM. Ciphertexts are stored as hex of
// nonce||sealed so they can live inside the JSON host store.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize  = 32
	SaltSize = 16

	verifierPlaintext = "devpulse-passphrase-check"
)

var ErrWrongPassphrase = errors.New("wrong passphrase")

// scrypt cost parameters, recommended interactive values.
var (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Cipher is an AES-256-GCM cipher bound to one derived key.
type Cipher struct {
	aead cipher.AEAD
}

// NewSalt returns a fresh hex-encoded salt.
func NewSalt() (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %v", err)
	}
	return hex.EncodeToString(salt), nil
}

// NewCipher derives a key from passphrase and the hex salt.
func NewCipher(passphrase, saltHex string) (*Cipher, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %v", err)
	}
	if len(salt) == 0 {
		return nil, errors.New("empty salt")
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %v", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %v", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns hex(nonce||ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %v", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(encryptedHex string) (string, error) {
	combined, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %v", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(combined) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, combined[:nonceSize], combined[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %v", err)
	}
	return string(plaintext), nil
}

// Verifier returns a token that Verify accepts only under the same key.
func (c *Cipher) Verifier() (string, error) {
	return c.Encrypt(verifierPlaintext)
}

// Verify checks a token produced by Verifier.
func (c *Cipher) Verify(token string) error {
	plain, err := c.Decrypt(token)
	if err != nil || plain != verifierPlaintext {
		return ErrWrongPassphrase
	}
	return nil
}
