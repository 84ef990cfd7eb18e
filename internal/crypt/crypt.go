// Package crypt seals small payloads (session files) with a passphrase.
//
// Each message gets a fresh random salt. The key is derived with PBKDF2
// (SHA-256) and the payload is sealed with AES-256-GCM. The output layout is
//
//	salt (16) | nonce (12) | ciphertext+tag
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the length of the per-message salt.
	SaltSize = 16
	// KeySize selects AES-256.
	KeySize = 32
	// Iterations is the PBKDF2 work factor.
	Iterations = 100_000
)

// ErrDecrypt is returned when a sealed payload cannot be opened, whether it
// was truncated, tampered with, or sealed under another passphrase.
var ErrDecrypt = errors.New("crypt: message authentication failed")

// Cipher seals and opens payloads under one passphrase. It is safe for
// concurrent use.
type Cipher struct {
	passphrase []byte
	iterations int
	rand       io.Reader
}

// New returns a Cipher for passphrase. An empty passphrase is rejected.
func New(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("crypt: empty passphrase")
	}
	return &Cipher{
		passphrase: []byte(passphrase),
		iterations: Iterations,
		rand:       rand.Reader,
	}, nil
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.passphrase, salt, c.iterations, KeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and returns salt|nonce|ciphertext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return nil, fmt.Errorf("crypt: salt: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("crypt: nonce: %w", err)
	}

	out := make([]byte, 0, SaltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < SaltSize {
		return nil, ErrDecrypt
	}
	salt := sealed[:SaltSize]

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}

	rest := sealed[SaltSize:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
