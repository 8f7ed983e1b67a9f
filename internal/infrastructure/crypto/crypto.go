package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// keyLength is the required length of the configured master key in bytes.
	keyLength = 32

	// kdfIterations is the PBKDF2 iteration count for deriving the AES key
	// from the master key. Changing this invalidates all stored ciphertexts.
	kdfIterations = 100_000
)

// kdfSalt is a fixed, versioned salt. The master key is already high-entropy
// configuration material; the KDF exists so the raw key never touches the
// cipher directly and so the derivation can be rotated by bumping the version.
var kdfSalt = []byte("kassa.token.codec.v1")

var (
	ErrInvalidKey        = errors.New("encryption key must be exactly 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Encryptor encrypts and decrypts provider token material with AES-256-GCM.
// BankConnection access/refresh tokens pass through here before they are
// persisted, so the stored rows never contain plaintext secrets.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives an AES-256 key from the configured master key and
// returns an Encryptor ready for use. The master key must be 32 bytes.
func NewEncryptor(key string) (*Encryptor, error) {
	if len(key) != keyLength {
		return nil, ErrInvalidKey
	}

	derived := pbkdf2.Key([]byte(key), kdfSalt, kdfIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// Encrypt encrypts plaintext and returns a base64-encoded ciphertext with the
// random nonce prepended. Empty input stays empty so optional token columns
// round-trip as-is.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or truncated ciphertexts fail.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
