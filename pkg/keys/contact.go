// Package keys provides encryption of party contact information before it is
// written on-chain. Every party gets its own AES-256-GCM key derived from a
// process master key with HKDF-SHA256.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ciphertextPrefix marks encrypted contact values so plain values written
// before encryption was enabled are still readable.
const ciphertextPrefix = "enc:v1:"

// ContactCipher encrypts and decrypts party contact information.
type ContactCipher struct {
	masterKey []byte
}

// NewContactCipher creates a cipher from a 32-byte master key.
func NewContactCipher(masterKey []byte) (*ContactCipher, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (AES-256)")
	}
	return &ContactCipher{masterKey: masterKey}, nil
}

func (c *ContactCipher) partyKey(partyID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, c.masterKey, nil, []byte("registry-contact-"+partyID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive party key: %w", err)
	}
	return key, nil
}

func (c *ContactCipher) aead(partyID string) (cipher.AEAD, error) {
	key, err := c.partyKey(partyID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptContact encrypts contact info for a party.
// The result is prefixed base64 of nonce || ciphertext || tag.
func (c *ContactCipher) EncryptContact(partyID, contact string) (string, error) {
	gcm, err := c.aead(partyID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(contact), []byte(partyID))
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptContact reverses EncryptContact. Values without the ciphertext prefix
// are returned unchanged.
func (c *ContactCipher) DecryptContact(partyID, value string) (string, error) {
	if !strings.HasPrefix(value, ciphertextPrefix) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, ciphertextPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	gcm, err := c.aead(partyID)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(partyID))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// GenerateMasterKey generates a new random 32-byte master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return key, nil
}

// MasterKeyFromBase64 decodes a base64-encoded master key
func MasterKeyFromBase64(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// MasterKeyToBase64 encodes a master key as base64 for storage
func MasterKeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
