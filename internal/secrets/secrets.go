// Package secrets encrypts and decrypts at-rest platform secrets such as
// tenant SMTP passwords and the system mail connection string.
//
// Ciphertext format: three colon-delimited hex strings,
// iv:authTag:cipher, produced by AES-256-GCM with a SHA-256-derived key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	ivSize  = 12
	tagSize = 16
)

// Box performs symmetric encryption with a key derived from a
// process-wide secret. A Box is safe for concurrent use.
type Box struct {
	key [sha256.Size]byte
}

func New(secret string) (*Box, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("encryption secret is required")
	}
	return &Box{key: sha256.Sum256([]byte(secret))}, nil
}

func (b *Box) Encrypt(plaintext string) (string, error) {
	if b == nil {
		return "", fmt.Errorf("secret box is not initialized")
	}

	aead, err := b.newAEAD()
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

func (b *Box) Decrypt(encoded string) (string, error) {
	if b == nil {
		return "", fmt.Errorf("secret box is not initialized")
	}

	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed ciphertext: expected iv:authTag:cipher, got %d parts", len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("failed to decode iv: %w", err)
	}
	if len(iv) != ivSize {
		return "", fmt.Errorf("invalid iv length %d, want %d", len(iv), ivSize)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode auth tag: %w", err)
	}
	if len(tag) != tagSize {
		return "", fmt.Errorf("invalid auth tag length %d, want %d", len(tag), tagSize)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	aead, err := b.newAEAD()
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func (b *Box) newAEAD() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return aead, nil
}
