// Package cryptobox encrypts and decrypts secret strings with AES-256-GCM.
// Stored tokens only ever touch the database through this package.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/focusmate/tokenvault/internal/apperrors"
)

const (
	keyLen = 32 // AES-256

	// GCM runs with a 16 byte IV here, not the usual 12.
	// The stored format predates this service and must stay readable.
	ivLen = 16
)

// CryptoBox wraps a single process-wide symmetric key.
// Rotating the key invalidates everything encrypted before, there is no
// key versioning in the stored format.
type CryptoBox struct {
	aead cipher.AEAD
}

// New builds a CryptoBox from a base64 encoded key.
// The key must decode to exactly 32 bytes, anything else is a fatal
// configuration error not a value to fall back from.
func New(base64Key string) (*CryptoBox, error) {
	if base64Key == "" {
		return nil, apperrors.ErrMissingEncryptionKey
	}

	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", apperrors.ErrMissingEncryptionKey)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("encryption key is %d bytes, want %d: %w", len(key), keyLen, apperrors.ErrMissingEncryptionKey)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &CryptoBox{aead: aead}, nil
}

// Encrypt encrypts plaintext and returns "iv:authTag:ciphertext" with every
// segment base64 encoded. A fresh random IV is generated per call.
func (c *CryptoBox) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", apperrors.ErrEmptyPlaintext
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	// Seal returns ciphertext with the auth tag appended
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagAt := len(sealed) - c.aead.Overhead()

	encode := base64.StdEncoding.EncodeToString
	return encode(iv) + ":" + encode(sealed[tagAt:]) + ":" + encode(sealed[:tagAt]), nil
}

// Decrypt reverses Encrypt. A value that does not split into the three
// expected segments fails with ErrInvalidCiphertext; a value that splits but
// does not authenticate (tampered, or encrypted under another key) fails
// with ErrCiphertextAuthFailed. Callers rely on the distinction.
func (c *CryptoBox) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("expected 3 segments, got %d: %w", len(parts), apperrors.ErrInvalidCiphertext)
	}

	segments := make([][]byte, 3)
	for i, part := range parts {
		raw, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return "", fmt.Errorf("decoding segment %d: %w", i, apperrors.ErrInvalidCiphertext)
		}
		segments[i] = raw
	}

	iv, tag, ciphertext := segments[0], segments[1], segments[2]
	if len(iv) != ivLen || len(tag) != c.aead.Overhead() {
		return "", fmt.Errorf("bad segment length: %w", apperrors.ErrInvalidCiphertext)
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("opening ciphertext: %w", apperrors.ErrCiphertextAuthFailed)
	}

	return string(plaintext), nil
}

// IsEncrypted reports whether a value is structurally in the encrypted
// format. This is a shape check only, it proves nothing cryptographically.
// The migration sweep uses it to tell plaintext rows from encrypted ones.
func IsEncrypted(value string) bool {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return false
	}

	for _, part := range parts {
		if part == "" {
			return false
		}
	}
	return true
}
