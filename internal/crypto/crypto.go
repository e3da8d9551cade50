// Package crypto holds the opaque encrypt/decrypt capability applied to
// memory content at rest. The engine never inspects plaintext except through
// an Encryptor, and a failed decrypt is a data error for that one record.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
)

// Encryptor wraps stored content. Implementations must be safe for
// concurrent use.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	// KeyVersion identifies the active key so records can note which key
	// sealed them.
	KeyVersion() int
}

// Noop stores content as-is. Used when encryption at rest is disabled.
type Noop struct{}

func (Noop) Encrypt(plaintext string) (string, error)  { return plaintext, nil }
func (Noop) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }
func (Noop) KeyVersion() int                           { return 0 }

// AESGCM seals content with AES-256-GCM, emitting base64(nonce || sealed).
type AESGCM struct {
	aead       cipher.AEAD
	keyVersion int
}

// NewAESGCM requires a 32-byte key.
func NewAESGCM(key []byte, keyVersion int) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, errors.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "new gcm")
	}
	return &AESGCM{aead: aead, keyVersion: keyVersion}, nil
}

func (a *AESGCM) KeyVersion() int { return a.keyVersion }

func (a *AESGCM) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "nonce")
	}
	sealed := a.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (a *AESGCM) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "decode ciphertext")
	}
	ns := a.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("ciphertext shorter than nonce")
	}
	plain, err := a.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", errors.Wrap(err, "open")
	}
	return string(plain), nil
}
