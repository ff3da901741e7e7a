package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/trailguard/trailguard/internal/domain/errors"
)

// Cipher protects small secrets at rest. The pseudonym mapping stores
// original ids only through this interface; plaintext never reaches the
// store.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext []byte) (string, error)
	Decrypt(ctx context.Context, ciphertext string) ([]byte, error)
}

// LocalAES encrypts with AES-256-GCM under a locally held key. This is the
// default cipher when KMS is disabled. Ciphertext is base64 with the nonce
// prepended, so each value is self-contained.
type LocalAES struct {
	aead cipher.AEAD
}

// NewLocalAES builds a local cipher from a 32-byte key.
func NewLocalAES(key []byte) (*LocalAES, error) {
	if len(key) != 32 {
		return nil, errors.NewConfigError("encryption key must be exactly 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewCryptoError("failed to initialize cipher").WithCause(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewCryptoError("failed to initialize GCM").WithCause(err)
	}
	return &LocalAES{aead: aead}, nil
}

func (c *LocalAES) Encrypt(_ context.Context, plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.NewCryptoError("failed to generate nonce").WithCause(err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *LocalAES) Decrypt(_ context.Context, ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, errors.NewCryptoError("malformed ciphertext").WithCause(err)
	}
	if len(raw) < c.aead.NonceSize() {
		return nil, errors.NewCryptoError("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.NewCryptoError("decryption failed").WithCause(err)
	}
	return plain, nil
}
