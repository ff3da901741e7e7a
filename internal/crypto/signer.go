package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
)

// Signer binds an event hash to a key. Callers never see which variant is in
// use except through the algorithm recorded on the sealed event.
type Signer interface {
	// Sign signs the raw hash bytes and returns the signature together
	// with the algorithm that produced it.
	Sign(ctx context.Context, hashBytes []byte) (signature, algorithm string, err error)

	// Verify checks a signature produced under the given algorithm.
	Verify(ctx context.Context, hashBytes []byte, signature, algorithm string) (bool, error)
}

// LocalHMAC signs with HMAC-SHA256 under a locally held secret key. This is
// the default signer when KMS is disabled.
type LocalHMAC struct {
	key []byte
}

// NewLocalHMAC builds a local signer. A missing key is a fatal
// configuration error, not something to limp along without.
func NewLocalHMAC(key []byte) (*LocalHMAC, error) {
	if len(key) == 0 {
		return nil, errors.NewConfigError("signing key is required when KMS is disabled")
	}
	if len(key) < 32 {
		return nil, errors.NewConfigError("signing key must be at least 32 bytes")
	}
	return &LocalHMAC{key: key}, nil
}

func (s *LocalHMAC) Sign(_ context.Context, hashBytes []byte) (string, string, error) {
	if len(hashBytes) == 0 {
		return "", "", errors.NewCryptoError("cannot sign empty hash")
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(hashBytes)
	return hex.EncodeToString(mac.Sum(nil)), audit.AlgHMACSHA256, nil
}

func (s *LocalHMAC) Verify(ctx context.Context, hashBytes []byte, signature, algorithm string) (bool, error) {
	if algorithm != audit.AlgHMACSHA256 {
		return false, errors.NewCryptoError(
			"local signer cannot verify algorithm " + algorithm)
	}
	expected, _, err := s.Sign(ctx, hashBytes)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}
