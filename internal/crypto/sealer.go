package crypto

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
)

// SealOptions control which seal fields are produced.
type SealOptions struct {
	GenerateHash      bool
	GenerateSignature bool
}

// DefaultSealOptions seal fully: hash and signature.
func DefaultSealOptions() SealOptions {
	return SealOptions{GenerateHash: true, GenerateSignature: true}
}

// Sealer assigns the server timestamp, computes the integrity hash, and
// signs it. The signer variant (local HMAC vs remote KMS) is invisible to
// callers except through the recorded algorithm.
type Sealer struct {
	signer Signer
	now    func() time.Time
}

// NewSealer builds a sealer over the given signer.
func NewSealer(signer Signer) *Sealer {
	return &Sealer{signer: signer, now: time.Now}
}

// WithClock overrides the seal clock; used by tests.
func (s *Sealer) WithClock(now func() time.Time) *Sealer {
	s.now = now
	return s
}

// Seal finalizes an event in place: id, server timestamp, hash, signature.
func (s *Sealer) Seal(ctx context.Context, e *audit.Event, opts SealOptions) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Timestamp = s.now().UTC()

	if !opts.GenerateHash {
		return nil
	}

	e.Hash = ComputeHash(e)
	e.HashAlgorithm = audit.HashAlgorithmSHA256

	if !opts.GenerateSignature {
		return nil
	}

	hashBytes, err := hex.DecodeString(e.Hash)
	if err != nil {
		return errors.NewCryptoError("computed hash is not valid hex").WithCause(err)
	}

	sig, alg, err := s.signer.Sign(ctx, hashBytes)
	if err != nil {
		return errors.Wrap(err, "failed to sign event hash")
	}
	e.Signature = sig
	e.SignatureAlgorithm = alg
	return nil
}

// VerifySealed checks hash integrity and, when a signature is present, the
// signature under its recorded algorithm. A hash mismatch is an
// INTEGRITY_ERROR and never retryable.
func (s *Sealer) VerifySealed(ctx context.Context, e *audit.Event) error {
	if e.Hash == "" {
		return errors.NewIntegrityError("event has no hash and is unverifiable")
	}
	if !VerifyHash(e) {
		return errors.NewIntegrityError("hash mismatch")
	}
	if e.Signature == "" {
		return nil
	}

	hashBytes, err := hex.DecodeString(e.Hash)
	if err != nil {
		return errors.NewIntegrityError("stored hash is not valid hex").WithCause(err)
	}
	ok, err := s.signer.Verify(ctx, hashBytes, e.Signature, e.SignatureAlgorithm)
	if err != nil {
		return errors.Wrap(err, "signature verification failed")
	}
	if !ok {
		return errors.NewIntegrityError("signature mismatch")
	}
	return nil
}
