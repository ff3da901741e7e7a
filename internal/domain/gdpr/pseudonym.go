package gdpr

import (
	"context"
	"time"

	"github.com/trailguard/trailguard/internal/domain/errors"
)

// Strategy selects how pseudonyms are derived.
type Strategy string

const (
	// StrategyHash derives pseudo-{sha256(id||salt)[:16]}. Deterministic, not
	// reversible without the mapping table.
	StrategyHash Strategy = "hash"
	// StrategyToken derives a random opaque token. Unlinkable across runs.
	StrategyToken Strategy = "token"
	// StrategyEncryption derives pseudo-enc-{...} from KMS-encrypted id
	// material.
	StrategyEncryption Strategy = "encryption"
)

func (s Strategy) IsValid() bool {
	switch s {
	case StrategyHash, StrategyToken, StrategyEncryption:
		return true
	}
	return false
}

// ParseStrategy validates a strategy name.
func ParseStrategy(raw string) (Strategy, error) {
	s := Strategy(raw)
	if !s.IsValid() {
		return "", errors.NewValidationError("strategy must be hash, token, or encryption")
	}
	return s, nil
}

// PseudonymMapping links a pseudonym back to the encrypted original
// identity. The original id is stored KMS- or AES-encrypted; plaintext never
// touches the mapping table.
type PseudonymMapping struct {
	PseudonymID       string    `json:"pseudonymId"`
	OrganizationID    string    `json:"organizationId"`
	EncryptedOriginal string    `json:"encryptedOriginal"`
	Strategy          Strategy  `json:"strategy"`
	CreatedAt         time.Time `json:"createdAt"`
}

// PseudonymRepository persists pseudonym mappings.
type PseudonymRepository interface {
	Save(ctx context.Context, m *PseudonymMapping) error
	GetByPseudonym(ctx context.Context, organizationID, pseudonymID string) (*PseudonymMapping, error)
	DeleteByPseudonym(ctx context.Context, organizationID, pseudonymID string) error
}
