package audit

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/trailguard/trailguard/internal/domain/errors"
)

// Status is the outcome classification of an audit event.
type Status string

const (
	StatusAttempt Status = "attempt"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ParseStatus validates and normalizes a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusAttempt:
		return StatusAttempt, nil
	case StatusSuccess:
		return StatusSuccess, nil
	case StatusFailure:
		return StatusFailure, nil
	default:
		return "", errors.NewValidationError(
			fmt.Sprintf("invalid status %q: must be attempt, success, or failure", s))
	}
}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusAttempt, StatusSuccess, StatusFailure:
		return true
	}
	return false
}

// DataClassification labels the sensitivity of the data touched by an event.
// The classification drives retention policy resolution and report scoping.
type DataClassification string

const (
	ClassificationPublic       DataClassification = "PUBLIC"
	ClassificationInternal     DataClassification = "INTERNAL"
	ClassificationConfidential DataClassification = "CONFIDENTIAL"
	ClassificationPHI          DataClassification = "PHI"
)

// ParseDataClassification validates and normalizes a classification string.
func ParseDataClassification(s string) (DataClassification, error) {
	switch DataClassification(strings.ToUpper(strings.TrimSpace(s))) {
	case ClassificationPublic:
		return ClassificationPublic, nil
	case ClassificationInternal:
		return ClassificationInternal, nil
	case ClassificationConfidential:
		return ClassificationConfidential, nil
	case ClassificationPHI:
		return ClassificationPHI, nil
	default:
		return "", errors.NewValidationError(
			fmt.Sprintf("invalid data classification %q", s))
	}
}

func (c DataClassification) String() string { return string(c) }

func (c DataClassification) IsValid() bool {
	switch c {
	case ClassificationPublic, ClassificationInternal, ClassificationConfidential, ClassificationPHI:
		return true
	}
	return false
}

// IsPHI reports whether the classification covers protected health information.
func (c DataClassification) IsPHI() bool { return c == ClassificationPHI }

// actionPattern is the grammar for dot-separated action identifiers,
// e.g. auth.login.failure, data.read, gdpr.data.delete.
var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// ValidateAction checks an action identifier against the action grammar.
func ValidateAction(action string) error {
	if action == "" {
		return errors.NewValidationError("action is required")
	}
	if !actionPattern.MatchString(action) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid action %q: must be dot-separated lowercase identifiers", action))
	}
	return nil
}

// Signature algorithms recognized on sealed events.
const (
	AlgHMACSHA256          = "HMAC-SHA256"
	AlgRSAPSSSHA256        = "RSASSA_PSS_SHA_256"
	AlgRSAPSSSHA384        = "RSASSA_PSS_SHA_384"
	AlgRSAPSSSHA512        = "RSASSA_PSS_SHA_512"
	AlgRSAPKCS1SHA256      = "RSASSA_PKCS1_V1_5_SHA_256"
	AlgRSAPKCS1SHA384      = "RSASSA_PKCS1_V1_5_SHA_384"
	AlgRSAPKCS1SHA512      = "RSASSA_PKCS1_V1_5_SHA_512"
	HashAlgorithmSHA256    = "SHA-256"
)

// IsValidSignatureAlgorithm reports whether alg is a recognized signing algorithm.
func IsValidSignatureAlgorithm(alg string) bool {
	switch alg {
	case AlgHMACSHA256,
		AlgRSAPSSSHA256, AlgRSAPSSSHA384, AlgRSAPSSSHA512,
		AlgRSAPKCS1SHA256, AlgRSAPKCS1SHA384, AlgRSAPKCS1SHA512:
		return true
	}
	return false
}
