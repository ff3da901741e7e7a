package ingest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
)

const (
	maxDetailsBytes     = 64 * 1024
	maxCorrelationIDLen = 256
	maxOutcomeLen       = 4096
)

// forbiddenDetailKeys are keys producers must not set: seal fields are
// server-owned, and secret material does not belong in an audit trail.
var forbiddenDetailKeys = []string{"hash", "signature"}

// EventInput is the producer-facing submission shape. Seal fields (id,
// timestamp, hash, signature) are absent: the pipeline owns them.
type EventInput struct {
	Action             string                 `json:"action" validate:"required"`
	Status             string                 `json:"status" validate:"required"`
	PrincipalID        string                 `json:"principalId" validate:"required,max=512"`
	OrganizationID     string                 `json:"organizationId" validate:"required,max=512"`
	TargetResourceType *string                `json:"targetResourceType,omitempty"`
	TargetResourceID   *string                `json:"targetResourceId,omitempty"`
	DataClassification string                 `json:"dataClassification,omitempty"`
	OutcomeDescription string                 `json:"outcomeDescription,omitempty"`
	SessionContext     audit.SessionContext   `json:"sessionContext,omitempty"`
	Details            map[string]interface{} `json:"details,omitempty"`
	CorrelationID      string                 `json:"correlationId,omitempty"`
	RetentionPolicy    string                 `json:"retentionPolicy,omitempty"`
}

// Validator turns producer input into a domain event, rejecting anything a
// durable store should never accept. All failures are VALIDATION_ERROR and
// never retryable.
type Validator struct {
	validate *validator.Validate
	policies []*audit.RetentionPolicy
}

// NewValidator builds a validator resolving retention against the given
// policy set (typically audit.DefaultRetentionPolicies plus configured
// overrides).
func NewValidator(policies []*audit.RetentionPolicy) *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		policies: policies,
	}
}

// ValidateAndBuild validates the input and produces an unsealed domain event.
func (v *Validator) ValidateAndBuild(_ context.Context, in *EventInput) (*audit.Event, error) {
	if in == nil {
		return nil, errors.NewValidationError("event input is required")
	}
	if err := v.validate.Struct(in); err != nil {
		return nil, errors.NewValidationError(validationMessage(err))
	}
	if err := audit.ValidateAction(in.Action); err != nil {
		return nil, err
	}

	status, err := audit.ParseStatus(in.Status)
	if err != nil {
		return nil, err
	}

	cls := audit.ClassificationInternal
	if in.DataClassification != "" {
		cls, err = audit.ParseDataClassification(in.DataClassification)
		if err != nil {
			return nil, err
		}
	}

	if len(in.OutcomeDescription) > maxOutcomeLen {
		return nil, errors.NewValidationError(
			fmt.Sprintf("outcomeDescription exceeds %d characters", maxOutcomeLen))
	}
	if len(in.CorrelationID) > maxCorrelationIDLen {
		return nil, errors.NewValidationError(
			fmt.Sprintf("correlationId exceeds %d characters", maxCorrelationIDLen))
	}
	if err := validateDetails(in.Details); err != nil {
		return nil, err
	}
	if err := validateTarget(in.TargetResourceType, in.TargetResourceID); err != nil {
		return nil, err
	}

	policyName, err := resolvePolicy(v.policies, in.RetentionPolicy, cls)
	if err != nil {
		return nil, err
	}

	return &audit.Event{
		Action:             in.Action,
		Status:             status,
		PrincipalID:        in.PrincipalID,
		OrganizationID:     in.OrganizationID,
		TargetResourceType: in.TargetResourceType,
		TargetResourceID:   in.TargetResourceID,
		DataClassification: cls,
		OutcomeDescription: in.OutcomeDescription,
		SessionContext:     in.SessionContext,
		Details:            in.Details,
		CorrelationID:      in.CorrelationID,
		RetentionPolicy:    policyName,
	}, nil
}

func validateDetails(details map[string]interface{}) error {
	if details == nil {
		return nil
	}
	for key := range details {
		lower := strings.ToLower(key)
		for _, forbidden := range forbiddenDetailKeys {
			if lower == forbidden {
				return errors.NewValidationError(
					fmt.Sprintf("details key %q is reserved", key))
			}
		}
		if strings.Contains(lower, "secret") {
			return errors.NewValidationError(
				fmt.Sprintf("details key %q looks like secret material", key))
		}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return errors.NewValidationError("details is not JSON-serializable")
	}
	if len(encoded) > maxDetailsBytes {
		return errors.NewValidationError(
			fmt.Sprintf("details exceeds %d bytes", maxDetailsBytes))
	}
	return nil
}

func validateTarget(resourceType, resourceID *string) error {
	// A resource id without a type is unqueryable noise.
	if resourceID != nil && *resourceID != "" && (resourceType == nil || *resourceType == "") {
		return errors.NewValidationError("targetResourceId requires targetResourceType")
	}
	return nil
}

func resolvePolicy(policies []*audit.RetentionPolicy, name string, cls audit.DataClassification) (string, error) {
	if name != "" {
		for _, p := range policies {
			if p.Name == name {
				if !p.IsActive {
					return "", errors.NewValidationError(
						fmt.Sprintf("retention policy %q is inactive", name))
				}
				return p.Name, nil
			}
		}
		return "", errors.NewValidationError(
			fmt.Sprintf("unknown retention policy %q", name))
	}
	return audit.ResolveRetentionPolicy(policies, cls), nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if ok := stderrors.As(err, &verrs); ok && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", jsonField(fe.Field()))
		case "max":
			return fmt.Sprintf("%s exceeds %s characters", jsonField(fe.Field()), fe.Param())
		}
		return fmt.Sprintf("%s is invalid", jsonField(fe.Field()))
	}
	return err.Error()
}

func jsonField(structField string) string {
	if structField == "" {
		return structField
	}
	return strings.ToLower(structField[:1]) + structField[1:]
}
