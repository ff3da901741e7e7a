package audit

import (
	"time"

	"github.com/trailguard/trailguard/internal/domain/errors"
)

// SortField is a supported sort column for event queries.
type SortField string

const (
	SortByTimestamp SortField = "timestamp"
	SortByStatus    SortField = "status"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// EventFilter selects audit events for queries, reports, and GDPR exports.
// Zero-valued fields are not applied.
type EventFilter struct {
	From                     time.Time
	To                       time.Time
	PrincipalIDs             []string
	OrganizationIDs          []string
	Actions                  []string
	DataClassifications      []DataClassification
	Statuses                 []Status
	ResourceTypes            []string
	VerifiedOnly             bool
	IncludeIntegrityFailures bool
}

// PageRequest controls result pagination. Results are stable-ordered on
// (SortBy, id) so repeated queries page deterministically.
type PageRequest struct {
	Limit     int
	Offset    int
	SortBy    SortField
	SortOrder SortOrder
}

// Normalize applies defaults and bounds to a page request.
func (p PageRequest) Normalize() PageRequest {
	out := p
	if out.Limit <= 0 {
		out.Limit = 100
	}
	if out.Limit > 1000 {
		out.Limit = 1000
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	if out.SortBy == "" {
		out.SortBy = SortByTimestamp
	}
	if out.SortOrder == "" {
		out.SortOrder = SortDesc
	}
	return out
}

// Validate rejects unsupported sort parameters.
func (p PageRequest) Validate() error {
	switch p.SortBy {
	case "", SortByTimestamp, SortByStatus:
	default:
		return errors.NewValidationError("sortBy must be timestamp or status")
	}
	switch p.SortOrder {
	case "", SortAsc, SortDesc:
	default:
		return errors.NewValidationError("sortOrder must be asc or desc")
	}
	return nil
}

// Page is one page of query results with the pagination envelope.
type Page struct {
	Events []*Event `json:"events"`
	Total  int64    `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}
