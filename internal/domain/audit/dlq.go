package audit

import (
	"time"

	"github.com/google/uuid"
)

// RetryAttempt records a single failed processing attempt of an event.
type RetryAttempt struct {
	Attempt   int       `json:"attempt"`
	At        time.Time `json:"at"`
	Error     string    `json:"error"`
	ErrorCode string    `json:"errorCode"`
}

// DLQEntry is the terminal record for an event that exhausted all worker
// retries. Entries age out of the DLQ by the configured archive and
// retention thresholds (in days).
type DLQEntry struct {
	ID               uuid.UUID      `json:"id"`
	OriginalEvent    *Event         `json:"originalEvent"`
	FailureReason    string         `json:"failureReason"`
	FailureCount     int            `json:"failureCount"`
	FirstFailureTime time.Time      `json:"firstFailureTime"`
	LastFailureTime  time.Time      `json:"lastFailureTime"`
	ErrorStack       string         `json:"errorStack,omitempty"`
	RetryHistory     []RetryAttempt `json:"retryHistory"`
	ArchivedAt       *time.Time     `json:"archivedAt,omitempty"`
}
