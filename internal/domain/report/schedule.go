package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/trailguard/trailguard/internal/domain/errors"
)

// Frequency is how often a scheduled report recurs.
type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly:
		return true
	}
	return false
}

// ReportType selects the compliance framework a scheduled run produces.
type ReportType string

const (
	TypeHIPAA     ReportType = "HIPAA"
	TypeGDPR      ReportType = "GDPR"
	TypeCustom    ReportType = "CUSTOM"
	TypeIntegrity ReportType = "INTEGRITY"
)

func (t ReportType) IsValid() bool {
	switch t {
	case TypeHIPAA, TypeGDPR, TypeCustom, TypeIntegrity:
		return true
	}
	return false
}

// DeliveryChannel is where a finished report goes.
type DeliveryChannel string

const (
	DeliveryEmail   DeliveryChannel = "email"
	DeliveryWebhook DeliveryChannel = "webhook"
	DeliveryStorage DeliveryChannel = "storage"
)

// Delivery is one delivery target of a schedule. Exactly one of the
// channel-specific blocks is used, selected by Channel.
type Delivery struct {
	Channel DeliveryChannel `json:"channel"`

	// email
	Recipients []string `json:"recipients,omitempty"`

	// webhook
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// storage
	Provider string `json:"provider,omitempty"` // local | s3
	Bucket   string `json:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// Validate checks the channel-specific required fields.
func (d *Delivery) Validate() error {
	switch d.Channel {
	case DeliveryEmail:
		if len(d.Recipients) == 0 {
			return errors.NewValidationError("email delivery requires recipients")
		}
	case DeliveryWebhook:
		if d.URL == "" {
			return errors.NewValidationError("webhook delivery requires a url")
		}
	case DeliveryStorage:
		if d.Provider == "" {
			return errors.NewValidationError("storage delivery requires a provider")
		}
	default:
		return errors.NewValidationError("unknown delivery channel")
	}
	return nil
}

// Schedule is a recurring report definition. NextRun is always stored in UTC;
// the Timezone field only shapes when "second day of the month at 02:00"
// falls.
type Schedule struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID string     `json:"organizationId"`
	Name           string     `json:"name"`
	ReportType     ReportType `json:"reportType"`
	Frequency      Frequency  `json:"frequency"`

	// DayOfWeek (0=Sunday) applies to weekly; DayOfMonth (1..31, clamped to
	// month end) applies to monthly and quarterly. HourOfDay/MinuteOfHour is
	// the local wall-clock run time for every frequency.
	DayOfWeek    int    `json:"dayOfWeek"`
	DayOfMonth   int    `json:"dayOfMonth"`
	HourOfDay    int    `json:"hourOfDay"`
	MinuteOfHour int    `json:"minuteOfHour"`
	Timezone     string `json:"timezone"`

	Format     string     `json:"format"` // json | csv | xml | pdf
	Deliveries []Delivery `json:"deliveries"`

	Enabled   bool       `json:"enabled"`
	NextRun   time.Time  `json:"nextRun"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Validate checks schedule consistency before persistence.
func (s *Schedule) Validate() error {
	if s.OrganizationID == "" {
		return errors.NewValidationError("schedule organizationId is required")
	}
	if s.Name == "" {
		return errors.NewValidationError("schedule name is required")
	}
	if !s.ReportType.IsValid() {
		return errors.NewValidationError("unknown report type")
	}
	if !s.Frequency.IsValid() {
		return errors.NewValidationError("frequency must be daily, weekly, monthly, or quarterly")
	}
	if s.Frequency == FrequencyWeekly && (s.DayOfWeek < 0 || s.DayOfWeek > 6) {
		return errors.NewValidationError("dayOfWeek must be 0..6")
	}
	if (s.Frequency == FrequencyMonthly || s.Frequency == FrequencyQuarterly) &&
		(s.DayOfMonth < 1 || s.DayOfMonth > 31) {
		return errors.NewValidationError("dayOfMonth must be 1..31")
	}
	if s.HourOfDay < 0 || s.HourOfDay > 23 {
		return errors.NewValidationError("hourOfDay must be 0..23")
	}
	if s.MinuteOfHour < 0 || s.MinuteOfHour > 59 {
		return errors.NewValidationError("minuteOfHour must be 0..59")
	}
	if _, err := time.LoadLocation(s.Location()); err != nil {
		return errors.NewValidationError("unknown timezone " + s.Timezone)
	}
	switch s.Format {
	case "json", "csv", "xml", "pdf":
	default:
		return errors.NewValidationError("format must be json, csv, xml, or pdf")
	}
	if len(s.Deliveries) == 0 {
		return errors.NewValidationError("schedule requires at least one delivery")
	}
	for i := range s.Deliveries {
		if err := s.Deliveries[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Location returns the schedule timezone, defaulting to UTC.
func (s *Schedule) Location() string {
	if s.Timezone == "" {
		return "UTC"
	}
	return s.Timezone
}

// ExecutionStatus is the outcome of one scheduled run.
type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPartial   ExecutionStatus = "partial" // report built, some deliveries failed
)

// DeliveryResult records one delivery attempt of an execution.
type DeliveryResult struct {
	Channel   DeliveryChannel `json:"channel"`
	Target    string          `json:"target"`
	Succeeded bool            `json:"succeeded"`
	Error     string          `json:"error,omitempty"`
}

// Execution is the persisted record of one scheduled run.
type Execution struct {
	ID          uuid.UUID        `json:"id"`
	ScheduleID  uuid.UUID        `json:"scheduleId"`
	StartedAt   time.Time        `json:"startedAt"`
	FinishedAt  time.Time        `json:"finishedAt"`
	Status      ExecutionStatus  `json:"status"`
	Error       string           `json:"error,omitempty"`
	Deliveries  []DeliveryResult `json:"deliveries"`
	ReportBytes int64            `json:"reportBytes"`
}
