package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSchedule() *Schedule {
	return &Schedule{
		ID:             uuid.New(),
		OrganizationID: "org-1",
		Name:           "weekly-hipaa",
		ReportType:     TypeHIPAA,
		Frequency:      FrequencyWeekly,
		DayOfWeek:      1,
		HourOfDay:      2,
		Timezone:       "UTC",
		Format:         "json",
		Deliveries: []Delivery{
			{Channel: DeliveryWebhook, URL: "https://hooks.example.com/reports",
				Headers: map[string]string{"X-Token": "secret"}},
			{Channel: DeliveryEmail, Recipients: []string{"compliance@example.com"}},
		},
		Enabled: true,
	}
}

func TestScheduleValidate(t *testing.T) {
	require.NoError(t, validSchedule().Validate())

	cases := []struct {
		name   string
		mutate func(*Schedule)
	}{
		{"missing organization", func(s *Schedule) { s.OrganizationID = "" }},
		{"missing name", func(s *Schedule) { s.Name = "" }},
		{"unknown report type", func(s *Schedule) { s.ReportType = "SOC2" }},
		{"unknown frequency", func(s *Schedule) { s.Frequency = "hourly" }},
		{"weekly day out of range", func(s *Schedule) { s.DayOfWeek = 7 }},
		{"monthly day out of range", func(s *Schedule) {
			s.Frequency = FrequencyMonthly
			s.DayOfMonth = 32
		}},
		{"hour out of range", func(s *Schedule) { s.HourOfDay = 24 }},
		{"minute out of range", func(s *Schedule) { s.MinuteOfHour = 60 }},
		{"unknown timezone", func(s *Schedule) { s.Timezone = "Mars/Olympus" }},
		{"unknown format", func(s *Schedule) { s.Format = "docx" }},
		{"no deliveries", func(s *Schedule) { s.Deliveries = nil }},
		{"email without recipients", func(s *Schedule) {
			s.Deliveries = []Delivery{{Channel: DeliveryEmail}}
		}},
		{"webhook without url", func(s *Schedule) {
			s.Deliveries = []Delivery{{Channel: DeliveryWebhook}}
		}},
		{"storage without provider", func(s *Schedule) {
			s.Deliveries = []Delivery{{Channel: DeliveryStorage}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSchedule()
			tc.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

// Exported schedule configs must survive a JSON round trip unchanged, so
// configs can move between environments.
func TestScheduleJSONRoundTrip(t *testing.T) {
	s := validSchedule()
	s.NextRun = time.Date(2026, 4, 6, 2, 0, 0, 0, time.UTC)
	lastRun := time.Date(2026, 3, 30, 2, 0, 0, 0, time.UTC)
	s.LastRun = &lastRun
	s.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.UpdatedAt = s.CreatedAt

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var restored Schedule
	require.NoError(t, json.Unmarshal(data, &restored))

	restored.CreatedAt = s.CreatedAt
	assert.Equal(t, *s, restored)
	require.NoError(t, restored.Validate())
}

func TestScheduleLocation(t *testing.T) {
	assert.Equal(t, "UTC", (&Schedule{}).Location())
	assert.Equal(t, "America/New_York",
		(&Schedule{Timezone: "America/New_York"}).Location())
}
