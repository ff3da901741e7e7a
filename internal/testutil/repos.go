// Package testutil provides in-memory repository fakes shared by service
// tests. They honor the same contracts as the Postgres implementations
// closely enough for behavior tests; storage-level concerns (transactions,
// index usage) are covered by the repository integration tests.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailguard/trailguard/internal/domain/alert"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/domain/gdpr"
	"github.com/trailguard/trailguard/internal/domain/report"
)

// EventRepo is an in-memory audit.EventRepository.
type EventRepo struct {
	mu     sync.Mutex
	events []*audit.Event
}

// NewEventRepo builds an empty event repository.
func NewEventRepo() *EventRepo { return &EventRepo{} }

// Seed inserts events directly, bypassing Store.
func (r *EventRepo) Seed(events ...*audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range events {
		r.events = append(r.events, e.Clone())
	}
}

// All returns a snapshot of every stored event.
func (r *EventRepo) All() []*audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*audit.Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Clone())
	}
	return out
}

func (r *EventRepo) Store(_ context.Context, event *audit.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.Clone())
	return nil
}

func (r *EventRepo) GetByID(_ context.Context, id uuid.UUID) (*audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			return e.Clone(), nil
		}
	}
	return nil, errors.NewNotFoundError("audit event")
}

func matchesFilter(e *audit.Event, f audit.EventFilter) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	contains := func(vals []string, v string) bool {
		if len(vals) == 0 {
			return true
		}
		for _, x := range vals {
			if x == v {
				return true
			}
		}
		return false
	}
	if !contains(f.PrincipalIDs, e.PrincipalID) {
		return false
	}
	if !contains(f.OrganizationIDs, e.OrganizationID) {
		return false
	}
	if !contains(f.Actions, e.Action) {
		return false
	}
	if len(f.DataClassifications) > 0 {
		ok := false
		for _, c := range f.DataClassifications {
			if c == e.DataClassification {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if s == e.Status {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.ResourceTypes) > 0 {
		if e.TargetResourceType == nil {
			return false
		}
		if !contains(f.ResourceTypes, *e.TargetResourceType) {
			return false
		}
	}
	return true
}

func (r *EventRepo) Query(_ context.Context, filter audit.EventFilter, page audit.PageRequest) (*audit.Page, error) {
	page = page.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*audit.Event
	for _, e := range r.events {
		if matchesFilter(e, filter) {
			matched = append(matched, e)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less bool
		switch page.SortBy {
		case audit.SortByStatus:
			if a.Status != b.Status {
				less = a.Status < b.Status
			} else {
				less = strings.Compare(a.ID.String(), b.ID.String()) < 0
			}
		default:
			if !a.Timestamp.Equal(b.Timestamp) {
				less = a.Timestamp.Before(b.Timestamp)
			} else {
				less = strings.Compare(a.ID.String(), b.ID.String()) < 0
			}
		}
		if page.SortOrder == audit.SortDesc {
			return !less
		}
		return less
	})

	total := int64(len(matched))
	start := page.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*audit.Event, 0, end-start)
	for _, e := range matched[start:end] {
		out = append(out, e.Clone())
	}
	return &audit.Page{Events: out, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

func (r *EventRepo) Stream(_ context.Context, filter audit.EventFilter, fn func(*audit.Event) error) error {
	r.mu.Lock()
	snapshot := make([]*audit.Event, 0, len(r.events))
	for _, e := range r.events {
		if matchesFilter(e, filter) {
			snapshot = append(snapshot, e.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return strings.Compare(snapshot[i].ID.String(), snapshot[j].ID.String()) < 0
	})
	for _, e := range snapshot {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (r *EventRepo) CountByPrincipal(_ context.Context, organizationID, principalID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.events {
		if e.OrganizationID == organizationID && e.PrincipalID == principalID {
			n++
		}
	}
	return n, nil
}

func inSet(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (r *EventRepo) UpdatePseudonymized(_ context.Context, organizationID, principalID, pseudonymID string, actions []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.events {
		if e.OrganizationID != organizationID || e.PrincipalID != principalID {
			continue
		}
		if len(actions) > 0 && !inSet(actions, e.Action) {
			continue
		}
		e.PrincipalID = pseudonymID
		e.SessionContext.IPAddress = ""
		e.SessionContext.UserAgent = ""
		n++
	}
	return n, nil
}

func (r *EventRepo) DeleteByPrincipal(_ context.Context, organizationID, principalID string, keepActions []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var n int64
	for _, e := range r.events {
		if e.OrganizationID == organizationID && e.PrincipalID == principalID && !inSet(keepActions, e.Action) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}

func (r *EventRepo) ArchiveOlderThan(_ context.Context, cls audit.DataClassification, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, e := range r.events {
		if e.DataClassification == cls && e.ArchivedAt == nil && !e.Timestamp.After(cutoff) {
			ts := now
			e.ArchivedAt = &ts
			n++
		}
	}
	return n, nil
}

func (r *EventRepo) DeleteArchivedOlderThan(_ context.Context, cls audit.DataClassification, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var n int64
	for _, e := range r.events {
		if e.DataClassification == cls && e.ArchivedAt != nil && !e.Timestamp.After(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}

// AlertRepo is an in-memory alert.Repository.
type AlertRepo struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*alert.Alert
}

// NewAlertRepo builds an empty alert repository.
func NewAlertRepo() *AlertRepo {
	return &AlertRepo{alerts: make(map[uuid.UUID]*alert.Alert)}
}

// All returns every stored alert.
func (r *AlertRepo) All() []*alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*alert.Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *AlertRepo) Insert(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[a.ID]; ok {
		return errors.NewConflictError("alert already exists")
	}
	copied := *a
	r.alerts[a.ID] = &copied
	return nil
}

func (r *AlertRepo) Update(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[a.ID]; !ok {
		return errors.NewNotFoundError("alert")
	}
	copied := *a
	r.alerts[a.ID] = &copied
	return nil
}

func (r *AlertRepo) GetByID(_ context.Context, organizationID string, id uuid.UUID) (*alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok || a.OrganizationID != organizationID {
		return nil, errors.NewNotFoundError("alert")
	}
	copied := *a
	return &copied, nil
}

func (r *AlertRepo) List(_ context.Context, f alert.Filter) ([]*alert.Alert, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*alert.Alert
	for _, a := range r.alerts {
		if a.OrganizationID != f.OrganizationID {
			continue
		}
		if len(f.Statuses) > 0 {
			ok := false
			for _, s := range f.Statuses {
				if s == a.Status {
					ok = true
				}
			}
			if !ok {
				continue
			}
		}
		if len(f.Severities) > 0 {
			ok := false
			for _, s := range f.Severities {
				if s == a.Severity {
					ok = true
				}
			}
			if !ok {
				continue
			}
		}
		if len(f.Types) > 0 {
			ok := false
			for _, tp := range f.Types {
				if tp == a.Type {
					ok = true
				}
			}
			if !ok {
				continue
			}
		}
		if !f.From.IsZero() && a.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && a.CreatedAt.After(f.To) {
			continue
		}
		copied := *a
		matched = append(matched, &copied)
	}

	asc := f.SortOrder == "asc"
	sort.SliceStable(matched, func(i, j int) bool {
		var less bool
		switch f.SortBy {
		case "severity":
			less = matched[i].Severity.Rank() < matched[j].Severity.Rank()
		case "updatedAt":
			less = matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		default:
			less = matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		if asc {
			return less
		}
		return !less
	})

	total := int64(len(matched))
	start := f.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}
	return matched[start:end], total, nil
}

func (r *AlertRepo) CountActive(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.alerts {
		if !a.IsResolved() {
			n++
		}
	}
	return n, nil
}

func (r *AlertRepo) Statistics(_ context.Context, organizationID string) (*alert.Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &alert.Statistics{
		OrganizationID: organizationID,
		ByStatus:       map[string]int64{},
		BySeverity:     map[string]int64{},
		ByType:         map[string]int64{},
		BySource:       map[string]int64{},
	}
	trend := map[string]int64{}
	for _, a := range r.alerts {
		if a.OrganizationID != organizationID {
			continue
		}
		stats.Total++
		stats.ByStatus[string(a.Status)]++
		stats.BySeverity[string(a.Severity)]++
		stats.ByType[string(a.Type)]++
		stats.BySource[a.Source]++
		trend[a.CreatedAt.UTC().Format("2006-01-02")]++
	}
	days := make([]string, 0, len(trend))
	for d := range trend {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		stats.Trend = append(stats.Trend, alert.TrendPoint{Date: d, Count: trend[d]})
	}
	return stats, nil
}

func (r *AlertRepo) DeleteResolvedBefore(_ context.Context, organizationID string, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.alerts {
		if a.OrganizationID != organizationID {
			continue
		}
		if a.Status != alert.StatusResolved && a.Status != alert.StatusDismissed {
			continue
		}
		if a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			delete(r.alerts, id)
			n++
		}
	}
	return n, nil
}

// DLQRepo is an in-memory audit.DLQRepository.
type DLQRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*audit.DLQEntry
}

// NewDLQRepo builds an empty dead-letter repository.
func NewDLQRepo() *DLQRepo {
	return &DLQRepo{entries: make(map[uuid.UUID]*audit.DLQEntry)}
}

func (r *DLQRepo) Add(_ context.Context, entry *audit.DLQEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *entry
	r.entries[entry.ID] = &copied
	return nil
}

func (r *DLQRepo) List(_ context.Context, limit int) ([]*audit.DLQEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*audit.DLQEntry, 0, len(r.entries))
	for _, e := range r.entries {
		copied := *e
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstFailureTime.Before(out[j].FirstFailureTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *DLQRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.entries)), nil
}

func (r *DLQRepo) Archive(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, e := range r.entries {
		if e.ArchivedAt == nil && e.LastFailureTime.Before(olderThan) {
			ts := now
			e.ArchivedAt = &ts
			n++
		}
	}
	return n, nil
}

func (r *DLQRepo) Delete(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, e := range r.entries {
		if e.LastFailureTime.Before(olderThan) {
			delete(r.entries, id)
			n++
		}
	}
	return n, nil
}

func (r *DLQRepo) Remove(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return errors.NewNotFoundError("dead letter entry")
	}
	delete(r.entries, id)
	return nil
}

// RetentionPolicyRepo is an in-memory audit.RetentionPolicyRepository.
type RetentionPolicyRepo struct {
	mu       sync.Mutex
	policies map[string]*audit.RetentionPolicy
}

// NewRetentionPolicyRepo builds a policy repository seeded with the given
// policies.
func NewRetentionPolicyRepo(policies ...*audit.RetentionPolicy) *RetentionPolicyRepo {
	r := &RetentionPolicyRepo{policies: make(map[string]*audit.RetentionPolicy)}
	for _, p := range policies {
		copied := *p
		r.policies[p.Name] = &copied
	}
	return r
}

func (r *RetentionPolicyRepo) Upsert(_ context.Context, policy *audit.RetentionPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *policy
	r.policies[policy.Name] = &copied
	return nil
}

func (r *RetentionPolicyRepo) GetByName(_ context.Context, name string) (*audit.RetentionPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, errors.NewNotFoundError("retention policy")
	}
	copied := *p
	return &copied, nil
}

func (r *RetentionPolicyRepo) ListActive(_ context.Context) ([]*audit.RetentionPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*audit.RetentionPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		if p.IsActive {
			copied := *p
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PseudonymRepo is an in-memory gdpr.PseudonymRepository.
type PseudonymRepo struct {
	mu       sync.Mutex
	mappings map[string]*gdpr.PseudonymMapping
}

// NewPseudonymRepo builds an empty pseudonym repository.
func NewPseudonymRepo() *PseudonymRepo {
	return &PseudonymRepo{mappings: make(map[string]*gdpr.PseudonymMapping)}
}

func pseudonymKey(organizationID, pseudonymID string) string {
	return organizationID + "\x00" + pseudonymID
}

func (r *PseudonymRepo) Save(_ context.Context, m *gdpr.PseudonymMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *m
	r.mappings[pseudonymKey(m.OrganizationID, m.PseudonymID)] = &copied
	return nil
}

func (r *PseudonymRepo) GetByPseudonym(_ context.Context, organizationID, pseudonymID string) (*gdpr.PseudonymMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[pseudonymKey(organizationID, pseudonymID)]
	if !ok {
		return nil, errors.NewNotFoundError("pseudonym mapping")
	}
	copied := *m
	return &copied, nil
}

func (r *PseudonymRepo) DeleteByPseudonym(_ context.Context, organizationID, pseudonymID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pseudonymKey(organizationID, pseudonymID)
	if _, ok := r.mappings[key]; !ok {
		return errors.NewNotFoundError("pseudonym mapping")
	}
	delete(r.mappings, key)
	return nil
}

// Count returns the number of stored mappings.
func (r *PseudonymRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mappings)
}

// ScheduleRepo is an in-memory report.ScheduleRepository. ClaimDue mirrors
// the Postgres claim semantics: due rows are advanced before being returned.
type ScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*report.Schedule
}

// NewScheduleRepo builds an empty schedule repository.
func NewScheduleRepo() *ScheduleRepo {
	return &ScheduleRepo{schedules: make(map[uuid.UUID]*report.Schedule)}
}

func cloneSchedule(s *report.Schedule) *report.Schedule {
	copied := *s
	copied.Deliveries = append([]report.Delivery(nil), s.Deliveries...)
	if s.LastRun != nil {
		v := *s.LastRun
		copied.LastRun = &v
	}
	return &copied
}

func (r *ScheduleRepo) Create(_ context.Context, s *report.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[s.ID]; ok {
		return errors.NewConflictError("schedule already exists")
	}
	r.schedules[s.ID] = cloneSchedule(s)
	return nil
}

func (r *ScheduleRepo) Update(_ context.Context, s *report.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.schedules[s.ID]
	if !ok || existing.OrganizationID != s.OrganizationID {
		return errors.NewNotFoundError("schedule")
	}
	r.schedules[s.ID] = cloneSchedule(s)
	return nil
}

func (r *ScheduleRepo) GetByID(_ context.Context, organizationID string, id uuid.UUID) (*report.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok || s.OrganizationID != organizationID {
		return nil, errors.NewNotFoundError("schedule")
	}
	return cloneSchedule(s), nil
}

func (r *ScheduleRepo) Get(_ context.Context, id uuid.UUID) (*report.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, errors.NewNotFoundError("schedule")
	}
	return cloneSchedule(s), nil
}

func (r *ScheduleRepo) List(_ context.Context, organizationID string) ([]*report.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*report.Schedule
	for _, s := range r.schedules {
		if s.OrganizationID == organizationID {
			out = append(out, cloneSchedule(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *ScheduleRepo) Delete(_ context.Context, organizationID string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok || s.OrganizationID != organizationID {
		return errors.NewNotFoundError("schedule")
	}
	delete(r.schedules, id)
	return nil
}

func (r *ScheduleRepo) ClaimDue(_ context.Context, now time.Time, nextRun func(*report.Schedule) time.Time) ([]*report.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*report.Schedule
	for _, s := range r.schedules {
		if !s.Enabled || s.NextRun.After(now) {
			continue
		}
		next := nextRun(s).UTC()
		last := now.UTC()
		s.NextRun = next
		s.LastRun = &last
		s.UpdatedAt = last
		due = append(due, cloneSchedule(s))
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })
	return due, nil
}

// ExecutionRepo is an in-memory report.ExecutionRepository.
type ExecutionRepo struct {
	mu         sync.Mutex
	executions []*report.Execution
}

// NewExecutionRepo builds an empty execution repository.
func NewExecutionRepo() *ExecutionRepo { return &ExecutionRepo{} }

// All returns every recorded execution in insertion order.
func (r *ExecutionRepo) All() []*report.Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*report.Execution, 0, len(r.executions))
	for _, e := range r.executions {
		copied := *e
		copied.Deliveries = append([]report.DeliveryResult(nil), e.Deliveries...)
		out = append(out, &copied)
	}
	return out
}

func (r *ExecutionRepo) Record(_ context.Context, e *report.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *e
	copied.Deliveries = append([]report.DeliveryResult(nil), e.Deliveries...)
	r.executions = append(r.executions, &copied)
	return nil
}

func (r *ExecutionRepo) ListBySchedule(_ context.Context, scheduleID uuid.UUID, limit int) ([]*report.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*report.Execution
	for i := len(r.executions) - 1; i >= 0; i-- {
		if r.executions[i].ScheduleID != scheduleID {
			continue
		}
		copied := *r.executions[i]
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *ExecutionRepo) ListFailedSince(_ context.Context, cutoff time.Time) ([]*report.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*report.Execution
	for _, e := range r.executions {
		if e.Status == report.ExecutionSucceeded || e.StartedAt.Before(cutoff) {
			continue
		}
		copied := *e
		copied.Deliveries = append([]report.DeliveryResult(nil), e.Deliveries...)
		out = append(out, &copied)
	}
	return out, nil
}
