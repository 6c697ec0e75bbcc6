package storage

import (
	"fmt"
	"time"

	"github.com/samber/mo"
)

// Error types
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Frequency of a recurrence rule.
type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// Template is the base definition of a recurring series.
type Template struct {
	ID             string
	OrganizationID string

	// StartAt and EndAt of the first occurrence; together they define the duration.
	// A zero value means the field is missing.
	StartAt time.Time
	EndAt   time.Time

	// Timezone is an IANA zone name used for calendar math. Empty means UTC.
	Timezone string

	Name        string
	Description string
	Location    string

	AllDay              bool
	IsPublic            bool
	IsRegisterable      bool
	IsInviteOnly        bool
	IsRecurringTemplate bool

	CreatorID string
	UpdaterID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Duration of each occurrence.
func (t Template) Duration() time.Duration {
	return t.EndAt.Sub(t.StartAt)
}

// RecurrenceRule governs which dates a template recurs on. There is exactly one per template.
type RecurrenceRule struct {
	ID                   string
	BaseRecurringEventID string
	OriginalSeriesID     string
	OrganizationID       string
	Frequency            Frequency
	Interval             int
	Count                int // 0 means no count
	RecurrenceStartDate  time.Time
	RecurrenceEndDate    *time.Time
	RRule                string
	ByDay                []string // MO, TU, ... optionally ordinal prefixed: 1MO, -1FR
	ByMonthDay           []int
	ByMonth              []int
	LatestInstanceDate   *time.Time
	CreatorID            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Bounded reports whether the series terminates.
func (r RecurrenceRule) Bounded() bool {
	return r.Count > 0 || r.RecurrenceEndDate != nil
}

// ExceptionOverrides is the set of fields an exception is allowed to change
// on a single occurrence. Anything else on an instance cannot be overridden.
type ExceptionOverrides struct {
	StartAt        mo.Option[time.Time]
	EndAt          mo.Option[time.Time]
	IsCancelled    mo.Option[bool]
	Name           mo.Option[string]
	Description    mo.Option[string]
	Location       mo.Option[string]
	AllDay         mo.Option[bool]
	IsPublic       mo.Option[bool]
	IsRegisterable mo.Option[bool]
}

// IsEmpty reports whether no override is set.
func (o ExceptionOverrides) IsEmpty() bool {
	return o.StartAt.IsAbsent() && o.EndAt.IsAbsent() && o.IsCancelled.IsAbsent() &&
		o.Name.IsAbsent() && o.Description.IsAbsent() && o.Location.IsAbsent() &&
		o.AllDay.IsAbsent() && o.IsPublic.IsAbsent() && o.IsRegisterable.IsAbsent()
}

// Exception overrides one occurrence of a series. InstanceStartTime is the
// original, unshifted start of the occurrence.
type Exception struct {
	ID                string
	RecurringEventID  string
	OrganizationID    string
	InstanceStartTime time.Time
	Overrides         ExceptionOverrides
	CreatorID         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Key returns the lookup key of the occurrence this exception applies to.
func (e Exception) Key() InstanceKey {
	return NewInstanceKey(e.RecurringEventID, e.InstanceStartTime)
}

// Instance is one persisted occurrence of a series.
type Instance struct {
	ID                        string
	BaseRecurringEventID      string
	RecurrenceRuleID          string
	OriginalSeriesID          string
	OrganizationID            string
	OriginalInstanceStartTime time.Time
	ActualStartTime           time.Time
	ActualEndTime             time.Time
	IsCancelled               bool
	SequenceNumber            int
	TotalCount                *int
	GeneratedAt               time.Time
	LastUpdatedAt             time.Time
	Version                   string
}

// Key returns the idempotency key of the instance.
func (i Instance) Key() InstanceKey {
	return NewInstanceKey(i.BaseRecurringEventID, i.OriginalInstanceStartTime)
}

// Window is the per-organization materialization policy and state.
type Window struct {
	ID                         string
	OrganizationID             string
	HotWindowMonthsAhead       int
	HistoryRetentionMonths     int
	CurrentWindowEndDate       time.Time
	RetentionStartDate         time.Time
	ProcessingPriority         int
	MaxInstancesPerRun         int
	IsEnabled                  bool
	LastProcessedAt            *time.Time
	LastProcessedInstanceCount int
	// PendingSeries counts series the last pass deferred once its
	// instance budget was spent.
	PendingSeries              int
	ConfigurationNotes         string
	CreatedByID                string
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// InstanceFilter narrows ListInstances. Zero fields are ignored.
type InstanceFilter struct {
	OrganizationID       string
	BaseRecurringEventID string

	// Instances whose actual time range overlaps [From, To).
	From time.Time
	To   time.Time

	// Include cancelled instances.
	IncludeCancelled bool
}
