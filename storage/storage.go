package storage

import (
	"context"
	"errors"
	"time"
)

// Store connects the recurrence engine with a persistence backend.
// Lookups of a single row return an *Error of type ErrNotFound when the row is absent.
type Store interface {
	// GetTemplate finds a template by id.
	GetTemplate(ctx context.Context, id string) (*Template, error)
	// ListTemplates lists the recurring templates of an organization.
	ListTemplates(ctx context.Context, organizationID string) ([]Template, error)
	// PutTemplate creates or replaces a template.
	PutTemplate(ctx context.Context, t *Template) error

	// GetRecurrenceRule finds the rule attached to a template.
	GetRecurrenceRule(ctx context.Context, baseRecurringEventID string) (*RecurrenceRule, error)
	// PutRecurrenceRule creates or replaces the rule of a template.
	PutRecurrenceRule(ctx context.Context, r *RecurrenceRule) error

	// ListExceptions returns every exception of a series.
	ListExceptions(ctx context.Context, recurringEventID string) ([]Exception, error)
	// PutException creates or replaces the exception keyed by (series, original start).
	PutException(ctx context.Context, e *Exception) error

	// ListInstanceStarts returns the original start of every instance of a series
	// whose original start lies in [from, to].
	ListInstanceStarts(ctx context.Context, baseRecurringEventID string, from, to time.Time) ([]time.Time, error)
	// InsertInstances inserts rows and silently skips any whose
	// (baseRecurringEventID, originalInstanceStartTime) already exists.
	// It returns the number of rows actually inserted.
	InsertInstances(ctx context.Context, instances []Instance) (int, error)
	// ListInstances returns instances ordered by actual start time.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]Instance, error)
	// CountInstances counts all instances of an organization.
	CountInstances(ctx context.Context, organizationID string) (int, error)
	// CountInstancesEndingBefore counts instances with actualEndTime < cutoff.
	CountInstancesEndingBefore(ctx context.Context, organizationID string, cutoff time.Time) (int, error)
	// DeleteInstancesEndingBefore deletes instances with actualEndTime < cutoff.
	DeleteInstancesEndingBefore(ctx context.Context, organizationID string, cutoff time.Time) (int, error)

	// GetWindow finds the window configuration of an organization.
	GetWindow(ctx context.Context, organizationID string) (*Window, error)
	// ListWindows returns all window configurations.
	ListWindows(ctx context.Context) ([]Window, error)
	// InsertWindow persists a new window and returns the stored row.
	InsertWindow(ctx context.Context, w *Window) (*Window, error)
	// UpdateWindow replaces an existing window.
	UpdateWindow(ctx context.Context, w *Window) error

	Close() error
}

// IsNotFound reports whether err is a storage error of type ErrNotFound.
func IsNotFound(err error) bool {
	return isType(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is a storage error of type ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return isType(err, ErrAlreadyExists)
}

func isType(err error, t ErrorType) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Type == t
	}
	return false
}
