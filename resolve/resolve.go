// Package resolve merges materialized instances with their template and
// exception into the view returned to readers.
package resolve

import (
	"time"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/storage"
)

// ResolvedInstance is a materialized instance with inherited template content
// and its exception applied. It is computed on read and never persisted.
type ResolvedInstance struct {
	// Identity and generation metadata, always taken from the instance row.
	ID                        string
	BaseRecurringEventID      string
	RecurrenceRuleID          string
	OriginalSeriesID          string
	OrganizationID            string
	OriginalInstanceStartTime time.Time
	SequenceNumber            int
	TotalCount                *int
	GeneratedAt               time.Time
	LastUpdatedAt             time.Time
	Version                   string

	// Schedule, overridable by an exception.
	ActualStartTime time.Time
	ActualEndTime   time.Time
	IsCancelled     bool

	// Content inherited from the template, overridable by an exception.
	Name           string
	Description    string
	Location       string
	AllDay         bool
	IsPublic       bool
	IsRegisterable bool

	// Inherited as is.
	IsInviteOnly bool
	Timezone     string
	CreatorID    string
	UpdaterID    string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	HasExceptions        bool
	AppliedExceptionData *storage.ExceptionOverrides
	ExceptionCreatedBy   string
	ExceptionCreatedAt   *time.Time
}

// Resolve builds the read view of inst. Only the whitelisted fields of
// ExceptionOverrides can change the result; identity and audit fields always
// come from the instance row. exc may be nil.
func Resolve(inst storage.Instance, tpl storage.Template, exc *storage.Exception) ResolvedInstance {
	r := ResolvedInstance{
		ID:                        inst.ID,
		BaseRecurringEventID:      inst.BaseRecurringEventID,
		RecurrenceRuleID:          inst.RecurrenceRuleID,
		OriginalSeriesID:          inst.OriginalSeriesID,
		OrganizationID:            inst.OrganizationID,
		OriginalInstanceStartTime: inst.OriginalInstanceStartTime,
		SequenceNumber:            inst.SequenceNumber,
		TotalCount:                inst.TotalCount,
		GeneratedAt:               inst.GeneratedAt,
		LastUpdatedAt:             inst.LastUpdatedAt,
		Version:                   inst.Version,

		ActualStartTime: inst.ActualStartTime,
		ActualEndTime:   inst.ActualEndTime,
		IsCancelled:     inst.IsCancelled,

		Name:           tpl.Name,
		Description:    tpl.Description,
		Location:       tpl.Location,
		AllDay:         tpl.AllDay,
		IsPublic:       tpl.IsPublic,
		IsRegisterable: tpl.IsRegisterable,
		IsInviteOnly:   tpl.IsInviteOnly,
		Timezone:       tpl.Timezone,
		CreatorID:      tpl.CreatorID,
		UpdaterID:      tpl.UpdaterID,
		CreatedAt:      tpl.CreatedAt,
		UpdatedAt:      tpl.UpdatedAt,
	}
	if exc == nil {
		return r
	}

	o := exc.Overrides
	r.Name = o.Name.OrElse(r.Name)
	r.Description = o.Description.OrElse(r.Description)
	r.Location = o.Location.OrElse(r.Location)
	r.AllDay = o.AllDay.OrElse(r.AllDay)
	r.IsPublic = o.IsPublic.OrElse(r.IsPublic)
	r.IsRegisterable = o.IsRegisterable.OrElse(r.IsRegisterable)
	r.ActualStartTime = o.StartAt.OrElse(r.ActualStartTime)
	r.ActualEndTime = o.EndAt.OrElse(r.ActualEndTime)
	r.IsCancelled = o.IsCancelled.OrElse(r.IsCancelled)

	applied := o
	r.HasExceptions = true
	r.AppliedExceptionData = &applied
	r.ExceptionCreatedBy = exc.CreatorID
	if !exc.CreatedAt.IsZero() {
		createdAt := exc.CreatedAt
		r.ExceptionCreatedAt = &createdAt
	}
	return r
}

// TemplateLookup indexes templates by id.
type TemplateLookup map[string]*storage.Template

// ExceptionLookup indexes exceptions by series and original start.
type ExceptionLookup map[storage.InstanceKey]*storage.Exception

// NewTemplateLookup indexes templates by id.
func NewTemplateLookup(templates []storage.Template) TemplateLookup {
	out := make(TemplateLookup, len(templates))
	for i := range templates {
		out[templates[i].ID] = &templates[i]
	}
	return out
}

// NewExceptionLookup indexes exceptions by storage.InstanceKey.
func NewExceptionLookup(exceptions []storage.Exception) ExceptionLookup {
	out := make(ExceptionLookup, len(exceptions))
	for i := range exceptions {
		out[exceptions[i].Key()] = &exceptions[i]
	}
	return out
}

// ResolveMany resolves a batch. Instances whose template is missing from
// templates are skipped with a warning instead of failing the batch.
func ResolveMany(instances []storage.Instance, templates TemplateLookup, exceptions ExceptionLookup, log logx.Logger) []ResolvedInstance {
	out := make([]ResolvedInstance, 0, len(instances))
	for _, inst := range instances {
		tpl, ok := templates[inst.BaseRecurringEventID]
		if !ok || tpl == nil {
			log.Warn("template missing for instance, skipping",
				logx.String("instance_id", inst.ID),
				logx.String("series_id", inst.BaseRecurringEventID),
				logx.String("organization_id", inst.OrganizationID))
			continue
		}
		out = append(out, Resolve(inst, *tpl, exceptions[inst.Key()]))
	}
	return out
}

// IsComplete reports whether every required field of r is set, logging the
// first one missing.
func IsComplete(r ResolvedInstance, log logx.Logger) bool {
	checks := []struct {
		field string
		ok    bool
	}{
		{"id", r.ID != ""},
		{"baseRecurringEventId", r.BaseRecurringEventID != ""},
		{"recurrenceRuleId", r.RecurrenceRuleID != ""},
		{"organizationId", r.OrganizationID != ""},
		{"originalInstanceStartTime", !r.OriginalInstanceStartTime.IsZero()},
		{"actualStartTime", !r.ActualStartTime.IsZero()},
		{"actualEndTime", !r.ActualEndTime.IsZero()},
		{"sequenceNumber", r.SequenceNumber > 0},
		{"name", r.Name != ""},
	}
	for _, c := range checks {
		if !c.ok {
			log.Warn("resolved instance is incomplete",
				logx.String("instance_id", r.ID),
				logx.String("missing_field", c.field))
			return false
		}
	}
	return true
}
