package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cyp0633/libhorizon/storage"
)

const templateColumns = `id, organization_id, start_at, end_at, timezone, name, description, location,
	all_day, is_public, is_registerable, is_invite_only, is_recurring_template,
	creator_id, updater_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (*storage.Template, error) {
	var (
		t                    storage.Template
		start, end           sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&t.ID, &t.OrganizationID, &start, &end, &t.Timezone, &t.Name, &t.Description, &t.Location,
		&t.AllDay, &t.IsPublic, &t.IsRegisterable, &t.IsInviteOnly, &t.IsRecurringTemplate,
		&t.CreatorID, &t.UpdaterID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if p := timePtr(start); p != nil {
		t.StartAt = *p
	}
	if p := timePtr(end); p != nil {
		t.EndAt = *p
	}
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*storage.Template, error) {
	row := s.queryRow(ctx, `SELECT `+templateColumns+` FROM recurring_event_templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err != nil {
		return nil, notFound("template not found", err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, organizationID string) ([]storage.Template, error) {
	rows, err := s.query(ctx, `SELECT `+templateColumns+` FROM recurring_event_templates
		WHERE organization_id = ? AND is_recurring_template = ? ORDER BY id`, organizationID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) PutTemplate(ctx context.Context, t *storage.Template) error {
	if t == nil || t.ID == "" {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "template id is required"}
	}
	_, err := s.exec(ctx, `INSERT INTO recurring_event_templates (`+templateColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = excluded.organization_id,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			timezone = excluded.timezone,
			name = excluded.name,
			description = excluded.description,
			location = excluded.location,
			all_day = excluded.all_day,
			is_public = excluded.is_public,
			is_registerable = excluded.is_registerable,
			is_invite_only = excluded.is_invite_only,
			is_recurring_template = excluded.is_recurring_template,
			updater_id = excluded.updater_id,
			updated_at = excluded.updated_at`,
		t.ID, t.OrganizationID, nullMillisValue(t.StartAt), nullMillisValue(t.EndAt), t.Timezone,
		t.Name, t.Description, t.Location,
		t.AllDay, t.IsPublic, t.IsRegisterable, t.IsInviteOnly, t.IsRecurringTemplate,
		t.CreatorID, t.UpdaterID, millis(t.CreatedAt), millis(t.UpdatedAt))
	return err
}

const ruleColumns = `id, base_recurring_event_id, original_series_id, organization_id, frequency,
	interval_value, count_value, recurrence_start_date, recurrence_end_date, rrule,
	by_day, by_month_day, by_month, latest_instance_date, creator_id, created_at, updated_at`

func (s *Store) GetRecurrenceRule(ctx context.Context, baseRecurringEventID string) (*storage.RecurrenceRule, error) {
	var (
		r                           storage.RecurrenceRule
		freq, byDay, byMD, byM      string
		startDate, created, updated int64
		endDate, latest             sql.NullInt64
	)
	err := s.queryRow(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE base_recurring_event_id = ?`,
		baseRecurringEventID).Scan(
		&r.ID, &r.BaseRecurringEventID, &r.OriginalSeriesID, &r.OrganizationID, &freq,
		&r.Interval, &r.Count, &startDate, &endDate, &r.RRule,
		&byDay, &byMD, &byM, &latest, &r.CreatorID, &created, &updated)
	if err != nil {
		return nil, notFound("recurrence rule not found", err)
	}
	r.Frequency = storage.Frequency(freq)
	r.RecurrenceStartDate = fromMillis(startDate)
	r.RecurrenceEndDate = timePtr(endDate)
	r.LatestInstanceDate = timePtr(latest)
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	r.ByDay = splitStrings(byDay)
	if r.ByMonthDay, err = splitInts(byMD); err != nil {
		return nil, fmt.Errorf("rule %s: by_month_day: %w", r.ID, err)
	}
	if r.ByMonth, err = splitInts(byM); err != nil {
		return nil, fmt.Errorf("rule %s: by_month: %w", r.ID, err)
	}
	return &r, nil
}

func (s *Store) PutRecurrenceRule(ctx context.Context, r *storage.RecurrenceRule) error {
	if r == nil || r.BaseRecurringEventID == "" {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "rule must reference a template"}
	}
	byDay := ""
	for i, d := range r.ByDay {
		if i > 0 {
			byDay += ","
		}
		byDay += d
	}
	_, err := s.exec(ctx, `INSERT INTO recurrence_rules (`+ruleColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (base_recurring_event_id) DO UPDATE SET
			original_series_id = excluded.original_series_id,
			organization_id = excluded.organization_id,
			frequency = excluded.frequency,
			interval_value = excluded.interval_value,
			count_value = excluded.count_value,
			recurrence_start_date = excluded.recurrence_start_date,
			recurrence_end_date = excluded.recurrence_end_date,
			rrule = excluded.rrule,
			by_day = excluded.by_day,
			by_month_day = excluded.by_month_day,
			by_month = excluded.by_month,
			latest_instance_date = excluded.latest_instance_date,
			updated_at = excluded.updated_at`,
		r.ID, r.BaseRecurringEventID, r.OriginalSeriesID, r.OrganizationID, string(r.Frequency),
		r.Interval, r.Count, millis(r.RecurrenceStartDate), nullMillis(r.RecurrenceEndDate), r.RRule,
		byDay, joinInts(r.ByMonthDay), joinInts(r.ByMonth), nullMillis(r.LatestInstanceDate),
		r.CreatorID, millis(r.CreatedAt), millis(r.UpdatedAt))
	return err
}

func (s *Store) ListExceptions(ctx context.Context, recurringEventID string) ([]storage.Exception, error) {
	rows, err := s.query(ctx, `SELECT id, recurring_event_id, organization_id, instance_start_time, overrides,
		creator_id, created_at, updated_at
		FROM event_exceptions WHERE recurring_event_id = ? ORDER BY instance_start_time`, recurringEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Exception
	for rows.Next() {
		var (
			e                      storage.Exception
			start, created, update int64
			payload                string
		)
		if err := rows.Scan(&e.ID, &e.RecurringEventID, &e.OrganizationID, &start, &payload,
			&e.CreatorID, &created, &update); err != nil {
			return nil, err
		}
		if e.Overrides, err = storage.ParseOverrides([]byte(payload)); err != nil {
			return nil, fmt.Errorf("exception %s: %w", e.ID, err)
		}
		e.InstanceStartTime = fromMillis(start)
		e.CreatedAt = fromMillis(created)
		e.UpdatedAt = fromMillis(update)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) PutException(ctx context.Context, e *storage.Exception) error {
	if e == nil || e.RecurringEventID == "" || e.InstanceStartTime.IsZero() {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "exception must reference an occurrence"}
	}
	payload, err := json.Marshal(e.Overrides)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO event_exceptions
		(id, recurring_event_id, organization_id, instance_start_time, overrides, creator_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (recurring_event_id, instance_start_time) DO UPDATE SET
			overrides = excluded.overrides,
			updated_at = excluded.updated_at`,
		e.ID, e.RecurringEventID, e.OrganizationID, e.InstanceStartTime.UnixMilli(), string(payload),
		e.CreatorID, millis(e.CreatedAt), millis(e.UpdatedAt))
	return err
}
