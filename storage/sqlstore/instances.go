package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cyp0633/libhorizon/storage"
)

const instanceColumns = `id, base_recurring_event_id, recurrence_rule_id, original_series_id, organization_id,
	original_instance_start_time, actual_start_time, actual_end_time, is_cancelled,
	sequence_number, total_count, generated_at, last_updated_at, version`

func (s *Store) ListInstanceStarts(ctx context.Context, baseRecurringEventID string, from, to time.Time) ([]time.Time, error) {
	rows, err := s.query(ctx, `SELECT original_instance_start_time FROM recurring_event_instances
		WHERE base_recurring_event_id = ? AND original_instance_start_time >= ? AND original_instance_start_time <= ?
		ORDER BY original_instance_start_time`,
		baseRecurringEventID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		out = append(out, time.UnixMilli(ms).UTC())
	}
	return out, rows.Err()
}

// InsertInstances writes the batch in one transaction. Rows colliding with the
// (series, original start) unique index are skipped by the database.
func (s *Store) InsertInstances(ctx context.Context, instances []storage.Instance) (int, error) {
	if len(instances) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO recurring_event_instances (`+instanceColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT DO NOTHING`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, inst := range instances {
		var total sql.NullInt64
		if inst.TotalCount != nil {
			total = sql.NullInt64{Int64: int64(*inst.TotalCount), Valid: true}
		}
		res, err := stmt.ExecContext(ctx,
			inst.ID, inst.BaseRecurringEventID, inst.RecurrenceRuleID, inst.OriginalSeriesID, inst.OrganizationID,
			inst.OriginalInstanceStartTime.UnixMilli(), inst.ActualStartTime.UnixMilli(), inst.ActualEndTime.UnixMilli(),
			inst.IsCancelled, inst.SequenceNumber, total, millis(inst.GeneratedAt), millis(inst.LastUpdatedAt), inst.Version)
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) ListInstances(ctx context.Context, filter storage.InstanceFilter) ([]storage.Instance, error) {
	var (
		where []string
		args  []any
	)
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.BaseRecurringEventID != "" {
		where = append(where, "base_recurring_event_id = ?")
		args = append(args, filter.BaseRecurringEventID)
	}
	if !filter.From.IsZero() {
		where = append(where, "actual_end_time > ?")
		args = append(args, filter.From.UnixMilli())
	}
	if !filter.To.IsZero() {
		where = append(where, "actual_start_time < ?")
		args = append(args, filter.To.UnixMilli())
	}
	if !filter.IncludeCancelled {
		where = append(where, "is_cancelled = ?")
		args = append(args, false)
	}

	q := `SELECT ` + instanceColumns + ` FROM recurring_event_instances`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY actual_start_time, base_recurring_event_id"

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Instance
	for rows.Next() {
		var (
			inst                       storage.Instance
			orig, start, end, gen, upd int64
			total                      sql.NullInt64
		)
		if err := rows.Scan(&inst.ID, &inst.BaseRecurringEventID, &inst.RecurrenceRuleID, &inst.OriginalSeriesID,
			&inst.OrganizationID, &orig, &start, &end, &inst.IsCancelled,
			&inst.SequenceNumber, &total, &gen, &upd, &inst.Version); err != nil {
			return nil, err
		}
		inst.OriginalInstanceStartTime = time.UnixMilli(orig).UTC()
		inst.ActualStartTime = time.UnixMilli(start).UTC()
		inst.ActualEndTime = time.UnixMilli(end).UTC()
		inst.GeneratedAt = fromMillis(gen)
		inst.LastUpdatedAt = fromMillis(upd)
		if total.Valid {
			n := int(total.Int64)
			inst.TotalCount = &n
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) CountInstances(ctx context.Context, organizationID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM recurring_event_instances WHERE organization_id = ?`,
		organizationID).Scan(&n)
	return n, err
}

func (s *Store) CountInstancesEndingBefore(ctx context.Context, organizationID string, cutoff time.Time) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM recurring_event_instances
		WHERE organization_id = ? AND actual_end_time < ?`, organizationID, cutoff.UnixMilli()).Scan(&n)
	return n, err
}

func (s *Store) DeleteInstancesEndingBefore(ctx context.Context, organizationID string, cutoff time.Time) (int, error) {
	res, err := s.exec(ctx, `DELETE FROM recurring_event_instances
		WHERE organization_id = ? AND actual_end_time < ?`, organizationID, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
