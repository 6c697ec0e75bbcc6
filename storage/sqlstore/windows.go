package sqlstore

import (
	"context"
	"database/sql"

	"github.com/cyp0633/libhorizon/storage"
)

const windowColumns = `id, organization_id, hot_window_months_ahead, history_retention_months,
	current_window_end_date, retention_start_date, processing_priority, max_instances_per_run,
	is_enabled, last_processed_at, last_processed_instance_count, pending_series, configuration_notes,
	created_by_id, created_at, updated_at`

func scanWindow(row scanner) (*storage.Window, error) {
	var (
		w                            storage.Window
		end, retention, created, upd int64
		processed                    sql.NullInt64
	)
	err := row.Scan(&w.ID, &w.OrganizationID, &w.HotWindowMonthsAhead, &w.HistoryRetentionMonths,
		&end, &retention, &w.ProcessingPriority, &w.MaxInstancesPerRun,
		&w.IsEnabled, &processed, &w.LastProcessedInstanceCount, &w.PendingSeries, &w.ConfigurationNotes,
		&w.CreatedByID, &created, &upd)
	if err != nil {
		return nil, err
	}
	w.CurrentWindowEndDate = fromMillis(end)
	w.RetentionStartDate = fromMillis(retention)
	w.LastProcessedAt = timePtr(processed)
	w.CreatedAt = fromMillis(created)
	w.UpdatedAt = fromMillis(upd)
	return &w, nil
}

func (s *Store) GetWindow(ctx context.Context, organizationID string) (*storage.Window, error) {
	w, err := scanWindow(s.queryRow(ctx, `SELECT `+windowColumns+` FROM event_generation_windows
		WHERE organization_id = ?`, organizationID))
	if err != nil {
		return nil, notFound("window not found", err)
	}
	return w, nil
}

func (s *Store) ListWindows(ctx context.Context) ([]storage.Window, error) {
	rows, err := s.query(ctx, `SELECT `+windowColumns+` FROM event_generation_windows
		ORDER BY processing_priority DESC, organization_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *Store) InsertWindow(ctx context.Context, w *storage.Window) (*storage.Window, error) {
	if w == nil || w.OrganizationID == "" {
		return nil, &storage.Error{Type: storage.ErrInvalidInput, Message: "window must reference an organization"}
	}
	res, err := s.exec(ctx, `INSERT INTO event_generation_windows (`+windowColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT DO NOTHING`,
		w.ID, w.OrganizationID, w.HotWindowMonthsAhead, w.HistoryRetentionMonths,
		millis(w.CurrentWindowEndDate), millis(w.RetentionStartDate), w.ProcessingPriority, w.MaxInstancesPerRun,
		w.IsEnabled, nullMillis(w.LastProcessedAt), w.LastProcessedInstanceCount, w.PendingSeries, w.ConfigurationNotes,
		w.CreatedByID, millis(w.CreatedAt), millis(w.UpdatedAt))
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, &storage.Error{Type: storage.ErrAlreadyExists, Message: "window already exists"}
	}
	return s.GetWindow(ctx, w.OrganizationID)
}

func (s *Store) UpdateWindow(ctx context.Context, w *storage.Window) error {
	if w == nil {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "window is nil"}
	}
	res, err := s.exec(ctx, `UPDATE event_generation_windows SET
			hot_window_months_ahead = ?,
			history_retention_months = ?,
			current_window_end_date = ?,
			retention_start_date = ?,
			processing_priority = ?,
			max_instances_per_run = ?,
			is_enabled = ?,
			last_processed_at = ?,
			last_processed_instance_count = ?,
			pending_series = ?,
			configuration_notes = ?,
			updated_at = ?
		WHERE organization_id = ?`,
		w.HotWindowMonthsAhead, w.HistoryRetentionMonths,
		millis(w.CurrentWindowEndDate), millis(w.RetentionStartDate),
		w.ProcessingPriority, w.MaxInstancesPerRun, w.IsEnabled,
		nullMillis(w.LastProcessedAt), w.LastProcessedInstanceCount, w.PendingSeries, w.ConfigurationNotes,
		millis(w.UpdatedAt), w.OrganizationID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: "window not found"}
	}
	return nil
}
