// Package window manages the per-organization materialization window: how far
// ahead instances are generated and how long past ones are retained.
package window

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/recurrence"
	"github.com/cyp0633/libhorizon/storage"
	"github.com/google/uuid"
)

var (
	// ErrNotInitialized is returned by operations that need an existing window.
	ErrNotInitialized = errors.New("materialization window not initialized")
	// ErrNotPersisted means the store accepted an insert but returned no row.
	ErrNotPersisted = errors.New("materialization window was not persisted")
	// ErrInvalidConfig wraps failed configuration checks.
	ErrInvalidConfig = errors.New("invalid window configuration")
)

// seriesEndBuffer extends the window past the end of a bounded series.
const seriesEndBuffer = 7 * 24 * time.Hour

// Manager owns window lifecycle operations.
type Manager struct {
	store  storage.Store
	policy Policy
	now    func() time.Time
	log    logx.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy replaces DefaultPolicy. Zero counts keep their defaults, except
// HistoryRetentionMonths and ProcessingCooldown where zero is meaningful.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p.withDefaults() }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(log logx.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a Manager backed by store.
func NewManager(store storage.Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	m := &Manager{
		store:  store,
		policy: DefaultPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	return m, nil
}

// Policy returns the policy in effect.
func (m *Manager) Policy() Policy { return m.policy }

// Initialize creates the window of an organization from the policy and
// returns the stored row.
func (m *Manager) Initialize(ctx context.Context, organizationID string) (*storage.Window, error) {
	now := m.now().UTC()
	w := &storage.Window{
		ID:                     uuid.NewString(),
		OrganizationID:         organizationID,
		HotWindowMonthsAhead:   m.policy.HotWindowMonthsAhead,
		HistoryRetentionMonths: m.policy.HistoryRetentionMonths,
		CurrentWindowEndDate:   now.AddDate(0, m.policy.HotWindowMonthsAhead, 0),
		RetentionStartDate:     now.AddDate(0, -m.policy.HistoryRetentionMonths, 0),
		ProcessingPriority:     m.policy.ProcessingPriority,
		MaxInstancesPerRun:     m.policy.MaxInstancesPerRun,
		IsEnabled:              true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := validate(*w); err != nil {
		return nil, err
	}

	stored, err := m.store.InsertWindow(ctx, w)
	if err != nil {
		m.log.Error("failed to initialize window",
			logx.String("organization_id", organizationID), logx.Err(err))
		return nil, fmt.Errorf("insert window for %s: %w", organizationID, err)
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotPersisted, organizationID)
	}

	m.log.Info("initialized materialization window",
		logx.String("organization_id", organizationID),
		logx.Time("window_end", stored.CurrentWindowEndDate),
		logx.Time("retention_start", stored.RetentionStartDate))
	return stored, nil
}

// Extend pushes the window end of an organization by additionalMonths and
// returns the new end date.
func (m *Manager) Extend(ctx context.Context, organizationID string, additionalMonths int) (time.Time, error) {
	if additionalMonths < 1 {
		return time.Time{}, fmt.Errorf("%w: extension must be at least one month", ErrInvalidConfig)
	}
	w, err := m.get(ctx, organizationID)
	if err != nil {
		return time.Time{}, err
	}

	previous := w.CurrentWindowEndDate
	w.CurrentWindowEndDate = previous.AddDate(0, additionalMonths, 0)
	w.HotWindowMonthsAhead += additionalMonths
	w.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateWindow(ctx, w); err != nil {
		m.log.Error("failed to extend window",
			logx.String("organization_id", organizationID), logx.Err(err))
		return time.Time{}, fmt.Errorf("update window for %s: %w", organizationID, err)
	}

	m.log.Info("extended materialization window",
		logx.String("organization_id", organizationID),
		logx.Int("months", additionalMonths),
		logx.Time("previous_end", previous),
		logx.Time("new_end", w.CurrentWindowEndDate))
	return w.CurrentWindowEndDate, nil
}

// Cleanup deletes instances that ended before the retention start. An
// organization without a window has nothing to clean and yields 0.
func (m *Manager) Cleanup(ctx context.Context, organizationID string) (int, error) {
	w, err := m.store.GetWindow(ctx, organizationID)
	if storage.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get window for %s: %w", organizationID, err)
	}

	n, err := m.store.DeleteInstancesEndingBefore(ctx, organizationID, w.RetentionStartDate)
	if err != nil {
		m.log.Error("failed to clean up instances",
			logx.String("organization_id", organizationID), logx.Err(err))
		return 0, fmt.Errorf("delete instances for %s: %w", organizationID, err)
	}
	if n > 0 {
		m.log.Info("cleaned up instances",
			logx.String("organization_id", organizationID),
			logx.Int("deleted", n),
			logx.Time("retention_start", w.RetentionStartDate))
	}
	return n, nil
}

// CleanupStats describes what Cleanup would delete.
type CleanupStats struct {
	TotalInstances              int
	InstancesInRetentionWindow  int
	InstancesEligibleForCleanup int
	// RetentionStartDate is nil when the organization has no window.
	RetentionStartDate *time.Time
}

// CleanupStats is read only. Without a window it returns the zero value.
func (m *Manager) CleanupStats(ctx context.Context, organizationID string) (CleanupStats, error) {
	w, err := m.store.GetWindow(ctx, organizationID)
	if storage.IsNotFound(err) {
		return CleanupStats{}, nil
	}
	if err != nil {
		return CleanupStats{}, fmt.Errorf("get window for %s: %w", organizationID, err)
	}

	total, err := m.store.CountInstances(ctx, organizationID)
	if err != nil {
		return CleanupStats{}, fmt.Errorf("count instances for %s: %w", organizationID, err)
	}
	eligible, err := m.store.CountInstancesEndingBefore(ctx, organizationID, w.RetentionStartDate)
	if err != nil {
		return CleanupStats{}, fmt.Errorf("count expired instances for %s: %w", organizationID, err)
	}

	retention := w.RetentionStartDate
	return CleanupStats{
		TotalInstances:              total,
		InstancesInRetentionWindow:  total - eligible,
		InstancesEligibleForCleanup: eligible,
		RetentionStartDate:          &retention,
	}, nil
}

// SeriesWindow returns the range a series of w should be materialized over.
// It starts at the retention start and ends at the later of the window end,
// now plus the hot window, and one week past the end of a bounded series.
func (m *Manager) SeriesWindow(w storage.Window, rule storage.RecurrenceRule) (time.Time, time.Time) {
	now := m.now().UTC()

	start := w.RetentionStartDate
	if start.IsZero() {
		start = now
	}
	end := now.AddDate(0, w.HotWindowMonthsAhead, 0)
	if w.CurrentWindowEndDate.After(end) {
		end = w.CurrentWindowEndDate
	}
	if r := recurrence.NormalizeRule(rule); r.RecurrenceEndDate != nil {
		if buffered := r.RecurrenceEndDate.Add(seriesEndBuffer); buffered.After(end) {
			end = buffered
		}
	}
	return start, end
}

// ProcessingResult summarizes one materialization pass over an organization.
type ProcessingResult struct {
	SeriesProcessed  int
	InstancesCreated int
	// Deferred counts series left unstarted because the budget was spent.
	Deferred         int
	Duration         time.Duration
}

// RecordProcessing stamps a finished pass on the window: the window end rolls
// forward to now plus the hot window and a note is appended to the history.
// A pass that deferred series leaves the window end alone and marks the
// window pending so NeedsProcessing picks it up after the cooldown.
// It returns the window end.
func (m *Manager) RecordProcessing(ctx context.Context, organizationID string, res ProcessingResult) (time.Time, error) {
	w, err := m.get(ctx, organizationID)
	if err != nil {
		return time.Time{}, err
	}

	now := m.now().UTC()
	if end := now.AddDate(0, w.HotWindowMonthsAhead, 0); res.Deferred == 0 && end.After(w.CurrentWindowEndDate) {
		w.CurrentWindowEndDate = end
	}
	w.LastProcessedAt = &now
	w.LastProcessedInstanceCount = res.InstancesCreated
	w.PendingSeries = res.Deferred
	note := fmt.Sprintf("%s: Processed %d series, created %d instances in %s",
		now.Format(time.RFC3339), res.SeriesProcessed, res.InstancesCreated, res.Duration.Round(time.Millisecond))
	if res.Deferred > 0 {
		note += fmt.Sprintf(", deferred %d series", res.Deferred)
	}
	w.ConfigurationNotes = appendNote(w.ConfigurationNotes, note, m.policy.NotesKept)
	w.UpdatedAt = now

	if err := m.store.UpdateWindow(ctx, w); err != nil {
		return time.Time{}, fmt.Errorf("update window for %s: %w", organizationID, err)
	}
	m.log.Info("updated materialization window",
		logx.String("organization_id", organizationID),
		logx.Time("window_end", w.CurrentWindowEndDate),
		logx.Int("series_processed", res.SeriesProcessed),
		logx.Int("instances_created", res.InstancesCreated),
		logx.Int("deferred_series", res.Deferred),
		logx.Duration("processing_time", res.Duration))
	return w.CurrentWindowEndDate, nil
}

// appendNote keeps the newest keep lines.
func appendNote(notes, note string, keep int) string {
	var lines []string
	if notes != "" {
		lines = strings.Split(notes, "\n")
	}
	lines = append(lines, note)
	if keep > 0 && len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return strings.Join(lines, "\n")
}

func (m *Manager) get(ctx context.Context, organizationID string) (*storage.Window, error) {
	w, err := m.store.GetWindow(ctx, organizationID)
	if storage.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, organizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get window for %s: %w", organizationID, err)
	}
	return w, nil
}
