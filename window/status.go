package window

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/storage"
)

// NeedsProcessing reports whether the scheduler should run a pass over w.
// Enabled windows that were never processed always qualify; others qualify
// once the cooldown has elapsed and either series are pending from the last
// pass or the window end is within the look-ahead.
func (m *Manager) NeedsProcessing(w storage.Window) bool {
	if !w.IsEnabled {
		return false
	}
	if w.LastProcessedAt == nil {
		return true
	}
	now := m.now()
	if !w.LastProcessedAt.Before(now.Add(-m.policy.ProcessingCooldown)) {
		return false
	}
	return w.PendingSeries > 0 || w.CurrentWindowEndDate.Before(now.AddDate(0, m.policy.LookAheadMonths, 0))
}

// DueWindows lists the windows needing processing, highest priority first.
func (m *Manager) DueWindows(ctx context.Context) ([]storage.Window, error) {
	all, err := m.store.ListWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	var due []storage.Window
	for _, w := range all {
		if m.NeedsProcessing(w) {
			due = append(due, w)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ProcessingPriority > due[j].ProcessingPriority
	})
	return due, nil
}

// Status describes the materialization state of one organization.
type Status struct {
	// Window is nil when the organization is not initialized.
	Window                    *storage.Window
	RecurringSeriesCount      int
	MaterializedInstanceCount int
	LastProcessedAt           *time.Time
	NeedsProcessing           bool
	ProcessingPriority        int
}

// Status reports the state of an organization. Organizations without a
// window need processing and carry the policy priority.
func (m *Manager) Status(ctx context.Context, organizationID string) (Status, error) {
	templates, err := m.store.ListTemplates(ctx, organizationID)
	if err != nil {
		return Status{}, fmt.Errorf("list templates for %s: %w", organizationID, err)
	}
	count, err := m.store.CountInstances(ctx, organizationID)
	if err != nil {
		return Status{}, fmt.Errorf("count instances for %s: %w", organizationID, err)
	}

	st := Status{
		RecurringSeriesCount:      len(templates),
		MaterializedInstanceCount: count,
		NeedsProcessing:           true,
		ProcessingPriority:        m.policy.ProcessingPriority,
	}

	w, err := m.store.GetWindow(ctx, organizationID)
	if storage.IsNotFound(err) {
		return st, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("get window for %s: %w", organizationID, err)
	}
	st.Window = w
	st.LastProcessedAt = w.LastProcessedAt
	st.NeedsProcessing = m.NeedsProcessing(*w)
	st.ProcessingPriority = w.ProcessingPriority
	return st, nil
}

// Statistics aggregates processing state over every organization.
type Statistics struct {
	TotalOrganizations             int
	EnabledOrganizations           int
	OrganizationsNeedingProcessing int
	AverageInstancesPerRun         int
	LastProcessingRun              *time.Time
}

func (m *Manager) Statistics(ctx context.Context) (Statistics, error) {
	all, err := m.store.ListWindows(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("list windows: %w", err)
	}

	var (
		st        = Statistics{TotalOrganizations: len(all)}
		processed int
		created   int
	)
	for _, w := range all {
		if !w.IsEnabled {
			continue
		}
		st.EnabledOrganizations++
		if m.NeedsProcessing(w) {
			st.OrganizationsNeedingProcessing++
		}
		if w.LastProcessedAt == nil {
			continue
		}
		processed++
		created += w.LastProcessedInstanceCount
		if st.LastProcessingRun == nil || w.LastProcessedAt.After(*st.LastProcessingRun) {
			last := *w.LastProcessedAt
			st.LastProcessingRun = &last
		}
	}
	if processed > 0 {
		st.AverageInstancesPerRun = created / processed
	}
	return st, nil
}

// SweepStats summarizes a Sweep.
type SweepStats struct {
	OrganizationsProcessed int
	InstancesDeleted       int
	ErrorsEncountered      int
}

// Sweep moves the retention start of every enabled window to now minus its
// retention period and cleans it up. A failing organization is logged and
// counted; the sweep carries on with the others.
func (m *Manager) Sweep(ctx context.Context) (SweepStats, error) {
	all, err := m.store.ListWindows(ctx)
	if err != nil {
		return SweepStats{}, fmt.Errorf("list windows: %w", err)
	}

	var st SweepStats
	for i := range all {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		w := &all[i]
		if !w.IsEnabled {
			continue
		}
		n, err := m.sweepOne(ctx, w)
		if err != nil {
			st.ErrorsEncountered++
			m.log.Error("cleanup failed",
				logx.String("organization_id", w.OrganizationID), logx.Err(err))
			continue
		}
		st.OrganizationsProcessed++
		st.InstancesDeleted += n
	}

	m.log.Info("cleanup sweep finished",
		logx.Int("organizations", st.OrganizationsProcessed),
		logx.Int("deleted", st.InstancesDeleted),
		logx.Int("errors", st.ErrorsEncountered))
	return st, nil
}

func (m *Manager) sweepOne(ctx context.Context, w *storage.Window) (int, error) {
	now := m.now().UTC()
	retention := now.AddDate(0, -w.HistoryRetentionMonths, 0)
	if retention.After(w.RetentionStartDate) {
		w.RetentionStartDate = retention
		w.UpdatedAt = now
		if err := m.store.UpdateWindow(ctx, w); err != nil {
			return 0, fmt.Errorf("update window for %s: %w", w.OrganizationID, err)
		}
	}
	return m.Cleanup(ctx, w.OrganizationID)
}
