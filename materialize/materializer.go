// Package materialize turns recurrence rules into persisted instance rows.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/recurrence"
	"github.com/cyp0633/libhorizon/storage"
	"github.com/google/uuid"
)

var (
	// ErrTemplateNotFound means the series has no template, the row is not a
	// recurring template, or it belongs to another organization.
	ErrTemplateNotFound = errors.New("recurring event template not found")
	// ErrRuleNotFound means the template has no recurrence rule.
	ErrRuleNotFound = errors.New("recurrence rule not found")
)

// instanceVersion is stamped on every generated row.
const instanceVersion = "1"

// Materializer expands a series over a window and inserts the missing rows.
type Materializer struct {
	store storage.Store
	calc  *recurrence.Calculator
	log   logx.Logger
	now   func() time.Time
	newID func() string
}

// Option configures a Materializer.
type Option func(*Materializer)

func WithLogger(log logx.Logger) Option {
	return func(m *Materializer) { m.log = log }
}

// WithCalculator replaces the default occurrence calculator.
func WithCalculator(c *recurrence.Calculator) Option {
	return func(m *Materializer) { m.calc = c }
}

// WithClock sets the source of generatedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Materializer) { m.now = now }
}

// WithIDGenerator sets the instance id generator. The default issues UUIDv7 strings.
func WithIDGenerator(gen func() string) Option {
	return func(m *Materializer) { m.newID = gen }
}

// New creates a Materializer backed by store.
func New(store storage.Store, opts ...Option) (*Materializer, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	m := &Materializer{
		store: store,
		now:   time.Now,
		newID: newUUID,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	if m.calc == nil {
		m.calc = recurrence.NewCalculator(recurrence.WithLogger(m.log))
	}
	return m, nil
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Materialize expands the series baseRecurringEventID over [windowStart, windowEnd]
// and inserts every occurrence that is not persisted yet. It returns the number
// of rows inserted. Calling it again with the same arguments inserts nothing.
func (m *Materializer) Materialize(ctx context.Context, baseRecurringEventID string, windowStart, windowEnd time.Time, organizationID string) (int, error) {
	log := m.log.With(
		logx.String("series_id", baseRecurringEventID),
		logx.String("organization_id", organizationID))

	log.Info("materializing instances",
		logx.Time("window_start", windowStart),
		logx.Time("window_end", windowEnd))

	tpl, rule, err := m.load(ctx, baseRecurringEventID, organizationID)
	if err != nil {
		log.Error("failed to load series", logx.Err(err))
		return 0, err
	}

	exceptions, err := m.store.ListExceptions(ctx, baseRecurringEventID)
	if err != nil {
		log.Error("failed to list exceptions", logx.Err(err))
		return 0, fmt.Errorf("list exceptions for %s: %w", baseRecurringEventID, err)
	}

	normalized := recurrence.NormalizeRule(*rule)
	occs := m.calc.Calculate(normalized, *tpl, windowStart, windowEnd, exceptions)

	existing, err := m.store.ListInstanceStarts(ctx, baseRecurringEventID, windowStart, windowEnd)
	if err != nil {
		log.Error("failed to list existing instances", logx.Err(err))
		return 0, fmt.Errorf("list existing instances for %s: %w", baseRecurringEventID, err)
	}
	seen := make(map[storage.InstanceKey]struct{}, len(existing))
	for _, t := range existing {
		seen[storage.NewInstanceKey(baseRecurringEventID, t)] = struct{}{}
	}

	// End date bounded series carry the size of this pass as their total.
	passTotal := -1
	if normalized.Count == 0 && normalized.RecurrenceEndDate != nil {
		passTotal = len(occs)
	}

	now := m.now().UTC()
	seriesID := rule.OriginalSeriesID
	if seriesID == "" {
		seriesID = baseRecurringEventID
	}

	rows := make([]storage.Instance, 0, len(occs))
	for _, o := range occs {
		if _, ok := seen[storage.NewInstanceKey(baseRecurringEventID, o.OriginalStartTime)]; ok {
			continue
		}
		var total *int
		switch {
		case passTotal >= 0:
			n := passTotal
			total = &n
		case o.TotalCount != nil:
			n := *o.TotalCount
			total = &n
		}
		rows = append(rows, storage.Instance{
			ID:                        m.newID(),
			BaseRecurringEventID:      baseRecurringEventID,
			RecurrenceRuleID:          rule.ID,
			OriginalSeriesID:          seriesID,
			OrganizationID:            organizationID,
			OriginalInstanceStartTime: o.OriginalStartTime,
			ActualStartTime:           o.ActualStartTime,
			ActualEndTime:             o.ActualEndTime,
			IsCancelled:               o.IsCancelled,
			SequenceNumber:            o.SequenceNumber,
			TotalCount:                total,
			GeneratedAt:               now,
			LastUpdatedAt:             now,
			Version:                   instanceVersion,
		})
	}

	inserted := 0
	if len(rows) > 0 {
		inserted, err = m.store.InsertInstances(ctx, rows)
		if err != nil {
			log.Error("failed to insert instances", logx.Int("pending", len(rows)), logx.Err(err))
			return 0, fmt.Errorf("insert instances for %s: %w", baseRecurringEventID, err)
		}
	}

	log.Info("materialized instances",
		logx.Int("calculated", len(occs)),
		logx.Int("existing", len(occs)-len(rows)),
		logx.Int("inserted", inserted))
	return inserted, nil
}

// load fetches the template and its rule concurrently and checks ownership.
func (m *Materializer) load(ctx context.Context, seriesID, organizationID string) (*storage.Template, *storage.RecurrenceRule, error) {
	var (
		wg      sync.WaitGroup
		tpl     *storage.Template
		rule    *storage.RecurrenceRule
		tplErr  error
		ruleErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tpl, tplErr = m.store.GetTemplate(ctx, seriesID)
	}()
	go func() {
		defer wg.Done()
		rule, ruleErr = m.store.GetRecurrenceRule(ctx, seriesID)
	}()
	wg.Wait()

	switch {
	case storage.IsNotFound(tplErr):
		return nil, nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, seriesID)
	case tplErr != nil:
		return nil, nil, fmt.Errorf("get template %s: %w", seriesID, tplErr)
	case tpl == nil || !tpl.IsRecurringTemplate || tpl.OrganizationID != organizationID:
		return nil, nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, seriesID)
	}

	switch {
	case storage.IsNotFound(ruleErr):
		return nil, nil, fmt.Errorf("%w: %s", ErrRuleNotFound, seriesID)
	case ruleErr != nil:
		return nil, nil, fmt.Errorf("get recurrence rule %s: %w", seriesID, ruleErr)
	case rule == nil:
		return nil, nil, fmt.Errorf("%w: %s", ErrRuleNotFound, seriesID)
	}
	return tpl, rule, nil
}
