// Package runner drives materialization and retention for every organization
// on a schedule.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/materialize"
	"github.com/cyp0633/libhorizon/storage"
	"github.com/cyp0633/libhorizon/window"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// Runner runs materialization passes over all due windows.
type Runner struct {
	store   storage.Store
	windows *window.Manager
	mat     *materialize.Materializer
	limiter *rate.Limiter
	log     logx.Logger
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLimiter throttles Materialize calls. Each series takes one token.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Runner) { r.limiter = l }
}

func WithLogger(log logx.Logger) Option {
	return func(r *Runner) { r.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner. Without WithLimiter series are not throttled.
func New(store storage.Store, windows *window.Manager, mat *materialize.Materializer, opts ...Option) (*Runner, error) {
	if store == nil || windows == nil || mat == nil {
		return nil, errors.New("runner: store, window manager and materializer are required")
	}
	r := &Runner{
		store:   store,
		windows: windows,
		mat:     mat,
		limiter: rate.NewLimiter(rate.Inf, 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r, nil
}

// Summary totals one MaterializeAll run.
type Summary struct {
	OrganizationsProcessed int
	SeriesProcessed        int
	InstancesCreated       int
	ErrorsEncountered      int
}

// EnsureWindows initializes the window of every organization that has none.
// It returns how many windows were created.
func (r *Runner) EnsureWindows(ctx context.Context, organizationIDs []string) (int, error) {
	created := 0
	for _, org := range organizationIDs {
		_, err := r.store.GetWindow(ctx, org)
		if err == nil {
			continue
		}
		if !storage.IsNotFound(err) {
			return created, fmt.Errorf("get window for %s: %w", org, err)
		}
		if _, err := r.windows.Initialize(ctx, org); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// MaterializeAll processes every due window, highest priority first.
// A failing organization is logged and counted; the rest still run.
func (r *Runner) MaterializeAll(ctx context.Context) (Summary, error) {
	due, err := r.windows.DueWindows(ctx)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, w := range due {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := r.MaterializeOrganization(ctx, w)
		sum.SeriesProcessed += res.SeriesProcessed
		sum.InstancesCreated += res.InstancesCreated
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.ErrorsEncountered++
			r.log.Error("materialization pass failed",
				logx.String("organization_id", w.OrganizationID),
				logx.Err(err))
			continue
		}
		sum.OrganizationsProcessed++
	}

	r.log.Info("materialization run finished",
		logx.Int("organizations", sum.OrganizationsProcessed),
		logx.Int("series", sum.SeriesProcessed),
		logx.Int("instances_created", sum.InstancesCreated),
		logx.Int("errors", sum.ErrorsEncountered))
	return sum, nil
}

// MaterializeOrganization materializes every recurring series of w and
// records the pass on the window. Series stop being started once the
// window's MaxInstancesPerRun budget is spent. The window is then left
// pending and the next due pass picks them up.
// A series that fails is logged and skipped.
func (r *Runner) MaterializeOrganization(ctx context.Context, w storage.Window) (window.ProcessingResult, error) {
	started := r.now()
	log := r.log.With(logx.String("organization_id", w.OrganizationID))

	templates, err := r.store.ListTemplates(ctx, w.OrganizationID)
	if err != nil {
		return window.ProcessingResult{}, fmt.Errorf("list templates for %s: %w", w.OrganizationID, err)
	}

	budget := w.MaxInstancesPerRun
	if budget <= 0 {
		budget = r.windows.Policy().MaxInstancesPerRun
	}

	var res window.ProcessingResult
	for i, tpl := range templates {
		if res.InstancesCreated >= budget {
			res.Deferred = len(templates) - i
			log.Info("instance budget spent, deferring remaining series",
				logx.Int("budget", budget),
				logx.Int("remaining_series", res.Deferred))
			break
		}

		rule, err := r.store.GetRecurrenceRule(ctx, tpl.ID)
		if err != nil {
			log.Warn("skipping series without usable rule",
				logx.String("series_id", tpl.ID),
				logx.Err(err))
			continue
		}
		from, to := r.windows.SeriesWindow(w, *rule)

		if err := r.limiter.Wait(ctx); err != nil {
			res.Duration = r.now().Sub(started)
			return res, err
		}
		n, err := r.mat.Materialize(ctx, tpl.ID, from, to, w.OrganizationID)
		if err != nil {
			log.Warn("series materialization failed",
				logx.String("series_id", tpl.ID),
				logx.Err(err))
			continue
		}
		res.SeriesProcessed++
		res.InstancesCreated += n
	}
	res.Duration = r.now().Sub(started)

	if _, err := r.windows.RecordProcessing(ctx, w.OrganizationID, res); err != nil {
		return res, err
	}
	return res, nil
}

// CleanupAll applies retention to every enabled window.
func (r *Runner) CleanupAll(ctx context.Context) (window.SweepStats, error) {
	return r.windows.Sweep(ctx)
}

// NewCron creates a scheduler in loc that logs through log, recovers job
// panics and skips a tick while the previous run of the same job is busy.
func NewCron(loc *time.Location, log logx.Logger) *cron.Cron {
	cl := cronLogger{log: log}
	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// Schedule registers the materialization and cleanup jobs on c. Jobs run with
// ctx and each run is bounded by timeout when it is positive.
func (r *Runner) Schedule(ctx context.Context, c *cron.Cron, materializeSpec, sweepSpec string, timeout time.Duration) error {
	if _, err := c.AddFunc(materializeSpec, r.job(ctx, "materialize", timeout, func(ctx context.Context) error {
		_, err := r.MaterializeAll(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("add materialize job: %w", err)
	}
	if _, err := c.AddFunc(sweepSpec, r.job(ctx, "sweep", timeout, func(ctx context.Context) error {
		_, err := r.CleanupAll(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("add sweep job: %w", err)
	}
	return nil
}

func (r *Runner) job(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		runCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		started := r.now()
		if err := fn(runCtx); err != nil {
			r.log.Error("scheduled job failed", logx.String("job", name), logx.Err(err))
			return
		}
		r.log.Debug("scheduled job done",
			logx.String("job", name),
			logx.Duration("took", r.now().Sub(started)))
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, logx.Any(key, kv[i+1]))
	}
	return fields
}
