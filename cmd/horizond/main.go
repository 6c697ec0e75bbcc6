// Command horizond keeps materialized instances of recurring events within
// each organization's window.
//
// Usage:
//
//	horizond [-config path] <command> [flags]
//
// Commands: run, init-org, extend, add-series, cancel, preview, export, status, stats, cleanup-stats.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cyp0633/libhorizon/export"
	"github.com/cyp0633/libhorizon/feed"
	"github.com/cyp0633/libhorizon/internal/config"
	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/internal/runner"
	"github.com/cyp0633/libhorizon/materialize"
	"github.com/cyp0633/libhorizon/recurrence"
	"github.com/cyp0633/libhorizon/resolve"
	"github.com/cyp0633/libhorizon/storage"
	"github.com/cyp0633/libhorizon/storage/sqlstore"
	"github.com/cyp0633/libhorizon/window"
	"github.com/google/uuid"
	"github.com/samber/mo"
	"golang.org/x/time/rate"
)

// app bundles everything a command needs.
type app struct {
	cfg     *config.Config
	log     logx.Logger
	store   storage.Store
	calc    *recurrence.Calculator
	cache   *recurrence.PreviewCache
	windows *window.Manager
	mat     *materialize.Materializer
	run     *runner.Runner
	out     io.Writer
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"run":           cmdRun,
	"init-org":      cmdInitOrg,
	"extend":        cmdExtend,
	"add-series":    cmdAddSeries,
	"cancel":        cmdCancel,
	"preview":       cmdPreview,
	"export":        cmdExport,
	"status":        cmdStatus,
	"stats":         cmdStats,
	"cleanup-stats": cmdCleanupStats,
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/horizond/config.yaml", "Path to config file")
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		return 2
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configPath, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		cfg.Logger().Error("startup failed", logx.Err(err))
		return 1
	}
	defer a.close()

	if err := cmd(ctx, a, flag.Args()[1:]); err != nil {
		a.log.Error("command failed", logx.String("command", flag.Arg(0)), logx.Err(err))
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: horizond [-config path] <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands: run, init-org, extend, add-series, cancel, preview, export, status, stats, cleanup-stats")
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := cfg.Logger().With(logx.String("service", "horizond"))

	store, err := sqlstore.Open(ctx, cfg.SQLStore(), log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cache := recurrence.NewPreviewCache(cfg.CacheConfig())
	calc := recurrence.NewCalculator(
		recurrence.WithConfig(cfg.CalculatorLimits()),
		recurrence.WithLogger(log),
		recurrence.WithPreviewCache(cache),
	)
	a := &app{cfg: cfg, log: log, store: store, calc: calc, cache: cache, out: os.Stdout}

	if a.windows, err = window.NewManager(store, window.WithPolicy(cfg.Policy()), window.WithLogger(log)); err != nil {
		a.close()
		return nil, err
	}
	if a.mat, err = materialize.New(store, materialize.WithCalculator(calc), materialize.WithLogger(log)); err != nil {
		a.close()
		return nil, err
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.SeriesPerSecond), cfg.RateLimit.Burst)
	if a.run, err = runner.New(store, a.windows, a.mat, runner.WithLimiter(limiter), runner.WithLogger(log)); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	a.cache.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store failed", logx.Err(err))
	}
}

func cmdRun(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	once := fs.Bool("once", false, "Run one materialization pass and one cleanup sweep, then exit")
	timeout := fs.Duration("job-timeout", 30*time.Minute, "Upper bound for a single scheduled job")
	if err := fs.Parse(args); err != nil {
		return err
	}

	created, err := a.run.EnsureWindows(ctx, a.cfg.Organizations)
	if err != nil {
		return err
	}
	if created > 0 {
		a.log.Info("initialized windows", logx.Int("count", created))
	}

	if *once {
		if _, err := a.run.MaterializeAll(ctx); err != nil {
			return err
		}
		_, err := a.run.CleanupAll(ctx)
		return err
	}

	if a.cfg.Feed.Listen != "" {
		srv := a.feedServer()
		go func() {
			a.log.Info("feed listening", logx.String("addr", srv.Addr), logx.String("base_path", a.cfg.Feed.BasePath))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("feed server failed", logx.Err(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	c := runner.NewCron(a.cfg.Location(), a.log)
	if err := a.run.Schedule(ctx, c, a.cfg.Schedule.Materialize, a.cfg.Schedule.Sweep, *timeout); err != nil {
		return err
	}
	c.Start()
	a.log.Info("scheduler started",
		logx.String("materialize", a.cfg.Schedule.Materialize),
		logx.String("sweep", a.cfg.Schedule.Sweep),
		logx.String("tz", a.cfg.Location().String()))

	// Catch up immediately instead of waiting for the first tick.
	if _, err := a.run.MaterializeAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("initial materialization failed", logx.Err(err))
	}

	<-ctx.Done()
	<-c.Stop().Done()
	a.log.Info("scheduler stopped")
	return nil
}

func (a *app) feedServer() *http.Server {
	var exportOpts []export.Option
	if a.cfg.Feed.ProductID != "" {
		exportOpts = append(exportOpts, export.WithProductID(a.cfg.Feed.ProductID))
	}
	router := feed.NewRouter(a.store, a.cfg.Feed.BasePath,
		feed.WithLogger(a.log),
		feed.WithDefaultDays(a.cfg.Feed.DefaultDays),
		feed.WithExportOptions(exportOpts...))

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Feed.BasePath, router)
	return &http.Server{
		Addr:              a.cfg.Feed.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func cmdInitOrg(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("init-org", flag.ContinueOnError)
	org := fs.String("org", "", "Organization id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	w, err := a.windows.Initialize(ctx, *org)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "window %s initialized for %s, ends %s\n", w.ID, w.OrganizationID, w.CurrentWindowEndDate.Format(time.RFC3339))
	return nil
}

func cmdExtend(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("extend", flag.ContinueOnError)
	org := fs.String("org", "", "Organization id")
	months := fs.Int("months", 6, "Months to add to the hot window")
	if err := fs.Parse(args); err != nil {
		return err
	}
	end, err := a.windows.Extend(ctx, *org, *months)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "window of %s now ends %s\n", *org, end.Format(time.RFC3339))
	return nil
}

func cmdAddSeries(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("add-series", flag.ContinueOnError)
	org := fs.String("org", "", "Organization id")
	id := fs.String("id", "", "Series id (generated when empty)")
	name := fs.String("name", "", "Event name")
	description := fs.String("description", "", "Event description")
	location := fs.String("location", "", "Event location")
	start := fs.String("start", "", "First occurrence start, RFC 3339")
	duration := fs.Duration("duration", time.Hour, "Occurrence duration")
	tz := fs.String("tz", "UTC", "IANA timezone of the series")
	allDay := fs.Bool("all-day", false, "All-day event")
	public := fs.Bool("public", false, "Publicly visible")
	rrule := fs.String("rrule", "", `Recurrence, e.g. "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=10"`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *org == "" || *rrule == "" || *start == "" {
		return errors.New("-org, -start and -rrule are required")
	}

	startAt, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	if _, err := time.LoadLocation(*tz); err != nil {
		return fmt.Errorf("parse -tz: %w", err)
	}
	rule, err := recurrence.ParseRRule(*rrule)
	if err != nil {
		return err
	}
	if err := recurrence.ValidateRule(rule); err != nil {
		return err
	}
	if rule.RRule, err = recurrence.FormatRRule(rule); err != nil {
		return err
	}

	if *id == "" {
		*id = uuid.NewString()
	}
	now := time.Now().UTC()
	tpl := &storage.Template{
		ID:                  *id,
		OrganizationID:      *org,
		StartAt:             startAt.UTC(),
		EndAt:               startAt.UTC().Add(*duration),
		Timezone:            *tz,
		Name:                *name,
		Description:         *description,
		Location:            *location,
		AllDay:              *allDay,
		IsPublic:            *public,
		IsRecurringTemplate: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	rule.ID = uuid.NewString()
	rule.BaseRecurringEventID = tpl.ID
	rule.OriginalSeriesID = tpl.ID
	rule.OrganizationID = *org
	rule.RecurrenceStartDate = tpl.StartAt
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := a.store.PutTemplate(ctx, tpl); err != nil {
		return err
	}
	if err := a.store.PutRecurrenceRule(ctx, &rule); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "series %s added: %s\n", tpl.ID, rule.RRule)
	return nil
}

func cmdCancel(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	series := fs.String("series", "", "Series id")
	at := fs.String("at", "", "Original start of the occurrence, RFC 3339")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tpl, err := a.store.GetTemplate(ctx, *series)
	if err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, *at)
	if err != nil {
		return fmt.Errorf("parse -at: %w", err)
	}
	now := time.Now().UTC()
	exc := &storage.Exception{
		ID:                uuid.NewString(),
		RecurringEventID:  tpl.ID,
		OrganizationID:    tpl.OrganizationID,
		InstanceStartTime: start.UTC(),
		Overrides:         storage.ExceptionOverrides{IsCancelled: mo.Some(true)},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := a.store.PutException(ctx, exc); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "occurrence %s of %s cancelled\n", start.UTC().Format(time.RFC3339), tpl.ID)
	return nil
}

func cmdPreview(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	series := fs.String("series", "", "Series id")
	n := fs.Int("n", 10, "Number of occurrences")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tpl, err := a.store.GetTemplate(ctx, *series)
	if err != nil {
		return err
	}
	rule, err := a.store.GetRecurrenceRule(ctx, *series)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTART\tEND")
	for _, occ := range a.calc.Preview(*rule, *tpl, time.Now(), *n) {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", occ.SequenceNumber,
			occ.ActualStartTime.Format(time.RFC3339), occ.ActualEndTime.Format(time.RFC3339))
	}
	return tw.Flush()
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	org := fs.String("org", "", "Organization id")
	series := fs.String("series", "", "Limit to one series")
	days := fs.Int("days", 30, "Days ahead to export")
	format := fs.String("format", "ics", "ics or xcal")
	output := fs.String("o", "", "Output file (stdout when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	from := time.Now().UTC()
	resolved, err := resolve.List(ctx, a.store, storage.InstanceFilter{
		OrganizationID:       *org,
		BaseRecurringEventID: *series,
		From:                 from,
		To:                   from.AddDate(0, 0, *days),
		IncludeCancelled:     true,
	}, a.log)
	if err != nil {
		return err
	}

	w := a.out
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	switch *format {
	case "ics":
		return export.WriteICS(w, resolved)
	case "xcal", "xml":
		return export.WriteXCal(w, resolved)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}

func cmdStatus(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	org := fs.String("org", "", "Organization id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := a.windows.Status(ctx, *org)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "organization\t%s\n", *org)
	fmt.Fprintf(tw, "initialized\t%t\n", st.Window != nil)
	if st.Window != nil {
		fmt.Fprintf(tw, "enabled\t%t\n", st.Window.IsEnabled)
		fmt.Fprintf(tw, "window end\t%s\n", st.Window.CurrentWindowEndDate.Format(time.RFC3339))
		fmt.Fprintf(tw, "retention start\t%s\n", st.Window.RetentionStartDate.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "recurring series\t%d\n", st.RecurringSeriesCount)
	fmt.Fprintf(tw, "instances\t%d\n", st.MaterializedInstanceCount)
	if st.LastProcessedAt != nil {
		fmt.Fprintf(tw, "last processed\t%s\n", st.LastProcessedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "needs processing\t%t\n", st.NeedsProcessing)
	fmt.Fprintf(tw, "priority\t%d\n", st.ProcessingPriority)
	return tw.Flush()
}

func cmdStats(ctx context.Context, a *app, _ []string) error {
	st, err := a.windows.Statistics(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "organizations\t%d\n", st.TotalOrganizations)
	fmt.Fprintf(tw, "enabled\t%d\n", st.EnabledOrganizations)
	fmt.Fprintf(tw, "needing processing\t%d\n", st.OrganizationsNeedingProcessing)
	fmt.Fprintf(tw, "average instances per run\t%d\n", st.AverageInstancesPerRun)
	if st.LastProcessingRun != nil {
		fmt.Fprintf(tw, "last run\t%s\n", st.LastProcessingRun.Format(time.RFC3339))
	}
	return tw.Flush()
}

func cmdCleanupStats(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("cleanup-stats", flag.ContinueOnError)
	org := fs.String("org", "", "Organization id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := a.windows.CleanupStats(ctx, *org)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "instances\t%d\n", st.TotalInstances)
	fmt.Fprintf(tw, "retained\t%d\n", st.InstancesInRetentionWindow)
	fmt.Fprintf(tw, "eligible for cleanup\t%d\n", st.InstancesEligibleForCleanup)
	if st.RetentionStartDate != nil {
		fmt.Fprintf(tw, "retention start\t%s\n", st.RetentionStartDate.Format(time.RFC3339))
	}
	return tw.Flush()
}
