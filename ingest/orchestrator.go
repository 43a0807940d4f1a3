package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/onescan/dentalsync/order"
	"github.com/onescan/dentalsync/session"
	"github.com/onescan/dentalsync/store"
)

// Result is the outcome of one ingestion run against one portal. Err is set
// when the run failed; the counts then cover whatever completed before the
// failure.
type Result struct {
	RunID    string
	Platform order.Platform
	Fetched  int
	Rejected int
	Counts

	// Records are the records this run admitted and handed to the store.
	// Empty is a valid outcome of a successful run; nil on a failed one.
	Records []*order.Record

	Duration time.Duration
	Err      error
}

// Report aggregates one RunAll sweep.
type Report struct {
	Results  []Result
	Duration time.Duration
}

// Failed returns the platforms whose run errored.
func (r *Report) Failed() []order.Platform {
	var out []order.Platform
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res.Platform)
		}
	}
	return out
}

// Config assembles an Orchestrator.
type Config struct {
	Store    *store.Store
	Managers []*session.Manager
	Logger   *slog.Logger

	// LogoutAfterRun drops each portal session once its run completes
	// instead of keeping it warm for the next sweep.
	LogoutAfterRun bool

	// MaxParallel caps concurrent portal runs in RunAll. Each run owns a
	// headless browser, so this is a memory ceiling. <= 0 means 2.
	MaxParallel int
}

// Orchestrator drives ingestion runs: authenticate, fetch, normalize,
// enrich, persist, record.
type Orchestrator struct {
	store       *store.Store
	managers    map[order.Platform]*session.Manager
	pipeline    *Pipeline
	reconciler  *Reconciler
	log         *slog.Logger
	logoutAfter bool
	maxParallel int
}

// New builds an orchestrator over the given per-portal session managers.
func New(cfg Config) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	managers := make(map[order.Platform]*session.Manager, len(cfg.Managers))
	for _, m := range cfg.Managers {
		managers[m.Platform()] = m
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 2
	}
	return &Orchestrator{
		store:       cfg.Store,
		managers:    managers,
		pipeline:    NewPipeline(log),
		reconciler:  NewReconciler(cfg.Store, log),
		log:         log,
		logoutAfter: cfg.LogoutAfterRun,
		maxParallel: maxParallel,
	}
}

// Platforms lists the portals this orchestrator can run, in canonical order.
func (o *Orchestrator) Platforms() []order.Platform {
	out := make([]order.Platform, 0, len(o.managers))
	for _, p := range order.Platforms {
		if _, ok := o.managers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Manager returns the session manager for one portal, or nil.
func (o *Orchestrator) Manager(p order.Platform) *session.Manager {
	return o.managers[p]
}

// Run executes one full ingestion run for one portal and records it in the
// ingest log. The returned Result carries the error instead of masking the
// counts; Run itself only errors for an unknown platform.
func (o *Orchestrator) Run(ctx context.Context, platform order.Platform) (Result, error) {
	m, ok := o.managers[platform]
	if !ok {
		return Result{}, fmt.Errorf("ingest: no connector configured for %q", platform)
	}

	started := time.Now()
	res := Result{RunID: uuid.NewString(), Platform: platform}
	log := o.log.With("platform", platform, "run_id", res.RunID)

	res.Err = o.runOnce(ctx, m, log, &res)
	res.Duration = time.Since(started)

	if o.logoutAfter {
		m.Logout(ctx)
	}

	run := &store.Run{
		ID:         res.RunID,
		Platform:   platform,
		Status:     store.RunOK,
		Fetched:    res.Fetched,
		Inserted:   res.Inserted,
		Updated:    res.Updated,
		Unchanged:  res.Unchanged,
		Rejected:   res.Rejected,
		DurationMs: res.Duration.Milliseconds(),
		StartedAt:  started.UnixMilli(),
	}
	if res.Err != nil {
		run.Status = store.RunFailed
		run.ErrorMessage = res.Err.Error()
		log.Error("ingestion run failed", "err", res.Err, "duration", res.Duration)
	} else {
		log.Info("ingestion run done",
			"fetched", res.Fetched, "inserted", res.Inserted,
			"updated", res.Updated, "unchanged", res.Unchanged,
			"rejected", res.Rejected, "duration", res.Duration)
	}
	if err := o.store.RecordRun(ctx, run); err != nil {
		log.Error("run not recorded", "err", err)
	}
	return res, nil
}

func (o *Orchestrator) runOnce(ctx context.Context, m *session.Manager, log *slog.Logger, res *Result) error {
	if _, err := m.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	rows, err := m.Fetch(ctx)
	if err != nil {
		return err
	}
	res.Fetched = len(rows)

	profile := m.Connector().Profile()
	records, rejections := o.pipeline.Build(profile, rows)
	res.Rejected = len(rejections)

	if err := o.pipeline.EnrichComments(ctx, m, profile, records); err != nil {
		return err
	}

	counts, err := o.reconciler.Persist(ctx, records)
	if err != nil {
		return err
	}
	res.Counts = counts
	res.Records = records
	return nil
}

// RunAll sweeps every configured portal. Runs proceed independently: one
// portal failing or timing out never stops the others, and the per-portal
// outcome lands in the report rather than in the returned error.
func (o *Orchestrator) RunAll(ctx context.Context) *Report {
	started := time.Now()
	platforms := o.Platforms()
	results := make([]Result, len(platforms))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i, p := range platforms {
		g.Go(func() error {
			res, err := o.Run(ctx, p)
			if err != nil {
				res = Result{Platform: p, Err: err}
			}
			results[i] = res
			return nil // failures stay in the result, never cancel siblings
		})
	}
	_ = g.Wait() // goroutines never return errors

	return &Report{Results: results, Duration: time.Since(started)}
}
