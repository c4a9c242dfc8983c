package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/geocode"
	"github.com/seractech/planwatch/internal/metrics"
	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/portal"
	"github.com/seractech/planwatch/internal/queue/memory"
	"github.com/seractech/planwatch/internal/ratelimit"
	"github.com/seractech/planwatch/internal/store"
)

// DefaultMaxPages bounds pagination when neither the council nor the run
// sets a limit.
const DefaultMaxPages = 50

// Limiter is the subset of ratelimit.Limiter the orchestrator uses.
type Limiter interface {
	Configure(key string, rps float64, burst int)
	ExecuteWithRetry(ctx context.Context, key string, p ratelimit.Policy, op func(context.Context) error) error
}

// Enricher fills in coordinates.
type Enricher interface {
	Enrich(ctx context.Context, apps []planning.Application) (geocode.EnrichStats, error)
}

// Store is the persistence the orchestrator drives.
type Store interface {
	LoadMetadata(ctx context.Context) (planning.Metadata, error)
	Window(meta planning.Metadata, council planning.Council, now time.Time) planning.Window
	MergeAndPersist(ctx context.Context, councilID string, records []planning.Application) (store.MergeStats, error)
	UpdateMetadata(meta planning.Metadata, councilID string, out planning.Outcome)
	SaveMetadata(ctx context.Context, meta planning.Metadata) error
	SaveSummary(ctx context.Context, summary planning.RunSummary) error
}

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls a run.
type Config struct {
	Concurrency int
	// Deadline bounds the run's wall time. Zero means no deadline.
	Deadline time.Duration
	MaxPages int
	Retry    ratelimit.Policy
	// Topic is passed to the publisher with the run summary.
	Topic string
}

// Dependencies are the collaborators of an Orchestrator. Publisher and Runs
// are optional.
type Dependencies struct {
	Fetcher   planning.Fetcher
	Portals   *portal.Registry
	Limiter   Limiter
	Geocoder  Enricher
	Store     Store
	Publisher Publisher
	Runs      store.RunRecorder
	Clock     planning.Clock
	IDs       IDGenerator
}

// Orchestrator runs ingestion passes.
type Orchestrator struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case deps.Portals == nil:
		return nil, fmt.Errorf("portal registry is required")
	case deps.Limiter == nil:
		return nil, fmt.Errorf("limiter is required")
	case deps.Geocoder == nil:
		return nil, fmt.Errorf("geocoder is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = ratelimit.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger.Named("ingest")}, nil
}

type councilResult struct {
	summary planning.CouncilSummary
	outcome planning.Outcome
}

// Run ingests every enabled council once. A metadata file that cannot be
// read aborts the run before anything is written. Otherwise Run returns the
// summary with each council's outcome; the error is non-nil only when the
// metadata or summary could not be saved or ctx was cancelled.
func (o *Orchestrator) Run(ctx context.Context, councils []planning.Council) (planning.RunSummary, error) {
	started := o.deps.Clock.Now()
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return planning.RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := o.logger.With(zap.String("run_id", runID))
	summary := planning.RunSummary{RunID: runID, StartedAt: started.UTC()}

	meta, err := o.deps.Store.LoadMetadata(ctx)
	if err != nil {
		return summary, fmt.Errorf("load metadata: %w", err)
	}

	var deadline time.Time
	if o.cfg.Deadline > 0 {
		deadline = started.Add(o.cfg.Deadline)
	}

	var tasks []planning.CouncilTask
	for _, c := range councils {
		if !c.Enabled {
			logger.Debug("council disabled", zap.String("council", c.ID))
			continue
		}
		if c.RatePerSecond > 0 || c.Burst > 0 {
			o.deps.Limiter.Configure(c.LimiterKey(), c.RatePerSecond, c.Burst)
		}
		tasks = append(tasks, planning.CouncilTask{
			Council: c,
			Window:  o.deps.Store.Window(meta, c, started),
		})
	}
	logger.Info("run starting", zap.Int("councils", len(tasks)), zap.Time("deadline", deadline))

	q := memory.NewQueue(len(tasks))
	for _, task := range tasks {
		if err := q.Enqueue(ctx, task); err != nil {
			return summary, fmt.Errorf("enqueue %s: %w", task.Council.ID, err)
		}
	}
	q.Close()

	results := make(chan councilResult)
	var wg sync.WaitGroup
	for i := 0; i < min(o.cfg.Concurrency, len(tasks)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.work(ctx, q, deadline, results)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Metadata is only touched here, never by workers.
	for res := range results {
		summary.Councils = append(summary.Councils, res.summary)
		if res.summary.Status == planning.RunSkipped {
			continue
		}
		o.deps.Store.UpdateMetadata(meta, res.summary.Council, res.outcome)
	}

	summary.FinishedAt = o.deps.Clock.Now().UTC()
	summary.Finalize()
	metrics.SetRunDuration(summary.FinishedAt.Sub(summary.StartedAt))

	persistCtx := context.WithoutCancel(ctx)
	if err := o.deps.Store.SaveMetadata(persistCtx, meta); err != nil {
		return summary, fmt.Errorf("save metadata: %w", err)
	}
	if err := o.deps.Store.SaveSummary(persistCtx, summary); err != nil {
		return summary, fmt.Errorf("save summary: %w", err)
	}
	o.announce(persistCtx, logger, summary)

	tot := summary.Totals()
	logger.Info("run finished",
		zap.String("status", string(summary.Status)),
		zap.Int("fetched", tot.Fetched),
		zap.Int("new", tot.New),
		zap.Int("updated", tot.Updated),
		zap.Int("failed_pages", tot.FailedPages),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run interrupted: %w", err)
	}
	return summary, nil
}

func (o *Orchestrator) announce(ctx context.Context, logger *zap.Logger, summary planning.RunSummary) {
	if o.deps.Publisher != nil {
		if id, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, summary); err != nil {
			logger.Warn("publish run summary", zap.Error(err))
		} else {
			logger.Debug("run summary published", zap.String("message_id", id))
		}
	}
	if o.deps.Runs != nil {
		if err := o.deps.Runs.RecordRun(ctx, summary); err != nil {
			logger.Warn("record run", zap.Error(err))
		}
	}
}

func (o *Orchestrator) work(ctx context.Context, q *memory.Queue, deadline time.Time, out chan<- councilResult) {
	for {
		task, err := q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) {
				return
			}
			// Shutdown: the remaining councils never start.
			for {
				task, err := q.Dequeue(context.Background())
				if err != nil {
					return
				}
				out <- skipped(task, o.deps.Clock.Now(), "run cancelled before council started")
			}
		}
		metrics.IncActiveWorkers()
		res := o.runCouncil(ctx, task, deadline)
		metrics.DecActiveWorkers()
		metrics.ObserveCouncilRun(task.Council.ID, string(res.summary.Status))
		out <- res
	}
}

func skipped(task planning.CouncilTask, now time.Time, reason string) councilResult {
	return councilResult{
		summary: planning.CouncilSummary{
			Council:    task.Council.ID,
			Portal:     task.Council.Portal,
			Status:     planning.RunSkipped,
			Stage:      planning.StageIdle,
			Error:      reason,
			WindowFrom: task.Window.From,
			WindowTo:   task.Window.To,
		},
		outcome: planning.Outcome{Status: planning.RunSkipped, RunAt: now},
	}
}

func (o *Orchestrator) pastDeadline(deadline time.Time) bool {
	return !deadline.IsZero() && !o.deps.Clock.Now().Before(deadline)
}

func (o *Orchestrator) runCouncil(ctx context.Context, task planning.CouncilTask, deadline time.Time) councilResult {
	council := task.Council
	startedAt := o.deps.Clock.Now()
	logger := o.logger.With(zap.String("council", council.ID), zap.String("portal", council.Portal))

	if o.pastDeadline(deadline) {
		logger.Warn("deadline reached before council started")
		return skipped(task, startedAt, "deadline reached before council started")
	}

	sum := planning.CouncilSummary{
		Council:    council.ID,
		Portal:     council.Portal,
		Stage:      planning.StageFetching,
		WindowFrom: task.Window.From,
		WindowTo:   task.Window.To,
	}
	finish := func(status planning.RunStatus, err error, fetched int, newest planning.Date) councilResult {
		sum.Status = status
		if err != nil {
			sum.Error = err.Error()
		}
		if status == planning.RunSuccess {
			sum.Stage = planning.StageDone
		}
		now := o.deps.Clock.Now()
		sum.DurationMS = now.Sub(startedAt).Milliseconds()
		logger.Info("council finished",
			zap.String("status", string(status)),
			zap.String("stage", string(sum.Stage)),
			zap.Int("fetched", sum.Fetched),
			zap.Int("new", sum.New),
			zap.Int("updated", sum.Updated),
			zap.Int("failed_pages", sum.FailedPages),
			zap.Error(err),
		)
		return councilResult{
			summary: sum,
			outcome: planning.Outcome{Status: status, Err: err, Fetched: fetched, NewestDate: newest, RunAt: now},
		}
	}

	scraper, err := o.deps.Portals.Lookup(council.Portal)
	if err != nil {
		return finish(planning.RunFailed, err, 0, planning.Date{})
	}

	logger.Info("council starting",
		zap.Stringer("from", task.Window.From),
		zap.Stringer("to", task.Window.To),
	)
	fr := o.fetchCouncil(ctx, logger, scraper, task, deadline, &sum)
	sum.Pages = fr.pages
	sum.FailedPages = fr.failedPages
	sum.Rejected = fr.rejected
	sum.Fetched = len(fr.apps)
	metrics.ObserveApplications(council.ID, "fetched", len(fr.apps))
	metrics.ObserveApplications(council.ID, "rejected", fr.rejected)

	if fr.pages == 0 && fr.failedPages > 0 {
		return finish(planning.RunFailed, fmt.Errorf("every page failed: %w", fr.err), 0, planning.Date{})
	}

	if len(fr.apps) > 0 {
		sum.Stage = planning.StageGeocoding
		if o.pastDeadline(deadline) {
			logger.Warn("deadline passed, geocoding skipped", zap.Int("records", len(fr.apps)))
		} else {
			stats, err := o.deps.Geocoder.Enrich(ctx, fr.apps)
			sum.Geocoded = stats.Geocoded
			sum.Unresolvable = stats.Unresolvable
			sum.GeocodeFailed = stats.Failed
			if err != nil {
				logger.Warn("geocoding incomplete", zap.Error(err))
			}
		}

		sum.Stage = planning.StageMerging
		merged, err := o.deps.Store.MergeAndPersist(context.WithoutCancel(ctx), council.ID, fr.apps)
		sum.New = merged.New
		sum.Updated = merged.Updated
		sum.Unchanged = merged.Unchanged
		sum.Unplaceable = merged.Unplaceable
		sum.ShardsWritten = merged.ShardsWritten
		metrics.ObserveApplications(council.ID, "new", merged.New)
		metrics.ObserveApplications(council.ID, "updated", merged.Updated)
		metrics.ObserveApplications(council.ID, "unplaceable", merged.Unplaceable)
		if err != nil {
			return finish(planning.RunFailed, err, 0, planning.Date{})
		}
	}
	sum.Stage = planning.StageMetadataUpdate

	newest := newestPlaced(fr.apps)
	switch {
	case fr.err != nil:
		return finish(planning.RunPartial, fr.err, len(fr.apps), newest)
	case fr.interrupted:
		return finish(planning.RunPartial, errors.New("deadline reached during pagination"), len(fr.apps), newest)
	case fr.truncated:
		return finish(planning.RunPartial, fmt.Errorf("stopped after %d pages with more pending (max_pages)", fr.pages+fr.failedPages), len(fr.apps), newest)
	default:
		return finish(planning.RunSuccess, nil, len(fr.apps), newest)
	}
}

// newestPlaced returns the latest received date among records that could be
// sharded, which are the only ones persisted.
func newestPlaced(apps []planning.Application) planning.Date {
	var newest planning.Date
	for _, a := range apps {
		if a.Sector() == "" {
			continue
		}
		if a.DateReceived.After(newest) {
			newest = a.DateReceived
		}
	}
	return newest
}
