// Package app builds the long-lived services of a planwatch process from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/clock/system"
	"github.com/seractech/planwatch/internal/config"
	collyfetcher "github.com/seractech/planwatch/internal/fetcher/colly"
	"github.com/seractech/planwatch/internal/geocode"
	"github.com/seractech/planwatch/internal/geocode/sqlitecache"
	"github.com/seractech/planwatch/internal/id/uuid"
	"github.com/seractech/planwatch/internal/ingest"
	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/portal"
	"github.com/seractech/planwatch/internal/portal/idox"
	"github.com/seractech/planwatch/internal/portal/northgate"
	"github.com/seractech/planwatch/internal/portal/planningdata"
	pubsubpublisher "github.com/seractech/planwatch/internal/publisher/pubsub"
	"github.com/seractech/planwatch/internal/ratelimit"
	"github.com/seractech/planwatch/internal/storage"
	gcsblob "github.com/seractech/planwatch/internal/storage/gcs"
	"github.com/seractech/planwatch/internal/storage/local"
	"github.com/seractech/planwatch/internal/storage/postgres"
	"github.com/seractech/planwatch/internal/store"
)

// App holds the services shared by the CLI commands.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	blobs        storage.BlobStore
	store        *store.Store
	clock        planning.Clock
	orchestrator *ingest.Orchestrator
	closers      []func() error
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	fetcher planning.Fetcher
}

// WithFetcher replaces the Colly fetcher, mainly for tests.
func WithFetcher(f planning.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// NewApp initializes every service cfg asks for. It fails fast: a backend
// that cannot be reached is an error, and whatever was already opened is
// closed again.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.blobs, err = a.openBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store, err = store.New(a.blobs, store.Config{
		OverlapDays:         cfg.Run.OverlapDays,
		InitialLookbackDays: cfg.Run.InitialLookbackDays,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	clock := system.New()
	a.clock = clock
	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.HTTP.UserAgent,
			RespectRobots: cfg.HTTP.RespectRobots,
			Timeout:       cfg.HTTP.Timeout,
		}, logger.Named("fetcher"))
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:     cfg.RateLimit.DefaultRPS,
		DefaultBurst:   cfg.RateLimit.DefaultBurst,
		ThrottleFactor: cfg.RateLimit.ThrottleFactor,
		MinRPS:         cfg.RateLimit.MinRate,
	}, ratelimit.WithClock(clock), ratelimit.WithLogger(logger))
	retry := ratelimit.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	geocoder, err := a.openGeocoder(ctx, fetcher, limiter, retry)
	if err != nil {
		return nil, err
	}

	deps := ingest.Dependencies{
		Fetcher:  fetcher,
		Portals:  portal.NewRegistry(idox.New(), northgate.New(), planningdata.New()),
		Limiter:  limiter,
		Geocoder: geocoder,
		Store:    a.store,
		Clock:    clock,
		IDs:      uuid.New(),
	}
	if cfg.PubSub.Topic != "" {
		publisher, err := a.openPublisher(ctx)
		if err != nil {
			return nil, err
		}
		deps.Publisher = publisher
	}
	if cfg.Database.DSN != "" {
		runs, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
			DSN:   cfg.Database.DSN,
			Table: cfg.Database.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("init run store: %w", err)
		}
		a.closers = append(a.closers, func() error { runs.Close(); return nil })
		deps.Runs = runs
	}

	a.orchestrator, err = ingest.New(ingest.Config{
		Concurrency: cfg.Run.Concurrency,
		Deadline:    cfg.Run.Deadline,
		MaxPages:    cfg.Run.MaxPages,
		Retry:       retry,
		Topic:       cfg.PubSub.Topic,
	}, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("councils", len(cfg.Councils)),
		zap.Bool("pubsub", deps.Publisher != nil),
		zap.Bool("run_history", deps.Runs != nil),
	)
	return a, nil
}

func (a *App) openBlobStore(ctx context.Context) (storage.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		blobs, err := gcsblob.New(client, gcsblob.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		a.logger.Info("using gcs storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Storage.DataDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		a.logger.Info("using local storage", zap.String("dir", a.cfg.Storage.DataDir))
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
}

func (a *App) openGeocoder(
	ctx context.Context,
	fetcher planning.Fetcher,
	limiter geocode.Executor,
	retry ratelimit.Policy,
) (*geocode.Geocoder, error) {
	var cache geocode.Cache
	if a.cfg.Geocoder.CachePath != "" {
		c, err := sqlitecache.Open(ctx, a.cfg.Geocoder.CachePath)
		if err != nil {
			return nil, fmt.Errorf("open geocode cache: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		cache = c
	}
	g := geocode.New(geocode.Config{
		BaseURL:   a.cfg.Geocoder.BaseURL,
		BatchSize: a.cfg.Geocoder.BatchSize,
		Retry:     retry,
	}, fetcher, limiter, cache, a.logger)
	if err := g.Warm(ctx); err != nil {
		return nil, fmt.Errorf("warm geocode cache: %w", err)
	}
	return g, nil
}

func (a *App) openPublisher(ctx context.Context) (*pubsubpublisher.Publisher, error) {
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	publisher := pubsubpublisher.New(client.Topic(a.cfg.PubSub.Topic))
	// Stop flushes the topic, so it must run before the client closes.
	a.closers = append(a.closers, func() error { publisher.Close(); return nil })
	return publisher, nil
}

// Run ingests every configured council once.
func (a *App) Run(ctx context.Context) (planning.RunSummary, error) {
	return a.orchestrator.Run(ctx, a.cfg.PlanningCouncils())
}

// Store exposes the incremental store.
func (a *App) Store() *store.Store {
	return a.store
}

// Ready reports whether the metadata file can be read.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.store.LoadMetadata(ctx); err != nil {
		return fmt.Errorf("metadata unreadable: %w", err)
	}
	return nil
}

// Clock returns the time source runs use.
func (a *App) Clock() planning.Clock {
	return a.clock
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close releases every opened client in reverse order.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
}
