// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/film-ratings-crawler/internal/api"
	"github.com/JakeFAU/film-ratings-crawler/internal/clock/system"
	"github.com/JakeFAU/film-ratings-crawler/internal/config"
	"github.com/JakeFAU/film-ratings-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/film-ratings-crawler/internal/fetcher/colly"
	sha256hash "github.com/JakeFAU/film-ratings-crawler/internal/hash/sha256"
	idgen "github.com/JakeFAU/film-ratings-crawler/internal/id/uuid"
	"github.com/JakeFAU/film-ratings-crawler/internal/importer"
	"github.com/JakeFAU/film-ratings-crawler/internal/parser"
	"github.com/JakeFAU/film-ratings-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/film-ratings-crawler/internal/progress"
	"github.com/JakeFAU/film-ratings-crawler/internal/progress/sinks"
	"github.com/JakeFAU/film-ratings-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
	"github.com/JakeFAU/film-ratings-crawler/internal/repair"
	"github.com/JakeFAU/film-ratings-crawler/internal/storage/gcs"
	"github.com/JakeFAU/film-ratings-crawler/internal/storage/local"
	"github.com/JakeFAU/film-ratings-crawler/internal/storage/memory"
	"github.com/JakeFAU/film-ratings-crawler/internal/storage/postgres"
	"github.com/JakeFAU/film-ratings-crawler/internal/storage/sqlite"
)

const hubCloseTimeout = 5 * time.Second

// Publisher delivers run summaries and is released on Close.
type Publisher interface {
	sinks.Publisher
	Close() error
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	publisher  Publisher
	clock      ratings.Clock
}

// WithLogger sets the process logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer sets where progress metrics are registered. Defaults to the
// Prometheus default registerer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithPublisher replaces the Pub/Sub publisher built from configuration.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock overrides the wall clock.
func WithClock(c ratings.Clock) Option {
	return func(o *options) { o.clock = c }
}

// App holds the shared, long-lived services for one process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     ratings.Store
	blobs     ratings.BlobStore
	closeBlob func() error
	publisher Publisher
	hub       *progress.Hub
	clock     ratings.Clock
	ids       ratings.IDGenerator
}

// New builds every service named by cfg and fails fast if a critical one
// cannot be initialized. Resources opened before a failure are released.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = system.New()
	}

	a := &App{
		cfg:       cfg,
		logger:    o.logger,
		clock:     o.clock,
		ids:       idgen.New(),
		publisher: o.publisher,
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if a.store, err = openStore(ctx, cfg.DB, a.logger); err != nil {
		return nil, err
	}
	if err = a.openArchive(ctx); err != nil {
		return nil, err
	}

	logSink := sinks.NewLogSink(a.logger)
	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	hubSinks := []progress.Sink{logSink, promSink}
	if cfg.PubSub.Topic != "" {
		if a.publisher == nil {
			a.logger.Info("publishing run summaries", zap.String("project", cfg.PubSub.ProjectID), zap.String("topic", cfg.PubSub.Topic))
			if a.publisher, err = pubsub.New(ctx, cfg.PubSub.ProjectID); err != nil {
				return nil, fmt.Errorf("init publisher: %w", err)
			}
		}
		hubSinks = append(hubSinks, sinks.NewSummarySink(a.publisher, cfg.PubSub.Topic, a.logger))
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, hubSinks...)

	a.logger.Info("application services initialized",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("archive", cfg.Archive.Backend),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (ratings.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		logger.Info("opening sqlite store", zap.String("dsn", cfg.DSN))
		s, err := sqlite.Open(cfg.DSN, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate sqlite store: %w", err)
		}
		return s, nil
	case config.DriverPostgres:
		logger.Info("connecting to postgres")
		s, err := postgres.NewRecordStore(ctx, postgres.Config{
			DSN:             cfg.DSN,
			Table:           cfg.Table,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		return s, nil
	case config.DriverMemory:
		logger.Warn("using in-memory store; records are discarded on exit")
		return memory.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

func (a *App) openArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case config.ArchiveNone, "":
		return nil
	case config.ArchiveMemory:
		a.blobs = memory.NewBlobStore()
	case config.ArchiveLocal:
		s, err := local.New(local.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.blobs = s
	case config.ArchiveGCS:
		s, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.blobs = s
		a.closeBlob = s.Close
	default:
		return fmt.Errorf("unknown archive backend %q", a.cfg.Archive.Backend)
	}
	return nil
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Store returns the record store.
func (a *App) Store() ratings.Store { return a.store }

// Archive returns the raw page archive, or nil when archiving is off.
func (a *App) Archive() ratings.BlobStore { return a.blobs }

// Crawler assembles the incremental crawler over the registry.
func (a *App) Crawler() (*crawler.Crawler, error) {
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		BaseURL:       a.cfg.Registry.BaseURL,
		UserAgent:     a.cfg.Registry.UserAgent,
		RespectRobots: a.cfg.Registry.RespectRobots,
		Timeout:       a.cfg.RegistryTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	var archiver *crawler.Archiver
	if a.blobs != nil {
		archiver = crawler.NewArchiver(a.blobs, sha256hash.New(), a.cfg.Archive.Prefix)
	}
	return crawler.New(
		a.store,
		fetcher,
		parser.New(selectors(a.cfg.Parser.Selectors)),
		ratelimit.New(a.cfg.CrawlDelay()),
		a.clock,
		a.ids,
		archiver,
		a.hub,
		crawler.Config{
			StartYear:       a.cfg.Crawler.StartYear,
			MaxPagesPerYear: a.cfg.Crawler.MaxPagesPerYear,
		},
		a.logger,
	), nil
}

func selectors(c config.SelectorConfig) parser.Selectors {
	return parser.Selectors{
		Item:        c.Item,
		Title:       c.Title,
		Studio:      c.Studio,
		RatingBadge: c.RatingBadge,
		Detail:      c.Detail,
		Label:       c.Label,
		Value:       c.Value,
	}
}

// Repairer assembles the rating repair pass.
func (a *App) Repairer() *repair.Repairer {
	return repair.New(a.store, a.clock, a.ids, a.hub, repair.Config{
		PreviewLimit: a.cfg.Repair.PreviewLimit,
		PreviewChars: a.cfg.Repair.PreviewChars,
	}, a.logger)
}

// Importer assembles the CSV seeder.
func (a *App) Importer() *importer.Importer {
	return importer.New(a.store, a.clock, a.logger)
}

// APIServer assembles the HTTP query API.
func (a *App) APIServer() *api.Server {
	return api.NewServer(a.store, api.Config{
		DefaultPerPage: a.cfg.API.DefaultPerPage,
		MaxPerPage:     a.cfg.API.MaxPerPage,
	}, a.logger)
}

// Close drains progress sinks and releases every service. It is safe to call
// on a partially built App.
func (a *App) Close(ctx context.Context) {
	var errs []error
	if a.hub != nil {
		hubCtx, cancel := context.WithTimeout(ctx, hubCloseTimeout)
		if err := a.hub.Close(hubCtx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		cancel()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.closeBlob != nil {
		if err := a.closeBlob(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", zap.Error(err))
	}
}
