// Package app builds every long-lived component from configuration and owns
// their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/wrc-harvester/internal/api"
	"github.com/JakeFAU/wrc-harvester/internal/artifact"
	"github.com/JakeFAU/wrc-harvester/internal/clock"
	"github.com/JakeFAU/wrc-harvester/internal/config"
	"github.com/JakeFAU/wrc-harvester/internal/crawler"
	"github.com/JakeFAU/wrc-harvester/internal/digest"
	"github.com/JakeFAU/wrc-harvester/internal/discover"
	"github.com/JakeFAU/wrc-harvester/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/wrc-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/wrc-harvester/internal/harvest"
	"github.com/JakeFAU/wrc-harvester/internal/id/uuid"
	"github.com/JakeFAU/wrc-harvester/internal/metrics"
	"github.com/JakeFAU/wrc-harvester/internal/normalize"
	"github.com/JakeFAU/wrc-harvester/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/wrc-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/wrc-harvester/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/wrc-harvester/internal/queue/memory"
	"github.com/JakeFAU/wrc-harvester/internal/stage"
	gcsstore "github.com/JakeFAU/wrc-harvester/internal/storage/gcs"
	localstore "github.com/JakeFAU/wrc-harvester/internal/storage/local"
	memstore "github.com/JakeFAU/wrc-harvester/internal/storage/memory"
	miniostore "github.com/JakeFAU/wrc-harvester/internal/storage/minio"
	mongostore "github.com/JakeFAU/wrc-harvester/internal/storage/mongo"
	pgstore "github.com/JakeFAU/wrc-harvester/internal/storage/postgres"
	"github.com/JakeFAU/wrc-harvester/internal/walker"
)

// metadataStore is what both stages need from the metadata backend.
type metadataStore interface {
	crawler.CaseStore
	crawler.NormalizedStore
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	raw       crawler.ObjectStore
	processed crawler.ObjectStore
	metadata  metadataStore
	publisher crawler.Publisher
	runs      *memstore.RunStore
	runner    *stage.Runner
	queue     *queuememory.Queue
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server

	closers []func(context.Context) error
}

// Build creates the application's dependencies. Close must be called even
// when Build fails part way, so connections opened so far are released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("metadata_backend", cfg.Metadata.Backend),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)

	if err := a.setupStorage(ctx); err != nil {
		return a, err
	}
	if err := a.setupMetadata(ctx); err != nil {
		return a, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return a, err
	}
	if err := a.setupStages(); err != nil {
		return a, err
	}
	return a, nil
}

// Runner returns the stage runner used by the CLI and the API.
func (a *App) Runner() *stage.Runner {
	return a.runner
}

func (a *App) setupStorage(ctx context.Context) error {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		var opts []option.ClientOption
		if cfg.GCS.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCS.CredentialsFile))
		}
		if cfg.GCS.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.GCS.Endpoint))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		if a.raw, err = gcsstore.New(client, gcsstore.Config{Bucket: cfg.RawBucket}); err != nil {
			return fmt.Errorf("gcs raw store init failed: %w", err)
		}
		if a.processed, err = gcsstore.New(client, gcsstore.Config{Bucket: cfg.ProcessedBucket}); err != nil {
			return fmt.Errorf("gcs processed store init failed: %w", err)
		}
	case config.BackendMinIO:
		client, err := miniostore.NewClient(miniostore.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Region:    cfg.MinIO.Region,
			Secure:    cfg.MinIO.Secure,
		})
		if err != nil {
			return fmt.Errorf("minio client init failed: %w", err)
		}
		if a.raw, err = miniostore.New(ctx, client, cfg.RawBucket, cfg.MinIO.CreateBuckets); err != nil {
			return fmt.Errorf("minio raw store init failed: %w", err)
		}
		if a.processed, err = miniostore.New(ctx, client, cfg.ProcessedBucket, cfg.MinIO.CreateBuckets); err != nil {
			return fmt.Errorf("minio processed store init failed: %w", err)
		}
	case config.BackendLocal:
		var err error
		if a.raw, err = localstore.New(localstore.Config{BaseDir: cfg.LocalDir, Bucket: cfg.RawBucket}); err != nil {
			return fmt.Errorf("local raw store init failed: %w", err)
		}
		if a.processed, err = localstore.New(localstore.Config{BaseDir: cfg.LocalDir, Bucket: cfg.ProcessedBucket}); err != nil {
			return fmt.Errorf("local processed store init failed: %w", err)
		}
	default:
		a.logger.Warn("using in-memory object storage; objects are lost on exit")
		a.raw = memstore.NewBlobStore(cfg.RawBucket)
		a.processed = memstore.NewBlobStore(cfg.ProcessedBucket)
	}
	a.logger.Info("object storage ready",
		zap.String("raw_bucket", a.raw.Bucket()),
		zap.String("processed_bucket", a.processed.Bucket()))
	return nil
}

func (a *App) setupMetadata(ctx context.Context) error {
	cfg := a.cfg.Metadata
	switch cfg.Backend {
	case config.BackendMongo:
		store, err := mongostore.New(ctx, mongostore.Config{
			URI:                  cfg.Mongo.URI,
			Database:             cfg.Mongo.Database,
			CasesCollection:      cfg.Mongo.CasesCollection,
			NormalizedCollection: cfg.Mongo.NormalizedCollection,
			ConnectTimeout:       time.Duration(cfg.Mongo.ConnectTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("mongo store init failed: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.metadata = store
	case config.BackendPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			CasesTable:      cfg.Postgres.CasesTable,
			NormalizedTable: cfg.Postgres.NormalizedTable,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			EnsureSchema:    cfg.Postgres.EnsureSchema,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		a.metadata = store
	default:
		a.logger.Warn("using in-memory metadata store; records are lost on exit")
		a.metadata = memstore.NewCaseStore()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("Pub/Sub disabled, stage events stay in memory")
		a.publisher = pubmemory.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	publisher := gcppublisher.New(client)
	a.closers = append(a.closers, func(context.Context) error {
		publisher.Close()
		return client.Close()
	})
	a.publisher = publisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic))
	return nil
}

func (a *App) setupStages() error {
	cfg := a.cfg
	selectors, err := cfg.CategorySelectors()
	if err != nil {
		return err
	}
	categories, err := cfg.HarvestCategories()
	if err != nil {
		return err
	}
	clk := clock.New()
	hasher := digest.NewSHA256()

	limiter := ratelimit.New(ratelimit.Config{RatePerSecond: cfg.HTTP.RatePerSecond, Burst: cfg.HTTP.Burst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:          cfg.HTTP.UserAgent,
		Timeout:            cfg.Timeout(),
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
		MaxBodySize:        cfg.HTTP.MaxBodyBytes,
		Retry: collyfetcher.RetryConfig{
			MaxRetries: cfg.HTTP.MaxRetries,
			BaseDelay:  time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
			MaxDelay:   time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		},
	}, limiter, a.logger.Named("fetcher"))
	if cfg.HTTP.InsecureSkipVerify {
		a.logger.Warn("TLS certificate verification is disabled for the source site")
	}

	w, err := walker.New(walker.Config{
		SearchURL:    cfg.Source.SearchURL,
		FormID:       cfg.Source.FormID,
		QueryField:   cfg.Source.QueryField,
		FromField:    cfg.Source.FromField,
		ToField:      cfg.Source.ToField,
		SubmitButton: cfg.Source.SubmitButton,
		Selectors: walker.Selectors{
			Listing:     cfg.Source.Selectors.Listing,
			Link:        cfg.Source.Selectors.Link,
			RefNumber:   cfg.Source.Selectors.RefNumber,
			Date:        cfg.Source.Selectors.Date,
			Description: cfg.Source.Selectors.Description,
			NextPage:    cfg.Source.Selectors.NextPage,
		},
		Categories:        selectors,
		MaxPages:          cfg.Source.MaxPages,
		DetailConcurrency: cfg.Harvest.DetailConcurrency,
	}, fetcher, discover.New(cfg.Source.ContentSelector, cfg.Source.SearchSegment), clk, a.logger.Named("walker"))
	if err != nil {
		return fmt.Errorf("walker init failed: %w", err)
	}

	artifacts, err := artifact.New(fetcher, a.raw, hasher,
		artifact.Config{AttachmentConcurrency: cfg.Harvest.AttachmentConcurrency}, a.logger.Named("artifact"))
	if err != nil {
		return fmt.Errorf("artifact store init failed: %w", err)
	}
	harvester, err := harvest.New(w, artifacts, a.metadata, harvest.Config{
		Concurrency: cfg.Harvest.Concurrency,
		Categories:  categories,
	}, a.logger.Named("harvest"))
	if err != nil {
		return fmt.Errorf("harvester init failed: %w", err)
	}
	normalizer, err := normalize.New(normalize.Deps{
		Cases:  a.metadata,
		Output: a.metadata,
		Source: a.raw,
		Target: a.processed,
		Hasher: hasher,
		Clock:  clk,
		Logger: a.logger.Named("normalize"),
	}, normalize.Config{
		Concurrency:     cfg.Normalize.Concurrency,
		ContentSelector: cfg.Normalize.ContentSelector,
	})
	if err != nil {
		return fmt.Errorf("normalizer init failed: %w", err)
	}

	a.runs = memstore.NewRunStore()
	a.runner, err = stage.New(stage.Deps{
		Harvester:  harvester,
		Normalizer: normalizer,
		Runs:       a.runs,
		Publisher:  a.publisher,
		IDs:        uuid.New(),
		Clock:      clk,
		Logger:     a.logger.Named("stage"),
	}, cfg.PubSub.Topic)
	if err != nil {
		return fmt.Errorf("stage runner init failed: %w", err)
	}

	a.queue = queuememory.NewQueue(cfg.Server.QueueDepth)
	a.dispatch = dispatcher.New(a.queue, a.runner, cfg.Server.Workers, a.logger.Named("dispatcher"))
	a.apiServer = api.NewServer(a.runner, a.dispatch, a.runs, api.Options{
		Categories: selectors,
		APIKey:     cfg.Server.APIKey,
		Logger:     a.logger.Named("api"),
	})
	return nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP API and the run dispatcher until ctx is canceled, then
// drains in-flight requests within the configured shutdown timeout.
func (a *App) Serve(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.dispatch.Run(workCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err = <-serveErr:
		if err != nil {
			a.logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout())
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Warn("HTTP server shutdown incomplete", zap.Error(shutdownErr))
	}
	a.queue.Close()
	cancelWork()
	wg.Wait()
	a.logger.Info("server stopped")
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close releases every connection opened by Build, newest first.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.closers = nil
	return firstErr
}
