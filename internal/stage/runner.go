// Package stage runs the harvest and normalize stages as tracked runs: each
// run gets an ID, its lifecycle is recorded, and a completion event is
// published when it finishes.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
	"github.com/JakeFAU/wrc-harvester/internal/harvest"
	"github.com/JakeFAU/wrc-harvester/internal/metrics"
	"github.com/JakeFAU/wrc-harvester/internal/normalize"
)

const publishTimeout = 10 * time.Second

// Harvester runs the harvest stage.
type Harvester interface {
	Run(ctx context.Context, req harvest.Request) (harvest.Summary, error)
}

// Normalizer runs the normalize stage.
type Normalizer interface {
	Run(ctx context.Context, window crawler.DateRange) (normalize.Summary, error)
}

// Request describes a stage invocation.
type Request struct {
	Stage      crawler.Stage
	Query      string
	Categories []crawler.Category
	From       time.Time
	To         time.Time
}

// Deps groups the collaborators of a Runner. Runs, Publisher and Normalizer
// or Harvester may be nil; a stage without its runner cannot be started.
type Deps struct {
	Harvester  Harvester
	Normalizer Normalizer
	Runs       crawler.RunStore
	Publisher  crawler.Publisher
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	Logger     *zap.Logger
}

// Runner creates and executes stage runs.
type Runner struct {
	harvester  Harvester
	normalizer Normalizer
	runs       crawler.RunStore
	publisher  crawler.Publisher
	topic      string
	ids        crawler.IDGenerator
	clock      crawler.Clock
	logger     *zap.Logger
}

// New builds a Runner. topic is where completion events go when a publisher
// is configured.
func New(deps Deps, topic string) (*Runner, error) {
	if deps.Harvester == nil && deps.Normalizer == nil {
		return nil, errors.New("at least one stage is required")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if deps.Publisher != nil && topic == "" {
		return nil, errors.New("publisher topic is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		harvester:  deps.Harvester,
		normalizer: deps.Normalizer,
		runs:       deps.Runs,
		publisher:  deps.Publisher,
		topic:      topic,
		ids:        deps.IDs,
		clock:      deps.Clock,
		logger:     logger,
	}, nil
}

// Start validates req and records a queued run for it.
func (r *Runner) Start(ctx context.Context, req Request) (crawler.Run, error) {
	switch req.Stage {
	case crawler.StageHarvest:
		if r.harvester == nil {
			return crawler.Run{}, errors.New("harvest stage is not configured")
		}
	case crawler.StageNormalize:
		if r.normalizer == nil {
			return crawler.Run{}, errors.New("normalize stage is not configured")
		}
		if len(req.Categories) > 0 || req.Query != "" {
			return crawler.Run{}, errors.New("normalize takes only a date range")
		}
	default:
		return crawler.Run{}, fmt.Errorf("unknown stage %q", req.Stage)
	}
	if req.From.IsZero() || req.To.IsZero() {
		return crawler.Run{}, errors.New("from and to dates are required")
	}

	id, err := r.ids.NewID()
	if err != nil {
		return crawler.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := crawler.Run{
		ID:         id,
		Stage:      req.Stage,
		Status:     crawler.RunQueued,
		Query:      req.Query,
		Categories: req.Categories,
		From:       crawler.Day(req.From),
		To:         crawler.Day(req.To),
		Submitted:  r.clock.Now(),
	}
	if r.runs != nil {
		if err := r.runs.CreateRun(ctx, run); err != nil {
			return crawler.Run{}, fmt.Errorf("create run: %w", err)
		}
	}
	return run, nil
}

// Execute runs a started run to completion and returns its final state. The
// stage error, if any, is returned as well as recorded on the run.
func (r *Runner) Execute(ctx context.Context, run crawler.Run) (crawler.Run, error) {
	logger := r.logger.With(zap.String("run_id", run.ID), zap.String("stage", string(run.Stage)))
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	started := r.clock.Now()
	run.Status = crawler.RunRunning
	run.Started = &started
	r.save(ctx, run, logger)
	logger.Info("stage run started",
		zap.Time("from", run.From),
		zap.Time("to", run.To),
		zap.String("query", run.Query))

	summary, err := r.dispatch(ctx, run)
	finished := r.clock.Now()
	run.Finished = &finished
	run.Summary = summary
	if err != nil {
		run.Status = crawler.RunFailed
		run.Error = err.Error()
		logger.Error("stage run failed", zap.Error(err))
	} else {
		run.Status = crawler.RunSucceeded
		logger.Info("stage run succeeded",
			zap.Any("summary", summary),
			zap.Duration("duration", finished.Sub(started)))
	}
	metrics.ObserveStageRun(string(run.Stage), string(run.Status))
	r.save(ctx, run, logger)
	r.publish(ctx, run, logger)
	return run, err
}

// Run starts and executes req synchronously.
func (r *Runner) Run(ctx context.Context, req Request) (crawler.Run, error) {
	run, err := r.Start(ctx, req)
	if err != nil {
		return run, err
	}
	return r.Execute(ctx, run)
}

func (r *Runner) dispatch(ctx context.Context, run crawler.Run) (any, error) {
	switch run.Stage {
	case crawler.StageHarvest:
		return r.harvester.Run(ctx, harvest.Request{
			Query:      run.Query,
			From:       run.From,
			To:         run.To,
			Categories: run.Categories,
		})
	case crawler.StageNormalize:
		return r.normalizer.Run(ctx, crawler.NewDateRange(run.From, run.To))
	default:
		return nil, fmt.Errorf("unknown stage %q", run.Stage)
	}
}

// save records run state. The caller's context may already be canceled when
// a run is cut short, so the write is detached from it.
func (r *Runner) save(ctx context.Context, run crawler.Run, logger *zap.Logger) {
	if r.runs == nil {
		return
	}
	if err := r.runs.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to record run state", zap.String("status", string(run.Status)), zap.Error(err))
	}
}

func (r *Runner) publish(ctx context.Context, run crawler.Run, logger *zap.Logger) {
	if r.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	id, err := r.publisher.Publish(pubCtx, r.topic, run)
	if err != nil {
		logger.Warn("failed to publish stage completion", zap.String("topic", r.topic), zap.Error(err))
		return
	}
	logger.Debug("stage completion published", zap.String("topic", r.topic), zap.String("message_id", id))
}
