// Package dispatcher executes queued stage runs on a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

// Executor runs one stage run to completion.
type Executor interface {
	Execute(ctx context.Context, run crawler.Run) (crawler.Run, error)
}

// Dispatcher fans out queued runs to a pool of workers.
type Dispatcher struct {
	queue    crawler.RunQueue
	executor Executor
	workers  int
	logger   *zap.Logger
}

// New creates a Dispatcher. workers below one means a single worker.
func New(queue crawler.RunQueue, executor Executor, workers int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		executor: executor,
		workers:  workers,
		logger:   logger,
	}
}

// Run starts all workers and blocks until the context finishes. Runs already
// executing are canceled with the context.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, d.logger.With(zap.Int("worker", id)))
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, logger *zap.Logger) {
	for {
		run, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Info("run queue closed; worker stopping", zap.Error(err))
			}
			return
		}
		// Stage failures are recorded on the run by the executor.
		if _, err := d.executor.Execute(ctx, run); err != nil {
			logger.Debug("run finished with error", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, run crawler.Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if err := d.queue.Enqueue(ctx, run); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
