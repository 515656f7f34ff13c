// Package harvest runs the harvest stage: one walk per category and monthly
// partition, storing every emitted record's documents and metadata.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
	"github.com/JakeFAU/wrc-harvester/internal/metrics"
	"github.com/JakeFAU/wrc-harvester/internal/partition"
	"github.com/JakeFAU/wrc-harvester/internal/walker"
)

// Walker walks one category and partition.
type Walker interface {
	Walk(ctx context.Context, job walker.Job, emit walker.EmitFunc) (walker.Stats, error)
}

// ArtifactProcessor stores a record's documents.
type ArtifactProcessor interface {
	Process(ctx context.Context, rec crawler.CaseRecord) (crawler.CaseRecord, error)
}

// Request describes one harvest run.
type Request struct {
	Query string
	From  time.Time
	To    time.Time
	// Categories to search. Empty means every configured category, each
	// searched separately.
	Categories []crawler.Category
}

// Summary counts what a run did.
type Summary struct {
	Partitions       int `json:"partitions"`
	FailedPartitions int `json:"failed_partitions"`
	Records          int `json:"records"`
	Stored           int `json:"stored"`
	Unstored         int `json:"unstored"`
}

// Config tunes the harvester.
type Config struct {
	Concurrency int
	// Categories searched when a request names none.
	Categories []crawler.Category
}

// Harvester runs harvest requests.
type Harvester struct {
	walker    Walker
	artifacts ArtifactProcessor
	cases     crawler.CaseStore
	cfg       Config
	logger    *zap.Logger
}

// New wires a Harvester.
func New(w Walker, artifacts ArtifactProcessor, cases crawler.CaseStore, cfg Config, logger *zap.Logger) (*Harvester, error) {
	if w == nil || artifacts == nil || cases == nil {
		return nil, errors.New("walker, artifact processor and case store are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = crawler.AllCategories
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{walker: w, artifacts: artifacts, cases: cases, cfg: cfg, logger: logger}, nil
}

// Run walks every category and partition of req concurrently. Upstream
// format and network failures fail only their partition; a storage backend
// failure cancels the run and is returned.
func (h *Harvester) Run(ctx context.Context, req Request) (Summary, error) {
	partitions := partition.Monthly(req.From, req.To)
	categories := req.Categories
	if len(categories) == 0 {
		categories = h.cfg.Categories
	}
	if len(partitions) == 0 {
		h.logger.Info("date range is empty; nothing to harvest",
			zap.Time("from", req.From),
			zap.Time("to", req.To),
		)
		return Summary{}, nil
	}

	var (
		mu      sync.Mutex
		summary Summary
	)
	add := func(fn func(s *Summary)) {
		mu.Lock()
		defer mu.Unlock()
		fn(&summary)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(h.cfg.Concurrency)
	for _, category := range categories {
		for _, window := range partitions {
			job := walker.Job{Query: req.Query, Category: category, Partition: window}
			group.Go(func() error {
				add(func(s *Summary) { s.Partitions++ })
				_, err := h.walker.Walk(groupCtx, job, h.emitter(category, add))
				if err == nil {
					metrics.ObservePartition("ok")
					return nil
				}
				if fatal(groupCtx, err) {
					metrics.ObservePartition("aborted")
					return fmt.Errorf("harvest %s %s: %w", category, window, err)
				}
				add(func(s *Summary) { s.FailedPartitions++ })
				h.logPartitionFailure(job, err)
				return nil
			})
		}
	}
	err := group.Wait()
	h.logger.Info("harvest finished",
		zap.Int("partitions", summary.Partitions),
		zap.Int("failed_partitions", summary.FailedPartitions),
		zap.Int("records", summary.Records),
		zap.Int("stored", summary.Stored),
		zap.Error(err),
	)
	return summary, err
}

func (h *Harvester) emitter(category crawler.Category, add func(func(*Summary))) walker.EmitFunc {
	return func(ctx context.Context, rec crawler.CaseRecord) error {
		rec, err := h.artifacts.Process(ctx, rec)
		if err != nil {
			return err
		}
		if err := h.cases.UpsertCase(ctx, rec); err != nil {
			return err
		}
		stored := rec.StorageLocation != ""
		add(func(s *Summary) {
			s.Records++
			if stored {
				s.Stored++
			} else {
				s.Unstored++
			}
		})
		outcome := "stored"
		if !stored {
			outcome = "unstored"
			field, value := rec.NaturalKey()
			h.logger.Warn("record persisted without stored documents", zap.String(field, value))
		}
		metrics.ObserveRecord(category.String(), outcome)
		return nil
	}
}

func (h *Harvester) logPartitionFailure(job walker.Job, err error) {
	fields := []zap.Field{
		zap.String("category", job.Category.String()),
		zap.Stringer("partition", job.Partition),
		zap.Error(err),
	}
	if errors.Is(err, crawler.ErrUpstreamFormat) {
		metrics.ObservePartition("upstream_format")
		h.logger.Error("search results could not be parsed; partition aborted", fields...)
		return
	}
	metrics.ObservePartition("failed")
	h.logger.Warn("partition failed", fields...)
}

// fatal reports whether err must stop the whole run.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, crawler.ErrStorageBackend) || ctx.Err() != nil
}
